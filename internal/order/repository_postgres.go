package order

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/wichananm65/storefront-backend/internal/database"
	"github.com/wichananm65/storefront-backend/internal/owner"
)

const orderNumberConstraint = "orders_order_number_key"

// PostgresRepository runs against a *sql.DB or, inside a unit of work, a
// *sql.Tx. Insert needs a transaction because it relies on a savepoint.
type PostgresRepository struct {
	db database.Querier
}

type rowScanner interface {
	Scan(dest ...any) error
}

const (
	orderColumns = `id, order_number, owner_key, status, payment_status, payment_method,
		subtotal_cents, tax_cents, shipping_cents, total_cents, contact_email,
		billing_address, shipping_address, payment_phone, checkout_request_id, merchant_request_id,
		payment_reference, payment_failure_reason, paid_at, shipped_at, delivered_at, created_at, updated_at`

	insertOrderQuery = `
		INSERT INTO orders (order_number, owner_key, user_id, session_id, status, payment_status, payment_method,
			subtotal_cents, tax_cents, shipping_cents, total_cents, contact_email,
			billing_address, shipping_address, payment_phone)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id, created_at, updated_at
	`
	insertOrderItemQuery = `
		INSERT INTO order_items (order_id, product_id, product_name, product_sku, quantity, unit_price_cents)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	getOrderByNumberQuery = `SELECT ` + orderColumns + ` FROM orders WHERE order_number = $1`
	lockOrderByNumberQuery = `SELECT ` + orderColumns + ` FROM orders WHERE order_number = $1 FOR UPDATE`
	lockOrderByCheckoutQuery = `SELECT ` + orderColumns + ` FROM orders WHERE checkout_request_id = $1 FOR UPDATE`
	listOrdersByOwnerQuery = `SELECT ` + orderColumns + ` FROM orders WHERE owner_key = $1 ORDER BY created_at DESC, id DESC`
	listOrdersQuery = `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	listItemsQuery = `
		SELECT id, order_id, product_id, product_name, product_sku, quantity, unit_price_cents
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, id
	`
	updateOrderQuery = `
		UPDATE orders
		SET status = $2,
			payment_status = $3,
			checkout_request_id = $4,
			merchant_request_id = $5,
			payment_reference = $6,
			payment_failure_reason = $7,
			paid_at = $8,
			shipped_at = $9,
			delivered_at = $10,
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`
	insertEventQuery = `INSERT INTO order_events (order_id, event_type, payload) VALUES ($1, $2, $3)`
	listEventsQuery  = `SELECT id, order_id, event_type, payload, created_at FROM order_events WHERE order_id = $1 ORDER BY id`
)

const defaultListLimit = 100

func NewPostgresRepository(db database.Querier) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Insert(ctx context.Context, o *Order) error {
	if _, err := r.db.ExecContext(ctx, "SAVEPOINT order_insert"); err != nil {
		return fmt.Errorf("savepoint: %w", err)
	}

	var id int64
	var createdAt, updatedAt time.Time
	err := r.db.QueryRowContext(ctx, insertOrderQuery,
		o.Number,
		o.Owner.String(),
		o.Owner.NullableUserID(),
		o.Owner.NullableSessionID(),
		string(o.Status),
		string(o.PaymentStatus),
		string(o.PaymentMethod),
		o.Subtotal,
		o.Tax,
		o.ShippingFee,
		o.Total,
		o.ContactEmail,
		o.BillingAddress,
		o.ShippingAddress,
		nullString(o.PaymentPhone),
	).Scan(&id, &createdAt, &updatedAt)
	if err != nil {
		if database.IsUniqueViolation(err, orderNumberConstraint) {
			if _, rbErr := r.db.ExecContext(ctx, "ROLLBACK TO SAVEPOINT order_insert"); rbErr != nil {
				return fmt.Errorf("rollback to savepoint: %w", rbErr)
			}
			return ErrDuplicateNumber
		}
		return fmt.Errorf("insert order: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, "RELEASE SAVEPOINT order_insert"); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}

	itemIDs := make([]int64, len(o.Items))
	for i, it := range o.Items {
		err := r.db.QueryRowContext(ctx, insertOrderItemQuery,
			id, it.ProductID, it.Name, it.SKU, it.Quantity, it.UnitPrice,
		).Scan(&itemIDs[i])
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	o.ID, o.CreatedAt, o.UpdatedAt = id, createdAt, updatedAt
	for i := range o.Items {
		o.Items[i].ID = itemIDs[i]
		o.Items[i].OrderID = id
	}
	return nil
}

func (r *PostgresRepository) GetByNumber(ctx context.Context, number string) (Order, error) {
	return r.getOne(ctx, getOrderByNumberQuery, number)
}

func (r *PostgresRepository) LockByNumber(ctx context.Context, number string) (Order, error) {
	return r.getOne(ctx, lockOrderByNumberQuery, number)
}

func (r *PostgresRepository) FindByCheckoutRequest(ctx context.Context, checkoutRequestID string) (Order, error) {
	if checkoutRequestID == "" {
		return Order{}, ErrNotFound
	}
	return r.getOne(ctx, lockOrderByCheckoutQuery, checkoutRequestID)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg any) (Order, error) {
	o, err := scanOrder(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("load order: %w", err)
	}
	orders := []Order{o}
	if err := r.loadItems(ctx, orders); err != nil {
		return Order{}, err
	}
	return orders[0], nil
}

func (r *PostgresRepository) ListByOwner(ctx context.Context, key owner.Key) ([]Order, error) {
	return r.list(ctx, listOrdersByOwnerQuery, key.String())
}

func (r *PostgresRepository) List(ctx context.Context, f ListFilter) ([]Order, error) {
	var status any
	if f.Status != nil {
		status = string(*f.Status)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	return r.list(ctx, listOrdersQuery, status, limit)
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.loadItems(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// loadItems fetches the items of every order in one query.
func (r *PostgresRepository) loadItems(ctx context.Context, orders []Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]int64, len(orders))
	index := make(map[int64]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		index[o.ID] = i
		orders[i].Items = make([]Item, 0)
	}

	rows, err := r.db.QueryContext(ctx, listItemsQuery, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Name, &it.SKU, &it.Quantity, &it.UnitPrice); err != nil {
			return err
		}
		i := index[it.OrderID]
		orders[i].Items = append(orders[i].Items, it)
	}
	return rows.Err()
}

func (r *PostgresRepository) Update(ctx context.Context, o *Order) error {
	err := r.db.QueryRowContext(ctx, updateOrderQuery,
		o.ID,
		string(o.Status),
		string(o.PaymentStatus),
		nullString(o.CheckoutRequestID),
		nullString(o.MerchantRequestID),
		nullString(o.PaymentReference),
		nullString(o.PaymentFailureReason),
		nullTime(o.PaidAt),
		nullTime(o.ShippedAt),
		nullTime(o.DeliveredAt),
	).Scan(&o.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("update order: %w", err)
	}
	return nil
}

func (r *PostgresRepository) AppendEvent(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, insertEventQuery, e.OrderID, string(e.Type), payload); err != nil {
		return fmt.Errorf("append order event: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Events(ctx context.Context, orderID int64) ([]Event, error) {
	rows, err := r.db.QueryContext(ctx, listEventsQuery, orderID)
	if err != nil {
		return nil, fmt.Errorf("list order events: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0)
	for rows.Next() {
		var e Event
		var typ string
		var payload []byte
		if err := rows.Scan(&e.ID, &e.OrderID, &typ, &payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Type = EventType(typ)
		if err := json.Unmarshal(payload, &e.Payload); err != nil {
			return nil, fmt.Errorf("decode event payload: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func scanOrder(scanner rowScanner) (Order, error) {
	var o Order
	var ownerKey, status, paymentStatus, method string
	var phone, checkoutID, merchantID, reference, reason sql.NullString
	var paidAt, shippedAt, deliveredAt sql.NullTime

	if err := scanner.Scan(
		&o.ID, &o.Number, &ownerKey, &status, &paymentStatus, &method,
		&o.Subtotal, &o.Tax, &o.ShippingFee, &o.Total, &o.ContactEmail,
		&o.BillingAddress, &o.ShippingAddress, &phone, &checkoutID, &merchantID,
		&reference, &reason, &paidAt, &shippedAt, &deliveredAt, &o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return Order{}, err
	}

	o.Owner = parseOwnerKey(ownerKey)
	o.Status = Status(status)
	o.PaymentStatus = PaymentStatus(paymentStatus)
	o.PaymentMethod = PaymentMethod(method)
	o.PaymentPhone = phone.String
	o.CheckoutRequestID = checkoutID.String
	o.MerchantRequestID = merchantID.String
	o.PaymentReference = reference.String
	o.PaymentFailureReason = reason.String
	o.PaidAt = timePtr(paidAt)
	o.ShippedAt = timePtr(shippedAt)
	o.DeliveredAt = timePtr(deliveredAt)
	return o, nil
}

func parseOwnerKey(s string) owner.Key {
	if rest, ok := strings.CutPrefix(s, "user:"); ok {
		if id, err := strconv.ParseInt(rest, 10, 64); err == nil {
			return owner.ForUser(id)
		}
	}
	if rest, ok := strings.CutPrefix(s, "session:"); ok {
		return owner.ForSession(rest)
	}
	return owner.Key{}
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
