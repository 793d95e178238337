package cart

import (
	"context"
	"fmt"

	"github.com/wichananm65/storefront-backend/internal/database"
	"github.com/wichananm65/storefront-backend/internal/money"
	"github.com/wichananm65/storefront-backend/internal/owner"
)

// PostgresRepository runs against a *sql.DB or, inside a unit of work, a *sql.Tx.
type PostgresRepository struct {
	db database.Querier
}

// Upserts cap merged lines at MaxQuantity.
const (
	listCartQuery = `
		SELECT ci.id, ci.product_id, p.name, p.sku, ci.quantity, ci.unit_price_cents
		FROM cart_items ci
		JOIN products p ON p.id = ci.product_id
		WHERE ci.owner_key = $1
		ORDER BY ci.id
	`
	addCartItemQuery = `
		INSERT INTO cart_items (owner_key, user_id, session_id, product_id, quantity, unit_price_cents)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (owner_key, product_id) DO UPDATE
		SET quantity = LEAST(cart_items.quantity + EXCLUDED.quantity, 99),
			unit_price_cents = EXCLUDED.unit_price_cents,
			updated_at = NOW()
	`
	setQuantityQuery = `
		UPDATE cart_items
		SET quantity = $3, updated_at = NOW()
		WHERE owner_key = $1 AND product_id = $2
	`
	removeCartItemQuery = `DELETE FROM cart_items WHERE owner_key = $1 AND product_id = $2`
	clearCartQuery      = `DELETE FROM cart_items WHERE owner_key = $1`
	mergeCartQuery      = `
		WITH moved AS (
			DELETE FROM cart_items WHERE owner_key = $1
			RETURNING product_id, quantity, unit_price_cents
		)
		INSERT INTO cart_items (owner_key, user_id, session_id, product_id, quantity, unit_price_cents)
		SELECT $2, $3, $4, product_id, quantity, unit_price_cents FROM moved
		ON CONFLICT (owner_key, product_id) DO UPDATE
		SET quantity = LEAST(cart_items.quantity + EXCLUDED.quantity, 99),
			unit_price_cents = EXCLUDED.unit_price_cents,
			updated_at = NOW()
	`
	checkoutLinesQuery = `
		SELECT ci.product_id, p.name, p.sku, ci.quantity, p.price_cents, p.active
		FROM cart_items ci
		JOIN products p ON p.id = ci.product_id
		WHERE ci.owner_key = $1
		ORDER BY ci.id
		FOR UPDATE OF ci
	`
)

func NewPostgresRepository(db database.Querier) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) List(ctx context.Context, o owner.Key) ([]Item, error) {
	rows, err := r.db.QueryContext(ctx, listCartQuery, o.String())
	if err != nil {
		return nil, fmt.Errorf("list cart: %w", err)
	}
	defer rows.Close()

	items := make([]Item, 0)
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.ProductID, &it.Name, &it.SKU, &it.Quantity, &it.UnitPrice); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *PostgresRepository) Add(ctx context.Context, o owner.Key, productID int64, qty int, unitPrice money.Amount) error {
	_, err := r.db.ExecContext(ctx, addCartItemQuery,
		o.String(), o.NullableUserID(), o.NullableSessionID(), productID, qty, unitPrice)
	if err != nil {
		return fmt.Errorf("add cart item: %w", err)
	}
	return nil
}

func (r *PostgresRepository) SetQuantity(ctx context.Context, o owner.Key, productID int64, qty int) error {
	return r.execOne(ctx, setQuantityQuery, o.String(), productID, qty)
}

func (r *PostgresRepository) Remove(ctx context.Context, o owner.Key, productID int64) error {
	return r.execOne(ctx, removeCartItemQuery, o.String(), productID)
}

func (r *PostgresRepository) execOne(ctx context.Context, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (r *PostgresRepository) Clear(ctx context.Context, o owner.Key) error {
	if _, err := r.db.ExecContext(ctx, clearCartQuery, o.String()); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Merge(ctx context.Context, from, to owner.Key) error {
	_, err := r.db.ExecContext(ctx, mergeCartQuery,
		from.String(), to.String(), to.NullableUserID(), to.NullableSessionID())
	if err != nil {
		return fmt.Errorf("merge cart: %w", err)
	}
	return nil
}

func (r *PostgresRepository) CheckoutLines(ctx context.Context, o owner.Key) ([]Line, error) {
	rows, err := r.db.QueryContext(ctx, checkoutLinesQuery, o.String())
	if err != nil {
		return nil, fmt.Errorf("load checkout lines: %w", err)
	}
	defer rows.Close()

	lines := make([]Line, 0)
	for rows.Next() {
		var l Line
		var active bool
		if err := rows.Scan(&l.ProductID, &l.Name, &l.SKU, &l.Quantity, &l.UnitPrice, &active); err != nil {
			return nil, err
		}
		if !active {
			return nil, &UnavailableError{ProductID: l.ProductID, Name: l.Name}
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (r *PostgresRepository) Restore(ctx context.Context, o owner.Key, lines []Line) error {
	for _, l := range lines {
		if err := r.Add(ctx, o, l.ProductID, l.Quantity, l.UnitPrice); err != nil {
			return fmt.Errorf("restore cart: %w", err)
		}
	}
	return nil
}
