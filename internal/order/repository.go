package order

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/wichananm65/storefront-backend/internal/owner"
)

var (
	ErrNotFound        = errors.New("order not found")
	ErrDuplicateNumber = errors.New("order number already taken")
)

type ListFilter struct {
	Status *Status
	Limit  int
}

// Repository persists orders, their items and their outbox events. Insert,
// the Lock/Find lookups and Update are meant to run inside a unit of work.
type Repository interface {
	// Insert stores the order and its items, filling in ids and timestamps.
	// A number collision yields ErrDuplicateNumber and leaves the transaction
	// usable.
	Insert(ctx context.Context, o *Order) error
	GetByNumber(ctx context.Context, number string) (Order, error)
	ListByOwner(ctx context.Context, o owner.Key) ([]Order, error)
	List(ctx context.Context, f ListFilter) ([]Order, error)
	// LockByNumber and FindByCheckoutRequest lock the row for the rest of
	// the transaction.
	LockByNumber(ctx context.Context, number string) (Order, error)
	FindByCheckoutRequest(ctx context.Context, checkoutRequestID string) (Order, error)
	Update(ctx context.Context, o *Order) error
	AppendEvent(ctx context.Context, e Event) error
	Events(ctx context.Context, orderID int64) ([]Event, error)
}

// InMemoryRepository is used for tests and local scenarios.
type InMemoryRepository struct {
	mu         sync.RWMutex
	orders     map[int64]Order
	byNumber   map[string]int64
	events     []Event
	nextID     int64
	nextItemID int64
	now        func() time.Time
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		orders:     make(map[int64]Order),
		byNumber:   make(map[string]int64),
		nextID:     1,
		nextItemID: 1,
		now:        time.Now,
	}
}

func cloneOrder(o Order) Order {
	o.Items = append([]Item(nil), o.Items...)
	return o
}

func (r *InMemoryRepository) Insert(_ context.Context, o *Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byNumber[o.Number]; taken {
		return ErrDuplicateNumber
	}

	now := r.now().UTC()
	o.ID = r.nextID
	r.nextID++
	o.CreatedAt, o.UpdatedAt = now, now
	for i := range o.Items {
		o.Items[i].ID = r.nextItemID
		o.Items[i].OrderID = o.ID
		r.nextItemID++
	}

	r.orders[o.ID] = cloneOrder(*o)
	r.byNumber[o.Number] = o.ID
	return nil
}

func (r *InMemoryRepository) GetByNumber(_ context.Context, number string) (Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byNumber[number]
	if !ok {
		return Order{}, ErrNotFound
	}
	return cloneOrder(r.orders[id]), nil
}

func (r *InMemoryRepository) LockByNumber(ctx context.Context, number string) (Order, error) {
	return r.GetByNumber(ctx, number)
}

func (r *InMemoryRepository) FindByCheckoutRequest(_ context.Context, checkoutRequestID string) (Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if checkoutRequestID == "" {
		return Order{}, ErrNotFound
	}
	for _, o := range r.orders {
		if o.CheckoutRequestID == checkoutRequestID {
			return cloneOrder(o), nil
		}
	}
	return Order{}, ErrNotFound
}

func (r *InMemoryRepository) ListByOwner(_ context.Context, key owner.Key) ([]Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Order, 0)
	for _, o := range r.orders {
		if o.Owner == key {
			out = append(out, cloneOrder(o))
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (r *InMemoryRepository) List(_ context.Context, f ListFilter) ([]Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Order, 0)
	for _, o := range r.orders {
		if f.Status != nil && o.Status != *f.Status {
			continue
		}
		out = append(out, cloneOrder(o))
	}
	sortNewestFirst(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func sortNewestFirst(orders []Order) {
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID > orders[j].ID })
}

func (r *InMemoryRepository) Update(_ context.Context, o *Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.orders[o.ID]
	if !ok {
		return ErrNotFound
	}
	stored.Status = o.Status
	stored.PaymentStatus = o.PaymentStatus
	stored.CheckoutRequestID = o.CheckoutRequestID
	stored.MerchantRequestID = o.MerchantRequestID
	stored.PaymentReference = o.PaymentReference
	stored.PaymentFailureReason = o.PaymentFailureReason
	stored.PaidAt = o.PaidAt
	stored.ShippedAt = o.ShippedAt
	stored.DeliveredAt = o.DeliveredAt
	stored.UpdatedAt = r.now().UTC()
	o.UpdatedAt = stored.UpdatedAt
	r.orders[o.ID] = stored
	return nil
}

func (r *InMemoryRepository) AppendEvent(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.ID = int64(len(r.events) + 1)
	e.CreatedAt = r.now().UTC()
	r.events = append(r.events, e)
	return nil
}

func (r *InMemoryRepository) Events(_ context.Context, orderID int64) ([]Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Event, 0)
	for _, e := range r.events {
		if e.OrderID == orderID {
			out = append(out, e)
		}
	}
	return out, nil
}

// Count reports how many orders are stored.
func (r *InMemoryRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.orders)
}

// Snapshot captures all orders and events so a failed unit of work can roll back.
func (r *InMemoryRepository) Snapshot() (restore func()) {
	r.mu.RLock()
	orders := make(map[int64]Order, len(r.orders))
	for id, o := range r.orders {
		orders[id] = cloneOrder(o)
	}
	byNumber := make(map[string]int64, len(r.byNumber))
	for k, v := range r.byNumber {
		byNumber[k] = v
	}
	events := append([]Event(nil), r.events...)
	nextID, nextItemID := r.nextID, r.nextItemID
	r.mu.RUnlock()

	return func() {
		r.mu.Lock()
		r.orders, r.byNumber, r.events = orders, byNumber, events
		r.nextID, r.nextItemID = nextID, nextItemID
		r.mu.Unlock()
	}
}
