package cart

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/wichananm65/storefront-backend/internal/money"
	"github.com/wichananm65/storefront-backend/internal/owner"
	"github.com/wichananm65/storefront-backend/internal/product"
)

var (
	ErrItemNotFound       = errors.New("cart item not found")
	ErrInvalidQuantity    = errors.New("invalid quantity")
	ErrProductUnavailable = errors.New("product unavailable")
)

// UnavailableError names the product that can no longer be bought.
type UnavailableError struct {
	ProductID int64
	Name      string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("product %d (%s) is no longer available", e.ProductID, e.Name)
}

func (e *UnavailableError) Unwrap() error { return ErrProductUnavailable }

// Repository provides access to cart lines. At most one line exists per
// (owner, product); adding an existing product increments its quantity.
type Repository interface {
	List(ctx context.Context, o owner.Key) ([]Item, error)
	Add(ctx context.Context, o owner.Key, productID int64, qty int, unitPrice money.Amount) error
	SetQuantity(ctx context.Context, o owner.Key, productID int64, qty int) error
	Remove(ctx context.Context, o owner.Key, productID int64) error
	Clear(ctx context.Context, o owner.Key) error
	// Merge moves every line of from into to, summing quantities.
	Merge(ctx context.Context, from, to owner.Key) error

	// CheckoutLines returns the owner's lines priced from the live catalog.
	// Postgres implementations lock the rows until the transaction ends.
	CheckoutLines(ctx context.Context, o owner.Key) ([]Line, error)
	// Restore puts checkout lines back after a failed payment initiation.
	Restore(ctx context.Context, o owner.Key, lines []Line) error
}

type memItem struct {
	id        int64
	productID int64
	quantity  int
	unitPrice money.Amount
}

// InMemoryRepository is used for tests and local scenarios. Product details
// are read from the catalog repository on every call.
type InMemoryRepository struct {
	mu       sync.RWMutex
	products product.Repository
	carts    map[owner.Key]map[int64]memItem
	nextID   int64
}

func NewInMemoryRepository(products product.Repository) *InMemoryRepository {
	return &InMemoryRepository{
		products: products,
		carts:    make(map[owner.Key]map[int64]memItem),
		nextID:   1,
	}
}

func (r *InMemoryRepository) sorted(o owner.Key) []memItem {
	lines := make([]memItem, 0, len(r.carts[o]))
	for _, it := range r.carts[o] {
		lines = append(lines, it)
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].id < lines[j].id })
	return lines
}

func (r *InMemoryRepository) catalog(ctx context.Context, lines []memItem) (map[int64]product.Product, error) {
	ids := make([]int64, 0, len(lines))
	for _, it := range lines {
		ids = append(ids, it.productID)
	}
	return r.products.ListByIDs(ctx, ids)
}

func (r *InMemoryRepository) List(ctx context.Context, o owner.Key) ([]Item, error) {
	r.mu.RLock()
	lines := r.sorted(o)
	r.mu.RUnlock()

	catalog, err := r.catalog(ctx, lines)
	if err != nil {
		return nil, err
	}
	out := make([]Item, 0, len(lines))
	for _, it := range lines {
		p := catalog[it.productID]
		out = append(out, Item{
			ID:        it.id,
			ProductID: it.productID,
			Name:      p.Name,
			SKU:       p.SKU,
			Quantity:  it.quantity,
			UnitPrice: it.unitPrice,
		})
	}
	return out, nil
}

func (r *InMemoryRepository) Add(_ context.Context, o owner.Key, productID int64, qty int, unitPrice money.Amount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addLocked(o, productID, qty, unitPrice)
	return nil
}

func (r *InMemoryRepository) addLocked(o owner.Key, productID int64, qty int, unitPrice money.Amount) {
	lines, ok := r.carts[o]
	if !ok {
		lines = make(map[int64]memItem)
		r.carts[o] = lines
	}
	it, ok := lines[productID]
	if !ok {
		it = memItem{id: r.nextID, productID: productID}
		r.nextID++
	}
	it.quantity = min(it.quantity+qty, MaxQuantity)
	it.unitPrice = unitPrice
	lines[productID] = it
}

func (r *InMemoryRepository) SetQuantity(_ context.Context, o owner.Key, productID int64, qty int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.carts[o][productID]
	if !ok {
		return ErrItemNotFound
	}
	it.quantity = qty
	r.carts[o][productID] = it
	return nil
}

func (r *InMemoryRepository) Remove(_ context.Context, o owner.Key, productID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.carts[o][productID]; !ok {
		return ErrItemNotFound
	}
	delete(r.carts[o], productID)
	return nil
}

func (r *InMemoryRepository) Clear(_ context.Context, o owner.Key) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.carts, o)
	return nil
}

func (r *InMemoryRepository) Merge(_ context.Context, from, to owner.Key) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, it := range r.sorted(from) {
		r.addLocked(to, it.productID, it.quantity, it.unitPrice)
	}
	delete(r.carts, from)
	return nil
}

func (r *InMemoryRepository) CheckoutLines(ctx context.Context, o owner.Key) ([]Line, error) {
	r.mu.RLock()
	lines := r.sorted(o)
	r.mu.RUnlock()

	catalog, err := r.catalog(ctx, lines)
	if err != nil {
		return nil, err
	}
	out := make([]Line, 0, len(lines))
	for _, it := range lines {
		p, ok := catalog[it.productID]
		if !ok || !p.Active {
			return nil, &UnavailableError{ProductID: it.productID, Name: p.Name}
		}
		out = append(out, Line{
			ProductID: p.ID,
			Name:      p.Name,
			SKU:       p.SKU,
			Quantity:  it.quantity,
			UnitPrice: p.Price,
		})
	}
	return out, nil
}

func (r *InMemoryRepository) Restore(_ context.Context, o owner.Key, lines []Line) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range lines {
		r.addLocked(o, l.ProductID, l.Quantity, l.UnitPrice)
	}
	return nil
}

// Snapshot captures every cart so a failed unit of work can roll back.
func (r *InMemoryRepository) Snapshot() (restore func()) {
	r.mu.RLock()
	saved := make(map[owner.Key]map[int64]memItem, len(r.carts))
	for k, lines := range r.carts {
		cp := make(map[int64]memItem, len(lines))
		for pid, it := range lines {
			cp[pid] = it
		}
		saved[k] = cp
	}
	nextID := r.nextID
	r.mu.RUnlock()

	return func() {
		r.mu.Lock()
		r.carts = saved
		r.nextID = nextID
		r.mu.Unlock()
	}
}
