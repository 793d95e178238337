package product

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/wichananm65/storefront-backend/internal/money"
)

var (
	ErrNotFound = errors.New("product not found")
)

type Filter struct {
	CategoryID *int64
	ActiveOnly bool
}

type Repository interface {
	List(ctx context.Context, f Filter) ([]Product, error)
	GetByID(ctx context.Context, id int64) (Product, error)
	// ListByIDs returns the products found, keyed by id. Missing ids are
	// simply absent from the map.
	ListByIDs(ctx context.Context, ids []int64) (map[int64]Product, error)
	Create(ctx context.Context, p Product) (Product, error)
	UpdatePricing(ctx context.Context, id int64, price money.Amount, active bool) (Product, error)
}

// InMemoryRepository is a simple in-memory implementation useful for tests and
// seeding local data.
type InMemoryRepository struct {
	mu      sync.RWMutex
	storage map[int64]Product
	nextID  int64
}

func NewInMemoryRepository(seed []Product) *InMemoryRepository {
	r := &InMemoryRepository{
		storage: make(map[int64]Product, len(seed)),
		nextID:  1,
	}

	var maxID int64
	for _, p := range seed {
		r.storage[p.ID] = p
		if p.ID > maxID {
			maxID = p.ID
		}
	}

	r.nextID = maxID + 1
	return r
}

func (r *InMemoryRepository) List(_ context.Context, f Filter) ([]Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Product, 0, len(r.storage))
	for _, p := range r.storage {
		if f.ActiveOnly && !p.Active {
			continue
		}
		if f.CategoryID != nil && (p.CategoryID == nil || *p.CategoryID != *f.CategoryID) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *InMemoryRepository) GetByID(_ context.Context, id int64) (Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.storage[id]; ok {
		return p, nil
	}
	return Product{}, ErrNotFound
}

func (r *InMemoryRepository) ListByIDs(_ context.Context, ids []int64) (map[int64]Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[int64]Product, len(ids))
	for _, id := range ids {
		if p, ok := r.storage[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (r *InMemoryRepository) Create(_ context.Context, p Product) (Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.ID == 0 {
		p.ID = r.nextID
		r.nextID++
	}
	r.storage[p.ID] = p
	return p, nil
}

func (r *InMemoryRepository) UpdatePricing(_ context.Context, id int64, price money.Amount, active bool) (Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.storage[id]
	if !ok {
		return Product{}, ErrNotFound
	}
	p.Price = price
	p.Active = active
	r.storage[id] = p
	return p, nil
}
