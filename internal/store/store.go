package store

import (
	"context"
	"database/sql"
	"sync"

	"github.com/wichananm65/storefront-backend/internal/cart"
	"github.com/wichananm65/storefront-backend/internal/database"
	"github.com/wichananm65/storefront-backend/internal/order"
)

// Repos are bound to one unit of work. They must not escape the callback.
type Repos struct {
	Carts     cart.Repository
	Orders    order.Repository
	Callbacks order.CallbackLog
}

// UnitOfWork runs fn atomically: every write through repos commits together
// or not at all.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, repos Repos) error) error
}

type PostgresUnitOfWork struct {
	db *sql.DB
}

func NewPostgresUnitOfWork(db *sql.DB) *PostgresUnitOfWork {
	return &PostgresUnitOfWork{db: db}
}

func (u *PostgresUnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, repos Repos) error) error {
	return database.WithTx(ctx, u.db, func(tx *sql.Tx) error {
		return fn(ctx, Repos{
			Carts:     cart.NewPostgresRepository(tx),
			Orders:    order.NewPostgresRepository(tx),
			Callbacks: order.NewPostgresCallbackLog(tx),
		})
	})
}

// MemoryUnitOfWork serializes units of work behind one mutex and restores
// snapshots of every repository when fn fails.
type MemoryUnitOfWork struct {
	mu        sync.Mutex
	carts     *cart.InMemoryRepository
	orders    *order.InMemoryRepository
	callbacks *order.InMemoryCallbackLog
}

func NewMemoryUnitOfWork(carts *cart.InMemoryRepository, orders *order.InMemoryRepository, callbacks *order.InMemoryCallbackLog) *MemoryUnitOfWork {
	return &MemoryUnitOfWork{carts: carts, orders: orders, callbacks: callbacks}
}

func (u *MemoryUnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, repos Repos) error) (err error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	restoreCarts := u.carts.Snapshot()
	restoreOrders := u.orders.Snapshot()
	restoreCallbacks := u.callbacks.Snapshot()
	rollback := func() {
		restoreCarts()
		restoreOrders()
		restoreCallbacks()
	}
	defer func() {
		if p := recover(); p != nil {
			rollback()
			panic(p)
		}
		if err != nil {
			rollback()
		}
	}()

	return fn(ctx, Repos{Carts: u.carts, Orders: u.orders, Callbacks: u.callbacks})
}

// OrdersTx adapts a UnitOfWork to the transaction hook order.Service expects.
func OrdersTx(uow UnitOfWork) order.Tx {
	return func(ctx context.Context, fn func(ctx context.Context, repo order.Repository) error) error {
		return uow.Do(ctx, func(ctx context.Context, repos Repos) error {
			return fn(ctx, repos.Orders)
		})
	}
}
