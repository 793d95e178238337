package order

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/wichananm65/storefront-backend/internal/owner"
)

// Tx runs fn with a Repository bound to a single transaction.
type Tx func(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error

// Service provides business logic for orders after they are placed.
type Service struct {
	repo Repository
	tx   Tx
	now  func() time.Time
}

func NewService(r Repository, tx Tx) *Service {
	return &Service{repo: r, tx: tx, now: time.Now}
}

func (s *Service) ListForOwner(ctx context.Context, key owner.Key) ([]Order, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	return s.repo.ListByOwner(ctx, key)
}

// GetForOwner hides orders belonging to someone else behind ErrNotFound.
func (s *Service) GetForOwner(ctx context.Context, key owner.Key, number string) (Order, error) {
	o, err := s.repo.GetByNumber(ctx, number)
	if err != nil {
		return Order{}, err
	}
	if o.Owner != key {
		return Order{}, ErrNotFound
	}
	return o, nil
}

// Confirm backs the checkout success page: number and contact email must
// both match.
func (s *Service) Confirm(ctx context.Context, number, email string) (Confirmation, error) {
	o, err := s.repo.GetByNumber(ctx, strings.TrimSpace(number))
	if err != nil {
		return Confirmation{}, err
	}
	if !strings.EqualFold(o.ContactEmail, strings.TrimSpace(email)) {
		return Confirmation{}, ErrNotFound
	}
	return o.Confirmation(), nil
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]Order, error) {
	return s.repo.List(ctx, f)
}

func (s *Service) GetByNumber(ctx context.Context, number string) (Order, error) {
	return s.repo.GetByNumber(ctx, number)
}

func (s *Service) Events(ctx context.Context, number string) ([]Event, error) {
	o, err := s.repo.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	return s.repo.Events(ctx, o.ID)
}

// UpdateStatus is the back-office lifecycle transition.
func (s *Service) UpdateStatus(ctx context.Context, number string, next Status) (Order, error) {
	if !next.Valid() {
		return Order{}, ErrInvalidTransition
	}
	var updated Order
	err := s.tx(ctx, func(ctx context.Context, repo Repository) error {
		o, err := repo.LockByNumber(ctx, number)
		if err != nil {
			return err
		}
		from := o.Status
		if err := o.TransitionTo(next, s.now().UTC()); err != nil {
			return err
		}
		if err := repo.Update(ctx, &o); err != nil {
			return err
		}
		if err := repo.AppendEvent(ctx, NewEvent(&o, EventStatusChanged, map[string]any{"from": string(from)})); err != nil {
			return err
		}
		updated = o
		return nil
	})
	return updated, err
}

// Refund moves a settled payment to refunded. It is never triggered
// automatically.
func (s *Service) Refund(ctx context.Context, number, reason string) (Order, error) {
	var updated Order
	err := s.tx(ctx, func(ctx context.Context, repo Repository) error {
		o, err := repo.LockByNumber(ctx, number)
		if err != nil {
			return err
		}
		if err := o.Refund(); err != nil {
			return err
		}
		if err := repo.Update(ctx, &o); err != nil {
			return err
		}
		if err := repo.AppendEvent(ctx, NewEvent(&o, EventPaymentRefunded, map[string]any{"reason": reason})); err != nil {
			return err
		}
		updated = o
		return nil
	})
	return updated, err
}

// IsClientError reports errors caused by the request rather than the system.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrPaymentSettled)
}
