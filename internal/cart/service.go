package cart

import (
	"context"
	"errors"

	"github.com/wichananm65/storefront-backend/internal/owner"
	"github.com/wichananm65/storefront-backend/internal/product"
)

// Service orchestrates cart operations. Prices come from the catalog, never
// from the client.
type Service struct {
	repo     Repository
	products product.Repository
}

func NewService(repo Repository, products product.Repository) *Service {
	return &Service{repo: repo, products: products}
}

func (s *Service) Get(ctx context.Context, o owner.Key) (Cart, error) {
	if err := o.Validate(); err != nil {
		return Cart{}, err
	}
	items, err := s.repo.List(ctx, o)
	if err != nil {
		return Cart{}, err
	}
	return newCart(items), nil
}

func (s *Service) Add(ctx context.Context, o owner.Key, productID int64, qty int) (Cart, error) {
	if err := o.Validate(); err != nil {
		return Cart{}, err
	}
	if qty < 1 || qty > MaxQuantity {
		return Cart{}, ErrInvalidQuantity
	}

	p, err := s.products.GetByID(ctx, productID)
	if err != nil {
		if errors.Is(err, product.ErrNotFound) {
			return Cart{}, &UnavailableError{ProductID: productID}
		}
		return Cart{}, err
	}
	if !p.Active {
		return Cart{}, &UnavailableError{ProductID: p.ID, Name: p.Name}
	}

	if err := s.repo.Add(ctx, o, p.ID, qty, p.Price); err != nil {
		return Cart{}, err
	}
	return s.Get(ctx, o)
}

// SetQuantity replaces a line's quantity; zero removes the line.
func (s *Service) SetQuantity(ctx context.Context, o owner.Key, productID int64, qty int) (Cart, error) {
	if err := o.Validate(); err != nil {
		return Cart{}, err
	}
	if qty < 0 || qty > MaxQuantity {
		return Cart{}, ErrInvalidQuantity
	}

	var err error
	if qty == 0 {
		err = s.repo.Remove(ctx, o, productID)
	} else {
		err = s.repo.SetQuantity(ctx, o, productID, qty)
	}
	if err != nil {
		return Cart{}, err
	}
	return s.Get(ctx, o)
}

func (s *Service) Remove(ctx context.Context, o owner.Key, productID int64) (Cart, error) {
	return s.SetQuantity(ctx, o, productID, 0)
}

func (s *Service) Clear(ctx context.Context, o owner.Key) error {
	if err := o.Validate(); err != nil {
		return err
	}
	return s.repo.Clear(ctx, o)
}

// Merge folds an anonymous session cart into the signed-in user's cart.
func (s *Service) Merge(ctx context.Context, from, to owner.Key) (Cart, error) {
	if !from.IsSession() || !to.IsUser() {
		return Cart{}, owner.ErrInvalidKey
	}
	if err := s.repo.Merge(ctx, from, to); err != nil {
		return Cart{}, err
	}
	return s.Get(ctx, to)
}
