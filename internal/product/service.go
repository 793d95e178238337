package product

import (
	"context"
	"errors"
	"fmt"

	"github.com/wichananm65/storefront-backend/internal/money"
)

var ErrInvalidProduct = errors.New("invalid product")

type Service struct {
	repo   Repository
	schema Schema
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, schema: DefaultSchema}
}

func (s *Service) List(ctx context.Context, f Filter) ([]Product, error) {
	return s.repo.List(ctx, f)
}

func (s *Service) GetByID(ctx context.Context, id int64) (Product, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) Create(ctx context.Context, p Product) (Product, error) {
	if p.Name == "" || p.SKU == "" {
		return Product{}, fmt.Errorf("%w: name and sku are required", ErrInvalidProduct)
	}
	if p.Price < 0 {
		return Product{}, fmt.Errorf("%w: price must not be negative", ErrInvalidProduct)
	}
	if err := s.schema.Validate(p.Attributes); err != nil {
		return Product{}, err
	}
	return s.repo.Create(ctx, p)
}

// UpdatePricing changes the live price. Existing orders keep their snapshot.
func (s *Service) UpdatePricing(ctx context.Context, id int64, price money.Amount, active bool) (Product, error) {
	if price < 0 {
		return Product{}, fmt.Errorf("%w: price must not be negative", ErrInvalidProduct)
	}
	return s.repo.UpdatePricing(ctx, id, price, active)
}
