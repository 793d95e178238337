package product

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/wichananm65/storefront-backend/internal/money"
)

type PostgresRepository struct {
	db *sql.DB
}

type rowScanner interface {
	Scan(dest ...any) error
}

const (
	productColumns = `id, category_id, name, sku, price_cents, active, attributes`

	listProductsQuery = `
		SELECT ` + productColumns + `
		FROM products
		WHERE ($1::bigint IS NULL OR category_id = $1)
		  AND (NOT $2 OR active)
		ORDER BY id
	`
	getProductByIDQuery = `
		SELECT ` + productColumns + `
		FROM products
		WHERE id = $1
	`
	listProductsByIDsQuery = `
		SELECT ` + productColumns + `
		FROM products
		WHERE id = ANY($1)
	`
	insertProductQuery = `
		INSERT INTO products (category_id, name, sku, price_cents, active, attributes)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	updatePricingQuery = `
		UPDATE products
		SET price_cents = $1, active = $2, updated_at = NOW()
		WHERE id = $3
		RETURNING ` + productColumns
)

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) List(ctx context.Context, f Filter) ([]Product, error) {
	var category any
	if f.CategoryID != nil {
		category = *f.CategoryID
	}
	rows, err := r.db.QueryContext(ctx, listProductsQuery, category, f.ActiveOnly)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := make([]Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (Product, error) {
	p, err := scanProduct(r.db.QueryRowContext(ctx, getProductByIDQuery, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Product{}, ErrNotFound
		}
		return Product{}, err
	}
	return p, nil
}

func (r *PostgresRepository) ListByIDs(ctx context.Context, ids []int64) (map[int64]Product, error) {
	out := make(map[int64]Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.db.QueryContext(ctx, listProductsByIDsQuery, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("list products by id: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Create(ctx context.Context, p Product) (Product, error) {
	var category any
	if p.CategoryID != nil {
		category = *p.CategoryID
	}
	err := r.db.QueryRowContext(ctx, insertProductQuery,
		category, p.Name, p.SKU, p.Price, p.Active, p.Attributes,
	).Scan(&p.ID)
	if err != nil {
		return Product{}, fmt.Errorf("insert product: %w", err)
	}
	return p, nil
}

func (r *PostgresRepository) UpdatePricing(ctx context.Context, id int64, price money.Amount, active bool) (Product, error) {
	p, err := scanProduct(r.db.QueryRowContext(ctx, updatePricingQuery, price, active, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Product{}, ErrNotFound
		}
		return Product{}, err
	}
	return p, nil
}

func scanProduct(scanner rowScanner) (Product, error) {
	var p Product
	var category sql.NullInt64
	if err := scanner.Scan(&p.ID, &category, &p.Name, &p.SKU, &p.Price, &p.Active, &p.Attributes); err != nil {
		return Product{}, err
	}
	if category.Valid {
		p.CategoryID = &category.Int64
	}
	return p, nil
}
