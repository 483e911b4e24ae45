package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"checkout-flow/internal/domain"

	"github.com/shopspring/decimal"
)

type catalogRepo struct {
	q querier
}

func (r *catalogRepo) FindProduct(ctx context.Context, id int64) (*domain.Product, error) {
	var p domain.Product
	err := r.q.QueryRowContext(ctx,
		`SELECT id, tenant_id, name, price, quantity FROM products WHERE id = $1`, id,
	).Scan(&p.ID, &p.TenantID, &p.Name, &p.Price, &p.Quantity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find product %d: %w", id, err)
	}
	return &p, nil
}

func (r *catalogRepo) FindVariant(ctx context.Context, productID, variantID int64) (*domain.Variant, error) {
	var (
		v     domain.Variant
		price decimal.NullDecimal
	)
	err := r.q.QueryRowContext(ctx,
		`SELECT id, product_id, name, price, quantity FROM product_variants WHERE id = $1 AND product_id = $2`,
		variantID, productID,
	).Scan(&v.ID, &v.ProductID, &v.Name, &price, &v.Quantity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrVariantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find variant %d: %w", variantID, err)
	}
	if price.Valid {
		v.Price = &price.Decimal
	}
	return &v, nil
}

func (r *catalogRepo) CreateProduct(ctx context.Context, p *domain.Product) error {
	err := r.q.QueryRowContext(ctx,
		`INSERT INTO products (tenant_id, name, price, quantity) VALUES ($1, $2, $3, $4) RETURNING id`,
		p.TenantID, p.Name, p.Price, p.Quantity,
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("create product: %w", err)
	}
	return nil
}

func (r *catalogRepo) CreateVariant(ctx context.Context, v *domain.Variant) error {
	var price decimal.NullDecimal
	if v.Price != nil {
		price = decimal.NewNullDecimal(*v.Price)
	}
	err := r.q.QueryRowContext(ctx,
		`INSERT INTO product_variants (product_id, name, price, quantity) VALUES ($1, $2, $3, $4) RETURNING id`,
		v.ProductID, v.Name, price, v.Quantity,
	).Scan(&v.ID)
	if err != nil {
		return fmt.Errorf("create variant: %w", err)
	}
	return nil
}

func (r *catalogRepo) UpdatePrice(ctx context.Context, productID int64, price decimal.Decimal) error {
	res, err := r.q.ExecContext(ctx, `UPDATE products SET price = $1 WHERE id = $2`, price, productID)
	if err != nil {
		return fmt.Errorf("update price %d: %w", productID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}
