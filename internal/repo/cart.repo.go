package repo

import (
	"context"
	"fmt"

	"checkout-flow/internal/domain"
)

// cart_items stores a missing variant as 0 so it can be part of the primary key.
type cartRepo struct {
	q querier
}

func variantColumn(variantID *int64) int64 {
	if variantID == nil {
		return 0
	}
	return *variantID
}

func (r *cartRepo) ListCart(ctx context.Context, customerID string) ([]domain.CartEntry, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT customer_id, product_id, variant_id, quantity
		FROM cart_items
		WHERE customer_id = $1
		ORDER BY product_id, variant_id`, customerID)
	if err != nil {
		return nil, fmt.Errorf("list cart: %w", err)
	}
	defer rows.Close()

	var entries []domain.CartEntry
	for rows.Next() {
		var (
			e         domain.CartEntry
			variantID int64
		)
		if err := rows.Scan(&e.CustomerID, &e.ProductID, &variantID, &e.Quantity); err != nil {
			return nil, err
		}
		if variantID != 0 {
			e.VariantID = &variantID
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *cartRepo) AddToCart(ctx context.Context, entry domain.CartEntry) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO cart_items (customer_id, product_id, variant_id, quantity)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (customer_id, product_id, variant_id)
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity`,
		entry.CustomerID, entry.ProductID, variantColumn(entry.VariantID), entry.Quantity,
	)
	if err != nil {
		return fmt.Errorf("add to cart: %w", err)
	}
	return nil
}

func (r *cartRepo) SetCartQuantity(ctx context.Context, customerID string, key domain.StockKey, qty int) error {
	var err error
	if qty <= 0 {
		_, err = r.q.ExecContext(ctx,
			`DELETE FROM cart_items WHERE customer_id = $1 AND product_id = $2 AND variant_id = $3`,
			customerID, key.ProductID, variantColumn(key.VariantID),
		)
	} else {
		_, err = r.q.ExecContext(ctx,
			`UPDATE cart_items SET quantity = $1 WHERE customer_id = $2 AND product_id = $3 AND variant_id = $4`,
			qty, customerID, key.ProductID, variantColumn(key.VariantID),
		)
	}
	if err != nil {
		return fmt.Errorf("set cart quantity: %w", err)
	}
	return nil
}
