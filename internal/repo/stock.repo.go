package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"checkout-flow/internal/domain"
)

type stockLedger struct {
	q querier
}

func (l *stockLedger) Decrement(ctx context.Context, key domain.StockKey, qty int) (bool, error) {
	var (
		res sql.Result
		err error
	)
	if key.VariantID != nil {
		res, err = l.q.ExecContext(ctx,
			`UPDATE product_variants SET quantity = quantity - $1 WHERE id = $2 AND product_id = $3 AND quantity >= $1`,
			qty, *key.VariantID, key.ProductID,
		)
	} else {
		res, err = l.q.ExecContext(ctx,
			`UPDATE products SET quantity = quantity - $1 WHERE id = $2 AND quantity >= $1`,
			qty, key.ProductID,
		)
	}
	if err != nil {
		return false, fmt.Errorf("decrement stock %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (l *stockLedger) Increment(ctx context.Context, key domain.StockKey, qty int) error {
	var (
		res sql.Result
		err error
	)
	if key.VariantID != nil {
		res, err = l.q.ExecContext(ctx,
			`UPDATE product_variants SET quantity = quantity + $1 WHERE id = $2 AND product_id = $3`,
			qty, *key.VariantID, key.ProductID,
		)
	} else {
		res, err = l.q.ExecContext(ctx,
			`UPDATE products SET quantity = quantity + $1 WHERE id = $2`,
			qty, key.ProductID,
		)
	}
	if err != nil {
		return fmt.Errorf("increment stock %s: %w", key, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return notFoundFor(key)
	}
	return nil
}

func (l *stockLedger) Available(ctx context.Context, key domain.StockKey) (int, error) {
	var (
		qty int
		err error
	)
	if key.VariantID != nil {
		err = l.q.QueryRowContext(ctx,
			`SELECT quantity FROM product_variants WHERE id = $1 AND product_id = $2`,
			*key.VariantID, key.ProductID,
		).Scan(&qty)
	} else {
		err = l.q.QueryRowContext(ctx, `SELECT quantity FROM products WHERE id = $1`, key.ProductID).Scan(&qty)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return 0, notFoundFor(key)
	}
	if err != nil {
		return 0, fmt.Errorf("read stock %s: %w", key, err)
	}
	return qty, nil
}

func notFoundFor(key domain.StockKey) error {
	if key.VariantID != nil {
		return domain.ErrVariantNotFound
	}
	return domain.ErrProductNotFound
}
