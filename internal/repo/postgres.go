package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"checkout-flow/internal/domain"

	"github.com/jackc/pgx/v5/pgconn"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, r Repos) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, newPostgresRepos(tx)); err != nil {
		return mapPgError(err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", mapPgError(err))
	}
	return nil
}

func (s *PostgresStore) Repos() Repos {
	return newPostgresRepos(s.db)
}

func newPostgresRepos(q querier) Repos {
	return Repos{
		Orders:  &orderRepo{q: q},
		Stock:   &stockLedger{q: q},
		Catalog: &catalogRepo{q: q},
		Carts:   &cartRepo{q: q},
	}
}

const (
	uniqueViolation        = "23505"
	pendingOrderConstraint = "uq_orders_one_pending_per_customer"
)

// mapPgError turns the pending-order unique index violation into a domain
// conflict; everything else passes through untouched.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == pendingOrderConstraint {
		return domain.ErrPendingOrder
	}
	return err
}
