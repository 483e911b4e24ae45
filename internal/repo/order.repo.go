package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"checkout-flow/internal/domain"
)

type orderRepo struct {
	q querier
}

const orderColumns = `
	o.id, o.tenant_id, o.customer_id, o.guest_id, o.total_price, o.confirmation_code,
	o.status, o.paid, o.paid_at, o.tracking_ref, o.created_at, o.updated_at,
	g.email, g.name, g.address`

const orderFrom = `
	FROM orders o
	LEFT JOIN guest_customers g ON g.id = o.guest_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		o                             domain.Order
		guestEmail, guestName, guestA sql.NullString
	)
	err := row.Scan(
		&o.ID,
		&o.TenantID,
		&o.CustomerID,
		&o.GuestID,
		&o.TotalPrice,
		&o.ConfirmationCode,
		&o.Status,
		&o.Paid,
		&o.PaidAt,
		&o.TrackingRef,
		&o.CreatedAt,
		&o.UpdatedAt,
		&guestEmail,
		&guestName,
		&guestA,
	)
	if err != nil {
		return nil, err
	}
	if o.GuestID != nil {
		o.Guest = &domain.GuestProfile{
			ID:      *o.GuestID,
			Email:   guestEmail.String,
			Name:    guestName.String,
			Address: guestA.String,
		}
	}
	return &o, nil
}

func (r *orderRepo) FindById(ctx context.Context, id int64) (*domain.Order, error) {
	return r.find(ctx, `SELECT`+orderColumns+orderFrom+` WHERE o.id = $1`, id)
}

func (r *orderRepo) FindByIdForUpdate(ctx context.Context, id int64) (*domain.Order, error) {
	return r.find(ctx, `SELECT`+orderColumns+orderFrom+` WHERE o.id = $1 FOR UPDATE OF o`, id)
}

func (r *orderRepo) find(ctx context.Context, query string, id int64) (*domain.Order, error) {
	order, err := scanOrder(r.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find order %d: %w", id, err)
	}

	lines, err := r.findLines(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	order.Lines = lines
	return order, nil
}

func (r *orderRepo) findLines(ctx context.Context, orderID int64) ([]domain.OrderLine, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, order_id, product_id, variant_id, product_name, quantity, unit_price
		FROM order_lines
		WHERE order_id = $1
		ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("find order lines %d: %w", orderID, err)
	}
	defer rows.Close()

	var lines []domain.OrderLine
	for rows.Next() {
		var l domain.OrderLine
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ProductID, &l.VariantID, &l.ProductName, &l.Quantity, &l.UnitPrice); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (r *orderRepo) CreateGuest(ctx context.Context, guest *domain.GuestProfile) error {
	err := r.q.QueryRowContext(ctx,
		`INSERT INTO guest_customers (email, name, address) VALUES ($1, $2, $3) RETURNING id`,
		guest.Email, guest.Name, guest.Address,
	).Scan(&guest.ID)
	if err != nil {
		return fmt.Errorf("create guest: %w", err)
	}
	return nil
}

// CreateOrder inserts the order and its lines, filling in the generated ids.
func (r *orderRepo) CreateOrder(ctx context.Context, order *domain.Order) error {
	err := r.q.QueryRowContext(ctx, `
		INSERT INTO orders (tenant_id, customer_id, guest_id, total_price, confirmation_code, status, paid, paid_at, tracking_ref, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		order.TenantID, order.CustomerID, order.GuestID, order.TotalPrice, order.ConfirmationCode,
		order.Status, order.Paid, order.PaidAt, order.TrackingRef, order.CreatedAt, order.UpdatedAt,
	).Scan(&order.ID)
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}

	for i := range order.Lines {
		l := &order.Lines[i]
		l.OrderID = order.ID
		err := r.q.QueryRowContext(ctx, `
			INSERT INTO order_lines (order_id, product_id, variant_id, product_name, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id`,
			l.OrderID, l.ProductID, l.VariantID, l.ProductName, l.Quantity, l.UnitPrice,
		).Scan(&l.ID)
		if err != nil {
			return fmt.Errorf("create order line: %w", err)
		}
	}
	return nil
}

func (r *orderRepo) UpdateOrderStatus(ctx context.Context, order *domain.Order) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE orders SET status = $1, paid = $2, paid_at = $3, updated_at = $4 WHERE id = $5`,
		order.Status, order.Paid, order.PaidAt, order.UpdatedAt, order.ID,
	)
	if err != nil {
		return fmt.Errorf("update order %d: %w", order.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (r *orderRepo) HasPendingOrder(ctx context.Context, customerID string) (bool, error) {
	var exists bool
	err := r.q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM orders WHERE customer_id = $1 AND status = $2)`,
		customerID, domain.OrderPaymentPending,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check pending orders: %w", err)
	}
	return exists, nil
}

func (r *orderRepo) CountOrders(ctx context.Context, customerID string) (int, error) {
	var n int
	if err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders WHERE customer_id = $1`, customerID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	return n, nil
}

func (r *orderRepo) FindStalePending(ctx context.Context, before time.Time, limit int) ([]domain.Order, error) {
	return r.list(ctx,
		`SELECT`+orderColumns+orderFrom+` WHERE o.status = $1 AND o.created_at < $2 ORDER BY o.id LIMIT $3`,
		domain.OrderPaymentPending, before, limit,
	)
}

// ListPending returns pending orders of one tenant, or of every tenant when
// tenantID is zero.
func (r *orderRepo) ListPending(ctx context.Context, tenantID int64) ([]domain.Order, error) {
	return r.list(ctx,
		`SELECT`+orderColumns+orderFrom+` WHERE o.status = $1 AND ($2::bigint = 0 OR o.tenant_id = $2) ORDER BY o.id`,
		domain.OrderPaymentPending, tenantID,
	)
}

func (r *orderRepo) list(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}
