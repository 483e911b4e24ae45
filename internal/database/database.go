package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// NewPostgres opens a pooled connection through the pgx stdlib driver and
// verifies it with a ping.
func NewPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id BIGSERIAL PRIMARY KEY,
		tenant_id BIGINT NOT NULL,
		name TEXT NOT NULL,
		price NUMERIC(12,2) NOT NULL,
		quantity INTEGER NOT NULL DEFAULT 0 CHECK (quantity >= 0)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_products_tenant_id ON products(tenant_id)`,

	`CREATE TABLE IF NOT EXISTS product_variants (
		id BIGSERIAL PRIMARY KEY,
		product_id BIGINT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		price NUMERIC(12,2),
		quantity INTEGER NOT NULL DEFAULT 0 CHECK (quantity >= 0)
	)`,

	`CREATE TABLE IF NOT EXISTS cart_items (
		customer_id TEXT NOT NULL,
		product_id BIGINT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
		variant_id BIGINT NOT NULL DEFAULT 0,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		PRIMARY KEY (customer_id, product_id, variant_id)
	)`,

	`CREATE TABLE IF NOT EXISTS guest_customers (
		id BIGSERIAL PRIMARY KEY,
		email TEXT NOT NULL,
		name TEXT NOT NULL,
		address TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS orders (
		id BIGSERIAL PRIMARY KEY,
		tenant_id BIGINT NOT NULL,
		customer_id TEXT,
		guest_id BIGINT REFERENCES guest_customers(id),
		total_price NUMERIC(12,2) NOT NULL,
		confirmation_code TEXT NOT NULL,
		status TEXT NOT NULL,
		paid BOOLEAN NOT NULL DEFAULT false,
		paid_at TIMESTAMPTZ,
		tracking_ref TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		CHECK ((customer_id IS NULL) <> (guest_id IS NULL))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_status_created_at ON orders(status, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_tenant_id ON orders(tenant_id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_orders_one_pending_per_customer
		ON orders(customer_id) WHERE status = 'PAYMENT_PENDING' AND customer_id IS NOT NULL`,

	`CREATE TABLE IF NOT EXISTS order_lines (
		id BIGSERIAL PRIMARY KEY,
		order_id BIGINT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		product_id BIGINT NOT NULL REFERENCES products(id),
		variant_id BIGINT REFERENCES product_variants(id),
		product_name TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity >= 1),
		unit_price NUMERIC(12,2) NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_order_lines_order_id ON order_lines(order_id)`,
}

func Migrate(ctx context.Context, db *sql.DB) error {
	for _, m := range migrations {
		if _, err := db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("run migration: %w", err)
		}
	}
	return nil
}

// Health pings the database and reports pool statistics.
func Health(ctx context.Context, db *sql.DB) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	stats := make(map[string]string)

	if err := db.PingContext(ctx); err != nil {
		stats["status"] = "down"
		stats["error"] = fmt.Sprintf("db down: %v", err)
		return stats
	}

	stats["status"] = "up"
	stats["message"] = "It's healthy"

	dbStats := db.Stats()
	stats["open_connections"] = strconv.Itoa(dbStats.OpenConnections)
	stats["in_use"] = strconv.Itoa(dbStats.InUse)
	stats["idle"] = strconv.Itoa(dbStats.Idle)
	stats["wait_count"] = strconv.FormatInt(dbStats.WaitCount, 10)
	stats["wait_duration"] = dbStats.WaitDuration.String()

	if dbStats.OpenConnections > 20 {
		stats["message"] = "The database is experiencing heavy load."
	}
	if dbStats.WaitCount > 1000 {
		stats["message"] = "The database has a high number of wait events, indicating potential bottlenecks."
	}

	return stats
}
