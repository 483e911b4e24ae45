package repo_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"checkout-flow/internal/database"
	"checkout-flow/internal/domain"
	"checkout-flow/internal/metrics"
	"checkout-flow/internal/repo"
	"checkout-flow/internal/service"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

func startPostgres(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres integration tests need docker")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("checkout"),
		postgres.WithUsername("checkout"),
		postgres.WithPassword("checkout"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	db, err := database.NewPostgres(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, database.Migrate(ctx, db))
	require.NoError(t, database.Migrate(ctx, db), "migrations are idempotent")
	return db
}

func resetTables(t *testing.T, db *sql.DB) {
	t.Helper()
	_, err := db.Exec(`TRUNCATE order_lines, orders, guest_customers, cart_items, product_variants, products RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
}

func TestPostgres(t *testing.T) {
	db := startPostgres(t)
	store := repo.NewPostgresStore(db)
	ctx := context.Background()

	product := func(t *testing.T, tenantID int64, price string, qty int) *domain.Product {
		t.Helper()
		p := &domain.Product{TenantID: tenantID, Name: "Kettle", Price: decimal.RequireFromString(price), Quantity: qty}
		require.NoError(t, store.Repos().Catalog.CreateProduct(ctx, p))
		return p
	}
	newService := func() service.OrderService {
		return service.NewOrderService(store, nil, metrics.NewNop(), nil,
			service.WithCodeGenerator(func() string { return "777777" }),
		)
	}

	t.Run("health", func(t *testing.T) {
		stats := database.Health(ctx, db)
		assert.Equal(t, "up", stats["status"])
	})

	t.Run("catalog", func(t *testing.T) {
		resetTables(t, db)
		p := product(t, 1, "12.30", 4)
		price := decimal.RequireFromString("15.00")
		v := &domain.Variant{ProductID: p.ID, Name: "Steel", Price: &price, Quantity: 2}
		require.NoError(t, store.Repos().Catalog.CreateVariant(ctx, v))
		plain := &domain.Variant{ProductID: p.ID, Name: "Plain", Quantity: 1}
		require.NoError(t, store.Repos().Catalog.CreateVariant(ctx, plain))

		got, err := store.Repos().Catalog.FindProduct(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, "12.30", got.Price.StringFixed(2))

		gotV, err := store.Repos().Catalog.FindVariant(ctx, p.ID, v.ID)
		require.NoError(t, err)
		require.NotNil(t, gotV.Price)
		assert.Equal(t, "15.00", gotV.Price.StringFixed(2))

		gotPlain, err := store.Repos().Catalog.FindVariant(ctx, p.ID, plain.ID)
		require.NoError(t, err)
		assert.Nil(t, gotPlain.Price)

		_, err = store.Repos().Catalog.FindProduct(ctx, 999)
		assert.ErrorIs(t, err, domain.ErrProductNotFound)
		_, err = store.Repos().Catalog.FindVariant(ctx, p.ID+1, v.ID)
		assert.ErrorIs(t, err, domain.ErrVariantNotFound)

		require.NoError(t, store.Repos().Catalog.UpdatePrice(ctx, p.ID, decimal.RequireFromString("9.99")))
		got, err = store.Repos().Catalog.FindProduct(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, "9.99", got.Price.StringFixed(2))
	})

	t.Run("conditional decrement", func(t *testing.T) {
		resetTables(t, db)
		p := product(t, 1, "1.00", 2)
		key := domain.StockKey{ProductID: p.ID}
		ledger := store.Repos().Stock

		ok, err := ledger.Decrement(ctx, key, 3)
		require.NoError(t, err)
		assert.False(t, ok)
		ok, err = ledger.Decrement(ctx, key, 2)
		require.NoError(t, err)
		assert.True(t, ok)

		require.NoError(t, ledger.Increment(ctx, key, 1))
		n, err := ledger.Available(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		assert.ErrorIs(t, ledger.Increment(ctx, domain.StockKey{ProductID: 999}, 1), domain.ErrNotFound)
	})

	t.Run("rollback", func(t *testing.T) {
		resetTables(t, db)
		p := product(t, 1, "1.00", 5)
		boom := errors.New("boom")

		err := store.WithinTx(ctx, func(ctx context.Context, r repo.Repos) error {
			if _, err := r.Stock.Decrement(ctx, domain.StockKey{ProductID: p.ID}, 5); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		n, err := store.Repos().Stock.Available(ctx, domain.StockKey{ProductID: p.ID})
		require.NoError(t, err)
		assert.Equal(t, 5, n)
	})

	t.Run("cart upsert", func(t *testing.T) {
		resetTables(t, db)
		p := product(t, 1, "1.00", 5)
		carts := store.Repos().Carts

		require.NoError(t, carts.AddToCart(ctx, domain.CartEntry{CustomerID: "alice", ProductID: p.ID, Quantity: 1}))
		require.NoError(t, carts.AddToCart(ctx, domain.CartEntry{CustomerID: "alice", ProductID: p.ID, Quantity: 2}))
		entries, err := carts.ListCart(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, 3, entries[0].Quantity)
		assert.Nil(t, entries[0].VariantID)

		require.NoError(t, carts.SetCartQuantity(ctx, "alice", domain.StockKey{ProductID: p.ID}, 0))
		entries, err = carts.ListCart(ctx, "alice")
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("one pending order per customer", func(t *testing.T) {
		resetTables(t, db)
		p := product(t, 1, "2.50", 10)
		svc := newService()
		customer := "alice"
		in := service.CheckoutInput{TenantID: 1, CustomerID: &customer, Items: []service.LineItem{{ProductID: p.ID, Quantity: 1}}}

		var wg sync.WaitGroup
		errs := make(chan error, 5)
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := svc.Checkout(ctx, in)
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)

		created := 0
		for err := range errs {
			if err == nil {
				created++
				continue
			}
			assert.ErrorIs(t, err, domain.ErrConflict)
		}
		assert.Equal(t, 1, created)

		n, err := store.Repos().Stock.Available(ctx, domain.StockKey{ProductID: p.ID})
		require.NoError(t, err)
		assert.Equal(t, 9, n, "losing checkouts return their stock")
	})

	t.Run("opposite line order does not deadlock", func(t *testing.T) {
		resetTables(t, db)
		a := product(t, 1, "1.00", 100)
		b := product(t, 1, "2.00", 100)
		svc := newService()

		const rounds = 20
		errs := make(chan error, rounds*2)
		orders := make(chan int64, rounds)
		var wg sync.WaitGroup
		for i := 0; i < rounds; i++ {
			items := []service.LineItem{{ProductID: a.ID, Quantity: 1}, {ProductID: b.ID, Quantity: 1}}
			if i%2 == 1 {
				items[0], items[1] = items[1], items[0]
			}
			customer := fmt.Sprintf("c-%d", i)
			wg.Add(1)
			go func() {
				defer wg.Done()
				o, err := svc.Checkout(ctx, service.CheckoutInput{TenantID: 1, CustomerID: &customer, Items: items})
				errs <- err
				if err == nil {
					orders <- o.ID
				}
			}()
		}
		wg.Wait()
		close(orders)

		for id := range orders {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := svc.RejectPayment(ctx, id)
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			assert.NoError(t, err)
		}
		for _, p := range []*domain.Product{a, b} {
			n, err := store.Repos().Stock.Available(ctx, domain.StockKey{ProductID: p.ID})
			require.NoError(t, err)
			assert.Equal(t, 100, n)
		}
	})

	t.Run("checkout and decisions", func(t *testing.T) {
		resetTables(t, db)
		p := product(t, 1, "3.10", 3)
		svc := newService()
		customer := "bob"

		order, err := svc.Checkout(ctx, service.CheckoutInput{
			TenantID:   1,
			CustomerID: &customer,
			Items:      []service.LineItem{{ProductID: p.ID, Quantity: 2}},
		})
		require.NoError(t, err)
		assert.Equal(t, "6.20", order.TotalPrice.StringFixed(2))

		loaded, err := svc.GetOrder(ctx, order.ID)
		require.NoError(t, err)
		require.Len(t, loaded.Lines, 1)
		assert.Equal(t, "Kettle", loaded.Lines[0].ProductName)
		assert.Equal(t, "777777", loaded.ConfirmationCode)

		pending, err := svc.ListPending(ctx, 1)
		require.NoError(t, err)
		assert.Len(t, pending, 1)

		rejected, err := svc.RejectPayment(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderPaymentFailed, rejected.Status)

		n, err := store.Repos().Stock.Available(ctx, domain.StockKey{ProductID: p.ID})
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		_, err = svc.ProcessPayment(ctx, order.ID, true)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)

		_, err = svc.Checkout(ctx, service.CheckoutInput{
			TenantID:   1,
			CustomerID: &customer,
			Items:      []service.LineItem{{ProductID: p.ID, Quantity: 5}},
		})
		var stock *domain.StockInsufficientError
		require.ErrorAs(t, err, &stock)
		assert.Equal(t, 3, stock.Adjustments[0].AvailableQuantity)
	})

	t.Run("guest checkout and stale scan", func(t *testing.T) {
		resetTables(t, db)
		p := product(t, 2, "1.00", 3)
		now := time.Now().UTC()
		svc := service.NewOrderService(store, nil, metrics.NewNop(), nil,
			service.WithClock(func() time.Time { return now.Add(-time.Hour) }),
		)

		order, err := svc.Checkout(ctx, service.CheckoutInput{
			TenantID: 2,
			Guest:    &domain.GuestProfile{Email: "g@example.com", Name: "Guest"},
			Items:    []service.LineItem{{ProductID: p.ID, Quantity: 1}},
		})
		require.NoError(t, err)

		loaded, err := svc.GetOrder(ctx, order.ID)
		require.NoError(t, err)
		require.NotNil(t, loaded.Guest)
		assert.Equal(t, "g@example.com", loaded.Guest.Email)
		assert.Nil(t, loaded.CustomerID)

		stale, err := store.Repos().Orders.FindStalePending(ctx, now.Add(-30*time.Minute), 10)
		require.NoError(t, err)
		require.Len(t, stale, 1)
		assert.Equal(t, order.ID, stale[0].ID)

		expired, err := svc.ExpirePayment(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderPaymentFailed, expired.Status)
	})
}
