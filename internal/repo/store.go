package repo

import (
	"context"
	"time"

	"checkout-flow/internal/domain"

	"github.com/shopspring/decimal"
)

type OrderRepo interface {
	FindById(ctx context.Context, id int64) (*domain.Order, error)
	// FindByIdForUpdate locks the order row until the surrounding transaction ends.
	FindByIdForUpdate(ctx context.Context, id int64) (*domain.Order, error)
	CreateOrder(ctx context.Context, order *domain.Order) error
	CreateGuest(ctx context.Context, guest *domain.GuestProfile) error
	UpdateOrderStatus(ctx context.Context, order *domain.Order) error
	HasPendingOrder(ctx context.Context, customerID string) (bool, error)
	CountOrders(ctx context.Context, customerID string) (int, error)
	FindStalePending(ctx context.Context, before time.Time, limit int) ([]domain.Order, error)
	ListPending(ctx context.Context, tenantID int64) ([]domain.Order, error)
}

// StockLedger is the only path through which product quantities change.
type StockLedger interface {
	// Decrement removes qty units only if that many are available and
	// reports whether it did.
	Decrement(ctx context.Context, key domain.StockKey, qty int) (bool, error)
	Increment(ctx context.Context, key domain.StockKey, qty int) error
	Available(ctx context.Context, key domain.StockKey) (int, error)
}

type CatalogRepo interface {
	FindProduct(ctx context.Context, id int64) (*domain.Product, error)
	FindVariant(ctx context.Context, productID, variantID int64) (*domain.Variant, error)
	CreateProduct(ctx context.Context, p *domain.Product) error
	CreateVariant(ctx context.Context, v *domain.Variant) error
	UpdatePrice(ctx context.Context, productID int64, price decimal.Decimal) error
}

type CartRepo interface {
	ListCart(ctx context.Context, customerID string) ([]domain.CartEntry, error)
	AddToCart(ctx context.Context, entry domain.CartEntry) error
	// SetCartQuantity updates an entry; a quantity of zero removes it.
	SetCartQuantity(ctx context.Context, customerID string, key domain.StockKey, qty int) error
}

type Repos struct {
	Orders  OrderRepo
	Stock   StockLedger
	Catalog CatalogRepo
	Carts   CartRepo
}

// Store hands out repositories either bound to one transaction or in
// autocommit mode. A non-nil error from fn rolls the transaction back.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, r Repos) error) error
	Repos() Repos
}
