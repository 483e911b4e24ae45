package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID       int64
	TenantID int64
	Name     string
	Price    decimal.Decimal
	Quantity int
}

type Variant struct {
	ID        int64
	ProductID int64
	Name      string
	// Price overrides the product price when set.
	Price    *decimal.Decimal
	Quantity int
}

// StockKey addresses one ledger entry: the variant when VariantID is set,
// otherwise the product itself.
type StockKey struct {
	ProductID int64
	VariantID *int64
}

func (k StockKey) String() string {
	if k.VariantID != nil {
		return fmt.Sprintf("%d/%d", k.ProductID, *k.VariantID)
	}
	return fmt.Sprintf("%d", k.ProductID)
}

func (k StockKey) Equal(o StockKey) bool {
	if k.ProductID != o.ProductID {
		return false
	}
	if k.VariantID == nil || o.VariantID == nil {
		return k.VariantID == nil && o.VariantID == nil
	}
	return *k.VariantID == *o.VariantID
}

// Compare orders keys by product, then variant, with the product's own entry
// first. Stock rows are always locked in this order.
func (k StockKey) Compare(o StockKey) int {
	switch {
	case k.ProductID < o.ProductID:
		return -1
	case k.ProductID > o.ProductID:
		return 1
	case k.VariantID == nil && o.VariantID == nil:
		return 0
	case k.VariantID == nil:
		return -1
	case o.VariantID == nil:
		return 1
	case *k.VariantID < *o.VariantID:
		return -1
	case *k.VariantID > *o.VariantID:
		return 1
	}
	return 0
}

type CartEntry struct {
	CustomerID string
	ProductID  int64
	VariantID  *int64
	Quantity   int
}

func (c CartEntry) StockKey() StockKey {
	return StockKey{ProductID: c.ProductID, VariantID: c.VariantID}
}

// StockAdjustment describes one checkout line the ledger could not cover.
type StockAdjustment struct {
	ProductID         int64
	VariantID         *int64
	ProductName       string
	RequestedQuantity int
	AvailableQuantity int
}
