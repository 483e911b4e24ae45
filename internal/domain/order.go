package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderCreated         OrderStatus = "CREATED"
	OrderPaymentPending  OrderStatus = "PAYMENT_PENDING"
	OrderPaymentApproved OrderStatus = "PAYMENT_APPROVED"
	OrderPaymentFailed   OrderStatus = "PAYMENT_FAILED"
	OrderPreparing       OrderStatus = "PREPARING"
	OrderShipped         OrderStatus = "SHIPPED"
	OrderDelivered       OrderStatus = "DELIVERED"
)

var validNext = map[OrderStatus]map[OrderStatus]bool{
	OrderCreated:         {OrderPaymentPending: true, OrderPaymentFailed: true},
	OrderPaymentPending:  {OrderPaymentApproved: true, OrderPaymentFailed: true},
	OrderPaymentApproved: {OrderPreparing: true},
	OrderPreparing:       {OrderShipped: true},
	OrderShipped:         {OrderDelivered: true},
	OrderDelivered:       {},
	OrderPaymentFailed:   {},
}

func CanTransition(from, to OrderStatus) bool {
	return validNext[from][to]
}

// Approved reports whether the payment of an order in this status went through.
// Fulfillment statuses only follow an approval.
func (s OrderStatus) Approved() bool {
	switch s {
	case OrderPaymentApproved, OrderPreparing, OrderShipped, OrderDelivered:
		return true
	}
	return false
}

// Decided reports whether the payment decision for the order has been made.
func (s OrderStatus) Decided() bool {
	return s.Approved() || s == OrderPaymentFailed
}

type GuestProfile struct {
	ID      int64
	Email   string
	Name    string
	Address string
}

type Order struct {
	ID               int64
	TenantID         int64
	CustomerID       *string
	GuestID          *int64
	Guest            *GuestProfile
	TotalPrice       decimal.Decimal
	ConfirmationCode string
	Status           OrderStatus
	Paid             bool
	PaidAt           *time.Time
	TrackingRef      *string
	Lines            []OrderLine
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type OrderLine struct {
	ID          int64
	OrderID     int64
	ProductID   int64
	VariantID   *int64
	ProductName string
	Quantity    int
	UnitPrice   decimal.Decimal
}

func (l OrderLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// StockKey identifies the ledger entry the line draws from.
func (l OrderLine) StockKey() StockKey {
	return StockKey{ProductID: l.ProductID, VariantID: l.VariantID}
}

// Total sums the line snapshots, rounded to cents.
func Total(lines []OrderLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Subtotal())
	}
	return total.Round(2)
}

func (o *Order) MarkApproved(now time.Time) error {
	if !CanTransition(o.Status, OrderPaymentApproved) {
		return ErrInvalidTransition
	}
	o.Status = OrderPaymentApproved
	o.Paid = true
	paidAt := now
	o.PaidAt = &paidAt
	o.UpdatedAt = now
	return nil
}

func (o *Order) MarkFailed(now time.Time) error {
	if !CanTransition(o.Status, OrderPaymentFailed) {
		return ErrInvalidTransition
	}
	o.Status = OrderPaymentFailed
	o.UpdatedAt = now
	return nil
}

// Clone returns a deep copy so stores never hand out shared state.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	if o.CustomerID != nil {
		v := *o.CustomerID
		c.CustomerID = &v
	}
	if o.GuestID != nil {
		v := *o.GuestID
		c.GuestID = &v
	}
	if o.Guest != nil {
		g := *o.Guest
		c.Guest = &g
	}
	if o.PaidAt != nil {
		v := *o.PaidAt
		c.PaidAt = &v
	}
	if o.TrackingRef != nil {
		v := *o.TrackingRef
		c.TrackingRef = &v
	}
	if o.Lines != nil {
		c.Lines = make([]OrderLine, len(o.Lines))
		for i, l := range o.Lines {
			if l.VariantID != nil {
				v := *l.VariantID
				l.VariantID = &v
			}
			c.Lines[i] = l
		}
	}
	return &c
}
