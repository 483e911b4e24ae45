package domain

import "time"

// PaymentSource names what drove a payment decision.
type PaymentSource string

const (
	SourceGateway PaymentSource = "gateway"
	SourceCode    PaymentSource = "code"
	SourceClient  PaymentSource = "client"
	SourceTimeout PaymentSource = "timeout"
)

// PaymentEvent is published once per terminal payment decision.
type PaymentEvent struct {
	OrderID    int64         `json:"orderId"`
	TenantID   int64         `json:"tenantId"`
	Approved   bool          `json:"approved"`
	Status     OrderStatus   `json:"status"`
	Source     PaymentSource `json:"source"`
	OccurredAt time.Time     `json:"occurredAt"`
}

func NewPaymentEvent(o *Order, source PaymentSource, now time.Time) PaymentEvent {
	return PaymentEvent{
		OrderID:    o.ID,
		TenantID:   o.TenantID,
		Approved:   o.Status.Approved(),
		Status:     o.Status,
		Source:     source,
		OccurredAt: now.UTC(),
	}
}
