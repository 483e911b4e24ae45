package payment

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"checkout-flow/internal/domain"
)

var (
	ErrAlreadyDecided = errors.New("payment already decided")
	ErrNotPending     = errors.New("order is not awaiting payment")
)

type PendingLister interface {
	ListPending(ctx context.Context, tenantID int64) ([]domain.Order, error)
}

// WebhookPoster delivers the operator's decision to the platform.
type WebhookPoster interface {
	PostDecision(ctx context.Context, orderID int64, approved bool) error
}

type PendingPayment struct {
	OrderID     int64     `json:"orderId"`
	TenantID    int64     `json:"tenantId"`
	Total       string    `json:"total"`
	DisplayCode string    `json:"code"`
	CreatedAt   time.Time `json:"createdAt"`
}

// MockBank stands in for a human bank operator. It calls the platform's
// webhook at most once per order and forgets orders the platform expired.
type MockBank struct {
	mu      sync.RWMutex
	lister  PendingLister
	webhook WebhookPoster
	decided map[int64]bool
	expired map[int64]struct{}
	codes   map[int64]string
	newCode func() string
}

func NewMockBank(lister PendingLister, webhook WebhookPoster) *MockBank {
	return &MockBank{
		lister:  lister,
		webhook: webhook,
		decided: make(map[int64]bool),
		expired: make(map[int64]struct{}),
		codes:   make(map[int64]string),
		newCode: func() string { return fmt.Sprintf("%06d", rand.IntN(1_000_000)) },
	}
}

// ListPending shows the orders still awaiting a decision, assigning a
// display code to any order that lacks one.
func (b *MockBank) ListPending(ctx context.Context) ([]PendingPayment, error) {
	orders, err := b.lister.ListPending(ctx, 0)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]PendingPayment, 0, len(orders))
	for _, o := range orders {
		if _, done := b.decided[o.ID]; done {
			continue
		}
		if _, gone := b.expired[o.ID]; gone {
			continue
		}
		code := o.ConfirmationCode
		if code == "" {
			code = b.codes[o.ID]
			if code == "" {
				code = b.newCode()
				b.codes[o.ID] = code
			}
		}
		out = append(out, PendingPayment{
			OrderID:     o.ID,
			TenantID:    o.TenantID,
			Total:       o.TotalPrice.StringFixed(2),
			DisplayCode: code,
			CreatedAt:   o.CreatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out, nil
}

// Decide posts the webhook for orderID. The decision is reserved before the
// call so concurrent operators cannot both post; a transport failure frees
// the reservation for a retry.
func (b *MockBank) Decide(ctx context.Context, orderID int64, approved bool) error {
	b.mu.Lock()
	if _, done := b.decided[orderID]; done {
		b.mu.Unlock()
		return ErrAlreadyDecided
	}
	if _, gone := b.expired[orderID]; gone {
		b.mu.Unlock()
		return ErrNotPending
	}
	b.decided[orderID] = approved
	b.mu.Unlock()

	err := b.webhook.PostDecision(ctx, orderID, approved)
	if err == nil || errors.Is(err, ErrAlreadyDecided) {
		b.mu.Lock()
		delete(b.codes, orderID)
		b.mu.Unlock()
		return err
	}

	b.mu.Lock()
	delete(b.decided, orderID)
	b.mu.Unlock()
	return err
}

// NotifyRejected records that the platform expired orderID on its own.
func (b *MockBank) NotifyRejected(ctx context.Context, orderID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expired[orderID] = struct{}{}
	delete(b.codes, orderID)
	return nil
}

// Decision reports what the bank decided for orderID, if anything.
func (b *MockBank) Decision(orderID int64) (approved bool, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	approved, ok = b.decided[orderID]
	return approved, ok
}

func (b *MockBank) Expired(orderID int64) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.expired[orderID]
	return ok
}
