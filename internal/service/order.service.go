package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"time"

	"checkout-flow/internal/domain"
	"checkout-flow/internal/logging"
	"checkout-flow/internal/metrics"
	"checkout-flow/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type OrderService interface {
	Checkout(ctx context.Context, in CheckoutInput) (*domain.Order, error)
	ProcessPayment(ctx context.Context, orderID int64, approved bool) (*domain.Order, error)
	VerifyCode(ctx context.Context, orderID int64, code string) (*domain.Order, error)
	RejectPayment(ctx context.Context, orderID int64) (*domain.Order, error)
	ExpirePayment(ctx context.Context, orderID int64) (*domain.Order, error)
	GetOrder(ctx context.Context, orderID int64) (*domain.Order, error)
	ListPending(ctx context.Context, tenantID int64) ([]domain.Order, error)
}

// PaymentNotifier receives every terminal payment decision after it has
// been committed. Errors are logged and never undo the transition.
type PaymentNotifier interface {
	Publish(ctx context.Context, ev domain.PaymentEvent) error
}

type CheckoutInput struct {
	TenantID   int64
	CustomerID *string
	Guest      *domain.GuestProfile
	Items      []LineItem
}

type LineItem struct {
	ProductID int64
	VariantID *int64
	Quantity  int
}

type orderService struct {
	store    repo.Store
	notifier PaymentNotifier
	metrics  *metrics.Metrics
	logger   *zap.Logger
	tracer   trace.Tracer
	now      func() time.Time
	newCode  func() string
}

type Option func(*orderService)

func WithClock(now func() time.Time) Option {
	return func(s *orderService) { s.now = now }
}

func WithCodeGenerator(gen func() string) Option {
	return func(s *orderService) { s.newCode = gen }
}

func NewOrderService(
	store repo.Store,
	notifier PaymentNotifier,
	m *metrics.Metrics,
	logger *zap.Logger,
	opts ...Option,
) OrderService {
	s := &orderService{
		store:    store,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
		tracer:   otel.Tracer("checkout-flow/service"),
		now:      time.Now,
		newCode:  NewConfirmationCode,
	}
	if s.metrics == nil {
		s.metrics = metrics.NewNop()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewConfirmationCode returns a 6-digit numeric code. Collisions are not
// guarded; a code is only checked against its own order.
func NewConfirmationCode() string {
	return fmt.Sprintf("%06d", rand.IntN(1_000_000))
}

// errStockShortfall only escapes the checkout transaction to force a rollback.
var errStockShortfall = errors.New("stock shortfall")

func (s *orderService) Checkout(ctx context.Context, in CheckoutInput) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.Checkout", trace.WithAttributes(attribute.Int64("tenant.id", in.TenantID)))
	defer span.End()
	log := logging.FromContext(ctx, s.logger)

	items, err := validateCheckout(in)
	if err != nil {
		s.metrics.Checkouts.WithLabelValues("invalid").Inc()
		return nil, err
	}

	var (
		order     *domain.Order
		shortfall []domain.StockAdjustment
	)
	err = s.store.WithinTx(ctx, func(ctx context.Context, r repo.Repos) error {
		shortfall = nil

		if in.CustomerID != nil {
			pending, err := r.Orders.HasPendingOrder(ctx, *in.CustomerID)
			if err != nil {
				return err
			}
			if pending {
				return domain.ErrPendingOrder
			}
		}

		lines := make([]domain.OrderLine, 0, len(items))
		for _, it := range items {
			line, err := resolveLine(ctx, r.Catalog, in.TenantID, it)
			if err != nil {
				return err
			}
			lines = append(lines, line)
		}

		short := make(map[int]int)
		for _, i := range lockOrder(lines) {
			key := lines[i].StockKey()
			ok, err := r.Stock.Decrement(ctx, key, lines[i].Quantity)
			if err != nil {
				return err
			}
			if !ok {
				available, err := r.Stock.Available(ctx, key)
				if err != nil {
					return err
				}
				short[i] = available
			}
		}
		for i, line := range lines {
			if available, ok := short[i]; ok {
				shortfall = append(shortfall, domain.StockAdjustment{
					ProductID:         line.ProductID,
					VariantID:         line.VariantID,
					ProductName:       line.ProductName,
					RequestedQuantity: line.Quantity,
					AvailableQuantity: available,
				})
			}
		}
		if len(shortfall) > 0 {
			return errStockShortfall
		}

		now := s.now()
		o := &domain.Order{
			TenantID:         in.TenantID,
			CustomerID:       in.CustomerID,
			TotalPrice:       domain.Total(lines),
			ConfirmationCode: s.newCode(),
			Status:           domain.OrderPaymentPending,
			Lines:            lines,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if in.Guest != nil {
			guest := *in.Guest
			if err := r.Orders.CreateGuest(ctx, &guest); err != nil {
				return err
			}
			o.GuestID = &guest.ID
			o.Guest = &guest
		}
		if err := r.Orders.CreateOrder(ctx, o); err != nil {
			return err
		}

		if in.CustomerID != nil {
			if err := removeOrderedFromCart(ctx, r.Carts, *in.CustomerID, lines); err != nil {
				return err
			}
		}
		order = o
		return nil
	})

	switch {
	case errors.Is(err, errStockShortfall):
		if in.CustomerID != nil {
			if cerr := s.clampCart(ctx, *in.CustomerID, shortfall); cerr != nil {
				log.Error("cart_clamp_failed", zap.String("customer_id", *in.CustomerID), zap.Error(cerr))
			}
		}
		s.metrics.Checkouts.WithLabelValues("stock_insufficient").Inc()
		log.Info("checkout_stock_insufficient", zap.Int64("tenant_id", in.TenantID), zap.Int("short_lines", len(shortfall)))
		return nil, &domain.StockInsufficientError{Adjustments: shortfall}
	case errors.Is(err, domain.ErrConflict):
		s.metrics.Checkouts.WithLabelValues("conflict").Inc()
		return nil, err
	case errors.Is(err, domain.ErrNotFound):
		s.metrics.Checkouts.WithLabelValues("not_found").Inc()
		return nil, err
	case err != nil:
		s.metrics.Checkouts.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("checkout: %w", err)
	}

	s.metrics.Checkouts.WithLabelValues("created").Inc()
	span.SetAttributes(attribute.Int64("order.id", order.ID))
	log.Info("checkout_created",
		zap.Int64("order_id", order.ID),
		zap.Int64("tenant_id", order.TenantID),
		zap.String("total", order.TotalPrice.StringFixed(2)),
		zap.Int("lines", len(order.Lines)),
	)
	return order, nil
}

func validateCheckout(in CheckoutInput) ([]LineItem, error) {
	if in.TenantID <= 0 {
		return nil, domain.Validation("tenantId is required")
	}
	if in.CustomerID != nil && strings.TrimSpace(*in.CustomerID) == "" {
		return nil, domain.Validation("customerId must not be blank")
	}
	if (in.CustomerID == nil) == (in.Guest == nil) {
		return nil, domain.Validation("exactly one of customerId or guest is required")
	}
	if in.Guest != nil {
		if strings.TrimSpace(in.Guest.Email) == "" || strings.TrimSpace(in.Guest.Name) == "" {
			return nil, domain.Validation("guest email and name are required")
		}
	}
	if len(in.Items) == 0 {
		return nil, domain.Validation("at least one item is required")
	}

	merged := make([]LineItem, 0, len(in.Items))
	for _, it := range in.Items {
		if it.Quantity < 1 {
			return nil, domain.Validation(fmt.Sprintf("quantity for product %d must be at least 1", it.ProductID))
		}
		key := domain.StockKey{ProductID: it.ProductID, VariantID: it.VariantID}
		dup := false
		for i := range merged {
			if (domain.StockKey{ProductID: merged[i].ProductID, VariantID: merged[i].VariantID}).Equal(key) {
				merged[i].Quantity += it.Quantity
				dup = true
				break
			}
		}
		if !dup {
			merged = append(merged, it)
		}
	}
	return merged, nil
}

// resolveLine snapshots name and unit price. Products of another tenant are
// reported as missing.
func resolveLine(ctx context.Context, catalog repo.CatalogRepo, tenantID int64, it LineItem) (domain.OrderLine, error) {
	p, err := catalog.FindProduct(ctx, it.ProductID)
	if err != nil {
		return domain.OrderLine{}, err
	}
	if p.TenantID != tenantID {
		return domain.OrderLine{}, domain.ErrProductNotFound
	}

	line := domain.OrderLine{
		ProductID:   p.ID,
		ProductName: p.Name,
		Quantity:    it.Quantity,
		UnitPrice:   p.Price,
	}
	if it.VariantID != nil {
		v, err := catalog.FindVariant(ctx, p.ID, *it.VariantID)
		if err != nil {
			return domain.OrderLine{}, err
		}
		variantID := v.ID
		line.VariantID = &variantID
		line.ProductName = fmt.Sprintf("%s (%s)", p.Name, v.Name)
		if v.Price != nil {
			line.UnitPrice = *v.Price
		}
	}
	return line, nil
}

// lockOrder returns line indexes sorted by stock key so that concurrent
// transactions touch stock rows in the same order and cannot deadlock.
func lockOrder(lines []domain.OrderLine) []int {
	idx := make([]int, len(lines))
	for i := range idx {
		idx[i] = i
	}
	slices.SortFunc(idx, func(a, b int) int {
		return lines[a].StockKey().Compare(lines[b].StockKey())
	})
	return idx
}

func removeOrderedFromCart(ctx context.Context, carts repo.CartRepo, customerID string, lines []domain.OrderLine) error {
	for _, l := range lines {
		if err := carts.SetCartQuantity(ctx, customerID, l.StockKey(), 0); err != nil {
			return err
		}
	}
	return nil
}

// clampCart shrinks the customer's cart to what the ledger could cover. It
// runs in its own transaction after the checkout has been rolled back.
func (s *orderService) clampCart(ctx context.Context, customerID string, adjustments []domain.StockAdjustment) error {
	return s.store.WithinTx(ctx, func(ctx context.Context, r repo.Repos) error {
		entries, err := r.Carts.ListCart(ctx, customerID)
		if err != nil {
			return err
		}
		for _, adj := range adjustments {
			key := domain.StockKey{ProductID: adj.ProductID, VariantID: adj.VariantID}
			for _, e := range entries {
				if !e.StockKey().Equal(key) || e.Quantity <= adj.AvailableQuantity {
					continue
				}
				if err := r.Carts.SetCartQuantity(ctx, customerID, key, adj.AvailableQuantity); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// decision tells the transition whether to approve, reject, or leave the
// order alone.
type decision int

const (
	decideNoop decision = iota
	decideApprove
	decideReject
)

func (s *orderService) ProcessPayment(ctx context.Context, orderID int64, approved bool) (*domain.Order, error) {
	return s.transition(ctx, orderID, domain.SourceGateway, func(o *domain.Order) (decision, error) {
		switch {
		case o.Status.Approved():
			if approved {
				return decideNoop, nil
			}
			return decideNoop, domain.ErrInvalidTransition
		case o.Status == domain.OrderPaymentFailed:
			if !approved {
				return decideNoop, nil
			}
			return decideNoop, domain.ErrInvalidTransition
		case o.Status != domain.OrderPaymentPending:
			return decideNoop, domain.ErrInvalidTransition
		case approved:
			return decideApprove, nil
		default:
			return decideReject, nil
		}
	})
}

func (s *orderService) VerifyCode(ctx context.Context, orderID int64, code string) (*domain.Order, error) {
	return s.transition(ctx, orderID, domain.SourceCode, func(o *domain.Order) (decision, error) {
		switch {
		case o.Status == domain.OrderPaymentFailed:
			return decideNoop, domain.ErrInvalidTransition
		case o.ConfirmationCode != code:
			return decideNoop, domain.ErrInvalidCode
		case o.Status.Approved():
			return decideNoop, nil
		case o.Status != domain.OrderPaymentPending:
			return decideNoop, domain.ErrInvalidTransition
		default:
			return decideApprove, nil
		}
	})
}

func (s *orderService) RejectPayment(ctx context.Context, orderID int64) (*domain.Order, error) {
	return s.transition(ctx, orderID, domain.SourceClient, func(o *domain.Order) (decision, error) {
		switch o.Status {
		case domain.OrderPaymentFailed:
			return decideNoop, nil
		case domain.OrderPaymentPending:
			return decideReject, nil
		default:
			return decideNoop, domain.ErrInvalidTransition
		}
	})
}

func (s *orderService) ExpirePayment(ctx context.Context, orderID int64) (*domain.Order, error) {
	return s.transition(ctx, orderID, domain.SourceTimeout, func(o *domain.Order) (decision, error) {
		if o.Status != domain.OrderPaymentPending {
			return decideNoop, domain.ErrInvalidTransition
		}
		return decideReject, nil
	})
}

// transition runs one payment decision with the order row locked. Stock of a
// rejected order goes back to the ledger in the same transaction, and the
// notification goes out only after commit.
func (s *orderService) transition(
	ctx context.Context,
	orderID int64,
	source domain.PaymentSource,
	decide func(o *domain.Order) (decision, error),
) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.transition", trace.WithAttributes(
		attribute.Int64("order.id", orderID),
		attribute.String("payment.source", string(source)),
	))
	defer span.End()
	log := logging.FromContext(ctx, s.logger)

	var (
		order   *domain.Order
		changed bool
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, r repo.Repos) error {
		changed = false
		o, err := r.Orders.FindByIdForUpdate(ctx, orderID)
		if err != nil {
			return err
		}

		d, err := decide(o)
		if err != nil {
			return err
		}

		now := s.now()
		switch d {
		case decideNoop:
			order = o
			return nil
		case decideApprove:
			if err := o.MarkApproved(now); err != nil {
				return err
			}
		case decideReject:
			for _, i := range lockOrder(o.Lines) {
				l := o.Lines[i]
				if err := r.Stock.Increment(ctx, l.StockKey(), l.Quantity); err != nil {
					return err
				}
			}
			if err := o.MarkFailed(now); err != nil {
				return err
			}
		}

		if err := r.Orders.UpdateOrderStatus(ctx, o); err != nil {
			return err
		}
		order = o
		changed = true
		return nil
	})
	if err != nil {
		if !errors.Is(err, domain.ErrConflict) && !errors.Is(err, domain.ErrNotFound) && !errors.Is(err, domain.ErrBadRequest) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return nil, err
	}
	if !changed {
		log.Debug("payment_transition_noop",
			zap.Int64("order_id", orderID),
			zap.String("status", string(order.Status)),
			zap.String("source", string(source)),
		)
		return order, nil
	}

	s.metrics.PaymentTransitions.WithLabelValues(string(order.Status), string(source)).Inc()
	log.Info("payment_transition",
		zap.Int64("order_id", order.ID),
		zap.Int64("tenant_id", order.TenantID),
		zap.String("status", string(order.Status)),
		zap.String("source", string(source)),
	)

	if s.notifier != nil {
		ev := domain.NewPaymentEvent(order, source, s.now())
		if err := s.notifier.Publish(ctx, ev); err != nil {
			log.Warn("payment_notify_failed", zap.Int64("order_id", order.ID), zap.Error(err))
		}
	}
	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	return s.store.Repos().Orders.FindById(ctx, orderID)
}

func (s *orderService) ListPending(ctx context.Context, tenantID int64) ([]domain.Order, error) {
	return s.store.Repos().Orders.ListPending(ctx, tenantID)
}
