package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"checkout-flow/internal/domain"

	"github.com/shopspring/decimal"
)

// MemoryStore keeps everything in process. Transactions are serialized by a
// single mutex and run against a copy of the state that replaces the live
// state only when fn succeeds, so a failed transaction leaves no trace.
//
// Repositories obtained from Repos must not be used inside WithinTx.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
}

type memState struct {
	nextOrderID   int64
	nextLineID    int64
	nextGuestID   int64
	nextProductID int64
	nextVariantID int64

	orders   map[int64]*domain.Order
	guests   map[int64]domain.GuestProfile
	products map[int64]domain.Product
	variants map[int64]domain.Variant
	carts    map[string][]domain.CartEntry
}

func newMemState() *memState {
	return &memState{
		orders:   make(map[int64]*domain.Order),
		guests:   make(map[int64]domain.GuestProfile),
		products: make(map[int64]domain.Product),
		variants: make(map[int64]domain.Variant),
		carts:    make(map[string][]domain.CartEntry),
	}
}

func (s *memState) clone() *memState {
	c := *s
	c.orders = make(map[int64]*domain.Order, len(s.orders))
	for id, o := range s.orders {
		c.orders[id] = o.Clone()
	}
	c.guests = make(map[int64]domain.GuestProfile, len(s.guests))
	for id, g := range s.guests {
		c.guests[id] = g
	}
	c.products = make(map[int64]domain.Product, len(s.products))
	for id, p := range s.products {
		c.products[id] = p
	}
	c.variants = make(map[int64]domain.Variant, len(s.variants))
	for id, v := range s.variants {
		c.variants[id] = v
	}
	c.carts = make(map[string][]domain.CartEntry, len(s.carts))
	for id, entries := range s.carts {
		c.carts[id] = append([]domain.CartEntry(nil), entries...)
	}
	return &c
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

func (m *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, r Repos) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := m.state.clone()
	with := func(f func(*memState) error) error { return f(work) }
	if err := fn(ctx, newMemoryRepos(with)); err != nil {
		return err
	}
	m.state = work
	return nil
}

func (m *MemoryStore) Repos() Repos {
	return newMemoryRepos(func(f func(*memState) error) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		return f(m.state)
	})
}

type memAccess func(f func(*memState) error) error

func newMemoryRepos(with memAccess) Repos {
	return Repos{
		Orders:  &memOrderRepo{with: with},
		Stock:   &memStockLedger{with: with},
		Catalog: &memCatalogRepo{with: with},
		Carts:   &memCartRepo{with: with},
	}
}

type memOrderRepo struct {
	with memAccess
}

func (s *memState) loadOrder(o *domain.Order) *domain.Order {
	c := o.Clone()
	if c.GuestID != nil {
		if g, ok := s.guests[*c.GuestID]; ok {
			c.Guest = &g
		}
	}
	return c
}

func (r *memOrderRepo) FindById(ctx context.Context, id int64) (*domain.Order, error) {
	var out *domain.Order
	err := r.with(func(s *memState) error {
		o, ok := s.orders[id]
		if !ok {
			return domain.ErrOrderNotFound
		}
		out = s.loadOrder(o)
		return nil
	})
	return out, err
}

// FindByIdForUpdate needs no extra locking: the store mutex is held for the
// whole transaction.
func (r *memOrderRepo) FindByIdForUpdate(ctx context.Context, id int64) (*domain.Order, error) {
	return r.FindById(ctx, id)
}

func (r *memOrderRepo) CreateGuest(ctx context.Context, guest *domain.GuestProfile) error {
	return r.with(func(s *memState) error {
		s.nextGuestID++
		guest.ID = s.nextGuestID
		s.guests[guest.ID] = *guest
		return nil
	})
}

func (r *memOrderRepo) CreateOrder(ctx context.Context, order *domain.Order) error {
	return r.with(func(s *memState) error {
		if order.CustomerID != nil && order.Status == domain.OrderPaymentPending {
			for _, o := range s.orders {
				if o.CustomerID != nil && *o.CustomerID == *order.CustomerID && o.Status == domain.OrderPaymentPending {
					return domain.ErrPendingOrder
				}
			}
		}
		s.nextOrderID++
		order.ID = s.nextOrderID
		for i := range order.Lines {
			s.nextLineID++
			order.Lines[i].ID = s.nextLineID
			order.Lines[i].OrderID = order.ID
		}
		stored := order.Clone()
		stored.Guest = nil
		s.orders[order.ID] = stored
		return nil
	})
}

func (r *memOrderRepo) UpdateOrderStatus(ctx context.Context, order *domain.Order) error {
	return r.with(func(s *memState) error {
		o, ok := s.orders[order.ID]
		if !ok {
			return domain.ErrOrderNotFound
		}
		o.Status = order.Status
		o.Paid = order.Paid
		o.PaidAt = nil
		if order.PaidAt != nil {
			t := *order.PaidAt
			o.PaidAt = &t
		}
		o.UpdatedAt = order.UpdatedAt
		return nil
	})
}

func (r *memOrderRepo) HasPendingOrder(ctx context.Context, customerID string) (bool, error) {
	var found bool
	err := r.with(func(s *memState) error {
		for _, o := range s.orders {
			if o.CustomerID != nil && *o.CustomerID == customerID && o.Status == domain.OrderPaymentPending {
				found = true
				return nil
			}
		}
		return nil
	})
	return found, err
}

func (r *memOrderRepo) CountOrders(ctx context.Context, customerID string) (int, error) {
	var n int
	err := r.with(func(s *memState) error {
		for _, o := range s.orders {
			if o.CustomerID != nil && *o.CustomerID == customerID {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r *memOrderRepo) FindStalePending(ctx context.Context, before time.Time, limit int) ([]domain.Order, error) {
	orders, err := r.filter(func(o *domain.Order) bool {
		return o.Status == domain.OrderPaymentPending && o.CreatedAt.Before(before)
	})
	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, err
}

func (r *memOrderRepo) ListPending(ctx context.Context, tenantID int64) ([]domain.Order, error) {
	return r.filter(func(o *domain.Order) bool {
		return o.Status == domain.OrderPaymentPending && (tenantID == 0 || o.TenantID == tenantID)
	})
}

func (r *memOrderRepo) filter(match func(*domain.Order) bool) ([]domain.Order, error) {
	var out []domain.Order
	err := r.with(func(s *memState) error {
		for _, o := range s.orders {
			if match(o) {
				out = append(out, *s.loadOrder(o))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

type memStockLedger struct {
	with memAccess
}

func (l *memStockLedger) Decrement(ctx context.Context, key domain.StockKey, qty int) (bool, error) {
	var ok bool
	err := l.with(func(s *memState) error {
		current, err := s.quantity(key)
		if err != nil {
			return err
		}
		if current < qty {
			return nil
		}
		s.setQuantity(key, current-qty)
		ok = true
		return nil
	})
	return ok, err
}

func (l *memStockLedger) Increment(ctx context.Context, key domain.StockKey, qty int) error {
	return l.with(func(s *memState) error {
		current, err := s.quantity(key)
		if err != nil {
			return err
		}
		s.setQuantity(key, current+qty)
		return nil
	})
}

func (l *memStockLedger) Available(ctx context.Context, key domain.StockKey) (int, error) {
	var qty int
	err := l.with(func(s *memState) error {
		var err error
		qty, err = s.quantity(key)
		return err
	})
	return qty, err
}

func (s *memState) quantity(key domain.StockKey) (int, error) {
	if key.VariantID != nil {
		v, ok := s.variants[*key.VariantID]
		if !ok || v.ProductID != key.ProductID {
			return 0, domain.ErrVariantNotFound
		}
		return v.Quantity, nil
	}
	p, ok := s.products[key.ProductID]
	if !ok {
		return 0, domain.ErrProductNotFound
	}
	return p.Quantity, nil
}

func (s *memState) setQuantity(key domain.StockKey, qty int) {
	if key.VariantID != nil {
		v := s.variants[*key.VariantID]
		v.Quantity = qty
		s.variants[v.ID] = v
		return
	}
	p := s.products[key.ProductID]
	p.Quantity = qty
	s.products[p.ID] = p
}

type memCatalogRepo struct {
	with memAccess
}

func (r *memCatalogRepo) FindProduct(ctx context.Context, id int64) (*domain.Product, error) {
	var out *domain.Product
	err := r.with(func(s *memState) error {
		p, ok := s.products[id]
		if !ok {
			return domain.ErrProductNotFound
		}
		out = &p
		return nil
	})
	return out, err
}

func (r *memCatalogRepo) FindVariant(ctx context.Context, productID, variantID int64) (*domain.Variant, error) {
	var out *domain.Variant
	err := r.with(func(s *memState) error {
		v, ok := s.variants[variantID]
		if !ok || v.ProductID != productID {
			return domain.ErrVariantNotFound
		}
		out = &v
		return nil
	})
	return out, err
}

func (r *memCatalogRepo) CreateProduct(ctx context.Context, p *domain.Product) error {
	return r.with(func(s *memState) error {
		s.nextProductID++
		p.ID = s.nextProductID
		s.products[p.ID] = *p
		return nil
	})
}

func (r *memCatalogRepo) CreateVariant(ctx context.Context, v *domain.Variant) error {
	return r.with(func(s *memState) error {
		if _, ok := s.products[v.ProductID]; !ok {
			return domain.ErrProductNotFound
		}
		s.nextVariantID++
		v.ID = s.nextVariantID
		s.variants[v.ID] = *v
		return nil
	})
}

func (r *memCatalogRepo) UpdatePrice(ctx context.Context, productID int64, price decimal.Decimal) error {
	return r.with(func(s *memState) error {
		p, ok := s.products[productID]
		if !ok {
			return domain.ErrProductNotFound
		}
		p.Price = price
		s.products[productID] = p
		return nil
	})
}

type memCartRepo struct {
	with memAccess
}

func (r *memCartRepo) ListCart(ctx context.Context, customerID string) ([]domain.CartEntry, error) {
	var out []domain.CartEntry
	err := r.with(func(s *memState) error {
		out = append(out, s.carts[customerID]...)
		return nil
	})
	return out, err
}

func (r *memCartRepo) AddToCart(ctx context.Context, entry domain.CartEntry) error {
	return r.with(func(s *memState) error {
		entries := s.carts[entry.CustomerID]
		for i := range entries {
			if entries[i].StockKey().Equal(entry.StockKey()) {
				entries[i].Quantity += entry.Quantity
				return nil
			}
		}
		s.carts[entry.CustomerID] = append(entries, entry)
		return nil
	})
}

func (r *memCartRepo) SetCartQuantity(ctx context.Context, customerID string, key domain.StockKey, qty int) error {
	return r.with(func(s *memState) error {
		entries := s.carts[customerID]
		for i := range entries {
			if !entries[i].StockKey().Equal(key) {
				continue
			}
			if qty <= 0 {
				s.carts[customerID] = append(entries[:i:i], entries[i+1:]...)
			} else {
				entries[i].Quantity = qty
			}
			return nil
		}
		return nil
	})
}
