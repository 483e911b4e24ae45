package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"sync"
	"time"

	"checkout-flow/internal/domain"
	"checkout-flow/internal/infrastructure/payment"
	"checkout-flow/internal/notify"
	"checkout-flow/internal/repo"
	"checkout-flow/internal/service"
	"checkout-flow/internal/worker"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	customers    = 20
	initialStock = 12
)

// directWebhook hands bank decisions straight to the service instead of
// going over HTTP.
type directWebhook struct {
	orders service.OrderService
}

func (d directWebhook) PostDecision(ctx context.Context, orderID int64, approved bool) error {
	_, err := d.orders.ProcessPayment(ctx, orderID, approved)
	if errors.Is(err, domain.ErrConflict) {
		return payment.ErrAlreadyDecided
	}
	return err
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := repo.NewMemoryStore()
	product := &domain.Product{TenantID: 1, Name: "Limited sneaker", Price: decimal.RequireFromString("89.90"), Quantity: initialStock}
	if err := store.Repos().Catalog.CreateProduct(ctx, product); err != nil {
		log.Fatalf("seed product: %v", err)
	}

	hub := notify.NewHub()
	tenantFeed := hub.Subscribe(notify.TenantTopic(1), customers*2)
	defer tenantFeed.Close()

	orders := service.NewOrderService(store, notify.NewHubPublisher(hub), nil, zap.NewNop())
	bank := payment.NewMockBank(orders, directWebhook{orders: orders})
	sweeper := worker.NewTimeoutSweeper(store.Repos().Orders, orders, bank, 200*time.Millisecond, 2*time.Second, nil, zap.NewNop())
	go sweeper.Run(ctx)

	fmt.Printf("--- STARTING SIMULATION (%d CUSTOMERS, %d IN STOCK) ---\n", customers, initialStock)

	var wg sync.WaitGroup
	for i := 0; i < customers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			customer := fmt.Sprintf("customer-%02d", i+1)
			_, err := orders.Checkout(ctx, service.CheckoutInput{
				TenantID:   1,
				CustomerID: &customer,
				Items:      []service.LineItem{{ProductID: product.ID, Quantity: 1 + rand.IntN(2)}},
			})
			var stock *domain.StockInsufficientError
			switch {
			case errors.As(err, &stock):
				fmt.Printf("[%s] out of stock (available %d)\n", customer, stock.Adjustments[0].AvailableQuantity)
			case err != nil:
				fmt.Printf("[%s] FAILED: %v\n", customer, err)
			}
		}(i)
	}
	wg.Wait()

	pending, err := bank.ListPending(ctx)
	if err != nil {
		log.Fatalf("list pending: %v", err)
	}
	fmt.Printf("--- BANK SEES %d PENDING ORDERS ---\n", len(pending))

	// Roughly a third approved, a third rejected, the rest left to time out.
	for _, p := range pending {
		switch rand.IntN(3) {
		case 0:
			err = bank.Decide(ctx, p.OrderID, true)
		case 1:
			err = bank.Decide(ctx, p.OrderID, false)
		default:
			continue
		}
		if err != nil {
			fmt.Printf("order %d: decide failed: %v\n", p.OrderID, err)
		}
	}

	time.Sleep(3 * time.Second)
	cancel()
	sweeper.Wait()

	var approvedUnits, remaining int
	for _, p := range pending {
		o, err := orders.GetOrder(context.Background(), p.OrderID)
		if err != nil {
			continue
		}
		fmt.Printf("    order %d -> %s\n", o.ID, o.Status)
		if o.Status.Approved() {
			for _, l := range o.Lines {
				approvedUnits += l.Quantity
			}
		}
		if o.Status == domain.OrderPaymentPending {
			remaining++
		}
	}
	stock, _ := store.Repos().Stock.Available(context.Background(), domain.StockKey{ProductID: product.ID})

	fmt.Println("---------------------------------------------------")
	fmt.Printf("events pushed to tenant feed: %d\n", len(tenantFeed.Events()))
	fmt.Printf("stock left %d + sold %d = %d (started with %d), still pending %d\n",
		stock, approvedUnits, stock+approvedUnits, initialStock, remaining)
}
