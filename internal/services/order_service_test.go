package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/bookporter/api/internal/domain"
	"github.com/bookporter/api/internal/repositories"
	"github.com/bookporter/api/internal/repositories/memory"
)

const (
	testBuyerID  = "user_buyer"
	testSellerID = "user_seller"
)

var (
	buyerActor  = Actor{ID: testBuyerID, Kind: ActorUser}
	sellerActor = Actor{ID: testSellerID, Kind: ActorSeller}
	adminActor  = Actor{ID: "user_admin", Kind: ActorAdmin}
	webhook     = SystemActor("payments-webhook")
)

type captureEvents struct {
	mu     sync.Mutex
	events []DomainEvent
	err    error
}

func (c *captureEvents) Publish(_ context.Context, event DomainEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return c.err
}

func (c *captureEvents) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, event := range c.events {
		out = append(out, event.Type)
	}
	return out
}

type captureReceipts struct {
	mu       sync.Mutex
	archived []string
	err      error
}

func (c *captureReceipts) Archive(_ context.Context, invoice Invoice) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.archived = append(c.archived, invoice.ID)
	return c.err
}

func (c *captureReceipts) SignedURL(_ context.Context, invoice Invoice) (domain.SignedURL, error) {
	return domain.SignedURL{URL: "https://storage.test/" + invoice.ID, Method: "GET"}, c.err
}

type orderHarness struct {
	registry *memory.Registry
	catalog  CatalogService
	orders   OrderService
	invoices InvoiceService
	events   *captureEvents
	receipts *captureReceipts
	now      time.Time
}

func newOrderHarness(t *testing.T) *orderHarness {
	t.Helper()
	h := &orderHarness{
		registry: memory.NewRegistry(),
		events:   &captureEvents{},
		receipts: &captureReceipts{},
		now:      time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
	}
	clock := func() time.Time { return h.now }
	var (
		idMu sync.Mutex
		seq  int
	)
	ids := func() string {
		idMu.Lock()
		defer idMu.Unlock()
		seq++
		return fmt.Sprintf("%04d", seq)
	}

	projector, err := NewInvoiceProjector(h.registry.Invoices(), clock)
	require.NoError(t, err)
	h.orders, err = NewOrderService(OrderServiceDeps{
		Orders:      h.registry.Orders(),
		Books:       h.registry.Books(),
		Counters:    h.registry.Counters(),
		Projector:   projector,
		UnitOfWork:  h.registry,
		Receipts:    h.receipts,
		Events:      h.events,
		Clock:       clock,
		IDGenerator: ids,
	})
	require.NoError(t, err)
	h.catalog, err = NewCatalogService(CatalogServiceDeps{
		Books:       h.registry.Books(),
		Orders:      h.orders,
		Events:      h.events,
		Clock:       clock,
		IDGenerator: ids,
	})
	require.NoError(t, err)
	h.invoices, err = NewInvoiceService(InvoiceServiceDeps{Invoices: h.registry.Invoices(), Receipts: h.receipts})
	require.NoError(t, err)
	return h
}

func (h *orderHarness) book(t *testing.T, title, price string) Book {
	t.Helper()
	book, err := h.catalog.CreateBook(context.Background(), CreateBookCommand{
		Title:    title,
		Author:   "Matt Butcher",
		Price:    price,
		Currency: "USD",
		SellerID: testSellerID,
	})
	require.NoError(t, err)
	return book
}

func (h *orderHarness) order(t *testing.T, bookID string) Order {
	t.Helper()
	order, err := h.orders.CreateOrder(context.Background(), CreateOrderCommand{
		BuyerID: testBuyerID,
		BookID:  bookID,
		Contact: OrderContact{Name: "Ada Reader", Email: "ada@example.com", Address: "1 Library Way"},
	})
	require.NoError(t, err)
	return order
}

func (h *orderHarness) transition(order Order, target domain.OrderStatus, actor Actor) (Order, error) {
	return h.orders.TransitionStatus(context.Background(), TransitionOrderCommand{
		OrderID:      order.ID,
		TargetStatus: target,
		Actor:        actor,
	})
}

func (h *orderHarness) confirm(order Order, txnID string) (ConfirmPaymentResult, error) {
	return h.orders.ConfirmPayment(context.Background(), ConfirmPaymentCommand{
		OrderID:       order.ID,
		Provider:      "stripe",
		ProviderTxnID: txnID,
		Amount:        order.Book.UnitAmount,
		Currency:      order.Book.Currency,
		Actor:         webhook,
	})
}

// forceStatus rewrites an order directly in the store to set up a precondition.
func (h *orderHarness) forceStatus(t *testing.T, order Order, status domain.OrderStatus) Order {
	t.Helper()
	order.Status = status
	require.NoError(t, h.registry.Orders().Update(context.Background(), order))
	return order
}

func (h *orderHarness) invoiceCount(t *testing.T) int {
	t.Helper()
	page, err := h.registry.Invoices().ListByBuyer(context.Background(), repositories.InvoiceListFilter{
		BuyerID:    testBuyerID,
		Pagination: domain.Pagination{PageSize: 100},
	})
	require.NoError(t, err)
	return len(page.Items)
}

func TestOrderService_CreateOrderSnapshotsBook(t *testing.T) {
	h := newOrderHarness(t)
	book := h.book(t, "Go in Practice", "25.00")

	order := h.order(t, book.ID)

	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.Equal(t, domain.PaymentStatusUnpaid, order.PaymentStatus)
	assert.Equal(t, "BP-2026-000001", order.OrderNumber)
	assert.Equal(t, int64(2500), order.Book.UnitAmount)
	assert.Equal(t, "Go in Practice", order.Book.Title)
	assert.Equal(t, testSellerID, order.SellerID())
	assert.Nil(t, order.Payment)
	assert.Contains(t, h.events.types(), eventOrderCreated)

	second := h.order(t, book.ID)
	assert.Equal(t, "BP-2026-000002", second.OrderNumber)
	assert.NotEqual(t, order.ID, second.ID)
}

func TestOrderService_CreateOrderErrors(t *testing.T) {
	h := newOrderHarness(t)
	ctx := context.Background()
	book := h.book(t, "Go in Practice", "25.00")

	_, err := h.orders.CreateOrder(ctx, CreateOrderCommand{
		BuyerID: testBuyerID,
		BookID:  "bk_missing",
		Contact: OrderContact{Name: "Ada", Email: "ada@example.com"},
	})
	assert.ErrorIs(t, err, ErrBookNotFound)

	_, err = h.orders.CreateOrder(ctx, CreateOrderCommand{
		BuyerID: testBuyerID,
		BookID:  book.ID,
		Contact: OrderContact{Name: "Ada"},
	})
	assert.ErrorIs(t, err, ErrOrderInvalidInput)

	_, err = h.orders.CreateOrder(ctx, CreateOrderCommand{BookID: book.ID, Contact: OrderContact{Name: "Ada", Phone: "555"}})
	assert.ErrorIs(t, err, ErrOrderInvalidInput)
}

func TestOrderService_CreateOrderStripsMarkupFromContact(t *testing.T) {
	h := newOrderHarness(t)
	book := h.book(t, "Go in Practice", "25.00")

	order, err := h.orders.CreateOrder(context.Background(), CreateOrderCommand{
		BuyerID: testBuyerID,
		BookID:  book.ID,
		Contact: OrderContact{Name: "<b>Ada</b>", Email: " ADA@Example.com ", Note: "<script>alert(1)</script>leave at door"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Ada", order.Contact.Name)
	assert.Equal(t, "ada@example.com", order.Contact.Email)
	assert.Equal(t, "leave at door", order.Contact.Note)
}

func TestOrderService_PriceSnapshotIgnoresLaterCatalogChanges(t *testing.T) {
	h := newOrderHarness(t)
	book := h.book(t, "Go in Practice", "25.00")
	order := h.order(t, book.ID)

	_, err := h.catalog.DeleteBook(context.Background(), DeleteBookCommand{BookID: book.ID})
	require.NoError(t, err)

	got, err := h.orders.GetOrder(context.Background(), GetOrderCommand{OrderID: order.ID, Actor: buyerActor})
	require.NoError(t, err)
	assert.Equal(t, int64(2500), got.Book.UnitAmount)
	assert.Equal(t, "Go in Practice", got.Book.Title)
}

func TestOrderService_FulfilmentScenario(t *testing.T) {
	h := newOrderHarness(t)
	book := h.book(t, "Go in Practice", "25.00")
	order := h.order(t, book.ID)

	shipped, err := h.transition(order, domain.OrderStatusShipped, sellerActor)
	require.NoError(t, err)
	require.NotNil(t, shipped.ShippedAt)

	delivered, err := h.transition(shipped, domain.OrderStatusDelivered, sellerActor)
	require.NoError(t, err)
	require.NotNil(t, delivered.DeliveredAt)

	_, err = h.transition(delivered, domain.OrderStatusCancelled, sellerActor)
	assert.ErrorIs(t, err, ErrOrderInvalidTransition)
	_, err = h.transition(delivered, domain.OrderStatusCancelled, adminActor)
	assert.ErrorIs(t, err, ErrOrderInvalidTransition)
}

func TestOrderService_TransitionMatrix(t *testing.T) {
	stranger := Actor{ID: "user_stranger", Kind: ActorUser}
	otherSeller := Actor{ID: "user_other_seller", Kind: ActorSeller}

	cases := []struct {
		name    string
		from    domain.OrderStatus
		target  domain.OrderStatus
		actor   Actor
		wantErr error
	}{
		{"buyer cancels pending", domain.OrderStatusPending, domain.OrderStatusCancelled, buyerActor, nil},
		{"buyer ships pending", domain.OrderStatusPending, domain.OrderStatusShipped, buyerActor, ErrOrderForbidden},
		{"buyer cancels shipped", domain.OrderStatusShipped, domain.OrderStatusCancelled, buyerActor, ErrOrderForbidden},
		{"buyer delivers shipped", domain.OrderStatusShipped, domain.OrderStatusDelivered, buyerActor, ErrOrderForbidden},
		{"seller ships pending", domain.OrderStatusPending, domain.OrderStatusShipped, sellerActor, nil},
		{"seller cancels pending", domain.OrderStatusPending, domain.OrderStatusCancelled, sellerActor, nil},
		{"seller delivers pending", domain.OrderStatusPending, domain.OrderStatusDelivered, sellerActor, ErrOrderInvalidTransition},
		{"seller delivers shipped", domain.OrderStatusShipped, domain.OrderStatusDelivered, sellerActor, nil},
		{"seller cancels shipped", domain.OrderStatusShipped, domain.OrderStatusCancelled, sellerActor, nil},
		{"seller reverts shipped", domain.OrderStatusShipped, domain.OrderStatusPending, sellerActor, ErrOrderInvalidTransition},
		{"admin ships pending", domain.OrderStatusPending, domain.OrderStatusShipped, adminActor, nil},
		{"admin revives cancelled", domain.OrderStatusCancelled, domain.OrderStatusPending, adminActor, ErrOrderInvalidTransition},
		{"admin ships delivered", domain.OrderStatusDelivered, domain.OrderStatusShipped, adminActor, ErrOrderInvalidTransition},
		{"same status", domain.OrderStatusPending, domain.OrderStatusPending, adminActor, ErrOrderInvalidTransition},
		{"stranger cancels", domain.OrderStatusPending, domain.OrderStatusCancelled, stranger, ErrOrderForbidden},
		{"other seller ships", domain.OrderStatusPending, domain.OrderStatusShipped, otherSeller, ErrOrderForbidden},
		{"anonymous ships", domain.OrderStatusPending, domain.OrderStatusShipped, Actor{Kind: ActorSeller}, ErrOrderForbidden},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newOrderHarness(t)
			book := h.book(t, "Go in Practice", "25.00")
			order := h.forceStatus(t, h.order(t, book.ID), tc.from)

			updated, err := h.transition(order, tc.target, tc.actor)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				stored, findErr := h.registry.Orders().FindByID(context.Background(), order.ID)
				if findErr != nil {
					t.Fatalf("find order: %v", findErr)
				}
				if stored.Status != tc.from {
					t.Fatalf("rejected transition mutated status to %s", stored.Status)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if updated.Status != tc.target {
				t.Fatalf("expected status %s, got %s", tc.target, updated.Status)
			}
			if !updated.UpdatedAt.Equal(h.now) {
				t.Fatalf("expected updatedAt stamped")
			}
		})
	}
}

func TestOrderService_TransitionRecordsCancellation(t *testing.T) {
	h := newOrderHarness(t)
	book := h.book(t, "Go in Practice", "25.00")
	order := h.order(t, book.ID)

	cancelled, err := h.orders.TransitionStatus(context.Background(), TransitionOrderCommand{
		OrderID:      order.ID,
		TargetStatus: "Cancelled",
		Actor:        buyerActor,
		Reason:       "changed my mind",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, testBuyerID, cancelled.CancelledBy)
	require.NotNil(t, cancelled.CancelledAt)

	last := h.events.events[len(h.events.events)-1]
	assert.Equal(t, eventOrderStatusChanged, last.Type)
	assert.Equal(t, "pending", last.PreviousStatus)
	assert.Equal(t, "changed my mind", last.Metadata["reason"])
}

func TestOrderService_TransitionValidation(t *testing.T) {
	h := newOrderHarness(t)
	ctx := context.Background()

	_, err := h.orders.TransitionStatus(ctx, TransitionOrderCommand{OrderID: "ord_missing", TargetStatus: domain.OrderStatusShipped, Actor: adminActor})
	assert.ErrorIs(t, err, ErrOrderNotFound)

	_, err = h.orders.TransitionStatus(ctx, TransitionOrderCommand{OrderID: "ord_1", TargetStatus: "lost", Actor: adminActor})
	assert.ErrorIs(t, err, ErrOrderInvalidInput)
}

func TestOrderService_ExpectedStatusPrecondition(t *testing.T) {
	h := newOrderHarness(t)
	book := h.book(t, "Go in Practice", "25.00")
	order := h.forceStatus(t, h.order(t, book.ID), domain.OrderStatusShipped)

	_, err := h.orders.TransitionStatus(context.Background(), TransitionOrderCommand{
		OrderID:        order.ID,
		TargetStatus:   domain.OrderStatusCancelled,
		ExpectedStatus: domain.OrderStatusPending,
		Actor:          sellerActor,
	})
	assert.ErrorIs(t, err, ErrOrderInvalidTransition)
}

func TestOrderService_ConcurrentCancelAndShipHaveOneWinner(t *testing.T) {
	for i := 0; i < 20; i++ {
		h := newOrderHarness(t)
		book := h.book(t, "Go in Practice", "25.00")
		order := h.order(t, book.ID)

		targets := []domain.OrderStatus{domain.OrderStatusCancelled, domain.OrderStatusShipped}
		errs := make([]error, len(targets))
		start := make(chan struct{})
		var wg sync.WaitGroup
		for idx, target := range targets {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, errs[idx] = h.orders.TransitionStatus(context.Background(), TransitionOrderCommand{
					OrderID:        order.ID,
					TargetStatus:   target,
					ExpectedStatus: domain.OrderStatusPending,
					Actor:          sellerActor,
				})
			}()
		}
		close(start)
		wg.Wait()

		winners := 0
		for _, err := range errs {
			switch {
			case err == nil:
				winners++
			case !errors.Is(err, ErrOrderInvalidTransition):
				t.Fatalf("loser should fail with invalid transition, got %v", err)
			}
		}
		require.Equal(t, 1, winners)

		stored, err := h.registry.Orders().FindByID(context.Background(), order.ID)
		require.NoError(t, err)
		require.Contains(t, targets, stored.Status)
	}
}

func TestOrderService_ConfirmPaymentProjectsInvoiceOnce(t *testing.T) {
	h := newOrderHarness(t)
	book := h.book(t, "Go in Practice", "25.00")
	order := h.order(t, book.ID)

	first, err := h.confirm(order, "pi_1")
	require.NoError(t, err)
	assert.False(t, first.Duplicate)
	assert.Equal(t, domain.PaymentStatusPaid, first.Order.PaymentStatus)
	assert.Equal(t, domain.OrderStatusPending, first.Order.Status)
	assert.Equal(t, "pi_1", first.Order.Payment.ProviderTxnID)
	assert.Equal(t, domain.InvoiceIDForOrder(order.ID), first.Invoice.ID)
	assert.Equal(t, int64(2500), first.Invoice.Amount)
	assert.Equal(t, "Go in Practice", first.Invoice.BookTitle)

	second, err := h.confirm(order, "pi_1")
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Invoice.ID, second.Invoice.ID)
	assert.Equal(t, 1, h.invoiceCount(t))

	assert.Equal(t, []string{eventOrderCreated, eventOrderPaid, eventInvoiceCreated}, h.events.types())
	assert.Equal(t, []string{first.Invoice.ID}, h.receipts.archived)
}

func TestOrderService_ConfirmPaymentRejections(t *testing.T) {
	h := newOrderHarness(t)
	ctx := context.Background()
	book := h.book(t, "Go in Practice", "25.00")

	t.Run("not found", func(t *testing.T) {
		_, err := h.orders.ConfirmPayment(ctx, ConfirmPaymentCommand{OrderID: "ord_missing", ProviderTxnID: "pi_x", Amount: 1})
		assert.ErrorIs(t, err, ErrOrderNotFound)
	})

	t.Run("cancelled order", func(t *testing.T) {
		order := h.order(t, book.ID)
		_, err := h.transition(order, domain.OrderStatusCancelled, sellerActor)
		require.NoError(t, err)

		_, err = h.confirm(order, "pi_cancelled")
		assert.ErrorIs(t, err, ErrPaymentOnCancelledOrder)

		stored, err := h.registry.Orders().FindByID(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentStatusUnpaid, stored.PaymentStatus)
		_, err = h.registry.Invoices().FindByOrder(ctx, order.ID)
		assert.Error(t, err)
	})

	t.Run("different transaction", func(t *testing.T) {
		order := h.order(t, book.ID)
		_, err := h.confirm(order, "pi_a")
		require.NoError(t, err)
		_, err = h.confirm(order, "pi_b")
		assert.ErrorIs(t, err, ErrOrderAlreadyPaid)
	})

	t.Run("amount mismatch", func(t *testing.T) {
		order := h.order(t, book.ID)
		_, err := h.orders.ConfirmPayment(ctx, ConfirmPaymentCommand{OrderID: order.ID, ProviderTxnID: "pi_m", Amount: 100, Currency: "USD"})
		assert.ErrorIs(t, err, ErrPaymentAmountMismatch)
		_, err = h.orders.ConfirmPayment(ctx, ConfirmPaymentCommand{OrderID: order.ID, ProviderTxnID: "pi_m", Amount: 2500, Currency: "EUR"})
		assert.ErrorIs(t, err, ErrPaymentAmountMismatch)
	})

	t.Run("missing transaction id", func(t *testing.T) {
		_, err := h.orders.ConfirmPayment(ctx, ConfirmPaymentCommand{OrderID: "ord_1", Amount: 1})
		assert.ErrorIs(t, err, ErrOrderInvalidInput)
	})
}

func TestOrderService_CancelAfterPaymentKeepsInvoiceAndToleratesRedelivery(t *testing.T) {
	h := newOrderHarness(t)
	book := h.book(t, "Go in Practice", "25.00")
	order := h.order(t, book.ID)

	_, err := h.confirm(order, "pi_1")
	require.NoError(t, err)
	cancelled, err := h.transition(order, domain.OrderStatusCancelled, sellerActor)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPaid, cancelled.PaymentStatus)

	last := h.events.events[len(h.events.events)-1]
	assert.Equal(t, true, last.Metadata["paid"])

	redelivered, err := h.confirm(order, "pi_1")
	require.NoError(t, err)
	assert.True(t, redelivered.Duplicate)
	assert.Equal(t, 1, h.invoiceCount(t))
}

func TestOrderService_ConcurrentConfirmationsProjectOneInvoice(t *testing.T) {
	h := newOrderHarness(t)
	book := h.book(t, "Go in Practice", "25.00")
	order := h.order(t, book.ID)

	const deliveries = 8
	results := make([]ConfirmPaymentResult, deliveries)
	errs := make([]error, deliveries)
	var wg sync.WaitGroup
	for i := range deliveries {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = h.confirm(order, "pi_race")
		}()
	}
	wg.Wait()

	fresh := 0
	for i := range deliveries {
		require.NoError(t, errs[i])
		if !results[i].Duplicate {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh)
	assert.Equal(t, 1, h.invoiceCount(t))
}

func TestOrderService_RoundTripAmount(t *testing.T) {
	h := newOrderHarness(t)
	book := h.book(t, "Concurrency in Go", "19.99")
	order := h.order(t, book.ID)

	result, err := h.confirm(order, "pi_1999")
	require.NoError(t, err)
	formatted, err := domain.FormatMinorUnits(result.Invoice.Amount, result.Invoice.Currency)
	require.NoError(t, err)
	assert.Equal(t, "19.99", formatted)
}

func TestOrderService_PublishFailuresDoNotUndoCommits(t *testing.T) {
	h := newOrderHarness(t)
	h.events.err = errors.New("broker down")
	h.receipts.err = errors.New("bucket down")
	book := h.book(t, "Go in Practice", "25.00")
	order := h.order(t, book.ID)

	result, err := h.confirm(order, "pi_1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPaid, result.Order.PaymentStatus)
}

func TestOrderService_GetAndListOrders(t *testing.T) {
	h := newOrderHarness(t)
	ctx := context.Background()
	book := h.book(t, "Go in Practice", "25.00")
	first := h.order(t, book.ID)
	h.now = h.now.Add(time.Minute)
	second := h.order(t, book.ID)

	_, err := h.orders.GetOrder(ctx, GetOrderCommand{OrderID: first.ID, Actor: Actor{ID: "user_other", Kind: ActorUser}})
	assert.ErrorIs(t, err, ErrOrderForbidden)
	got, err := h.orders.GetOrder(ctx, GetOrderCommand{OrderID: first.ID, Actor: sellerActor})
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	page, err := h.orders.ListOrders(ctx, OrderListFilter{BuyerID: testBuyerID, Pagination: domain.Pagination{PageSize: 1}})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, second.ID, page.Items[0].ID)
	require.NotEmpty(t, page.NextPageToken)

	page, err = h.orders.ListOrders(ctx, OrderListFilter{BuyerID: testBuyerID, Pagination: domain.Pagination{PageSize: 1, PageToken: page.NextPageToken}})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, first.ID, page.Items[0].ID)

	_, err = h.orders.ListOrders(ctx, OrderListFilter{BuyerID: testBuyerID, Status: []domain.OrderStatus{"lost"}})
	assert.ErrorIs(t, err, ErrOrderInvalidInput)
}

func TestOrderService_DeleteBookCascadesOrders(t *testing.T) {
	h := newOrderHarness(t)
	ctx := context.Background()
	book := h.book(t, "Go in Practice", "25.00")
	other := h.book(t, "The Go Programming Language", "39.50")
	h.order(t, book.ID)
	h.order(t, book.ID)
	kept := h.order(t, other.ID)

	result, err := h.catalog.DeleteBook(ctx, DeleteBookCommand{BookID: book.ID, CascadeOrders: true, ActorID: "user_admin"})
	require.NoError(t, err)
	assert.Equal(t, 2, result.DeletedOrders)

	_, err = h.catalog.GetBook(ctx, book.ID)
	assert.ErrorIs(t, err, ErrBookNotFound)
	_, err = h.orders.GetOrder(ctx, GetOrderCommand{OrderID: kept.ID, Actor: buyerActor})
	assert.NoError(t, err)
	assert.Contains(t, h.events.types(), eventBookDeleted)

	_, err = h.orders.DeleteOrdersByBook(ctx, " ")
	assert.ErrorIs(t, err, ErrOrderInvalidInput)
}

func TestNewOrderServiceValidatesDeps(t *testing.T) {
	registry := memory.NewRegistry()
	projector, err := NewInvoiceProjector(registry.Invoices(), nil)
	require.NoError(t, err)

	_, err = NewOrderService(OrderServiceDeps{Books: registry.Books(), Counters: registry.Counters(), Projector: projector})
	assert.Error(t, err)
	_, err = NewOrderService(OrderServiceDeps{Orders: registry.Orders(), Counters: registry.Counters(), Projector: projector})
	assert.Error(t, err)
	_, err = NewOrderService(OrderServiceDeps{Orders: registry.Orders(), Books: registry.Books(), Projector: projector})
	assert.Error(t, err)
	_, err = NewOrderService(OrderServiceDeps{Orders: registry.Orders(), Books: registry.Books(), Counters: registry.Counters()})
	assert.Error(t, err)
}
