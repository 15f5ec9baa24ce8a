//go:build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	domain "github.com/bookporter/api/internal/domain"
	"github.com/bookporter/api/internal/platform/firestore/firestoretest"
	"github.com/bookporter/api/internal/repositories"
)

func TestLedgerRegistryIntegration(t *testing.T) {
	provider := firestoretest.NewProvider(t, "ledger-test")
	registry, err := NewRegistry(provider, nil)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	book := domain.BookSnapshot{BookID: "book-1", Title: "Go in Practice", UnitAmount: 2500, Currency: "USD", SellerID: "seller-1"}
	for i := range 3 {
		order := domain.Order{
			ID:            fmt.Sprintf("ord_%d", i),
			OrderNumber:   fmt.Sprintf("BP-2026-%06d", i+1),
			Book:          book,
			BuyerID:       "buyer-1",
			Contact:       domain.OrderContact{Name: "Ann Reader", Email: "ann@example.com"},
			Status:        domain.OrderStatusPending,
			PaymentStatus: domain.PaymentStatusUnpaid,
			CreatedAt:     base.Add(time.Duration(i) * time.Minute),
			UpdatedAt:     base.Add(time.Duration(i) * time.Minute),
		}
		if err := registry.Orders().Insert(ctx, order); err != nil {
			t.Fatalf("insert order %d: %v", i, err)
		}
	}

	page, err := registry.Orders().List(ctx, repositories.OrderListFilter{
		BuyerID:    "buyer-1",
		Pagination: domain.Pagination{PageSize: 2},
	})
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if len(page.Items) != 2 || page.Items[0].ID != "ord_2" || page.NextPageToken == "" {
		t.Fatalf("expected newest two orders with a next token, got %+v", page)
	}

	var winners int
	for range 2 {
		err := registry.RunInTx(ctx, func(ctx context.Context) error {
			order, err := registry.Orders().FindByID(ctx, "ord_0")
			if err != nil {
				return err
			}
			if order.Status != domain.OrderStatusPending {
				return errors.New("already moved")
			}
			order.Status = domain.OrderStatusShipped
			return registry.Orders().Update(ctx, order)
		})
		if err == nil {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one successful transition, got %d", winners)
	}

	invoice := domain.Invoice{
		ID:            domain.InvoiceIDForOrder("ord_0"),
		OrderID:       "ord_0",
		BuyerID:       "buyer-1",
		SellerID:      "seller-1",
		BookID:        "book-1",
		Amount:        2500,
		Currency:      "USD",
		Provider:      "stripe",
		ProviderTxnID: "cs_test_1",
		PaidAt:        base.Add(time.Hour),
		CreatedAt:     base.Add(time.Hour),
	}
	if err := registry.Invoices().Insert(ctx, invoice); err != nil {
		t.Fatalf("insert invoice: %v", err)
	}
	err = registry.Invoices().Insert(ctx, invoice)
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict on duplicate invoice, got %v", err)
	}
	found, err := registry.Invoices().FindByOrder(ctx, "ord_0")
	if err != nil || found.ProviderTxnID != "cs_test_1" {
		t.Fatalf("find invoice by order: %+v %v", found, err)
	}

	first, err := registry.Counters().Next(ctx, "orders-2026")
	if err != nil {
		t.Fatalf("counter next: %v", err)
	}
	second, err := registry.Counters().Next(ctx, "orders-2026")
	if err != nil || second != first+1 {
		t.Fatalf("expected sequential counter values, got %d then %d (%v)", first, second, err)
	}

	removed, err := registry.Orders().DeleteByBook(ctx, "book-1")
	if err != nil || removed != 3 {
		t.Fatalf("expected three orders removed, got %d %v", removed, err)
	}
	if _, err := registry.Orders().FindByID(ctx, "ord_1"); !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not found after cascade, got %v", err)
	}
}
