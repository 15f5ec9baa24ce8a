package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/bookporter/api/internal/domain"
)

func TestCatalogService_CreateBookDefaults(t *testing.T) {
	h := newOrderHarness(t)

	book, err := h.catalog.CreateBook(context.Background(), CreateBookCommand{
		Title:    "  Learning Go ",
		Price:    "39.9",
		Currency: "usd",
		SellerID: testSellerID,
	})
	if err != nil {
		t.Fatalf("create book: %v", err)
	}
	if book.Status != domain.BookStatusPublished {
		t.Fatalf("expected published default, got %q", book.Status)
	}
	if book.Price != 3990 || book.Currency != "USD" {
		t.Fatalf("unexpected price %d %s", book.Price, book.Currency)
	}
	if book.Title != "Learning Go" {
		t.Fatalf("expected trimmed title, got %q", book.Title)
	}
	if !book.CreatedAt.Equal(h.now) {
		t.Fatalf("expected createdAt stamped at write time")
	}
}

func TestCatalogService_CreateBookValidation(t *testing.T) {
	h := newOrderHarness(t)
	cases := map[string]CreateBookCommand{
		"missing title":  {Price: "1.00", Currency: "USD", SellerID: testSellerID},
		"missing seller": {Title: "Go", Price: "1.00", Currency: "USD"},
		"bad currency":   {Title: "Go", Price: "1.00", Currency: "XXZ", SellerID: testSellerID},
		"too precise":    {Title: "Go", Price: "1.001", Currency: "USD", SellerID: testSellerID},
		"zero price":     {Title: "Go", Price: "0", Currency: "USD", SellerID: testSellerID},
		"bad status":     {Title: "Go", Price: "1.00", Currency: "USD", SellerID: testSellerID, Status: "archived"},
	}
	for name, cmd := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := h.catalog.CreateBook(context.Background(), cmd); !errors.Is(err, ErrBookInvalidInput) {
				t.Fatalf("expected ErrBookInvalidInput, got %v", err)
			}
		})
	}
}

func TestCatalogService_ListBooksDefaultsToPublishedNewestFirst(t *testing.T) {
	h := newOrderHarness(t)
	ctx := context.Background()

	older := h.book(t, "Go in Practice", "25.00")
	h.now = h.now.Add(time.Minute)
	newer := h.book(t, "Learning Go", "39.99")
	if _, err := h.catalog.CreateBook(ctx, CreateBookCommand{
		Title: "Draft", Price: "1.00", Currency: "USD", SellerID: testSellerID, Status: domain.BookStatusDraft,
	}); err != nil {
		t.Fatalf("create draft: %v", err)
	}

	books, err := h.catalog.ListBooks(ctx, BookListFilter{})
	if err != nil {
		t.Fatalf("list books: %v", err)
	}
	if len(books) != 2 || books[0].ID != newer.ID || books[1].ID != older.ID {
		t.Fatalf("unexpected listing %+v", books)
	}

	drafts, err := h.catalog.ListBooks(ctx, BookListFilter{Status: domain.BookStatusDraft})
	if err != nil {
		t.Fatalf("list drafts: %v", err)
	}
	if len(drafts) != 1 {
		t.Fatalf("expected one draft, got %d", len(drafts))
	}
}

func TestCatalogService_UnpublishedBooksCannotBeOrdered(t *testing.T) {
	h := newOrderHarness(t)
	draft, err := h.catalog.CreateBook(context.Background(), CreateBookCommand{
		Title: "Draft", Price: "1.00", Currency: "USD", SellerID: testSellerID, Status: domain.BookStatusDraft,
	})
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}
	_, err = h.orders.CreateOrder(context.Background(), CreateOrderCommand{
		BuyerID: testBuyerID,
		BookID:  draft.ID,
		Contact: OrderContact{Name: "Ada", Email: "ada@example.com"},
	})
	if !errors.Is(err, ErrBookNotFound) {
		t.Fatalf("expected ErrBookNotFound, got %v", err)
	}
}

func TestCatalogService_DeleteMissingBook(t *testing.T) {
	h := newOrderHarness(t)
	if _, err := h.catalog.DeleteBook(context.Background(), DeleteBookCommand{BookID: "bk_missing"}); !errors.Is(err, ErrBookNotFound) {
		t.Fatalf("expected ErrBookNotFound, got %v", err)
	}
	if _, err := h.catalog.GetBook(context.Background(), ""); !errors.Is(err, ErrBookInvalidInput) {
		t.Fatalf("expected ErrBookInvalidInput, got %v", err)
	}
}
