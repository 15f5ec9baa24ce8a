package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// BookStatus enumerates catalog visibility states.
type BookStatus string

const (
	// BookStatusPublished marks a book as listed and orderable.
	BookStatusPublished BookStatus = "published"
	// BookStatusDraft hides a book from the public catalog.
	BookStatusDraft BookStatus = "draft"
)

// Valid reports whether the status is a known catalog state.
func (s BookStatus) Valid() bool {
	switch s {
	case BookStatusPublished, BookStatusDraft:
		return true
	default:
		return false
	}
}

// Book is a catalog listing. Price is stored in minor units of Currency.
type Book struct {
	ID          string
	Title       string
	Author      string
	Description string
	Price       int64
	Currency    string
	SellerID    string
	Status      BookStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// BookSnapshot freezes the book attributes an order was placed against.
type BookSnapshot struct {
	BookID     string
	Title      string
	Author     string
	UnitAmount int64
	Currency   string
	SellerID   string
}

// OrderStatus enumerates the fulfilment states of an order.
type OrderStatus string

const (
	// OrderStatusPending is the initial state; the order can still be cancelled or shipped.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusShipped indicates the seller has dispatched the book.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered is terminal.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled is terminal.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Valid reports whether the status is a known order state.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further status transitions are possible.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// PaymentStatus tracks the payment axis of an order independently from fulfilment.
type PaymentStatus string

const (
	PaymentStatusUnpaid PaymentStatus = "unpaid"
	PaymentStatusPaid   PaymentStatus = "paid"
)

// Order is a buyer's purchase of a single book.
type Order struct {
	ID            string
	OrderNumber   string
	Book          BookSnapshot
	BuyerID       string
	Contact       OrderContact
	Status        OrderStatus
	PaymentStatus PaymentStatus
	Payment       *OrderPayment
	CancelledBy   string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ShippedAt     *time.Time
	DeliveredAt   *time.Time
	CancelledAt   *time.Time
}

// SellerID returns the seller owning the ordered book.
func (o Order) SellerID() string {
	return o.Book.SellerID
}

// Paid reports whether a payment has been reconciled against the order.
func (o Order) Paid() bool {
	return o.PaymentStatus == PaymentStatusPaid
}

// OrderContact stores the buyer's delivery contact details.
type OrderContact struct {
	Name    string
	Email   string
	Phone   string
	Address string
	Note    string
}

// OrderPayment records the provider transaction that settled the order.
type OrderPayment struct {
	Provider      string
	ProviderTxnID string
	Amount        int64
	Currency      string
	PaidAt        time.Time
}

// PaymentEvent is a provider notification that a payment has succeeded.
type PaymentEvent struct {
	EventID       string
	EventType     string
	Provider      string
	ProviderTxnID string
	OrderID       string
	Amount        int64
	Currency      string
	PaidAt        time.Time
}

// Invoice is the immutable billing record derived from a confirmed payment.
type Invoice struct {
	ID            string
	OrderID       string
	OrderNumber   string
	BuyerID       string
	SellerID      string
	BookID        string
	BookTitle     string
	Amount        int64
	Currency      string
	Provider      string
	ProviderTxnID string
	PaidAt        time.Time
	CreatedAt     time.Time
}

// InvoiceIDForOrder derives the invoice identifier for an order. One order maps to at most one invoice.
func InvoiceIDForOrder(orderID string) string {
	return "inv_" + orderID
}

// SignedURL describes a short-lived download link.
type SignedURL struct {
	URL       string
	Method    string
	ExpiresAt time.Time
}
