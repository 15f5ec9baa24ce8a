package services

import (
	"context"
	"time"

	domain "github.com/bookporter/api/internal/domain"
	"github.com/bookporter/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination    = domain.Pagination
	Book          = domain.Book
	BookStatus    = domain.BookStatus
	Order         = domain.Order
	OrderStatus   = domain.OrderStatus
	OrderContact  = domain.OrderContact
	PaymentStatus = domain.PaymentStatus
	Invoice       = domain.Invoice
	PaymentEvent  = domain.PaymentEvent
	HealthReport  = domain.HealthReport
)

// ActorKind classifies who is asking for a state change.
type ActorKind string

const (
	// ActorUser is an authenticated marketplace user acting as a buyer.
	ActorUser ActorKind = "user"
	// ActorSeller is a librarian managing their own listings.
	ActorSeller ActorKind = "seller"
	// ActorAdmin may act on any order.
	ActorAdmin ActorKind = "admin"
	// ActorSystem is the payment gateway or another internal caller.
	ActorSystem ActorKind = "system"
)

// Actor identifies the caller of a state-changing operation.
type Actor struct {
	ID   string
	Kind ActorKind
}

// SystemActor returns the actor used for gateway-driven changes.
func SystemActor(id string) Actor {
	return Actor{ID: id, Kind: ActorSystem}
}

// CatalogService manages the book listings that orders snapshot.
type CatalogService interface {
	ListBooks(ctx context.Context, filter BookListFilter) ([]Book, error)
	GetBook(ctx context.Context, bookID string) (Book, error)
	CreateBook(ctx context.Context, cmd CreateBookCommand) (Book, error)
	DeleteBook(ctx context.Context, cmd DeleteBookCommand) (DeleteBookResult, error)
}

// OrderService drives the order state machine and owns payment reconciliation.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, cmd GetOrderCommand) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	TransitionStatus(ctx context.Context, cmd TransitionOrderCommand) (Order, error)
	ConfirmPayment(ctx context.Context, cmd ConfirmPaymentCommand) (ConfirmPaymentResult, error)
	DeleteOrdersByBook(ctx context.Context, bookID string) (int, error)
}

// InvoiceService exposes read access to invoices.
type InvoiceService interface {
	ListInvoices(ctx context.Context, filter InvoiceListFilter) (domain.CursorPage[Invoice], error)
	GetInvoice(ctx context.Context, cmd GetInvoiceCommand) (Invoice, error)
	ReceiptURL(ctx context.Context, cmd GetInvoiceCommand) (domain.SignedURL, error)
}

// CheckoutService starts hosted payment flows for pending orders.
type CheckoutService interface {
	CreateCheckout(ctx context.Context, cmd CreateCheckoutCommand) (CheckoutSession, error)
}

// PaymentService reconciles gateway notifications and synchronous confirmations with orders.
type PaymentService interface {
	HandleWebhook(ctx context.Context, payload []byte, signature string) (WebhookResult, error)
	ConfirmCheckout(ctx context.Context, cmd ConfirmCheckoutCommand) (ConfirmPaymentResult, error)
}

// SystemService exposes health information.
type SystemService interface {
	HealthReport(ctx context.Context) (HealthReport, error)
}

type (
	OrderListFilter   = repositories.OrderListFilter
	InvoiceListFilter = repositories.InvoiceListFilter
	BookListFilter    = repositories.BookListFilter
)

// CreateBookCommand carries a new catalog listing. Price is a decimal string in Currency.
type CreateBookCommand struct {
	Title       string
	Author      string
	Description string
	Price       string
	Currency    string
	SellerID    string
	Status      BookStatus
	ActorID     string
}

// DeleteBookCommand removes a listing. CascadeOrders also deletes orders placed against it.
type DeleteBookCommand struct {
	BookID        string
	CascadeOrders bool
	ActorID       string
}

// DeleteBookResult reports what a book deletion removed.
type DeleteBookResult struct {
	BookID        string
	DeletedOrders int
}

// CreateOrderCommand places an order for a single book.
type CreateOrderCommand struct {
	BuyerID string
	BookID  string
	Contact OrderContact
}

// GetOrderCommand reads one order on behalf of an actor who must be a party to it.
type GetOrderCommand struct {
	OrderID string
	Actor   Actor
}

// TransitionOrderCommand requests a fulfilment status change.
// ExpectedStatus, when set, makes the change conditional on the status the caller last saw.
type TransitionOrderCommand struct {
	OrderID        string
	TargetStatus   OrderStatus
	ExpectedStatus OrderStatus
	Actor          Actor
	Reason         string
}

// ConfirmPaymentCommand records a successful provider payment against an order.
type ConfirmPaymentCommand struct {
	OrderID       string
	Provider      string
	ProviderTxnID string
	Amount        int64
	Currency      string
	PaidAt        time.Time
	Actor         Actor
}

// ConfirmPaymentResult carries the paid order and its invoice. Duplicate is set when the
// same provider transaction had already been applied and nothing changed.
type ConfirmPaymentResult struct {
	Order     Order
	Invoice   Invoice
	Duplicate bool
}

// GetInvoiceCommand reads an invoice owned by the buyer.
type GetInvoiceCommand struct {
	InvoiceID string
	BuyerID   string
}

// CreateCheckoutCommand starts a hosted checkout for an order.
type CreateCheckoutCommand struct {
	OrderID string
	Actor   Actor
}

// CheckoutSession is the redirect target returned to the buyer.
type CheckoutSession struct {
	SessionID   string
	Provider    string
	RedirectURL string
	ExpiresAt   *time.Time
}

// ConfirmCheckoutCommand asks the service to verify a payment with the gateway synchronously.
type ConfirmCheckoutCommand struct {
	OrderID   string
	SessionID string
	Amount    *int64
	Actor     Actor
}

// WebhookResult describes how a verified gateway event was handled.
type WebhookResult struct {
	EventID   string
	EventType string
	OrderID   string
	Handled   bool
	Duplicate bool
}
