package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/bookporter/api/internal/domain"
	"github.com/bookporter/api/internal/platform/textutil"
	"github.com/bookporter/api/internal/repositories"
)

const (
	orderIDPrefix         = "ord_"
	orderNumberCounterFmt = "orders:%04d"
	maxContactFieldLength = 500
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidTransition indicates the requested status change is not an edge of the state machine.
	ErrOrderInvalidTransition = errors.New("order: invalid status transition")
	// ErrOrderForbidden indicates the actor may not perform the operation on this order.
	ErrOrderForbidden = errors.New("order: forbidden")
	// ErrOrderConflict indicates a write lost against a concurrent change.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrPaymentOnCancelledOrder rejects payment confirmation for a cancelled order.
	ErrPaymentOnCancelledOrder = errors.New("order: payment on cancelled order")
	// ErrOrderAlreadyPaid rejects a second, different provider transaction for a paid order.
	ErrOrderAlreadyPaid = errors.New("order: already paid")
	// ErrPaymentAmountMismatch rejects payments whose amount differs from the order snapshot.
	ErrPaymentAmountMismatch = errors.New("order: payment amount mismatch")
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Books       repositories.BookRepository
	Counters    repositories.CounterRepository
	Projector   *InvoiceProjector
	UnitOfWork  repositories.UnitOfWork
	Receipts    ReceiptStore
	Events      EventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	books      repositories.BookRepository
	counters   repositories.CounterRepository
	projector  *InvoiceProjector
	unitOfWork repositories.UnitOfWork
	receipts   ReceiptStore
	events     eventEmitter
	clock      func() time.Time
	newID      func() string
	logger     logFunc
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Books == nil {
		return nil, errors.New("order service: book repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}
	if deps.Projector == nil {
		return nil, errors.New("order service: invoice projector is required")
	}

	logger := loggerOrNoop(deps.Logger)
	newID := idGeneratorOrDefault(deps.IDGenerator)
	return &orderService{
		orders:     deps.Orders,
		books:      deps.Books,
		counters:   deps.Counters,
		projector:  deps.Projector,
		unitOfWork: unitOfWorkOrNoop(deps.UnitOfWork),
		receipts:   deps.Receipts,
		events:     eventEmitter{publisher: deps.Events, newID: newID, logger: logger},
		clock:      utcClock(deps.Clock),
		newID:      newID,
		logger:     logger,
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	buyerID := strings.TrimSpace(cmd.BuyerID)
	if buyerID == "" {
		return Order{}, fmt.Errorf("%w: buyer id is required", ErrOrderInvalidInput)
	}
	bookID := strings.TrimSpace(cmd.BookID)
	if bookID == "" {
		return Order{}, fmt.Errorf("%w: book id is required", ErrOrderInvalidInput)
	}
	contact, err := normalizeContact(cmd.Contact)
	if err != nil {
		return Order{}, err
	}

	book, err := s.books.FindByID(ctx, bookID)
	if err != nil {
		return Order{}, classifyRepositoryError(err, ErrBookNotFound, nil)
	}
	if book.Status != domain.BookStatusPublished {
		return Order{}, fmt.Errorf("%w: %s is not published", ErrBookNotFound, bookID)
	}

	now := s.clock()
	number, err := s.generateOrderNumber(ctx, now)
	if err != nil {
		return Order{}, err
	}

	order := Order{
		ID:          orderIDPrefix + s.newID(),
		OrderNumber: number,
		Book: domain.BookSnapshot{
			BookID:     book.ID,
			Title:      book.Title,
			Author:     book.Author,
			UnitAmount: book.Price,
			Currency:   book.Currency,
			SellerID:   book.SellerID,
		},
		BuyerID:       buyerID,
		Contact:       contact,
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusUnpaid,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		return Order{}, classifyRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
	}

	s.events.emit(ctx, DomainEvent{
		Type:          eventOrderCreated,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		BookID:        book.ID,
		CurrentStatus: string(order.Status),
		ActorID:       buyerID,
		Amount:        order.Book.UnitAmount,
		Currency:      order.Book.Currency,
		OccurredAt:    now,
	})
	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, cmd GetOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, classifyRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
	}
	if capacityFor(order, cmd.Actor) == capacityNone {
		return Order{}, fmt.Errorf("%w: actor is not a party to order %s", ErrOrderForbidden, orderID)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	for _, status := range filter.Status {
		if !status.Valid() {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, status)
		}
	}
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, classifyRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
	}
	return page, nil
}

func (s *orderService) TransitionStatus(ctx context.Context, cmd TransitionOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	target := domain.OrderStatus(strings.ToLower(strings.TrimSpace(string(cmd.TargetStatus))))
	if !target.Valid() {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.TargetStatus)
	}

	expected := domain.OrderStatus(strings.ToLower(strings.TrimSpace(string(cmd.ExpectedStatus))))
	if expected != "" && !expected.Valid() {
		return Order{}, fmt.Errorf("%w: unknown expected status %q", ErrOrderInvalidInput, cmd.ExpectedStatus)
	}

	var (
		order      Order
		prevStatus domain.OrderStatus
		now        = s.clock()
	)
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		current, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return classifyRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
		}
		if expected != "" && current.Status != expected && capacityFor(current, cmd.Actor) != capacityNone {
			return fmt.Errorf("%w: order is %s, expected %s", ErrOrderInvalidTransition, current.Status, expected)
		}
		if err := authorizeTransition(current, target, cmd.Actor); err != nil {
			return err
		}
		prevStatus = current.Status
		applyStatus(&current, target, cmd.Actor, now)
		if err := s.orders.Update(txCtx, current); err != nil {
			return classifyRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
		}
		order = current
		return nil
	})
	if err != nil {
		return Order{}, classifyRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
	}

	metadata := map[string]any{}
	if reason := strings.TrimSpace(cmd.Reason); reason != "" {
		metadata["reason"] = reason
	}
	if target == domain.OrderStatusCancelled && order.Paid() {
		// Refunds are handled outside this service; the ledger only records the cancellation.
		metadata["paid"] = true
		s.logger(ctx, "order.cancelled_after_payment", map[string]any{
			"orderId":       order.ID,
			"providerTxnId": order.Payment.ProviderTxnID,
			"actorId":       cmd.Actor.ID,
		})
	}
	s.logger(ctx, "order.transition", map[string]any{
		"orderId": order.ID,
		"from":    string(prevStatus),
		"to":      string(order.Status),
		"actor":   string(cmd.Actor.Kind),
	})
	s.events.emit(ctx, DomainEvent{
		Type:           eventOrderStatusChanged,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		PreviousStatus: string(prevStatus),
		CurrentStatus:  string(order.Status),
		ActorID:        cmd.Actor.ID,
		OccurredAt:     now,
		Metadata:       metadata,
	})
	return order, nil
}

func (s *orderService) ConfirmPayment(ctx context.Context, cmd ConfirmPaymentCommand) (ConfirmPaymentResult, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	txnID := strings.TrimSpace(cmd.ProviderTxnID)
	switch {
	case orderID == "":
		return ConfirmPaymentResult{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	case txnID == "":
		return ConfirmPaymentResult{}, fmt.Errorf("%w: provider transaction id is required", ErrOrderInvalidInput)
	case cmd.Amount <= 0:
		return ConfirmPaymentResult{}, fmt.Errorf("%w: amount must be positive", ErrOrderInvalidInput)
	}
	provider := strings.TrimSpace(cmd.Provider)
	if provider == "" {
		provider = "stripe"
	}
	now := s.clock()
	paidAt := cmd.PaidAt.UTC()
	if cmd.PaidAt.IsZero() {
		paidAt = now
	}

	var result ConfirmPaymentResult
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		result = ConfirmPaymentResult{}
		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return classifyRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
		}

		if order.Paid() && order.Payment != nil && order.Payment.ProviderTxnID == txnID {
			invoice, _, err := s.projector.Project(txCtx, order)
			if err != nil {
				return err
			}
			result = ConfirmPaymentResult{Order: order, Invoice: invoice, Duplicate: true}
			return nil
		}
		if order.Status == domain.OrderStatusCancelled {
			return fmt.Errorf("%w: %s", ErrPaymentOnCancelledOrder, orderID)
		}
		if order.Paid() {
			return fmt.Errorf("%w: order %s settled by another transaction", ErrOrderAlreadyPaid, orderID)
		}
		if cmd.Amount != order.Book.UnitAmount {
			return fmt.Errorf("%w: expected %d got %d", ErrPaymentAmountMismatch, order.Book.UnitAmount, cmd.Amount)
		}
		if cmd.Currency != "" && !strings.EqualFold(cmd.Currency, order.Book.Currency) {
			return fmt.Errorf("%w: expected currency %s got %s", ErrPaymentAmountMismatch, order.Book.Currency, cmd.Currency)
		}

		order.PaymentStatus = domain.PaymentStatusPaid
		order.Payment = &domain.OrderPayment{
			Provider:      provider,
			ProviderTxnID: txnID,
			Amount:        cmd.Amount,
			Currency:      order.Book.Currency,
			PaidAt:        paidAt,
		}
		order.UpdatedAt = now

		invoice, _, err := s.projector.Project(txCtx, order)
		if err != nil {
			return err
		}
		if err := s.orders.Update(txCtx, order); err != nil {
			return classifyRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
		}
		result = ConfirmPaymentResult{Order: order, Invoice: invoice}
		return nil
	})
	if err != nil {
		return ConfirmPaymentResult{}, classifyRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
	}

	if result.Duplicate {
		s.logger(ctx, "order.payment.duplicate", map[string]any{"orderId": orderID, "providerTxnId": txnID})
		return result, nil
	}

	s.logger(ctx, "order.payment.confirmed", map[string]any{
		"orderId":       orderID,
		"providerTxnId": txnID,
		"invoiceId":     result.Invoice.ID,
		"actor":         string(cmd.Actor.Kind),
	})
	s.archiveReceipt(ctx, result.Invoice)
	s.events.emit(ctx, DomainEvent{
		Type:          eventOrderPaid,
		OrderID:       orderID,
		OrderNumber:   result.Order.OrderNumber,
		CurrentStatus: string(result.Order.Status),
		ActorID:       cmd.Actor.ID,
		Amount:        cmd.Amount,
		Currency:      result.Order.Book.Currency,
		OccurredAt:    now,
		Metadata:      map[string]any{"providerTxnId": txnID, "provider": provider},
	})
	s.events.emit(ctx, DomainEvent{
		Type:        eventInvoiceCreated,
		OrderID:     orderID,
		OrderNumber: result.Order.OrderNumber,
		InvoiceID:   result.Invoice.ID,
		Amount:      result.Invoice.Amount,
		Currency:    result.Invoice.Currency,
		OccurredAt:  now,
	})
	return result, nil
}

func (s *orderService) DeleteOrdersByBook(ctx context.Context, bookID string) (int, error) {
	bookID = strings.TrimSpace(bookID)
	if bookID == "" {
		return 0, fmt.Errorf("%w: book id is required", ErrOrderInvalidInput)
	}
	deleted, err := s.orders.DeleteByBook(ctx, bookID)
	if err != nil {
		return deleted, classifyRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
	}
	s.logger(ctx, "order.deleted_by_book", map[string]any{"bookId": bookID, "count": deleted})
	return deleted, nil
}

func (s *orderService) archiveReceipt(ctx context.Context, invoice Invoice) {
	if s.receipts == nil {
		return
	}
	if err := s.receipts.Archive(ctx, invoice); err != nil {
		s.logger(ctx, "invoice.receipt.archive_failed", map[string]any{
			"invoiceId": invoice.ID,
			"error":     err.Error(),
		})
	}
}

func (s *orderService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, fmt.Sprintf(orderNumberCounterFmt, now.Year()))
	if err != nil {
		return "", classifyRepositoryError(err, nil, ErrOrderConflict)
	}
	return fmt.Sprintf("BP-%04d-%06d", now.Year(), seq), nil
}

func applyStatus(order *Order, target domain.OrderStatus, actor Actor, now time.Time) {
	order.Status = target
	order.UpdatedAt = now
	switch target {
	case domain.OrderStatusShipped:
		order.ShippedAt = &now
	case domain.OrderStatusDelivered:
		order.DeliveredAt = &now
	case domain.OrderStatusCancelled:
		order.CancelledAt = &now
		order.CancelledBy = actor.ID
	}
}

func normalizeContact(contact OrderContact) (OrderContact, error) {
	out := OrderContact{
		Name:    textutil.SanitizeText(contact.Name),
		Email:   strings.ToLower(textutil.SanitizeText(contact.Email)),
		Phone:   textutil.SanitizeText(contact.Phone),
		Address: textutil.SanitizeText(contact.Address),
		Note:    textutil.SanitizeText(contact.Note),
	}
	if out.Name == "" {
		return OrderContact{}, fmt.Errorf("%w: contact name is required", ErrOrderInvalidInput)
	}
	if out.Email == "" && out.Phone == "" {
		return OrderContact{}, fmt.Errorf("%w: contact email or phone is required", ErrOrderInvalidInput)
	}
	if out.Email != "" && !strings.Contains(out.Email, "@") {
		return OrderContact{}, fmt.Errorf("%w: contact email is invalid", ErrOrderInvalidInput)
	}
	for _, field := range []string{out.Name, out.Email, out.Phone, out.Address, out.Note} {
		if len(field) > maxContactFieldLength {
			return OrderContact{}, fmt.Errorf("%w: contact fields must be at most %d characters", ErrOrderInvalidInput, maxContactFieldLength)
		}
	}
	return out, nil
}
