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
	bookIDPrefix         = "bk_"
	defaultBookListLimit = 50
	maxBookListLimit     = 200
	maxBookTitleLength   = 200
)

var (
	// ErrBookNotFound indicates the book does not exist or is not visible.
	ErrBookNotFound = errors.New("catalog: book not found")
	// ErrBookInvalidInput indicates the caller supplied invalid listing data.
	ErrBookInvalidInput = errors.New("catalog: invalid input")
)

// OrderCascader removes orders placed against a deleted book.
type OrderCascader interface {
	DeleteOrdersByBook(ctx context.Context, bookID string) (int, error)
}

// CatalogServiceDeps bundles constructor inputs for the catalog service.
type CatalogServiceDeps struct {
	Books       repositories.BookRepository
	Orders      OrderCascader
	Events      EventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type catalogService struct {
	books  repositories.BookRepository
	orders OrderCascader
	events eventEmitter
	clock  func() time.Time
	newID  func() string
	logger logFunc
}

// NewCatalogService constructs the catalog service with the supplied dependencies.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Books == nil {
		return nil, errors.New("catalog service: book repository is required")
	}
	logger := loggerOrNoop(deps.Logger)
	newID := idGeneratorOrDefault(deps.IDGenerator)
	return &catalogService{
		books:  deps.Books,
		orders: deps.Orders,
		events: eventEmitter{publisher: deps.Events, newID: newID, logger: logger},
		clock:  utcClock(deps.Clock),
		newID:  newID,
		logger: logger,
	}, nil
}

func (s *catalogService) ListBooks(ctx context.Context, filter BookListFilter) ([]Book, error) {
	if filter.Status == "" {
		filter.Status = domain.BookStatusPublished
	}
	if !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrBookInvalidInput, filter.Status)
	}
	switch {
	case filter.Limit <= 0:
		filter.Limit = defaultBookListLimit
	case filter.Limit > maxBookListLimit:
		filter.Limit = maxBookListLimit
	}
	filter.SellerID = strings.TrimSpace(filter.SellerID)

	books, err := s.books.List(ctx, filter)
	if err != nil {
		return nil, classifyRepositoryError(err, ErrBookNotFound, nil)
	}
	return books, nil
}

func (s *catalogService) GetBook(ctx context.Context, bookID string) (Book, error) {
	bookID = strings.TrimSpace(bookID)
	if bookID == "" {
		return Book{}, fmt.Errorf("%w: book id is required", ErrBookInvalidInput)
	}
	book, err := s.books.FindByID(ctx, bookID)
	if err != nil {
		return Book{}, classifyRepositoryError(err, ErrBookNotFound, nil)
	}
	return book, nil
}

func (s *catalogService) CreateBook(ctx context.Context, cmd CreateBookCommand) (Book, error) {
	title := textutil.SanitizeText(cmd.Title)
	if title == "" {
		return Book{}, fmt.Errorf("%w: title is required", ErrBookInvalidInput)
	}
	if len(title) > maxBookTitleLength {
		return Book{}, fmt.Errorf("%w: title must be at most %d characters", ErrBookInvalidInput, maxBookTitleLength)
	}
	sellerID := strings.TrimSpace(cmd.SellerID)
	if sellerID == "" {
		return Book{}, fmt.Errorf("%w: seller id is required", ErrBookInvalidInput)
	}
	code, err := domain.NormalizeCurrency(cmd.Currency)
	if err != nil {
		return Book{}, fmt.Errorf("%w: %v", ErrBookInvalidInput, err)
	}
	price, err := domain.ParseMinorUnits(cmd.Price, code)
	if err != nil {
		return Book{}, fmt.Errorf("%w: %v", ErrBookInvalidInput, err)
	}
	if price <= 0 {
		return Book{}, fmt.Errorf("%w: price must be positive", ErrBookInvalidInput)
	}
	status := cmd.Status
	if status == "" {
		status = domain.BookStatusPublished
	}
	if !status.Valid() {
		return Book{}, fmt.Errorf("%w: unknown status %q", ErrBookInvalidInput, cmd.Status)
	}

	now := s.clock()
	book := Book{
		ID:          bookIDPrefix + s.newID(),
		Title:       title,
		Author:      textutil.SanitizeText(cmd.Author),
		Description: textutil.SanitizeText(cmd.Description),
		Price:       price,
		Currency:    code,
		SellerID:    sellerID,
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.books.Insert(ctx, book); err != nil {
		return Book{}, classifyRepositoryError(err, nil, nil)
	}
	s.logger(ctx, "catalog.book.created", map[string]any{"bookId": book.ID, "actorId": cmd.ActorID})
	return book, nil
}

func (s *catalogService) DeleteBook(ctx context.Context, cmd DeleteBookCommand) (DeleteBookResult, error) {
	bookID := strings.TrimSpace(cmd.BookID)
	if bookID == "" {
		return DeleteBookResult{}, fmt.Errorf("%w: book id is required", ErrBookInvalidInput)
	}
	if _, err := s.books.FindByID(ctx, bookID); err != nil {
		return DeleteBookResult{}, classifyRepositoryError(err, ErrBookNotFound, nil)
	}

	result := DeleteBookResult{BookID: bookID}
	if cmd.CascadeOrders && s.orders != nil {
		deleted, err := s.orders.DeleteOrdersByBook(ctx, bookID)
		if err != nil {
			return DeleteBookResult{}, err
		}
		result.DeletedOrders = deleted
	}
	if err := s.books.Delete(ctx, bookID); err != nil {
		return DeleteBookResult{}, classifyRepositoryError(err, ErrBookNotFound, nil)
	}

	s.logger(ctx, "catalog.book.deleted", map[string]any{
		"bookId":        bookID,
		"actorId":       cmd.ActorID,
		"deletedOrders": result.DeletedOrders,
	})
	s.events.emit(ctx, DomainEvent{
		Type:       eventBookDeleted,
		BookID:     bookID,
		ActorID:    cmd.ActorID,
		OccurredAt: s.clock(),
		Metadata:   map[string]any{"deletedOrders": result.DeletedOrders},
	})
	return result, nil
}
