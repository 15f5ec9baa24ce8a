package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/bookporter/api/internal/domain"
	"github.com/bookporter/api/internal/platform/auth"
	"github.com/bookporter/api/internal/platform/httpx"
	"github.com/bookporter/api/internal/services"
)

const maxBookBodySize = 16 << 10

// CatalogHandlers serves book listings plus the order cascade used when a book is removed.
type CatalogHandlers struct {
	catalog  services.CatalogService
	orders   services.OrderService
	currency string
}

// CatalogOption customises CatalogHandlers.
type CatalogOption func(*CatalogHandlers)

// WithDefaultCurrency sets the currency applied to new listings that omit one.
func WithDefaultCurrency(code string) CatalogOption {
	return func(h *CatalogHandlers) {
		h.currency = strings.ToUpper(strings.TrimSpace(code))
	}
}

func NewCatalogHandlers(catalog services.CatalogService, orders services.OrderService, opts ...CatalogOption) *CatalogHandlers {
	h := &CatalogHandlers{catalog: catalog, orders: orders}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// PublicRoutes registers unauthenticated catalog reads under /public.
func (h *CatalogHandlers) PublicRoutes(r chi.Router) {
	r.Get("/books", h.listBooks)
	r.Get("/books/{bookID}", h.getBook)
}

// AdminRoutes registers listing management under /admin.
func (h *CatalogHandlers) AdminRoutes(r chi.Router) {
	r.Post("/books", h.createBook)
	r.Delete("/books/{bookID}", h.deleteBook)
}

// InternalRoutes registers service-to-service endpoints under /internal.
func (h *CatalogHandlers) InternalRoutes(r chi.Router) {
	r.Delete("/books/{bookID}/orders", h.deleteOrdersByBook)
}

func (h *CatalogHandlers) listBooks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()
	filter := services.BookListFilter{SellerID: strings.TrimSpace(query.Get("seller_id"))}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be a non-negative integer", http.StatusBadRequest))
			return
		}
		filter.Limit = limit
	}
	books, err := h.catalog.ListBooks(ctx, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	items := make([]bookResponse, 0, len(books))
	for _, book := range books {
		items = append(items, bookPayload(book))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *CatalogHandlers) getBook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	book, err := h.catalog.GetBook(ctx, chi.URLParam(r, "bookID"))
	if err == nil && book.Status != domain.BookStatusPublished {
		err = services.ErrBookNotFound
	}
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, bookPayload(book))
}

type createBookRequest struct {
	Title       string `json:"title"`
	Author      string `json:"author"`
	Description string `json:"description"`
	Price       string `json:"price"`
	Currency    string `json:"currency"`
	Status      string `json:"status"`
	SellerID    string `json:"seller_id"`
}

func (h *CatalogHandlers) createBook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	var req createBookRequest
	if err := httpx.DecodeJSON(w, r, &req, maxBookBodySize); err != nil {
		httpx.WriteError(ctx, w, *err)
		return
	}
	sellerID := identity.UID
	if seller := strings.TrimSpace(req.SellerID); seller != "" && seller != identity.UID {
		if !identity.HasRole(auth.RoleAdmin) {
			httpx.WriteError(ctx, w, httpx.NewError("forbidden", "only admins may list books for another seller", http.StatusForbidden))
			return
		}
		sellerID = seller
	}

	book, err := h.catalog.CreateBook(ctx, services.CreateBookCommand{
		Title:       req.Title,
		Author:      req.Author,
		Description: req.Description,
		Price:       req.Price,
		Currency:    firstNonEmpty(req.Currency, h.currency),
		SellerID:    sellerID,
		Status:      domain.BookStatus(strings.ToLower(strings.TrimSpace(req.Status))),
		ActorID:     identity.UID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, bookPayload(book))
}

// deleteBook removes a listing together with its orders. Sellers may only remove their own.
func (h *CatalogHandlers) deleteBook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	bookID := chi.URLParam(r, "bookID")
	if !identity.HasRole(auth.RoleAdmin) {
		book, err := h.catalog.GetBook(ctx, bookID)
		if err != nil {
			writeServiceError(ctx, w, err)
			return
		}
		if book.SellerID != identity.UID {
			httpx.WriteError(ctx, w, httpx.NewError("forbidden", "not allowed to delete this book", http.StatusForbidden))
			return
		}
	}
	result, err := h.catalog.DeleteBook(ctx, services.DeleteBookCommand{BookID: bookID, CascadeOrders: true, ActorID: identity.UID})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"book_id":        result.BookID,
		"deleted_orders": result.DeletedOrders,
	})
}

func (h *CatalogHandlers) deleteOrdersByBook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order service")
		return
	}
	bookID := strings.TrimSpace(chi.URLParam(r, "bookID"))
	deleted, err := h.orders.DeleteOrdersByBook(ctx, bookID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"book_id":        bookID,
		"deleted_orders": deleted,
	})
}

type bookResponse struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Author       string `json:"author,omitempty"`
	Description  string `json:"description,omitempty"`
	Price        int64  `json:"price"`
	Currency     string `json:"currency"`
	PriceDisplay string `json:"price_display,omitempty"`
	SellerID     string `json:"seller_id"`
	Status       string `json:"status"`
	CreatedAt    string `json:"created_at"`
}

func bookPayload(book services.Book) bookResponse {
	display, _ := domain.FormatMinorUnits(book.Price, book.Currency)
	return bookResponse{
		ID:           book.ID,
		Title:        book.Title,
		Author:       book.Author,
		Description:  book.Description,
		Price:        book.Price,
		Currency:     book.Currency,
		PriceDisplay: display,
		SellerID:     book.SellerID,
		Status:       string(book.Status),
		CreatedAt:    formatTime(book.CreatedAt),
	}
}
