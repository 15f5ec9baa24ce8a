package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/bookporter/api/internal/domain"
	pfirestore "github.com/bookporter/api/internal/platform/firestore"
	"github.com/bookporter/api/internal/repositories"
)

const (
	booksCollection  = "books"
	defaultBookLimit = 50
)

type bookDocument struct {
	Title       string    `firestore:"title"`
	Author      string    `firestore:"author"`
	Description string    `firestore:"description,omitempty"`
	Price       int64     `firestore:"price"`
	Currency    string    `firestore:"currency"`
	SellerID    string    `firestore:"sellerId"`
	Status      string    `firestore:"status"`
	CreatedAt   time.Time `firestore:"createdAt"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

// BookRepository persists catalog books.
type BookRepository struct {
	base *pfirestore.BaseRepository[bookDocument]
}

func NewBookRepository(provider *pfirestore.Provider) (*BookRepository, error) {
	if provider == nil {
		return nil, errors.New("book repository requires firestore provider")
	}
	return &BookRepository{
		base: pfirestore.NewBaseRepository[bookDocument](provider, booksCollection, nil, nil),
	}, nil
}

func (r *BookRepository) Insert(ctx context.Context, book domain.Book) error {
	return r.base.Create(ctx, book.ID, bookDocument{
		Title:       book.Title,
		Author:      book.Author,
		Description: book.Description,
		Price:       book.Price,
		Currency:    book.Currency,
		SellerID:    book.SellerID,
		Status:      string(book.Status),
		CreatedAt:   book.CreatedAt.UTC(),
		UpdatedAt:   book.UpdatedAt.UTC(),
	})
}

func (r *BookRepository) FindByID(ctx context.Context, bookID string) (domain.Book, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(bookID))
	if err != nil {
		return domain.Book{}, err
	}
	return decodeBook(doc.ID, doc.Data), nil
}

func (r *BookRepository) List(ctx context.Context, filter repositories.BookListFilter) ([]domain.Book, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultBookLimit
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.Status != "" {
			q = q.Where("status", "==", string(filter.Status))
		}
		if filter.SellerID != "" {
			q = q.Where("sellerId", "==", filter.SellerID)
		}
		return q.OrderBy("createdAt", firestore.Desc).Limit(limit)
	})
	if err != nil {
		return nil, err
	}
	books := make([]domain.Book, 0, len(docs))
	for _, doc := range docs {
		books = append(books, decodeBook(doc.ID, doc.Data))
	}
	return books, nil
}

func (r *BookRepository) Delete(ctx context.Context, bookID string) error {
	return r.base.Delete(ctx, strings.TrimSpace(bookID))
}

func decodeBook(id string, doc bookDocument) domain.Book {
	return domain.Book{
		ID:          id,
		Title:       doc.Title,
		Author:      doc.Author,
		Description: doc.Description,
		Price:       doc.Price,
		Currency:    doc.Currency,
		SellerID:    doc.SellerID,
		Status:      domain.BookStatus(doc.Status),
		CreatedAt:   doc.CreatedAt.UTC(),
		UpdatedAt:   doc.UpdatedAt.UTC(),
	}
}

var _ repositories.BookRepository = (*BookRepository)(nil)
