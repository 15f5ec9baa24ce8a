// Package storage archives invoice receipts in Cloud Storage and signs download links for them.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"

	domain "github.com/bookporter/api/internal/domain"
)

const (
	defaultReceiptURLTTL = 5 * time.Minute
	maxReceiptURLTTL     = 15 * time.Minute
	receiptContentType   = "application/json"
)

var errExpiryTooLong = errors.New("storage: expiry exceeds permitted maximum")

// BlobWriter persists a single object.
type BlobWriter interface {
	WriteObject(ctx context.Context, bucket, object, contentType string, data []byte) error
}

// ReceiptStoreConfig wires the receipt archive.
type ReceiptStoreConfig struct {
	Bucket string
	Writer BlobWriter
	Signer Signer
	URLTTL time.Duration
	Clock  func() time.Time
}

// ReceiptStore writes one JSON receipt per invoice and hands out short-lived GET URLs.
type ReceiptStore struct {
	bucket string
	writer BlobWriter
	signer Signer
	ttl    time.Duration
	now    func() time.Time
}

type receiptDocument struct {
	InvoiceID     string    `json:"invoiceId"`
	OrderID       string    `json:"orderId"`
	OrderNumber   string    `json:"orderNumber"`
	BookID        string    `json:"bookId"`
	BookTitle     string    `json:"bookTitle"`
	BuyerID       string    `json:"buyerId"`
	SellerID      string    `json:"sellerId"`
	Amount        int64     `json:"amount"`
	AmountDisplay string    `json:"amountDisplay"`
	Currency      string    `json:"currency"`
	Provider      string    `json:"provider"`
	ProviderTxnID string    `json:"providerTxnId"`
	PaidAt        time.Time `json:"paidAt"`
	IssuedAt      time.Time `json:"issuedAt"`
}

// NewReceiptStore validates configuration and returns a store.
func NewReceiptStore(cfg ReceiptStoreConfig) (*ReceiptStore, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, errors.New("storage: bucket name is required")
	}
	if cfg.Writer == nil {
		return nil, errors.New("storage: blob writer is required")
	}
	if cfg.Signer == nil || strings.TrimSpace(cfg.Signer.Email()) == "" {
		return nil, errors.New("storage: signer is required")
	}
	ttl := cfg.URLTTL
	if ttl <= 0 {
		ttl = defaultReceiptURLTTL
	}
	if ttl > maxReceiptURLTTL {
		return nil, errExpiryTooLong
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &ReceiptStore{bucket: bucket, writer: cfg.Writer, signer: cfg.Signer, ttl: ttl, now: now}, nil
}

// Archive serialises the invoice and overwrites its receipt object.
func (s *ReceiptStore) Archive(ctx context.Context, invoice domain.Invoice) error {
	object, err := ReceiptObjectPath(invoice.OrderID, invoice.ID)
	if err != nil {
		return err
	}
	display, err := domain.FormatMinorUnits(invoice.Amount, invoice.Currency)
	if err != nil {
		return fmt.Errorf("storage: format receipt amount: %w", err)
	}
	body, err := json.Marshal(receiptDocument{
		InvoiceID:     invoice.ID,
		OrderID:       invoice.OrderID,
		OrderNumber:   invoice.OrderNumber,
		BookID:        invoice.BookID,
		BookTitle:     invoice.BookTitle,
		BuyerID:       invoice.BuyerID,
		SellerID:      invoice.SellerID,
		Amount:        invoice.Amount,
		AmountDisplay: display,
		Currency:      invoice.Currency,
		Provider:      invoice.Provider,
		ProviderTxnID: invoice.ProviderTxnID,
		PaidAt:        invoice.PaidAt.UTC(),
		IssuedAt:      invoice.CreatedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("storage: encode receipt: %w", err)
	}
	if err := s.writer.WriteObject(ctx, s.bucket, object, receiptContentType, body); err != nil {
		return fmt.Errorf("storage: write receipt %s: %w", object, err)
	}
	return nil
}

// SignedURL returns a V4 signed GET URL for the invoice receipt.
func (s *ReceiptStore) SignedURL(ctx context.Context, invoice domain.Invoice) (domain.SignedURL, error) {
	object, err := ReceiptObjectPath(invoice.OrderID, invoice.ID)
	if err != nil {
		return domain.SignedURL{}, err
	}
	expires := s.now().UTC().Add(s.ttl)
	signed, err := gcs.SignedURL(s.bucket, object, &gcs.SignedURLOptions{
		GoogleAccessID: s.signer.Email(),
		Method:         "GET",
		Expires:        expires,
		Scheme:         gcs.SigningSchemeV4,
		SignBytes: func(payload []byte) ([]byte, error) {
			return s.signer.SignBytes(ctx, payload)
		},
	})
	if err != nil {
		return domain.SignedURL{}, fmt.Errorf("storage: sign receipt url: %w", err)
	}
	return domain.SignedURL{URL: signed, Method: "GET", ExpiresAt: expires}, nil
}

// GCSWriter writes objects through a Cloud Storage client.
type GCSWriter struct {
	Client *gcs.Client
}

func (w GCSWriter) WriteObject(ctx context.Context, bucket, object, contentType string, data []byte) error {
	if w.Client == nil {
		return errors.New("storage: gcs client is required")
	}
	writer := w.Client.Bucket(bucket).Object(object).NewWriter(ctx)
	writer.ContentType = contentType
	writer.CacheControl = "private, max-age=0"
	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return err
	}
	return writer.Close()
}
