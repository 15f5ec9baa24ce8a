//go:build integration

package firestore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/bookporter/api/internal/platform/firestore"
	"github.com/bookporter/api/internal/platform/firestore/firestoretest"
)

type sampleEntity struct {
	Name  string `firestore:"name"`
	Count int    `firestore:"count"`
}

type repoClassifier interface {
	IsNotFound() bool
	IsConflict() bool
}

func TestProviderAndRepositoryIntegration(t *testing.T) {
	provider := firestoretest.NewProvider(t, "test-project")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	repo := pfirestore.NewBaseRepository[sampleEntity](provider, "samples", nil, nil)

	if err := repo.Create(ctx, "sample-1", sampleEntity{Name: "alpha", Count: 1}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	err := repo.Create(ctx, "sample-1", sampleEntity{Name: "beta"})
	var cls repoClassifier
	if !errors.As(err, &cls) || !cls.IsConflict() {
		t.Fatalf("expected conflict for duplicate create, got %v", err)
	}

	doc, err := repo.Get(ctx, "sample-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if doc.Data.Name != "alpha" || doc.Data.Count != 1 {
		t.Fatalf("unexpected data: %#v", doc.Data)
	}

	if _, err := repo.Get(ctx, "missing"); !errors.As(err, &cls) || !cls.IsNotFound() {
		t.Fatalf("expected not found classification, got %v", err)
	}

	// repository calls inside the callback join the outer transaction
	if err := provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		current, err := repo.Get(ctx, "sample-1")
		if err != nil {
			return err
		}
		current.Data.Count++
		return repo.Set(ctx, "sample-1", current.Data)
	}); err != nil {
		t.Fatalf("transaction failed: %v", err)
	}

	doc, err = repo.Get(ctx, "sample-1")
	if err != nil {
		t.Fatalf("get after transaction failed: %v", err)
	}
	if doc.Data.Count != 2 {
		t.Fatalf("expected count=2 after txn, got %d", doc.Data.Count)
	}

	sentinel := errors.New("rollback")
	err = provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		if err := repo.Set(ctx, "sample-1", sampleEntity{Name: "changed"}); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected callback error to pass through, got %v", err)
	}
	doc, _ = repo.Get(ctx, "sample-1")
	if doc.Data.Name != "alpha" {
		t.Fatalf("expected rollback, got %#v", doc.Data)
	}

	deleted, err := repo.DeleteWhere(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("name", "==", "alpha")
	}, 10)
	if err != nil || deleted != 1 {
		t.Fatalf("expected one deleted document, got %d err=%v", deleted, err)
	}

	cancelCtx, cancelTxn := context.WithCancel(context.Background())
	cancelTxn()
	if err := provider.RunTransaction(cancelCtx, func(ctx context.Context, tx *firestore.Transaction) error {
		return nil
	}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled error, got %v", err)
	}
}
