package idempotency

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const defaultCollection = "idempotencyKeys"

// FirestoreStore keeps entries in a Firestore collection keyed by the hashed scoped key.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

func NewFirestoreStore(client *firestore.Client, collection string) *FirestoreStore {
	if collection == "" {
		collection = defaultCollection
	}
	return &FirestoreStore{client: client, collection: collection}
}

func (s *FirestoreStore) doc(key string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(documentID(key))
}

// Begin runs in a transaction so an expired entry is replaced by exactly one caller.
func (s *FirestoreStore) Begin(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (State, Entry, error) {
	var (
		state State
		entry Entry
	)
	ref := s.doc(key)
	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
		case err != nil:
			return err
		default:
			var existing Entry
			if err := snap.DataTo(&existing); err != nil {
				return fmt.Errorf("decode idempotency entry: %w", err)
			}
			if !existing.expired(now) {
				state, entry, err = classify(existing, fingerprint)
				return err
			}
		}
		state, entry = StateAcquired, newEntry(key, fingerprint, now, ttl)
		return tx.Set(ref, entry)
	}, firestore.MaxAttempts(5))
	if err != nil {
		return 0, Entry{}, err
	}
	return state, entry, nil
}

func (s *FirestoreStore) Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	ref := s.doc(key)
	return s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		entry := newEntry(key, fingerprint, now, ttl)
		snap, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
		case err != nil:
			return err
		default:
			if err := snap.DataTo(&entry); err != nil {
				return fmt.Errorf("decode idempotency entry: %w", err)
			}
			if entry.Fingerprint != fingerprint {
				return ErrKeyReuse
			}
		}
		return tx.Set(ref, complete(entry, resp, now, ttl))
	})
}

func (s *FirestoreStore) Abandon(ctx context.Context, key string) error {
	_, err := s.doc(key).Delete(ctx)
	if status.Code(err) == codes.NotFound {
		return nil
	}
	return err
}

// Purge deletes up to limit expired entries. A Firestore TTL policy on expires_at does the
// same in production; this keeps emulator and manual runs tidy.
func (s *FirestoreStore) Purge(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	docs, err := s.client.Collection(s.collection).
		Where("expires_at", "<=", now).
		Limit(limit).
		Documents(ctx).GetAll()
	if err != nil || len(docs) == 0 {
		return 0, err
	}
	bw := s.client.BulkWriter(ctx)
	for _, doc := range docs {
		if _, err := bw.Delete(doc.Ref); err != nil {
			bw.End()
			return 0, err
		}
	}
	bw.End()
	return len(docs), nil
}
