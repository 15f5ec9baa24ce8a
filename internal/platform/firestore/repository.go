package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// Document represents a strongly typed Firestore document with metadata timestamps.
type Document[T any] struct {
	ID         string
	Data       T
	CreateTime time.Time
	UpdateTime time.Time
}

// Encoder serialises the strongly typed entity prior to persistence.
type Encoder[T any] func(ctx context.Context, value T) (any, error)

// Decoder hydrates the strongly typed entity from a snapshot.
type Decoder[T any] func(ctx context.Context, snap *firestore.DocumentSnapshot) (T, error)

// QueryBuilder customises Firestore queries before execution.
type QueryBuilder func(query firestore.Query) firestore.Query

// BaseRepository provides typed helpers wrapping Firestore collection access. Every
// operation joins the transaction carried by ctx when there is one.
type BaseRepository[T any] struct {
	provider   *Provider
	collection string
	encode     Encoder[T]
	decode     Decoder[T]
}

// NewBaseRepository constructs a BaseRepository bound to a collection.
func NewBaseRepository[T any](provider *Provider, collection string, encode Encoder[T], decode Decoder[T]) *BaseRepository[T] {
	if encode == nil {
		encode = IdentityEncoder[T]()
	}
	if decode == nil {
		decode = StructDecoder[T]()
	}
	return &BaseRepository[T]{
		provider:   provider,
		collection: strings.TrimSpace(collection),
		encode:     encode,
		decode:     decode,
	}
}

// Create writes a new document and fails with a conflict when the ID already exists.
func (r *BaseRepository[T]) Create(ctx context.Context, id string, value T) error {
	doc, payload, err := r.prepare(ctx, id, value)
	if err != nil {
		return err
	}
	if tx, ok := TransactionFromContext(ctx); ok {
		return WrapError(r.op("create"), tx.Create(doc, payload))
	}
	_, err = doc.Create(ctx, payload)
	return WrapError(r.op("create"), err)
}

// Set upserts the given value under the provided document ID.
func (r *BaseRepository[T]) Set(ctx context.Context, id string, value T, opts ...firestore.SetOption) error {
	doc, payload, err := r.prepare(ctx, id, value)
	if err != nil {
		return err
	}
	if tx, ok := TransactionFromContext(ctx); ok {
		return WrapError(r.op("set"), tx.Set(doc, payload, opts...))
	}
	_, err = doc.Set(ctx, payload, opts...)
	return WrapError(r.op("set"), err)
}

// Delete removes the document. Missing documents are not an error.
func (r *BaseRepository[T]) Delete(ctx context.Context, id string) error {
	doc, err := r.documentRef(ctx, id)
	if err != nil {
		return err
	}
	if tx, ok := TransactionFromContext(ctx); ok {
		return WrapError(r.op("delete"), tx.Delete(doc))
	}
	_, err = doc.Delete(ctx)
	return WrapError(r.op("delete"), err)
}

// Get fetches the document by ID and decodes it into the strongly typed entity.
func (r *BaseRepository[T]) Get(ctx context.Context, id string) (Document[T], error) {
	doc, err := r.documentRef(ctx, id)
	if err != nil {
		return Document[T]{}, err
	}

	var snapshot *firestore.DocumentSnapshot
	if tx, ok := TransactionFromContext(ctx); ok {
		snapshot, err = tx.Get(doc)
	} else {
		snapshot, err = doc.Get(ctx)
	}
	if err != nil {
		return Document[T]{}, WrapError(r.op("get"), err)
	}
	return r.decodeDocument(ctx, snapshot)
}

// Query executes a collection query and returns the decoded documents.
func (r *BaseRepository[T]) Query(ctx context.Context, build QueryBuilder) ([]Document[T], error) {
	coll, err := r.collectionRef(ctx)
	if err != nil {
		return nil, err
	}

	query := coll.Query
	if build != nil {
		query = build(query)
	}

	var iter *firestore.DocumentIterator
	if tx, ok := TransactionFromContext(ctx); ok {
		iter = tx.Documents(query)
	} else {
		iter = query.Documents(ctx)
	}
	defer iter.Stop()

	var docs []Document[T]
	for {
		snapshot, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, WrapError(r.op("query"), err)
		}
		decoded, err := r.decodeDocument(ctx, snapshot)
		if err != nil {
			return nil, fmt.Errorf("firestore: decode document %s: %w", snapshot.Ref.ID, err)
		}
		docs = append(docs, decoded)
	}
	return docs, nil
}

// DeleteWhere removes every document matched by build, in batches, outside any transaction.
func (r *BaseRepository[T]) DeleteWhere(ctx context.Context, build QueryBuilder, batchSize int) (int, error) {
	coll, err := r.collectionRef(ctx)
	if err != nil {
		return 0, err
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return 0, err
	}
	if batchSize <= 0 || batchSize > 500 {
		batchSize = 500
	}

	deleted := 0
	for {
		query := coll.Query
		if build != nil {
			query = build(query)
		}
		snapshots, err := query.Limit(batchSize).Documents(ctx).GetAll()
		if err != nil {
			return deleted, WrapError(r.op("delete_where"), err)
		}
		if len(snapshots) == 0 {
			return deleted, nil
		}
		writer := client.BulkWriter(ctx)
		for _, snapshot := range snapshots {
			if _, err := writer.Delete(snapshot.Ref); err != nil {
				writer.End()
				return deleted, WrapError(r.op("delete_where"), err)
			}
		}
		writer.End()
		deleted += len(snapshots)
		if len(snapshots) < batchSize {
			return deleted, nil
		}
	}
}

// DocumentRef exposes the underlying document reference for advanced scenarios.
func (r *BaseRepository[T]) DocumentRef(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	return r.documentRef(ctx, id)
}

func (r *BaseRepository[T]) prepare(ctx context.Context, id string, value T) (*firestore.DocumentRef, any, error) {
	doc, err := r.documentRef(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	payload, err := r.encode(ctx, value)
	if err != nil {
		return nil, nil, fmt.Errorf("firestore: encode document %s: %w", id, err)
	}
	return doc, payload, nil
}

func (r *BaseRepository[T]) decodeDocument(ctx context.Context, snapshot *firestore.DocumentSnapshot) (Document[T], error) {
	entity, err := r.decode(ctx, snapshot)
	if err != nil {
		return Document[T]{}, err
	}
	return Document[T]{
		ID:         snapshot.Ref.ID,
		Data:       entity,
		CreateTime: snapshot.CreateTime,
		UpdateTime: snapshot.UpdateTime,
	}, nil
}

func (r *BaseRepository[T]) collectionRef(ctx context.Context) (*firestore.CollectionRef, error) {
	if r == nil || r.provider == nil {
		return nil, WrapError(r.op("collection"), errors.New("firestore: provider is nil"))
	}
	if r.collection == "" {
		return nil, WrapError(r.op("collection"), errors.New("firestore: collection name is required"))
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(r.collection), nil
}

func (r *BaseRepository[T]) documentRef(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, WrapError(r.op("document"), errors.New("firestore: document id is required"))
	}
	coll, err := r.collectionRef(ctx)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

func (r *BaseRepository[T]) op(action string) string {
	name := "firestore"
	if r != nil && r.collection != "" {
		name = r.collection
	}
	return name + "." + strings.ToLower(action)
}

// IdentityEncoder returns an encoder that writes the value unchanged.
func IdentityEncoder[T any]() Encoder[T] {
	return func(_ context.Context, value T) (any, error) {
		return value, nil
	}
}

// StructDecoder populates the target struct using Firestore's native decoding.
func StructDecoder[T any]() Decoder[T] {
	return func(_ context.Context, snap *firestore.DocumentSnapshot) (T, error) {
		var target T
		err := snap.DataTo(&target)
		return target, err
	}
}
