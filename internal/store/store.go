// Package store defines the document store contract the live session is built on.
package store

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
)

var (
	ErrNotFound = errors.New("document not found")
	ErrClosed   = errors.New("subscription closed")
)

// Document is one stored record. Fields never contains the "_id" key.
type Document struct {
	ID     string `json:"id"`
	Fields bson.M `json:"fields"`
}

// Clone returns a copy whose top-level field map can be mutated freely.
func (d Document) Clone() Document {
	fields := make(bson.M, len(d.Fields))
	for k, v := range d.Fields {
		fields[k] = v
	}
	return Document{ID: d.ID, Fields: fields}
}

// String returns the field as a string, or "" when absent or of another type.
func (d Document) String(field string) string {
	s, _ := d.Fields[field].(string)
	return s
}

type ChangeType string

const (
	Added    ChangeType = "added"
	Modified ChangeType = "modified"
	Removed  ChangeType = "removed"
)

// Change is one per-document change record inside a Batch.
type Change struct {
	Type ChangeType
	Doc  Document
}

// Batch is a single delivery from a subscription. Docs holds the full
// current result set in arrival order. A non-nil Err ends the subscription.
type Batch struct {
	Docs    []Document
	Changes []Change
	Initial bool
	Err     error
}

type Subscription interface {
	Changes() <-chan Batch
	Close() error
}

type OpKind int

const (
	OpCreate OpKind = iota
	OpDelete
)

// WriteOp is one entry of an atomic batch write. Create ops may leave ID
// empty to get a generated identifier.
type WriteOp struct {
	Kind       OpKind
	Collection string
	ID         string
	Fields     bson.M
}

type DocumentStore interface {
	Subscribe(ctx context.Context, collection string, filter Filter) (Subscription, error)
	Get(ctx context.Context, collection, id string) (Document, error)
	Query(ctx context.Context, collection string, filter Filter) ([]Document, error)
	Add(ctx context.Context, collection string, fields bson.M) (string, error)
	Set(ctx context.Context, collection, id string, fields bson.M, merge bool) error
	Update(ctx context.Context, collection, id string, fields bson.M) error
	Delete(ctx context.Context, collection, id string) error
	ArrayUnion(ctx context.Context, collection, id, field string, values ...any) error
	Batch(ctx context.Context, ops []WriteOp) error
}
