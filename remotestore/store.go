package remotestore

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound         = errors.New("remote document not found")
	ErrPermissionDenied = errors.New("remote permission denied")
)

// Fields the store itself maintains on every document.
const (
	FieldOwner     = "user_id"
	FieldCreatedAt = "created_at"
	FieldUpdatedAt = "updated_at"
)

type ChangeKind int

const (
	ChangeAdded ChangeKind = iota
	ChangeModified
	ChangeRemoved
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeAdded:
		return "added"
	case ChangeModified:
		return "modified"
	case ChangeRemoved:
		return "removed"
	}
	return "unknown"
}

type Document struct {
	ID         string
	Data       map[string]interface{}
	CreateTime time.Time
	UpdateTime time.Time
}

// UpdatedAt is the store-assigned updated_at field, falling back to the document update time.
func (d Document) UpdatedAt() time.Time {
	if t, ok := d.Data[FieldUpdatedAt].(time.Time); ok && !t.IsZero() {
		return t
	}
	return d.UpdateTime
}

type Change struct {
	Kind ChangeKind
	Doc  Document
}

type Op string

const (
	OpEqual       Op = "=="
	OpGreaterThan Op = ">"
)

type Filter struct {
	Field string
	Op    Op
	Value interface{}
}

func Equal(field string, value interface{}) Filter {
	return Filter{Field: field, Op: OpEqual, Value: value}
}

func After(field string, t time.Time) Filter {
	return Filter{Field: field, Op: OpGreaterThan, Value: t}
}

// Ref is a handle to another remote document. It is never materialized locally.
type Ref struct {
	Path string
}

type Subscription interface {
	// Stop detaches the listener. It does not wait for an in-flight callback.
	Stop()
}

// Store is the remote multi-tenant document store.
type Store interface {
	NewID() string
	// Upsert writes data into collection/id with merge semantics and stamps updated_at
	// (and created_at when the document is new) with the store's own clock.
	Upsert(ctx context.Context, collection string, id string, data map[string]interface{}) error
	Get(ctx context.Context, collection string, id string) (*Document, error)
	Query(ctx context.Context, collection string, filters ...Filter) ([]Document, error)
	Delete(ctx context.Context, collection string, id string) error
	// Watch delivers the current matching set as one added batch, then incremental batches.
	Watch(ctx context.Context, collection string, filters []Filter, onChange func([]Change), onError func(error)) (Subscription, error)
}

// IsReservedKey reports keys that belong to the store's representation, not to the record.
func IsReservedKey(key string) bool {
	if strings.HasPrefix(key, "_") {
		return true
	}
	switch key {
	case "id", "ref", "__name__":
		return true
	}
	return false
}

// StripReserved returns a copy of data without reserved keys or document handles.
func StripReserved(data map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		if IsReservedKey(k) {
			continue
		}
		switch v.(type) {
		case Ref, *Ref:
			continue
		}
		out[k] = v
	}
	return out
}
