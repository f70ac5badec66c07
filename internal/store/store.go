package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
)

// Document is a schemaless entity record as stored by either backend.
// Values are JSON-shaped: strings, bools, float64, []any, map[string]any.
type Document = map[string]any

// Query matches documents by exact top-level field equality.
type Query = map[string]any

// Store errors.
var (
	ErrNotFound           = errors.New("store: document not found")
	ErrBackendUnavailable = errors.New("store: backend unavailable")
	ErrEncryptionKeyUnset = errors.New("store: MEM_ENCRYPTION_KEY is not set")
)

// Cursor pages over a result set.
type Cursor interface {
	Skip(n int) Cursor
	Limit(n int) Cursor
	All(ctx context.Context) ([]Document, error)
}

// Collection exposes the per-entity-kind operations both backends share.
type Collection interface {
	FindOne(ctx context.Context, q Query) (Document, error)
	Find(ctx context.Context, q Query) Cursor
	InsertOne(ctx context.Context, doc Document) (string, error)
	UpdateOne(ctx context.Context, q Query, update Document) (bool, error)
	DeleteOne(ctx context.Context, q Query) (bool, error)
	Count(ctx context.Context, q Query) (int64, error)
	Drop(ctx context.Context) error
}

// Store is the dual-backend config store.
type Store interface {
	Collection(name string) Collection
	Collections(ctx context.Context) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

// Encode converts an entity struct into a Document via its JSON shape.
func Encode(v any) (Document, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("store: encode: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("store: encode: %w", err)
	}
	return doc, nil
}

// Decode populates an entity struct from a Document.
func Decode(doc Document, dst any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("store: decode: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("store: decode: %w", err)
	}
	return nil
}

// DecodeAll decodes a result set into a typed slice.
func DecodeAll[T any](docs []Document) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		var v T
		if err := Decode(doc, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Matches reports whether doc satisfies every field of q. Query values are
// normalized to their JSON shape before comparison so callers may pass ints
// or typed values.
func Matches(doc Document, q Query) bool {
	for k, want := range q {
		got, ok := doc[k]
		if !ok {
			return false
		}
		if !reflect.DeepEqual(got, normalize(want)) {
			return false
		}
	}
	return true
}

func normalize(v any) any {
	switch v.(type) {
	case nil, string, bool, float64:
		return v
	case int:
		return float64(v.(int))
	case int32:
		return float64(v.(int32))
	case int64:
		return float64(v.(int64))
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

// cloneDoc deep-copies a document so callers cannot mutate stored state.
func cloneDoc(doc Document) Document {
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneDoc(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
