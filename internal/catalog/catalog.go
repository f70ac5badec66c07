// Package catalog is the typed data-access layer over the config store.
// Reads go through the entity cache; writers invalidate exactly the keys
// they touch. Lookups return (nil, nil) when the entity does not exist so
// gate-style callers can distinguish absence from backend failure.
package catalog

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/apidoorman/doorman-sub003/internal/cache"
	"github.com/apidoorman/doorman-sub003/internal/store"
)

// Catalog mediates every platform read and write of config entities.
type Catalog struct {
	store       store.Store
	cache       *cache.Cache
	maxPageSize int

	// Serializes check-then-insert sequences. Memory mode runs a single
	// worker so this is sufficient for uniqueness; external mode accepts
	// the small cross-process race on the low-rate config plane.
	writeMu sync.Mutex
}

// New creates a catalog over the given store and cache.
func New(st store.Store, c *cache.Cache, maxPageSize int) *Catalog {
	if maxPageSize <= 0 {
		maxPageSize = 100
	}
	return &Catalog{store: st, cache: c, maxPageSize: maxPageSize}
}

// Store exposes the underlying config store for components that need raw
// collection access (snapshots, credit scripts, dataset rows).
func (c *Catalog) Store() store.Store { return c.store }

// MaxPageSize returns the configured page size cap.
func (c *Catalog) MaxPageSize() int { return c.maxPageSize }

// PurgeCache drops every cached entity. Wired to DELETE /api/caches.
func (c *Catalog) PurgeCache() {
	c.cache.Purge()
}

// CacheStats reports entity-cache counters for the monitor endpoint.
func (c *Catalog) CacheStats() cache.Stats {
	return c.cache.Stats()
}

// Window converts 1-based page/page_size into skip/limit, clamping
// page_size to the configured maximum.
func (c *Catalog) Window(page, pageSize int) (skip, limit int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > c.maxPageSize {
		pageSize = c.maxPageSize
	}
	return (page - 1) * pageSize, pageSize
}

func now() time.Time { return time.Now().UTC() }

// findCached looks up one entity through the cache. Absence is (nil, nil).
func findCached[T any](ctx context.Context, c *Catalog, key, collection string, q store.Query) (*T, error) {
	if v, ok := cache.GetAs[*T](c.cache, key); ok {
		return v, nil
	}
	doc, err := c.store.Collection(collection).FindOne(ctx, q)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	v := new(T)
	if err := store.Decode(doc, v); err != nil {
		return nil, err
	}
	c.cache.Set(key, v)
	return v, nil
}

// listPage fetches one page of a collection in store order.
func listPage[T any](ctx context.Context, c *Catalog, collection string, q store.Query, page, pageSize int) ([]T, error) {
	skip, limit := c.Window(page, pageSize)
	docs, err := c.store.Collection(collection).Find(ctx, q).Skip(skip).Limit(limit).All(ctx)
	if err != nil {
		return nil, err
	}
	return store.DecodeAll[T](docs)
}

// deleteAll removes every document matching q, returning the count.
func (c *Catalog) deleteAll(ctx context.Context, collection string, q store.Query) (int, error) {
	col := c.store.Collection(collection)
	n := 0
	for {
		ok, err := col.DeleteOne(ctx, q)
		if err != nil {
			return n, err
		}
		if !ok {
			return n, nil
		}
		n++
	}
}

// exists reports whether any document matches q.
func (c *Catalog) exists(ctx context.Context, collection string, q store.Query) (bool, error) {
	_, err := c.store.Collection(collection).FindOne(ctx, q)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// stripProtected copies a partial update without identity or bookkeeping
// fields and stamps updated_at.
func stripProtected(changes store.Document, protected ...string) store.Document {
	out := make(store.Document, len(changes)+1)
	for k, v := range changes {
		out[k] = v
	}
	delete(out, "_id")
	delete(out, "created_at")
	for _, k := range protected {
		delete(out, k)
	}
	out["updated_at"] = now()
	return out
}
