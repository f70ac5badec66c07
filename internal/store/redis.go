package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"
)

// GuardFunc fails fast when the backend is inside a simulated outage
// window. A nil guard never trips.
type GuardFunc func(ctx context.Context) error

// RedisOptions configures the external backend.
type RedisOptions struct {
	Client           *redis.Client
	Prefix           string
	Guard            GuardFunc
	FailureThreshold uint32
}

// Redis is the external document backend. Each collection is a hash keyed
// by document _id holding JSON-encoded documents; a registry set tracks
// collection names so snapshots and listings can enumerate them.
type Redis struct {
	client  *redis.Client
	prefix  string
	guard   GuardFunc
	breaker *gobreaker.CircuitBreaker[any]
}

// Connect parses a Redis URL and dials with exponential backoff so a
// briefly unavailable store does not fail startup.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("store: invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second
	ping := func() error {
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return client.Ping(pctx).Err()
	}
	if err := backoff.Retry(ping, backoff.WithContext(bo, ctx)); err != nil {
		client.Close()
		return nil, fmt.Errorf("store: redis unreachable: %w", err)
	}
	return client, nil
}

// NewRedis creates the external backend over an established client.
func NewRedis(opts RedisOptions) *Redis {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "doorman:"
	}
	threshold := opts.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}

	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:    "doorman-store",
		Timeout: 10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
	})

	return &Redis{
		client:  opts.Client,
		prefix:  prefix,
		guard:   opts.Guard,
		breaker: breaker,
	}
}

func (s *Redis) colKey(name string) string { return s.prefix + "col:" + name }
func (s *Redis) registryKey() string       { return s.prefix + "cols" }

// do runs one backend operation behind the chaos guard and the breaker.
func (s *Redis) do(ctx context.Context, op func() (any, error)) (any, error) {
	if s.guard != nil {
		if err := s.guard(ctx); err != nil {
			return nil, err
		}
	}
	v, err := s.breaker.Execute(op)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: circuit open", ErrBackendUnavailable)
		}
		return nil, err
	}
	return v, nil
}

// Collection returns a handle on the named collection.
func (s *Redis) Collection(name string) Collection {
	return &redisHandle{store: s, name: name}
}

// Collections lists registered collection names, sorted.
func (s *Redis) Collections(ctx context.Context) ([]string, error) {
	v, err := s.do(ctx, func() (any, error) {
		return s.client.SMembers(ctx, s.registryKey()).Result()
	})
	if err != nil {
		return nil, err
	}
	names := v.([]string)
	sort.Strings(names)
	return names, nil
}

// Ping checks backend reachability through the guard and breaker.
func (s *Redis) Ping(ctx context.Context) error {
	_, err := s.do(ctx, func() (any, error) {
		return nil, s.client.Ping(ctx).Err()
	})
	return err
}

// Close closes the underlying client.
func (s *Redis) Close() error { return s.client.Close() }

// Client exposes the underlying connection for components that run their
// own atomic scripts against store keys.
func (s *Redis) Client() *redis.Client { return s.client }

// CollectionKey returns the hash key backing the named collection.
func (s *Redis) CollectionKey(name string) string { return s.colKey(name) }

type redisHandle struct {
	store *Redis
	name  string
}

// loadAll fetches and decodes every document in the collection sorted by
// _id. Config collections are small; scanning in process keeps the query
// semantics identical to the memory backend.
func (h *redisHandle) loadAll(ctx context.Context) ([]Document, error) {
	v, err := h.store.do(ctx, func() (any, error) {
		return h.store.client.HGetAll(ctx, h.store.colKey(h.name)).Result()
	})
	if err != nil {
		return nil, err
	}
	raw := v.(map[string]string)
	docs := make([]Document, 0, len(raw))
	for _, data := range raw {
		var doc Document
		if err := json.Unmarshal([]byte(data), &doc); err != nil {
			return nil, fmt.Errorf("store: corrupt document in %s: %w", h.name, err)
		}
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool {
		a, _ := docs[i]["_id"].(string)
		b, _ := docs[j]["_id"].(string)
		return a < b
	})
	return docs, nil
}

func (h *redisHandle) FindOne(ctx context.Context, q Query) (Document, error) {
	docs, err := h.loadAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, doc := range docs {
		if Matches(doc, q) {
			return doc, nil
		}
	}
	return nil, ErrNotFound
}

func (h *redisHandle) Find(ctx context.Context, q Query) Cursor {
	return &redisCursor{handle: h, query: q, limit: -1}
}

func (h *redisHandle) InsertOne(ctx context.Context, doc Document) (string, error) {
	cp := cloneDoc(doc)
	id, _ := cp["_id"].(string)
	if id == "" {
		id = uuid.NewString()
		cp["_id"] = id
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return "", fmt.Errorf("store: marshal document: %w", err)
	}
	_, err = h.store.do(ctx, func() (any, error) {
		pipe := h.store.client.TxPipeline()
		pipe.HSet(ctx, h.store.colKey(h.name), id, data)
		pipe.SAdd(ctx, h.store.registryKey(), h.name)
		_, err := pipe.Exec(ctx)
		return nil, err
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (h *redisHandle) UpdateOne(ctx context.Context, q Query, update Document) (bool, error) {
	docs, err := h.loadAll(ctx)
	if err != nil {
		return false, err
	}
	for _, doc := range docs {
		if !Matches(doc, q) {
			continue
		}
		for k, v := range update {
			if k == "_id" {
				continue
			}
			doc[k] = normalize(v)
		}
		id, _ := doc["_id"].(string)
		data, err := json.Marshal(doc)
		if err != nil {
			return false, fmt.Errorf("store: marshal document: %w", err)
		}
		_, err = h.store.do(ctx, func() (any, error) {
			return nil, h.store.client.HSet(ctx, h.store.colKey(h.name), id, data).Err()
		})
		if err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

func (h *redisHandle) DeleteOne(ctx context.Context, q Query) (bool, error) {
	docs, err := h.loadAll(ctx)
	if err != nil {
		return false, err
	}
	for _, doc := range docs {
		if !Matches(doc, q) {
			continue
		}
		id, _ := doc["_id"].(string)
		_, err = h.store.do(ctx, func() (any, error) {
			return nil, h.store.client.HDel(ctx, h.store.colKey(h.name), id).Err()
		})
		if err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

func (h *redisHandle) Count(ctx context.Context, q Query) (int64, error) {
	if len(q) == 0 {
		v, err := h.store.do(ctx, func() (any, error) {
			return h.store.client.HLen(ctx, h.store.colKey(h.name)).Result()
		})
		if err != nil {
			return 0, err
		}
		return v.(int64), nil
	}
	docs, err := h.loadAll(ctx)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, doc := range docs {
		if Matches(doc, q) {
			n++
		}
	}
	return n, nil
}

func (h *redisHandle) Drop(ctx context.Context) error {
	_, err := h.store.do(ctx, func() (any, error) {
		pipe := h.store.client.TxPipeline()
		pipe.Del(ctx, h.store.colKey(h.name))
		pipe.SRem(ctx, h.store.registryKey(), h.name)
		_, err := pipe.Exec(ctx)
		return nil, err
	})
	return err
}

// redisCursor defers the fetch until All so Skip/Limit chain without I/O.
type redisCursor struct {
	handle *redisHandle
	query  Query
	skip   int
	limit  int
}

func (c *redisCursor) Skip(n int) Cursor {
	c.skip = n
	return c
}

func (c *redisCursor) Limit(n int) Cursor {
	c.limit = n
	return c
}

func (c *redisCursor) All(ctx context.Context) ([]Document, error) {
	docs, err := c.handle.loadAll(ctx)
	if err != nil {
		return nil, err
	}
	var matched []Document
	for _, doc := range docs {
		if Matches(doc, c.query) {
			matched = append(matched, doc)
		}
	}
	if c.skip > 0 {
		if c.skip >= len(matched) {
			return []Document{}, nil
		}
		matched = matched[c.skip:]
	}
	if c.limit >= 0 && c.limit < len(matched) {
		matched = matched[:c.limit]
	}
	return matched, nil
}
