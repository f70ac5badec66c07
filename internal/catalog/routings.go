package catalog

import (
	"context"

	"github.com/apidoorman/doorman-sub003/internal/cache"
	apierrors "github.com/apidoorman/doorman-sub003/internal/errors"
	"github.com/apidoorman/doorman-sub003/internal/model"
	"github.com/apidoorman/doorman-sub003/internal/store"
)

func routingCacheKey(clientKey string) string { return cache.Key("routing", clientKey) }

// CreateRouting registers a client-key routing. The client key is unique.
func (c *Catalog) CreateRouting(ctx context.Context, routing *model.Routing) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	taken, err := c.exists(ctx, model.CollectionRoutings,
		store.Query{"client_key": routing.ClientKey})
	if err != nil {
		return err
	}
	if taken {
		return apierrors.ErrResourceExists.WithDetails("routing for client key")
	}

	routing.CreatedAt = now()
	routing.UpdatedAt = routing.CreatedAt
	doc, err := store.Encode(routing)
	if err != nil {
		return err
	}
	_, err = c.store.Collection(model.CollectionRoutings).InsertOne(ctx, doc)
	return err
}

// RoutingByClientKey fetches one routing through the cache.
func (c *Catalog) RoutingByClientKey(ctx context.Context, clientKey string) (*model.Routing, error) {
	return findCached[model.Routing](ctx, c, routingCacheKey(clientKey),
		model.CollectionRoutings, store.Query{"client_key": clientKey})
}

// ListRoutings returns one page of routings.
func (c *Catalog) ListRoutings(ctx context.Context, page, pageSize int) ([]model.Routing, error) {
	return listPage[model.Routing](ctx, c, model.CollectionRoutings, store.Query{}, page, pageSize)
}

// UpdateRouting applies a partial update. The client key is immutable.
func (c *Catalog) UpdateRouting(ctx context.Context, clientKey string, changes store.Document) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	update := stripProtected(changes, "client_key")
	ok, err := c.store.Collection(model.CollectionRoutings).UpdateOne(ctx,
		store.Query{"client_key": clientKey}, update)
	if err != nil {
		return err
	}
	if !ok {
		return apierrors.ErrResourceNotFound.WithDetails("routing")
	}
	c.cache.Delete(routingCacheKey(clientKey))
	return nil
}

// DeleteRouting removes a routing.
func (c *Catalog) DeleteRouting(ctx context.Context, clientKey string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	ok, err := c.store.Collection(model.CollectionRoutings).DeleteOne(ctx,
		store.Query{"client_key": clientKey})
	if err != nil {
		return err
	}
	if !ok {
		return apierrors.ErrResourceNotFound.WithDetails("routing")
	}
	c.cache.Delete(routingCacheKey(clientKey))
	return nil
}

// AdvanceRoutingCursor persists the next round-robin index for a client
// key. Best effort: the in-process cursor is authoritative within a run.
func (c *Catalog) AdvanceRoutingCursor(ctx context.Context, clientKey string, index int) error {
	ok, err := c.store.Collection(model.CollectionRoutings).UpdateOne(ctx,
		store.Query{"client_key": clientKey}, store.Document{"server_index": index})
	if err != nil {
		return err
	}
	if !ok {
		return apierrors.ErrResourceNotFound.WithDetails("routing")
	}
	c.cache.Delete(routingCacheKey(clientKey))
	return nil
}
