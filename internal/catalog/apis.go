package catalog

import (
	"context"
	"strings"

	"github.com/apidoorman/doorman-sub003/internal/cache"
	apierrors "github.com/apidoorman/doorman-sub003/internal/errors"
	"github.com/apidoorman/doorman-sub003/internal/model"
	"github.com/apidoorman/doorman-sub003/internal/store"
)

func apiCacheKey(name, version string) string {
	return cache.Key("api", name+"/"+version)
}

func endpointCacheKey(name, version, method, uri string) string {
	return cache.Key("endpoint", name+"/"+version, method, uri)
}

func endpointsListKey(name, version string) string {
	return cache.Key("endpoint", name+"/"+version, "list")
}

// normMethod canonicalizes an HTTP verb.
func normMethod(method string) string {
	return strings.ToUpper(strings.TrimSpace(method))
}

// normURI canonicalizes an endpoint uri to a leading-slash form with no
// trailing slash (the root stays "/").
func normURI(uri string) string {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return "/"
	}
	if !strings.HasPrefix(uri, "/") {
		uri = "/" + uri
	}
	if len(uri) > 1 {
		uri = strings.TrimRight(uri, "/")
		if uri == "" {
			uri = "/"
		}
	}
	return uri
}

// CreateAPI registers a new API version. The (api_name, api_version) pair
// must be unique.
func (c *Catalog) CreateAPI(ctx context.Context, api *model.API) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	q := store.Query{"api_name": api.APIName, "api_version": api.APIVersion}
	taken, err := c.exists(ctx, model.CollectionAPIs, q)
	if err != nil {
		return err
	}
	if taken {
		return apierrors.ErrResourceExists.WithDetails("api " + api.Key())
	}

	api.CreatedAt = now()
	api.UpdatedAt = api.CreatedAt
	doc, err := store.Encode(api)
	if err != nil {
		return err
	}
	_, err = c.store.Collection(model.CollectionAPIs).InsertOne(ctx, doc)
	return err
}

// APIByKey fetches one API version through the cache.
func (c *Catalog) APIByKey(ctx context.Context, name, version string) (*model.API, error) {
	return findCached[model.API](ctx, c, apiCacheKey(name, version), model.CollectionAPIs,
		store.Query{"api_name": name, "api_version": version})
}

// ListAPIs returns one page of APIs in store order.
func (c *Catalog) ListAPIs(ctx context.Context, page, pageSize int) ([]model.API, error) {
	return listPage[model.API](ctx, c, model.CollectionAPIs, store.Query{}, page, pageSize)
}

// UpdateAPI applies a partial update. Identity fields are immutable.
func (c *Catalog) UpdateAPI(ctx context.Context, name, version string, changes store.Document) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	update := stripProtected(changes, "api_name", "api_version")
	q := store.Query{"api_name": name, "api_version": version}
	ok, err := c.store.Collection(model.CollectionAPIs).UpdateOne(ctx, q, update)
	if err != nil {
		return err
	}
	if !ok {
		return apierrors.ErrResourceNotFound.WithDetails("api " + name + "/" + version)
	}
	c.cache.Delete(apiCacheKey(name, version))
	return nil
}

// DeleteAPI removes an API version together with its endpoints and
// subscriptions.
func (c *Catalog) DeleteAPI(ctx context.Context, name, version string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	q := store.Query{"api_name": name, "api_version": version}
	ok, err := c.store.Collection(model.CollectionAPIs).DeleteOne(ctx, q)
	if err != nil {
		return err
	}
	if !ok {
		return apierrors.ErrResourceNotFound.WithDetails("api " + name + "/" + version)
	}
	if _, err := c.deleteAll(ctx, model.CollectionEndpoints, q); err != nil {
		return err
	}
	if _, err := c.deleteAll(ctx, model.CollectionSubscriptions, q); err != nil {
		return err
	}
	c.cache.Delete(apiCacheKey(name, version))
	c.cache.DeleteByPrefix(cache.Key("endpoint", name+"/"+version))
	c.cache.DeleteByPrefix("sub:")
	return nil
}

// CreateEndpoint registers a (method, uri) route on an existing API.
func (c *Catalog) CreateEndpoint(ctx context.Context, ep *model.Endpoint) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	ep.EndpointMethod = normMethod(ep.EndpointMethod)
	ep.EndpointURI = normURI(ep.EndpointURI)

	parent, err := c.exists(ctx, model.CollectionAPIs,
		store.Query{"api_name": ep.APIName, "api_version": ep.APIVersion})
	if err != nil {
		return err
	}
	if !parent {
		return apierrors.ErrResourceNotFound.WithDetails("api " + ep.APIName + "/" + ep.APIVersion)
	}

	q := store.Query{
		"api_name":        ep.APIName,
		"api_version":     ep.APIVersion,
		"endpoint_method": ep.EndpointMethod,
		"endpoint_uri":    ep.EndpointURI,
	}
	taken, err := c.exists(ctx, model.CollectionEndpoints, q)
	if err != nil {
		return err
	}
	if taken {
		return apierrors.ErrResourceExists.WithDetails(
			"endpoint " + ep.EndpointMethod + " " + ep.EndpointURI)
	}

	ep.CreatedAt = now()
	ep.UpdatedAt = ep.CreatedAt
	doc, err := store.Encode(ep)
	if err != nil {
		return err
	}
	if _, err = c.store.Collection(model.CollectionEndpoints).InsertOne(ctx, doc); err != nil {
		return err
	}
	c.cache.Delete(endpointsListKey(ep.APIName, ep.APIVersion))
	return nil
}

// EndpointByKey fetches one endpoint through the cache.
func (c *Catalog) EndpointByKey(ctx context.Context, name, version, method, uri string) (*model.Endpoint, error) {
	method = normMethod(method)
	uri = normURI(uri)
	return findCached[model.Endpoint](ctx, c, endpointCacheKey(name, version, method, uri),
		model.CollectionEndpoints, store.Query{
			"api_name":        name,
			"api_version":     version,
			"endpoint_method": method,
			"endpoint_uri":    uri,
		})
}

// ListEndpoints returns one page of an API's endpoints.
func (c *Catalog) ListEndpoints(ctx context.Context, name, version string, page, pageSize int) ([]model.Endpoint, error) {
	return listPage[model.Endpoint](ctx, c, model.CollectionEndpoints,
		store.Query{"api_name": name, "api_version": version}, page, pageSize)
}

// AllEndpoints returns every endpoint on an API version as one cached
// slice. The resolver walks it when an exact (method, uri) lookup misses
// and a templated uri may still match.
func (c *Catalog) AllEndpoints(ctx context.Context, name, version string) ([]model.Endpoint, error) {
	key := endpointsListKey(name, version)
	if eps, ok := cache.GetAs[[]model.Endpoint](c.cache, key); ok {
		return eps, nil
	}
	docs, err := c.store.Collection(model.CollectionEndpoints).Find(ctx,
		store.Query{"api_name": name, "api_version": version}).All(ctx)
	if err != nil {
		return nil, err
	}
	eps, err := store.DecodeAll[model.Endpoint](docs)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, eps)
	return eps, nil
}

// UpdateEndpoint applies a partial update. Identity fields are immutable.
func (c *Catalog) UpdateEndpoint(ctx context.Context, name, version, method, uri string, changes store.Document) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	method = normMethod(method)
	uri = normURI(uri)
	update := stripProtected(changes, "api_name", "api_version", "endpoint_method", "endpoint_uri")
	q := store.Query{
		"api_name":        name,
		"api_version":     version,
		"endpoint_method": method,
		"endpoint_uri":    uri,
	}
	ok, err := c.store.Collection(model.CollectionEndpoints).UpdateOne(ctx, q, update)
	if err != nil {
		return err
	}
	if !ok {
		return apierrors.ErrResourceNotFound.WithDetails("endpoint " + method + " " + uri)
	}
	c.cache.Delete(endpointCacheKey(name, version, method, uri), endpointsListKey(name, version))
	return nil
}

// DeleteEndpoint removes one endpoint.
func (c *Catalog) DeleteEndpoint(ctx context.Context, name, version, method, uri string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	method = normMethod(method)
	uri = normURI(uri)
	q := store.Query{
		"api_name":        name,
		"api_version":     version,
		"endpoint_method": method,
		"endpoint_uri":    uri,
	}
	ok, err := c.store.Collection(model.CollectionEndpoints).DeleteOne(ctx, q)
	if err != nil {
		return err
	}
	if !ok {
		return apierrors.ErrResourceNotFound.WithDetails("endpoint " + method + " " + uri)
	}
	c.cache.Delete(endpointCacheKey(name, version, method, uri), endpointsListKey(name, version))
	return nil
}
