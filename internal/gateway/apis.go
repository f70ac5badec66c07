package gateway

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/apidoorman/doorman-sub003/internal/auth"
	apierrors "github.com/apidoorman/doorman-sub003/internal/errors"
	"github.com/apidoorman/doorman-sub003/internal/model"
	"github.com/apidoorman/doorman-sub003/internal/store"
)

var allowedEndpointMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodDelete:  true,
	http.MethodPatch:   true,
	http.MethodHead:    true,
	http.MethodOptions: true,
}

// handleCreateAPI registers a new API version. Missing "active" defaults
// to true; an active API must name at least one server.
func (g *Gateway) handleCreateAPI(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	var doc store.Document
	if err := readJSON(r, &doc); err != nil {
		writeError(w, r, err)
		return
	}
	var api model.API
	if err := store.Decode(doc, &api); err != nil {
		writeError(w, r, apierrors.ErrMalformedBody.Wrap(err))
		return
	}
	if _, ok := doc["active"]; !ok {
		api.Active = true
	}
	if api.APIName == "" || api.APIVersion == "" {
		writeError(w, r, apierrors.ErrValidationFailed.WithDetails("api_name and api_version are required"))
		return
	}
	api.APIType = strings.ToUpper(strings.TrimSpace(api.APIType))
	if api.APIType == "" {
		api.APIType = model.TypeREST
	}
	if !model.ValidAPIType(api.APIType) {
		writeError(w, r, apierrors.ErrValidationFailed.WithDetails(
			"api_type must be one of REST, SOAP, GRAPHQL, GRPC"))
		return
	}
	if api.Active && len(api.APIServers) == 0 {
		writeError(w, r, apierrors.ErrValidationFailed.WithDetails(
			"an active api needs at least one server"))
		return
	}

	if err := g.catalog.CreateAPI(r.Context(), &api); err != nil {
		writeError(w, r, err)
		return
	}
	writeStatus(w, r, http.StatusCreated, api)
}

func (g *Gateway) handleListAPIs(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	page, pageSize := pageParams(r)
	apis, err := g.catalog.ListAPIs(r.Context(), page, pageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, map[string]any{"apis": apis})
}

func (g *Gateway) handleGetAPI(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	name, version := param(r, "name"), param(r, "version")
	api, err := g.catalog.APIByKey(r.Context(), name, version)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if api == nil {
		writeError(w, r, apierrors.ErrAPINotFound.WithDetails("api "+name+"/"+version))
		return
	}
	writeOK(w, r, api)
}

func (g *Gateway) handleUpdateAPI(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	var changes store.Document
	if err := readJSON(r, &changes); err != nil {
		writeError(w, r, err)
		return
	}
	if raw, ok := changes["api_type"]; ok {
		s, _ := raw.(string)
		t := strings.ToUpper(strings.TrimSpace(s))
		if !model.ValidAPIType(t) {
			writeError(w, r, apierrors.ErrValidationFailed.WithDetails(
				"api_type must be one of REST, SOAP, GRAPHQL, GRPC"))
			return
		}
		changes["api_type"] = t
	}
	if err := g.catalog.UpdateAPI(r.Context(), param(r, "name"), param(r, "version"), changes); err != nil {
		writeError(w, r, err)
		return
	}
	writeMessage(w, r, http.StatusOK, "API updated")
}

func (g *Gateway) handleDeleteAPI(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	if err := g.catalog.DeleteAPI(r.Context(), param(r, "name"), param(r, "version")); err != nil {
		writeError(w, r, err)
		return
	}
	writeMessage(w, r, http.StatusOK, "API deleted")
}

// handleCreateEndpoint registers a (method, uri) route on an existing API.
func (g *Gateway) handleCreateEndpoint(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	var ep model.Endpoint
	if err := readJSON(r, &ep); err != nil {
		writeError(w, r, err)
		return
	}
	if ep.APIName == "" || ep.APIVersion == "" {
		writeError(w, r, apierrors.ErrValidationFailed.WithDetails("api_name and api_version are required"))
		return
	}
	method := strings.ToUpper(strings.TrimSpace(ep.EndpointMethod))
	if !allowedEndpointMethods[method] {
		writeError(w, r, apierrors.ErrValidationFailed.WithDetails(
			"endpoint_method must be a supported HTTP verb"))
		return
	}
	ep.EndpointMethod = method

	if err := g.catalog.CreateEndpoint(r.Context(), &ep); err != nil {
		writeError(w, r, err)
		return
	}
	writeStatus(w, r, http.StatusCreated, ep)
}

func (g *Gateway) handleListEndpoints(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	page, pageSize := pageParams(r)
	eps, err := g.catalog.ListEndpoints(r.Context(), param(r, "name"), param(r, "version"), page, pageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, map[string]any{"endpoints": eps})
}

func (g *Gateway) handleUpdateEndpoint(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	var changes store.Document
	if err := readJSON(r, &changes); err != nil {
		writeError(w, r, err)
		return
	}
	err := g.catalog.UpdateEndpoint(r.Context(),
		param(r, "name"), param(r, "version"), param(r, "method"), param(r, "uri"), changes)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeMessage(w, r, http.StatusOK, "Endpoint updated")
}

func (g *Gateway) handleDeleteEndpoint(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	err := g.catalog.DeleteEndpoint(r.Context(),
		param(r, "name"), param(r, "version"), param(r, "method"), param(r, "uri"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeMessage(w, r, http.StatusOK, "Endpoint deleted")
}

// handleImportOpenAPI bulk-creates endpoints from an OpenAPI document.
// Paths already registered are skipped, not overwritten.
func (g *Gateway) handleImportOpenAPI(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	ctx := r.Context()
	name, version := param(r, "name"), param(r, "version")

	api, err := g.catalog.APIByKey(ctx, name, version)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if api == nil {
		writeError(w, r, apierrors.ErrAPINotFound.WithDetails("api "+name+"/"+version))
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(body)
	if err != nil {
		writeError(w, r, apierrors.ErrMalformedBody.WithDetails("not a parseable OpenAPI document"))
		return
	}
	if doc.Paths == nil {
		writeError(w, r, apierrors.ErrValidationFailed.WithDetails("document declares no paths"))
		return
	}

	created, skipped := 0, 0
	for path, item := range doc.Paths.Map() {
		for method, op := range item.Operations() {
			if !allowedEndpointMethods[method] {
				skipped++
				continue
			}
			ep := &model.Endpoint{
				APIName:             name,
				APIVersion:          version,
				EndpointMethod:      method,
				EndpointURI:         path,
				EndpointDescription: op.Summary,
			}
			if err := g.catalog.CreateEndpoint(ctx, ep); err != nil {
				if errors.Is(err, apierrors.ErrResourceExists) {
					skipped++
					continue
				}
				writeError(w, r, err)
				return
			}
			created++
		}
	}
	writeStatus(w, r, http.StatusCreated, map[string]any{
		"api_name":    name,
		"api_version": version,
		"created":     created,
		"skipped":     skipped,
	})
}

func (g *Gateway) registerAPIRoutes(static, params *routerTree) {
	static.handle(http.MethodPost, "/platform/api", g.guarded(model.PermManageAPIs, g.handleCreateAPI))
	static.handle(http.MethodGet, "/platform/api/all", g.guarded(model.PermManageAPIs, g.handleListAPIs))
	params.handle(http.MethodGet, "/platform/api/:name/:version", g.guarded(model.PermManageAPIs, g.handleGetAPI))
	params.handle(http.MethodPut, "/platform/api/:name/:version", g.guarded(model.PermManageAPIs, g.handleUpdateAPI))
	params.handle(http.MethodDelete, "/platform/api/:name/:version", g.guarded(model.PermManageAPIs, g.handleDeleteAPI))

	static.handle(http.MethodPost, "/platform/endpoint", g.guarded(model.PermManageEndpoints, g.handleCreateEndpoint))
	static.handle(http.MethodPost, "/platform/endpoint/import/openapi/:name/:version",
		g.guarded(model.PermManageEndpoints, g.handleImportOpenAPI))
	params.handle(http.MethodGet, "/platform/endpoint/:name/:version",
		g.guarded(model.PermManageEndpoints, g.handleListEndpoints))
	params.handle(http.MethodPut, "/platform/endpoint/:name/:version/:method/*uri",
		g.guarded(model.PermManageEndpoints, g.handleUpdateEndpoint))
	params.handle(http.MethodDelete, "/platform/endpoint/:name/:version/:method/*uri",
		g.guarded(model.PermManageEndpoints, g.handleDeleteEndpoint))
}
