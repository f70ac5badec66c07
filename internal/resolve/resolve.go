// Package resolve maps ingress paths onto catalog endpoints and gates the
// caller. A dispatcher hands it the raw request path; it answers with the
// API record, the endpoint record and any captured path parameters, or
// with the 4xx the caller should see.
package resolve

import (
	"context"
	"net/http"
	"strings"

	"github.com/apidoorman/doorman-sub003/internal/catalog"
	apierrors "github.com/apidoorman/doorman-sub003/internal/errors"
	"github.com/apidoorman/doorman-sub003/internal/model"
)

// Ingress path protocols.
const (
	ProtocolREST    = "rest"
	ProtocolSOAP    = "soap"
	ProtocolGraphQL = "graphql"
	ProtocolGRPC    = "grpc"
)

// Target is a parsed ingress path.
type Target struct {
	Protocol   string
	Method     string
	APIName    string
	APIVersion string
	URI        string
}

// Resolution carries everything the dispatcher needs to forward a request.
type Resolution struct {
	API      *model.API
	Endpoint *model.Endpoint
	Params   map[string]string
}

// ParsePath splits /api/{protocol}/{api_name}[/{api_version}]/{uri} into a
// Target. REST and SOAP read the version from the path; GraphQL and gRPC
// read it from the X-API-Version header and route to their conventional
// uri.
func ParsePath(method, path, versionHeader string) (*Target, error) {
	segs := splitSegments(path)
	if len(segs) < 3 || segs[0] != "api" {
		return nil, apierrors.ErrAPINotFound.WithDetails("unrecognized gateway path " + path)
	}
	proto := strings.ToLower(segs[1])
	switch proto {
	case ProtocolREST, ProtocolSOAP:
		if len(segs) < 4 {
			return nil, apierrors.ErrAPINotFound.WithDetails("path is missing an api version")
		}
		return &Target{
			Protocol:   proto,
			Method:     method,
			APIName:    segs[2],
			APIVersion: segs[3],
			URI:        joinSegments(segs[4:]),
		}, nil
	case ProtocolGraphQL, ProtocolGRPC:
		if versionHeader == "" {
			return nil, apierrors.ErrMissingVersionHeader
		}
		return &Target{
			Protocol:   proto,
			Method:     method,
			APIName:    segs[2],
			APIVersion: versionHeader,
			URI:        "/" + proto,
		}, nil
	}
	return nil, apierrors.ErrAPINotFound.WithDetails("unknown protocol " + segs[1])
}

// Resolver resolves targets against the catalog.
type Resolver struct {
	cat     *catalog.Catalog
	schemas *schemaCache
}

// New builds a resolver over the catalog.
func New(cat *catalog.Catalog) *Resolver {
	return &Resolver{cat: cat, schemas: newSchemaCache()}
}

// Resolve looks up the API and endpoint for a target. GraphQL and gRPC
// targets resolve against the POST endpoint declared at onboarding; REST
// and SOAP try the exact uri first, then templated uris with {param}
// segments.
func (r *Resolver) Resolve(ctx context.Context, t *Target) (*Resolution, error) {
	api, err := r.cat.APIByKey(ctx, t.APIName, t.APIVersion)
	if err != nil {
		return nil, err
	}
	if api == nil || !api.Active {
		return nil, apierrors.ErrAPINotFound.WithDetails("api " + t.APIName + "/" + t.APIVersion)
	}

	method := t.Method
	if t.Protocol == ProtocolGraphQL || t.Protocol == ProtocolGRPC {
		method = http.MethodPost
	}
	ep, err := r.cat.EndpointByKey(ctx, t.APIName, t.APIVersion, method, t.URI)
	if err != nil {
		return nil, err
	}
	var params map[string]string
	if ep == nil {
		ep, params, err = r.matchTemplated(ctx, t, method)
		if err != nil {
			return nil, err
		}
	}
	if ep == nil {
		return nil, apierrors.ErrEndpointNotFound.WithDetails(method + " " + t.URI)
	}
	return &Resolution{API: api, Endpoint: ep, Params: params}, nil
}

// matchTemplated scans the API's endpoints for a templated uri whose
// literal segments line up with the request path.
func (r *Resolver) matchTemplated(ctx context.Context, t *Target, method string) (*model.Endpoint, map[string]string, error) {
	eps, err := r.cat.AllEndpoints(ctx, t.APIName, t.APIVersion)
	if err != nil {
		return nil, nil, err
	}
	want := splitSegments(t.URI)
	for i := range eps {
		ep := &eps[i]
		if ep.EndpointMethod != method || !strings.Contains(ep.EndpointURI, "{") {
			continue
		}
		if params, ok := matchSegments(ep.EndpointURI, want); ok {
			return ep, params, nil
		}
	}
	return nil, nil, nil
}

// Authorize gates a caller onto a non-public API. Membership in a group
// whose api_access lists the API bypasses the subscription check; the
// API's own allow lists narrow access further when set.
func (r *Resolver) Authorize(ctx context.Context, user *model.User, api *model.API) error {
	if api.Public {
		return nil
	}
	if user == nil {
		return apierrors.ErrNotSubscribed
	}
	groups, err := r.cat.GroupsForUser(ctx, user)
	if err != nil {
		return err
	}
	for _, g := range groups {
		if g.GrantsAccess(api.Key()) {
			return nil
		}
	}
	if len(api.APIAllowedGroups) > 0 && !intersects(user.Groups, api.APIAllowedGroups) {
		return apierrors.ErrNotSubscribed.WithDetails("api " + api.Key() + " restricts caller groups")
	}
	if len(api.APIAllowedRoles) > 0 && !containsString(api.APIAllowedRoles, user.Role) {
		return apierrors.ErrNotSubscribed.WithDetails("api " + api.Key() + " restricts caller roles")
	}
	subscribed, err := r.cat.IsSubscribed(ctx, user.Username, api.APIName, api.APIVersion)
	if err != nil {
		return err
	}
	if !subscribed {
		return apierrors.ErrNotSubscribed
	}
	return nil
}

func splitSegments(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func joinSegments(segs []string) string {
	if len(segs) == 0 {
		return "/"
	}
	return "/" + strings.Join(segs, "/")
}

// matchSegments lines a templated uri up against path segments. A {name}
// segment captures any single non-empty segment.
func matchSegments(pattern string, pathSegs []string) (map[string]string, bool) {
	patSegs := splitSegments(pattern)
	if len(patSegs) != len(pathSegs) {
		return nil, false
	}
	var params map[string]string
	for i, ps := range patSegs {
		if len(ps) > 2 && strings.HasPrefix(ps, "{") && strings.HasSuffix(ps, "}") {
			if pathSegs[i] == "" {
				return nil, false
			}
			if params == nil {
				params = make(map[string]string)
			}
			params[ps[1:len(ps)-1]] = pathSegs[i]
			continue
		}
		if ps != pathSegs[i] {
			return nil, false
		}
	}
	return params, true
}

func intersects(a, b []string) bool {
	for _, x := range a {
		if containsString(b, x) {
			return true
		}
	}
	return false
}

func containsString(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
