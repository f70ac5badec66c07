package resolve

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/apidoorman/doorman-sub003/internal/cache"
	"github.com/apidoorman/doorman-sub003/internal/catalog"
	apierrors "github.com/apidoorman/doorman-sub003/internal/errors"
	"github.com/apidoorman/doorman-sub003/internal/model"
	"github.com/apidoorman/doorman-sub003/internal/store"
)

func newTestResolver(t *testing.T) (*Resolver, *catalog.Catalog) {
	t.Helper()
	cat := catalog.New(store.NewMemory(), cache.New(256, time.Minute), 10)
	return New(cat), cat
}

func seedAPI(t *testing.T, cat *catalog.Catalog, name, version string, mut func(*model.API)) {
	t.Helper()
	api := &model.API{
		APIName:    name,
		APIVersion: version,
		APIType:    model.TypeREST,
		APIServers: []string{"http://upstream:8080"},
		Active:     true,
	}
	if mut != nil {
		mut(api)
	}
	if err := cat.CreateAPI(context.Background(), api); err != nil {
		t.Fatalf("seed api %s/%s: %v", name, version, err)
	}
}

func seedEndpoint(t *testing.T, cat *catalog.Catalog, name, version, method, uri string) {
	t.Helper()
	err := cat.CreateEndpoint(context.Background(), &model.Endpoint{
		APIName:        name,
		APIVersion:     version,
		EndpointMethod: method,
		EndpointURI:    uri,
	})
	if err != nil {
		t.Fatalf("seed endpoint %s %s: %v", method, uri, err)
	}
}

func TestParsePath(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		path    string
		version string
		want    *Target
		wantErr *apierrors.GatewayError
	}{
		{
			name: "rest with uri", method: "GET",
			path: "/api/rest/orders/v1/items/42",
			want: &Target{Protocol: "rest", Method: "GET", APIName: "orders", APIVersion: "v1", URI: "/items/42"},
		},
		{
			name: "soap without uri tail", method: "POST",
			path: "/api/soap/billing/v2",
			want: &Target{Protocol: "soap", Method: "POST", APIName: "billing", APIVersion: "v2", URI: "/"},
		},
		{
			name: "graphql version from header", method: "POST",
			path: "/api/graphql/pricing", version: "v1",
			want: &Target{Protocol: "graphql", Method: "POST", APIName: "pricing", APIVersion: "v1", URI: "/graphql"},
		},
		{
			name: "grpc version from header", method: "POST",
			path: "/api/grpc/ledger", version: "v3",
			want: &Target{Protocol: "grpc", Method: "POST", APIName: "ledger", APIVersion: "v3", URI: "/grpc"},
		},
		{
			name: "graphql missing version header", method: "POST",
			path: "/api/graphql/pricing", wantErr: apierrors.ErrMissingVersionHeader,
		},
		{
			name: "rest missing version segment", method: "GET",
			path: "/api/rest/orders", wantErr: apierrors.ErrAPINotFound,
		},
		{
			name: "not a gateway path", method: "GET",
			path: "/platform/users", wantErr: apierrors.ErrAPINotFound,
		},
		{
			name: "unknown protocol", method: "GET",
			path: "/api/ftp/orders/v1/x", wantErr: apierrors.ErrAPINotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePath(tt.method, tt.path, tt.version)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if *got != *tt.want {
				t.Fatalf("target = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestResolveExact(t *testing.T) {
	r, cat := newTestResolver(t)
	ctx := context.Background()
	seedAPI(t, cat, "orders", "v1", nil)
	seedEndpoint(t, cat, "orders", "v1", "GET", "/items")

	res, err := r.Resolve(ctx, &Target{Protocol: "rest", Method: "GET", APIName: "orders", APIVersion: "v1", URI: "/items"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Endpoint.EndpointURI != "/items" || res.API.APIName != "orders" {
		t.Fatalf("unexpected resolution: %+v", res)
	}
	if res.Params != nil {
		t.Fatalf("params = %v, want none for an exact match", res.Params)
	}
}

func TestResolveTemplated(t *testing.T) {
	r, cat := newTestResolver(t)
	ctx := context.Background()
	seedAPI(t, cat, "orders", "v1", nil)
	seedEndpoint(t, cat, "orders", "v1", "GET", "/items/{item_id}/notes/{note_id}")

	res, err := r.Resolve(ctx, &Target{Protocol: "rest", Method: "GET", APIName: "orders", APIVersion: "v1", URI: "/items/42/notes/7"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Endpoint.EndpointURI != "/items/{item_id}/notes/{note_id}" {
		t.Fatalf("endpoint = %q", res.Endpoint.EndpointURI)
	}
	if res.Params["item_id"] != "42" || res.Params["note_id"] != "7" {
		t.Fatalf("params = %v", res.Params)
	}

	// Literal segments still have to line up.
	_, err = r.Resolve(ctx, &Target{Protocol: "rest", Method: "GET", APIName: "orders", APIVersion: "v1", URI: "/items/42/tags/7"})
	if !errors.Is(err, apierrors.ErrEndpointNotFound) {
		t.Fatalf("err = %v, want ErrEndpointNotFound", err)
	}
}

func TestResolveTemplatedSeesNewEndpoints(t *testing.T) {
	r, cat := newTestResolver(t)
	ctx := context.Background()
	seedAPI(t, cat, "orders", "v1", nil)
	seedEndpoint(t, cat, "orders", "v1", "GET", "/items/{id}")

	if _, err := r.Resolve(ctx, &Target{Protocol: "rest", Method: "GET", APIName: "orders", APIVersion: "v1", URI: "/items/1"}); err != nil {
		t.Fatal(err)
	}
	seedEndpoint(t, cat, "orders", "v1", "DELETE", "/items/{id}")
	if _, err := r.Resolve(ctx, &Target{Protocol: "rest", Method: "DELETE", APIName: "orders", APIVersion: "v1", URI: "/items/1"}); err != nil {
		t.Fatalf("new templated endpoint not visible: %v", err)
	}
}

func TestResolveMisses(t *testing.T) {
	r, cat := newTestResolver(t)
	ctx := context.Background()
	seedAPI(t, cat, "orders", "v1", nil)
	seedAPI(t, cat, "parked", "v1", func(a *model.API) { a.Active = false })
	seedEndpoint(t, cat, "orders", "v1", "GET", "/items")

	_, err := r.Resolve(ctx, &Target{Method: "GET", APIName: "ghost", APIVersion: "v1", URI: "/items"})
	if !errors.Is(err, apierrors.ErrAPINotFound) {
		t.Fatalf("unknown api err = %v, want ErrAPINotFound", err)
	}
	_, err = r.Resolve(ctx, &Target{Method: "GET", APIName: "parked", APIVersion: "v1", URI: "/items"})
	if !errors.Is(err, apierrors.ErrAPINotFound) {
		t.Fatalf("inactive api err = %v, want ErrAPINotFound", err)
	}
	_, err = r.Resolve(ctx, &Target{Method: "DELETE", APIName: "orders", APIVersion: "v1", URI: "/items"})
	if !errors.Is(err, apierrors.ErrEndpointNotFound) {
		t.Fatalf("missing endpoint err = %v, want ErrEndpointNotFound", err)
	}
}

func TestResolveGraphQLConvention(t *testing.T) {
	r, cat := newTestResolver(t)
	ctx := context.Background()
	seedAPI(t, cat, "pricing", "v1", func(a *model.API) { a.APIType = model.TypeGraphQL })
	seedEndpoint(t, cat, "pricing", "v1", "POST", "/graphql")

	target, err := ParsePath("POST", "/api/graphql/pricing", "v1")
	if err != nil {
		t.Fatal(err)
	}
	res, err := r.Resolve(ctx, target)
	if err != nil {
		t.Fatal(err)
	}
	if res.Endpoint.EndpointURI != "/graphql" {
		t.Fatalf("endpoint = %q", res.Endpoint.EndpointURI)
	}
}

func seedCaller(t *testing.T, cat *catalog.Catalog, username string, groups []string) *model.User {
	t.Helper()
	u := &model.User{
		Username: username,
		Email:    username + "@example.com",
		Password: "$2a$10$hash",
		Role:     "viewer",
		Groups:   groups,
		Active:   true,
	}
	if err := cat.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("seed caller: %v", err)
	}
	return u
}

func TestAuthorize(t *testing.T) {
	r, cat := newTestResolver(t)
	ctx := context.Background()
	seedAPI(t, cat, "orders", "v1", nil)
	seedAPI(t, cat, "open", "v1", func(a *model.API) { a.Public = true })

	alice := seedCaller(t, cat, "alice", []string{"ALL"})

	t.Run("public skips every check", func(t *testing.T) {
		api, _ := cat.APIByKey(ctx, "open", "v1")
		if err := r.Authorize(ctx, nil, api); err != nil {
			t.Fatalf("anonymous caller on public api: %v", err)
		}
	})

	t.Run("subscription required", func(t *testing.T) {
		api, _ := cat.APIByKey(ctx, "orders", "v1")
		if err := r.Authorize(ctx, alice, api); !errors.Is(err, apierrors.ErrNotSubscribed) {
			t.Fatalf("err = %v, want ErrNotSubscribed", err)
		}
		if err := cat.Subscribe(ctx, "alice", "orders", "v1"); err != nil {
			t.Fatal(err)
		}
		if err := r.Authorize(ctx, alice, api); err != nil {
			t.Fatalf("subscribed caller rejected: %v", err)
		}
	})

	t.Run("group grant bypasses subscription", func(t *testing.T) {
		if err := cat.CreateGroup(ctx, &model.Group{
			GroupName: "partners",
			APIAccess: []string{"orders/v1"},
		}); err != nil {
			t.Fatal(err)
		}
		bob := seedCaller(t, cat, "bob", []string{"partners"})
		api, _ := cat.APIByKey(ctx, "orders", "v1")
		if err := r.Authorize(ctx, bob, api); err != nil {
			t.Fatalf("granted caller rejected: %v", err)
		}
	})

	t.Run("allow lists narrow access", func(t *testing.T) {
		seedAPI(t, cat, "internal", "v1", func(a *model.API) {
			a.APIAllowedGroups = []string{"ops"}
		})
		if err := cat.Subscribe(ctx, "alice", "internal", "v1"); err != nil {
			t.Fatal(err)
		}
		api, _ := cat.APIByKey(ctx, "internal", "v1")
		if err := r.Authorize(ctx, alice, api); !errors.Is(err, apierrors.ErrNotSubscribed) {
			t.Fatalf("err = %v, want ErrNotSubscribed for group allow list", err)
		}

		seedAPI(t, cat, "admin-only", "v1", func(a *model.API) {
			a.APIAllowedRoles = []string{"admin"}
		})
		if err := cat.Subscribe(ctx, "alice", "admin-only", "v1"); err != nil {
			t.Fatal(err)
		}
		api, _ = cat.APIByKey(ctx, "admin-only", "v1")
		if err := r.Authorize(ctx, alice, api); !errors.Is(err, apierrors.ErrNotSubscribed) {
			t.Fatalf("err = %v, want ErrNotSubscribed for role allow list", err)
		}
	})
}
