package catalog

import (
	"context"
	"errors"
	"strings"
	"testing"

	apierrors "github.com/apidoorman/doorman-sub003/internal/errors"
	"github.com/apidoorman/doorman-sub003/internal/model"
	"github.com/apidoorman/doorman-sub003/internal/store"
)

func TestRoutingLifecycle(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	routing := &model.Routing{
		RoutingName:    "eu-tenant",
		ClientKey:      "ck-secret-1",
		RoutingServers: []string{"http://eu-1:8080", "http://eu-2:8080"},
	}
	if err := c.CreateRouting(ctx, routing); err != nil {
		t.Fatal(err)
	}

	err := c.CreateRouting(ctx, &model.Routing{RoutingName: "dup", ClientKey: "ck-secret-1"})
	if !errors.Is(err, apierrors.ErrResourceExists) {
		t.Fatalf("duplicate client key: got %v", err)
	}
	// Client keys are credentials and must not leak into error details.
	if ge, ok := apierrors.IsGatewayError(err); ok && strings.Contains(ge.Details, "ck-secret-1") {
		t.Errorf("client key echoed in details: %q", ge.Details)
	}

	got, err := c.RoutingByClientKey(ctx, "ck-secret-1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || len(got.RoutingServers) != 2 {
		t.Fatalf("unexpected routing: %+v", got)
	}

	if err := c.UpdateRouting(ctx, "ck-secret-1", store.Document{
		"routing_description": "EU tenants",
		"client_key":          "ck-hijacked",
	}); err != nil {
		t.Fatal(err)
	}
	got, err = c.RoutingByClientKey(ctx, "ck-secret-1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.RoutingDescription != "EU tenants" {
		t.Fatalf("stale routing after update: %+v", got)
	}
	if hijacked, _ := c.RoutingByClientKey(ctx, "ck-hijacked"); hijacked != nil {
		t.Error("client key rename smuggled through update")
	}

	if err := c.DeleteRouting(ctx, "ck-secret-1"); err != nil {
		t.Fatal(err)
	}
	if err := c.DeleteRouting(ctx, "ck-secret-1"); !errors.Is(err, apierrors.ErrResourceNotFound) {
		t.Errorf("second delete: got %v", err)
	}
}

func TestAdvanceRoutingCursor(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	if err := c.CreateRouting(ctx, &model.Routing{
		RoutingName:    "eu-tenant",
		ClientKey:      "ck-1",
		RoutingServers: []string{"http://a", "http://b", "http://c"},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.RoutingByClientKey(ctx, "ck-1"); err != nil {
		t.Fatal(err)
	}

	if err := c.AdvanceRoutingCursor(ctx, "ck-1", 2); err != nil {
		t.Fatal(err)
	}
	got, err := c.RoutingByClientKey(ctx, "ck-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ServerIndex != 2 {
		t.Errorf("server index = %d, want 2", got.ServerIndex)
	}

	if err := c.AdvanceRoutingCursor(ctx, "ghost", 1); !errors.Is(err, apierrors.ErrResourceNotFound) {
		t.Errorf("advance unknown routing: got %v", err)
	}
}
