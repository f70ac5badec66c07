package resolve

import (
	"errors"
	"strings"
	"testing"

	apierrors "github.com/apidoorman/doorman-sub003/internal/errors"
	"github.com/apidoorman/doorman-sub003/internal/model"
)

func orderSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []any{"name"},
		"properties": map[string]any{
			"name":  map[string]any{"type": "string"},
			"count": map[string]any{"type": "integer", "minimum": 1},
			"tags": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
			"shipping": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"city": map[string]any{"type": "string"},
				},
			},
		},
	}
}

func TestValidateBodyPasses(t *testing.T) {
	r, _ := newTestResolver(t)
	ep := &model.Endpoint{ValidationSchema: orderSchema()}

	body := []byte(`{"name":"widget","count":2,"tags":["a","b"],"shipping":{"city":"Austin"}}`)
	if err := r.ValidateBody(ep, body); err != nil {
		t.Fatalf("valid body rejected: %v", err)
	}
}

func TestValidateBodyNoSchema(t *testing.T) {
	r, _ := newTestResolver(t)
	if err := r.ValidateBody(&model.Endpoint{}, []byte(`{"anything": true}`)); err != nil {
		t.Fatalf("schemaless endpoint rejected body: %v", err)
	}
}

func TestValidateBodyReportsFieldPath(t *testing.T) {
	r, _ := newTestResolver(t)
	ep := &model.Endpoint{ValidationSchema: orderSchema()}

	tests := []struct {
		name string
		body string
		path string
	}{
		{"missing required", `{"count":2}`, "name"},
		{"wrong type", `{"name":"widget","count":"two"}`, "count:"},
		{"below minimum", `{"name":"widget","count":0}`, "count:"},
		{"array element", `{"name":"widget","tags":["ok",5]}`, "tags.1:"},
		{"nested field", `{"name":"widget","shipping":{"city":9}}`, "shipping.city:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.ValidateBody(ep, []byte(tt.body))
			if !errors.Is(err, apierrors.ErrValidationFailed) {
				t.Fatalf("err = %v, want ErrValidationFailed", err)
			}
			ge, ok := apierrors.IsGatewayError(err)
			if !ok {
				t.Fatalf("not a gateway error: %v", err)
			}
			if !strings.Contains(ge.Details, tt.path) {
				t.Fatalf("details %q do not name %q", ge.Details, tt.path)
			}
		})
	}
}

func TestValidateBodyMalformedJSON(t *testing.T) {
	r, _ := newTestResolver(t)
	ep := &model.Endpoint{ValidationSchema: orderSchema()}
	err := r.ValidateBody(ep, []byte(`{"name": `))
	if !errors.Is(err, apierrors.ErrMalformedBody) {
		t.Fatalf("err = %v, want ErrMalformedBody", err)
	}
}

func TestValidateBodyEmptyAgainstRequired(t *testing.T) {
	r, _ := newTestResolver(t)
	ep := &model.Endpoint{ValidationSchema: orderSchema()}
	if err := r.ValidateBody(ep, nil); !errors.Is(err, apierrors.ErrValidationFailed) {
		t.Fatalf("err = %v, want ErrValidationFailed for an empty body", err)
	}
}

func TestValidateBodyEnumAndPattern(t *testing.T) {
	r, _ := newTestResolver(t)
	ep := &model.Endpoint{ValidationSchema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"status": map[string]any{"enum": []any{"open", "closed"}},
			"sku":    map[string]any{"type": "string", "pattern": "^[A-Z]{3}-[0-9]+$"},
		},
	}}

	if err := r.ValidateBody(ep, []byte(`{"status":"open","sku":"ABC-42"}`)); err != nil {
		t.Fatalf("valid body rejected: %v", err)
	}
	if err := r.ValidateBody(ep, []byte(`{"status":"pending"}`)); !errors.Is(err, apierrors.ErrValidationFailed) {
		t.Fatalf("enum violation err = %v, want ErrValidationFailed", err)
	}
	if err := r.ValidateBody(ep, []byte(`{"sku":"abc"}`)); !errors.Is(err, apierrors.ErrValidationFailed) {
		t.Fatalf("pattern violation err = %v, want ErrValidationFailed", err)
	}
}
