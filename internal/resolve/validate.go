package resolve

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	apierrors "github.com/apidoorman/doorman-sub003/internal/errors"
	"github.com/apidoorman/doorman-sub003/internal/model"
)

var detailPrinter = message.NewPrinter(language.English)

// schemaCache holds compiled endpoint validation schemas keyed by a hash
// of the schema document, so an endpoint update recompiles and a repeat
// request does not.
type schemaCache struct {
	mu       sync.RWMutex
	compiled map[uint64]*jsonschema.Schema
}

func newSchemaCache() *schemaCache {
	return &schemaCache{compiled: make(map[uint64]*jsonschema.Schema)}
}

func (sc *schemaCache) get(key uint64) (*jsonschema.Schema, bool) {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	s, ok := sc.compiled[key]
	return s, ok
}

func (sc *schemaCache) put(key uint64, s *jsonschema.Schema) {
	sc.mu.Lock()
	sc.compiled[key] = s
	sc.mu.Unlock()
}

// ValidateBody checks a request body against the endpoint's validation
// schema. Endpoints without a schema accept anything; with one, a body
// that fails reports the first offending field path.
func (r *Resolver) ValidateBody(ep *model.Endpoint, body []byte) error {
	if len(ep.ValidationSchema) == 0 {
		return nil
	}
	raw, err := json.Marshal(ep.ValidationSchema)
	if err != nil {
		return apierrors.ErrUnexpected.Wrap(fmt.Errorf("marshal validation schema: %w", err))
	}
	key := xxhash.Sum64(raw)
	schema, ok := r.schemas.get(key)
	if !ok {
		schema, err = compileSchema(raw)
		if err != nil {
			return apierrors.ErrUnexpected.Wrap(fmt.Errorf("compile validation schema: %w", err))
		}
		r.schemas.put(key, schema)
	}

	var data any
	if len(body) > 0 {
		if err := json.Unmarshal(body, &data); err != nil {
			return apierrors.ErrMalformedBody.WithDetails(err.Error())
		}
	}
	if err := schema.Validate(data); err != nil {
		return apierrors.ErrValidationFailed.WithDetails(validationDetail(err))
	}
	return nil
}

func compileSchema(raw []byte) (*jsonschema.Schema, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, err
	}
	return c.Compile("schema.json")
}

// validationDetail walks to the first leaf failure and names the field.
func validationDetail(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	path := strings.Join(ve.InstanceLocation, ".")
	if path == "" {
		path = "body"
	}
	return path + ": " + ve.ErrorKind.LocalizedString(detailPrinter)
}
