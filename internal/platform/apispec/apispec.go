// Package apispec embeds the gateway's OpenAPI description and validates
// request bodies against its component schemas.
package apispec

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/animus-labs/dispatch-gateway/internal/domain"
	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed openapi.yaml
var rawSpec []byte

const (
	SchemaRegisterRequest = "RegisterRequest"
	SchemaRepairRequest   = "RepairRequest"
)

type Spec struct {
	doc *openapi3.T
	raw []byte
}

// Load parses and validates the embedded document.
func Load(ctx context.Context) (*Spec, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(rawSpec)
	if err != nil {
		return nil, fmt.Errorf("load openapi: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("validate openapi: %w", err)
	}
	return &Spec{doc: doc, raw: rawSpec}, nil
}

func (s *Spec) Raw() []byte {
	return s.raw
}

// ValidateJSON checks body against the named component schema. Failures are
// domain validation errors naming the offending field.
func (s *Spec) ValidateJSON(schemaName string, body []byte) error {
	if s == nil || s.doc == nil || s.doc.Components == nil {
		return errors.New("openapi spec not loaded")
	}
	ref, ok := s.doc.Components.Schemas[schemaName]
	if !ok || ref == nil || ref.Value == nil {
		return fmt.Errorf("schema %s not defined", schemaName)
	}

	var value any
	if err := json.Unmarshal(body, &value); err != nil {
		return domain.Validation("body", "invalid json")
	}
	if err := ref.Value.VisitJSON(value); err != nil {
		field := "body"
		reason := err.Error()
		var schemaErr *openapi3.SchemaError
		if errors.As(err, &schemaErr) {
			if ptr := schemaErr.JSONPointer(); len(ptr) > 0 {
				field = strings.Join(ptr, ".")
			}
			reason = schemaErr.Reason
		}
		return domain.Validation(field, reason)
	}
	return nil
}

func (s *Spec) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(s.raw)
	})
}
