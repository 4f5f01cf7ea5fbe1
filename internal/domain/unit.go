// Package domain holds the gateway's data model: unit names, deployment
// identifiers, directory entries, bindings and the error taxonomy shared by
// the registrar and the router.
package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	// ModuleExtension is appended to a unit name to form the uploaded module filename.
	ModuleExtension = "mjs"
	// ModuleContentType is the content type declared for the uploaded module part.
	ModuleContentType = "application/javascript+module"
)

var unitNamePattern = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

// UnitName is the user-chosen public identifier of a deployed unit.
type UnitName string

// ParseUnitName validates raw and returns it as a UnitName.
func ParseUnitName(raw string) (UnitName, error) {
	name := UnitName(raw)
	if err := name.Validate(); err != nil {
		return "", err
	}
	return name, nil
}

func (n UnitName) Validate() error {
	if n == "" {
		return Validation("name", "unit name is required")
	}
	if !unitNamePattern.MatchString(string(n)) {
		return Validation("name", "unit name must be alphanumeric with hyphens only")
	}
	return nil
}

func (n UnitName) String() string { return string(n) }

// ModuleFilename is the synthetic filename the unit's code is uploaded under.
func (n UnitName) ModuleFilename() string {
	return string(n) + "." + ModuleExtension
}

// DeploymentID is an opaque identifier minted by the namespace backend.
type DeploymentID string

func (id DeploymentID) String() string { return string(id) }

// Entry is one directory mapping.
type Entry struct {
	Name         UnitName
	DeploymentID DeploymentID
	UpdatedAt    time.Time
}

// Credentials authenticate calls to the namespace management API.
type Credentials struct {
	AccountID string
	APIToken  string
}

func (c Credentials) Validate() error {
	if strings.TrimSpace(c.AccountID) == "" {
		return Validation("credentials", "account id is required")
	}
	if strings.TrimSpace(c.APIToken) == "" {
		return Validation("credentials", "api token is required")
	}
	return nil
}

type BindingType string

const (
	BindingPlainText   BindingType = "plain_text"
	BindingKVNamespace BindingType = "kv_namespace"
	BindingR2Bucket    BindingType = "r2_bucket"
)

// Binding declares a resource visible to the deployed unit under Name.
// Exactly one of Text, NamespaceID or BucketName is meaningful, depending on Type.
type Binding struct {
	Type        BindingType `json:"type" yaml:"type"`
	Name        string      `json:"name" yaml:"name"`
	Text        string      `json:"text,omitempty" yaml:"text,omitempty"`
	NamespaceID string      `json:"namespace_id,omitempty" yaml:"namespace_id,omitempty"`
	BucketName  string      `json:"bucket_name,omitempty" yaml:"bucket_name,omitempty"`
}

func (b Binding) Validate() error {
	if strings.TrimSpace(b.Name) == "" {
		return errors.New("binding name is required")
	}
	switch b.Type {
	case BindingPlainText:
	case BindingKVNamespace:
		if strings.TrimSpace(b.NamespaceID) == "" {
			return fmt.Errorf("binding %q: namespace_id is required", b.Name)
		}
	case BindingR2Bucket:
		if strings.TrimSpace(b.BucketName) == "" {
			return fmt.Errorf("binding %q: bucket_name is required", b.Name)
		}
	default:
		return fmt.Errorf("binding %q: unsupported type %q", b.Name, b.Type)
	}
	return nil
}

// ValidateBindings checks each binding and rejects duplicate names.
func ValidateBindings(bindings []Binding) error {
	seen := make(map[string]struct{}, len(bindings))
	for _, b := range bindings {
		if err := b.Validate(); err != nil {
			return Validation("bindings", err.Error())
		}
		if _, ok := seen[b.Name]; ok {
			return Validation("bindings", fmt.Sprintf("duplicate binding name %q", b.Name))
		}
		seen[b.Name] = struct{}{}
	}
	return nil
}
