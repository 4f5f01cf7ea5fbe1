package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation            = errors.New("validation failed")
	ErrNamespaceUnavailable  = errors.New("namespace unavailable")
	ErrNamespaceCreateFailed = errors.New("namespace create failed")
	ErrDeployFailed          = errors.New("deploy failed")
	ErrDirectoryWriteFailed  = errors.New("directory write failed")
	ErrMissingUnitName       = errors.New("unit name is required")
	ErrUnitNotFound          = errors.New("unit not found")
	ErrDispatchFailed        = errors.New("dispatch failed")
)

// Steps recorded on Error for diagnostics.
const (
	StepValidate       = "validate"
	StepEnsureNS       = "ensure_namespace"
	StepCreateNS       = "create_namespace"
	StepUpload         = "upload"
	StepDirectoryWrite = "directory_write"
	StepExtract        = "extract"
	StepLookup         = "lookup"
	StepResolve        = "resolve"
	StepForward        = "forward"
)

// Error is the structured failure returned by the registrar and the router.
// Kind is one of the Err* sentinels; Err is the underlying cause, if any.
type Error struct {
	Kind         error
	Step         string
	Unit         UnitName
	Namespace    string
	DeploymentID DeploymentID
	Field        string
	Reason       string
	Err          error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Field != "" {
		fmt.Fprintf(&b, " (%s)", e.Field)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Unit != "" {
		fmt.Fprintf(&b, " unit=%s", e.Unit)
	}
	if e.Step != "" {
		fmt.Fprintf(&b, " step=%s", e.Step)
	}
	if e.DeploymentID != "" {
		fmt.Fprintf(&b, " deployment_id=%s", e.DeploymentID)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Validation builds an ErrValidation failure for field.
func Validation(field, reason string) *Error {
	return &Error{Kind: ErrValidation, Step: StepValidate, Field: field, Reason: reason}
}

// IsClientFault reports whether err is caused by the caller rather than a backend.
func IsClientFault(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrMissingUnitName) ||
		errors.Is(err, ErrUnitNotFound)
}

// DeploymentIDOf extracts the deployment id carried by err, if any.
func DeploymentIDOf(err error) (DeploymentID, bool) {
	var derr *Error
	if errors.As(err, &derr) && derr.DeploymentID != "" {
		return derr.DeploymentID, true
	}
	return "", false
}

// Code maps err to the stable error code exposed to HTTP clients.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation_failed"
	case errors.Is(err, ErrMissingUnitName):
		return "missing_unit_name"
	case errors.Is(err, ErrUnitNotFound):
		return "unit_not_found"
	case errors.Is(err, ErrNamespaceUnavailable):
		return "namespace_unavailable"
	case errors.Is(err, ErrNamespaceCreateFailed):
		return "namespace_create_failed"
	case errors.Is(err, ErrDeployFailed):
		return "deploy_failed"
	case errors.Is(err, ErrDirectoryWriteFailed):
		return "directory_write_failed"
	case errors.Is(err, ErrDispatchFailed):
		return "dispatch_failed"
	default:
		return "internal_error"
	}
}
