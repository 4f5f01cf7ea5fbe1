package registrar

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/animus-labs/dispatch-gateway/internal/domain"
	"github.com/animus-labs/dispatch-gateway/internal/platform/auditlog"
	"github.com/animus-labs/dispatch-gateway/internal/platform/metrics"
	"github.com/animus-labs/dispatch-gateway/internal/platform/workers"
	"github.com/animus-labs/dispatch-gateway/internal/repo"
	"github.com/animus-labs/dispatch-gateway/internal/storage/sourcearchive"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NamespaceClient talks to the namespace management API on behalf of one
// set of credentials. CreateNamespace returns workers.ErrAlreadyExists when
// the namespace is already present.
type NamespaceClient interface {
	NamespaceExists(ctx context.Context, name string) (bool, error)
	CreateNamespace(ctx context.Context, name string) error
	UpsertScript(ctx context.Context, upload workers.ScriptUpload) (workers.ScriptResult, error)
}

type ClientFactory func(creds domain.Credentials) (NamespaceClient, error)

type Recorder interface {
	RecordRegistration(outcome string)
}

type Request struct {
	Namespace   string
	Unit        domain.UnitName
	Code        []byte
	Bindings    []domain.Binding
	Credentials domain.Credentials
	Audit       AuditInfo
}

type AuditInfo struct {
	RequestID  string
	RemoteAddr string
	UserAgent  string
}

type Options struct {
	// Archive, when set, receives a copy of every successfully uploaded revision.
	Archive sourcearchive.Archive
	Audit   auditlog.Recorder
	Tracer  trace.Tracer
	Metrics Recorder
}

type Service struct {
	logger    *slog.Logger
	clients   ClientFactory
	directory repo.DirectoryStore
	archive   sourcearchive.Archive
	audit     auditlog.Recorder
	tracer    trace.Tracer
	metrics   Recorder
}

func New(logger *slog.Logger, clients ClientFactory, directory repo.DirectoryStore, opts Options) (*Service, error) {
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if clients == nil {
		return nil, errors.New("namespace client factory is required")
	}
	if directory == nil {
		return nil, errors.New("directory store is required")
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("registrar")
	}
	return &Service{
		logger:    logger,
		clients:   clients,
		directory: directory,
		archive:   opts.Archive,
		audit:     opts.Audit,
		tracer:    tracer,
		metrics:   opts.Metrics,
	}, nil
}

// Register deploys req.Code as req.Unit and records the deployment in the
// directory. Failures are *domain.Error values classified by their Kind.
func (s *Service) Register(ctx context.Context, req Request) (id domain.DeploymentID, err error) {
	ctx, span := s.tracer.Start(ctx, "registrar.register", trace.WithAttributes(
		attribute.String("unit", req.Unit.String()),
		attribute.String("namespace", req.Namespace),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, domain.Code(err))
		} else {
			span.SetAttributes(attribute.String("deployment_id", id.String()))
		}
		span.End()
		s.recordOutcome(err)
	}()

	if err := validate(req); err != nil {
		return "", err
	}

	defer func() {
		s.auditRegistration(ctx, req, id, err)
	}()

	client, err := s.clients(req.Credentials)
	if err != nil {
		return "", s.fail(req, domain.ErrNamespaceUnavailable, domain.StepEnsureNS, "", err)
	}

	if err := s.ensureNamespace(ctx, client, req); err != nil {
		return "", err
	}
	span.AddEvent("namespace_ready")

	result, err := client.UpsertScript(ctx, workers.ScriptUpload{
		Namespace: req.Namespace,
		Name:      req.Unit,
		Code:      req.Code,
		Bindings:  req.Bindings,
	})
	if err != nil {
		return "", s.fail(req, domain.ErrDeployFailed, domain.StepUpload, "", err)
	}
	id = domain.DeploymentID(strings.TrimSpace(result.ID))
	if id == "" {
		id = domain.DeploymentID(req.Unit)
	}
	span.AddEvent("uploaded", trace.WithAttributes(attribute.String("deployment_id", id.String())))

	s.archiveSource(ctx, req)

	// The unit is live remotely; record it even if the caller went away.
	if err := s.directory.Put(context.WithoutCancel(ctx), req.Unit, id); err != nil {
		return "", s.fail(req, domain.ErrDirectoryWriteFailed, domain.StepDirectoryWrite, id, err)
	}
	span.AddEvent("directory_written")

	s.logger.Info("unit registered",
		"request_id", req.Audit.RequestID,
		"unit", req.Unit.String(),
		"namespace", req.Namespace,
		"deployment_id", id.String(),
	)
	return id, nil
}

// Repair writes name -> id to the directory without touching the namespace.
// It completes a registration that failed with ErrDirectoryWriteFailed.
func (s *Service) Repair(ctx context.Context, name domain.UnitName, id domain.DeploymentID, audit AuditInfo) error {
	if err := name.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(id.String()) == "" {
		return domain.Validation("deployment_id", "deployment id is required")
	}
	if err := s.directory.Put(ctx, name, id); err != nil {
		derr := &domain.Error{
			Kind:         domain.ErrDirectoryWriteFailed,
			Step:         domain.StepDirectoryWrite,
			Unit:         name,
			DeploymentID: id,
			Err:          err,
		}
		s.logger.Error("directory repair failed",
			"request_id", audit.RequestID,
			"unit", name.String(),
			"deployment_id", id.String(),
			"error", err,
		)
		return derr
	}
	s.record(ctx, auditlog.UnitEvent(auditlog.ActionUnitRepair, name.String(), audit.RequestID, audit.RemoteAddr, audit.UserAgent, map[string]any{
		"deployment_id": id.String(),
	}))
	s.logger.Info("directory repaired", "request_id", audit.RequestID, "unit", name.String(), "deployment_id", id.String())
	return nil
}

func validate(req Request) error {
	if err := req.Unit.Validate(); err != nil {
		return err
	}
	if len(req.Code) == 0 {
		return domain.Validation("code", "code is required")
	}
	if strings.TrimSpace(req.Namespace) == "" {
		return domain.Validation("namespace", "namespace is required")
	}
	if err := req.Credentials.Validate(); err != nil {
		return err
	}
	return domain.ValidateBindings(req.Bindings)
}

func (s *Service) ensureNamespace(ctx context.Context, client NamespaceClient, req Request) error {
	exists, err := client.NamespaceExists(ctx, req.Namespace)
	if err != nil {
		return s.fail(req, domain.ErrNamespaceUnavailable, domain.StepEnsureNS, "", err)
	}
	if exists {
		return nil
	}
	err = client.CreateNamespace(ctx, req.Namespace)
	if err == nil || errors.Is(err, workers.ErrAlreadyExists) {
		return nil
	}
	return s.fail(req, domain.ErrNamespaceCreateFailed, domain.StepCreateNS, "", err)
}

func (s *Service) archiveSource(ctx context.Context, req Request) {
	if s.archive == nil {
		return
	}
	rev, err := s.archive.Put(ctx, req.Unit, req.Code)
	if err != nil {
		s.logger.Warn("source archive failed",
			"request_id", req.Audit.RequestID,
			"unit", req.Unit.String(),
			"error", err,
		)
		return
	}
	s.logger.Debug("source archived", "unit", req.Unit.String(), "key", rev.Key, "sha256", rev.SHA256)
}

func (s *Service) fail(req Request, kind error, step string, id domain.DeploymentID, cause error) error {
	derr := &domain.Error{
		Kind:         kind,
		Step:         step,
		Unit:         req.Unit,
		Namespace:    req.Namespace,
		DeploymentID: id,
		Err:          cause,
	}
	attrs := []any{
		"request_id", req.Audit.RequestID,
		"unit", req.Unit.String(),
		"namespace", req.Namespace,
		"step", step,
		"error", cause,
	}
	if id != "" {
		attrs = append(attrs, "deployment_id", id.String())
	}
	s.logger.Error("registration failed", attrs...)
	return derr
}

func (s *Service) auditRegistration(ctx context.Context, req Request, id domain.DeploymentID, err error) {
	action := auditlog.ActionUnitRegister
	payload := map[string]any{
		"namespace": req.Namespace,
		"code_size": len(req.Code),
		"bindings":  len(req.Bindings),
	}
	if err != nil {
		action = auditlog.ActionUnitRegisterFailed
		payload["error"] = domain.Code(err)
		var derr *domain.Error
		if errors.As(err, &derr) {
			payload["step"] = derr.Step
		}
		if failedID, ok := domain.DeploymentIDOf(err); ok {
			payload["deployment_id"] = failedID.String()
		}
	} else {
		payload["deployment_id"] = id.String()
	}
	s.record(ctx, auditlog.UnitEvent(action, req.Unit.String(), req.Audit.RequestID, req.Audit.RemoteAddr, req.Audit.UserAgent, payload))
}

func (s *Service) record(ctx context.Context, event auditlog.Event) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(context.WithoutCancel(ctx), event); err != nil {
		s.logger.Warn("audit write failed", "action", event.Action, "unit", event.ResourceID, "error", err)
	}
}

func (s *Service) recordOutcome(err error) {
	if s.metrics == nil {
		return
	}
	switch {
	case err == nil:
		s.metrics.RecordRegistration(metrics.OutcomeSuccess)
	case domain.IsClientFault(err):
		s.metrics.RecordRegistration(metrics.OutcomeRejected)
	default:
		s.metrics.RecordRegistration(metrics.OutcomeFailed)
	}
}
