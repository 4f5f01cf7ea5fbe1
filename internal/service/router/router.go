// Package router is the data plane of the gateway: it resolves the unit named
// in the request path and forwards the request to its deployment.
package router

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/animus-labs/dispatch-gateway/internal/dispatch"
	"github.com/animus-labs/dispatch-gateway/internal/domain"
	"github.com/animus-labs/dispatch-gateway/internal/platform/metrics"
	"github.com/animus-labs/dispatch-gateway/internal/repo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const DefaultPrefix = "/user-workers/"

type Recorder interface {
	RecordDispatch(outcome string, elapsed time.Duration)
}

type Options struct {
	// Prefix is the path prefix that precedes the unit name. It always ends in "/".
	Prefix  string
	Tracer  trace.Tracer
	Metrics Recorder
}

type Service struct {
	logger     *slog.Logger
	directory  repo.DirectoryStore
	dispatcher dispatch.Dispatcher
	prefix     string
	tracer     trace.Tracer
	metrics    Recorder
}

func New(logger *slog.Logger, directory repo.DirectoryStore, dispatcher dispatch.Dispatcher, opts Options) (*Service, error) {
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if directory == nil {
		return nil, errors.New("directory store is required")
	}
	if dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	prefix, err := NormalizePrefix(opts.Prefix)
	if err != nil {
		return nil, err
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("router")
	}
	return &Service{
		logger:     logger,
		directory:  directory,
		dispatcher: dispatcher,
		prefix:     prefix,
		tracer:     tracer,
		metrics:    opts.Metrics,
	}, nil
}

// NormalizePrefix returns prefix with exactly one leading and one trailing slash.
func NormalizePrefix(prefix string) (string, error) {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return DefaultPrefix, nil
	}
	if strings.ContainsAny(prefix, " ?#{}") {
		return "", errors.New("dispatch prefix contains invalid characters")
	}
	return "/" + prefix + "/", nil
}

func (s *Service) Prefix() string {
	return s.prefix
}

// ExtractName returns the first path segment after prefix, still escaped.
// It returns "" when the segment is empty or path lies outside prefix.
func ExtractName(prefix, escapedPath string) string {
	rest, ok := strings.CutPrefix(escapedPath, prefix)
	if !ok {
		return ""
	}
	name, _, _ := strings.Cut(rest, "/")
	return name
}

// Route forwards r to the deployment registered for the unit named in its
// path. On success the unit's response has been written to w; on failure
// nothing has been written and the returned *domain.Error is classified as
// ErrMissingUnitName, ErrUnitNotFound or ErrDispatchFailed.
func (s *Service) Route(w http.ResponseWriter, r *http.Request) (err error) {
	start := time.Now()
	raw := ExtractName(s.prefix, r.URL.EscapedPath())

	ctx, span := s.tracer.Start(r.Context(), "router.route", trace.WithAttributes(attribute.String("unit", raw)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, domain.Code(err))
		}
		span.End()
		s.recordOutcome(err, time.Since(start))
	}()

	if raw == "" {
		return &domain.Error{Kind: domain.ErrMissingUnitName, Step: domain.StepExtract}
	}
	name := domain.UnitName(raw)
	if name.Validate() != nil {
		// Nothing with this name can have been registered.
		return &domain.Error{Kind: domain.ErrUnitNotFound, Step: domain.StepExtract, Unit: name}
	}

	entry, err := s.directory.Get(ctx, name)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return &domain.Error{Kind: domain.ErrUnitNotFound, Step: domain.StepLookup, Unit: name}
		}
		return s.fail(r, name, "", domain.ErrDispatchFailed, domain.StepLookup, err)
	}
	span.SetAttributes(attribute.String("deployment_id", entry.DeploymentID.String()))

	target, err := s.dispatcher.Resolve(ctx, entry.DeploymentID)
	if err != nil {
		if errors.Is(err, dispatch.ErrTargetNotFound) {
			return s.fail(r, name, entry.DeploymentID, domain.ErrUnitNotFound, domain.StepResolve, err)
		}
		return s.fail(r, name, entry.DeploymentID, domain.ErrDispatchFailed, domain.StepResolve, err)
	}

	if err := target.Forward(w, r.WithContext(ctx)); err != nil {
		if errors.Is(err, dispatch.ErrTargetNotFound) {
			return s.fail(r, name, entry.DeploymentID, domain.ErrUnitNotFound, domain.StepForward, err)
		}
		return s.fail(r, name, entry.DeploymentID, domain.ErrDispatchFailed, domain.StepForward, err)
	}
	return nil
}

func (s *Service) fail(r *http.Request, name domain.UnitName, id domain.DeploymentID, kind error, step string, cause error) error {
	level := slog.LevelError
	if errors.Is(kind, domain.ErrUnitNotFound) {
		level = slog.LevelWarn
	}
	s.logger.Log(r.Context(), level, "dispatch failed",
		"request_id", r.Header.Get("X-Request-Id"),
		"unit", name.String(),
		"deployment_id", id.String(),
		"step", step,
		"error", cause,
	)
	return &domain.Error{Kind: kind, Step: step, Unit: name, DeploymentID: id, Err: cause}
}

func (s *Service) recordOutcome(err error, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}
	outcome := metrics.OutcomeSuccess
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrUnitNotFound), errors.Is(err, domain.ErrMissingUnitName):
		outcome = metrics.OutcomeNotFound
	default:
		outcome = metrics.OutcomeFailed
	}
	s.metrics.RecordDispatch(outcome, elapsed)
}
