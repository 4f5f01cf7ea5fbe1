package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/animus-labs/dispatch-gateway/internal/bindings"
	"github.com/animus-labs/dispatch-gateway/internal/domain"
	"github.com/animus-labs/dispatch-gateway/internal/platform/apispec"
	"github.com/animus-labs/dispatch-gateway/internal/platform/httpserver"
	"github.com/animus-labs/dispatch-gateway/internal/platform/metrics"
	"github.com/animus-labs/dispatch-gateway/internal/repo"
	"github.com/animus-labs/dispatch-gateway/internal/service/registrar"
	"github.com/animus-labs/dispatch-gateway/internal/service/router"
	"github.com/animus-labs/dispatch-gateway/internal/storage/sourcearchive"
)

const serviceName = "gateway"

type gatewayAPI struct {
	logger      *slog.Logger
	registrar   *registrar.Service
	router      *router.Service
	directory   repo.DirectoryStore
	archive     sourcearchive.Archive
	spec        *apispec.Spec
	bindings    *bindings.Source
	metrics     *metrics.Metrics
	readiness   []httpserver.ReadinessCheck
	namespace   string
	credentials domain.Credentials
	corsOrigin  string
	maxBody     int64
}

type registerRequest struct {
	Name     string            `json:"name"`
	Code     string            `json:"code"`
	Bindings *[]domain.Binding `json:"bindings,omitempty"`
}

type registerResponse struct {
	Name         string `json:"name"`
	DeploymentID string `json:"deployment_id"`
	URL          string `json:"url"`
}

type repairRequest struct {
	DeploymentID string `json:"deployment_id"`
}

type unitEntry struct {
	Name         string    `json:"name"`
	DeploymentID string    `json:"deployment_id"`
	URL          string    `json:"url"`
	UpdatedAt    time.Time `json:"updated_at,omitzero"`
}

func (api *gatewayAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", httpserver.Healthz(serviceName))
	mux.HandleFunc("/readyz", httpserver.ReadyzWithChecks(serviceName, api.readiness...))
	if api.metrics != nil {
		mux.Handle("GET /metrics", api.metrics.Handler())
	}
	mux.Handle("GET /openapi.yaml", api.spec.Handler())

	mux.HandleFunc("POST /create-worker", api.handleCreateWorker)
	mux.HandleFunc(api.router.Prefix(), api.handleDispatch)

	mux.HandleFunc("GET /{$}", api.handleListUnits)
	mux.HandleFunc("GET /units", api.handleListUnits)
	mux.HandleFunc("PUT /units/{name}/deployment", api.handleRepairUnit)
	mux.HandleFunc("GET /units/{name}/source", api.handleGetSource)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		api.writeError(w, r, http.StatusNotFound, "not_found")
	})
}

// handler returns the fully wrapped gateway handler.
func (api *gatewayAPI) handler() http.Handler {
	mux := http.NewServeMux()
	api.register(mux)
	var observers []httpserver.Observer
	if api.metrics != nil {
		observers = append(observers, api.metrics.ObserveHTTP)
	}
	return httpserver.Wrap(api.logger, serviceName, api.withCORS(mux), observers...)
}

// withCORS answers every preflight request directly.
func (api *gatewayAPI) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", api.corsOrigin)
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusNoContent)
	})
}

func (api *gatewayAPI) handleCreateWorker(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, api.maxBody)

	req, status, code := api.parseRegisterRequest(r)
	if code != "" {
		api.writeError(w, r, status, code)
		return
	}
	unitBindings := api.bindings.Current()
	if req.Bindings != nil {
		unitBindings = *req.Bindings
	}

	requestID, _ := httpserver.RequestIDFromContext(r.Context())
	id, err := api.registrar.Register(r.Context(), registrar.Request{
		Namespace:   api.namespace,
		Unit:        domain.UnitName(req.Name),
		Code:        []byte(req.Code),
		Bindings:    unitBindings,
		Credentials: api.credentials,
		Audit: registrar.AuditInfo{
			RequestID:  requestID,
			RemoteAddr: r.RemoteAddr,
			UserAgent:  r.UserAgent(),
		},
	})
	if err != nil {
		api.writeDomainError(w, r, err)
		return
	}

	w.Header().Set("Access-Control-Allow-Origin", api.corsOrigin)
	api.writeJSON(w, http.StatusCreated, registerResponse{
		Name:         req.Name,
		DeploymentID: id.String(),
		URL:          api.router.Prefix() + req.Name,
	})
}

// parseRegisterRequest returns a non-empty error code when the request
// cannot be turned into a registration.
func (api *gatewayAPI) parseRegisterRequest(r *http.Request) (registerRequest, int, string) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return registerRequest{}, http.StatusBadRequest, "unsupported_content_type"
	}

	switch mediaType {
	case "application/json":
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return registerRequest{}, bodyErrorStatus(err), bodyErrorCode(err)
		}
		if err := api.spec.ValidateJSON(apispec.SchemaRegisterRequest, body); err != nil {
			if errors.Is(err, domain.ErrValidation) {
				return registerRequest{}, http.StatusBadRequest, domain.Code(err)
			}
			api.logger.Error("schema validation unavailable", "error", err)
			return registerRequest{}, http.StatusInternalServerError, "internal_error"
		}
		var req registerRequest
		if err := decodeJSON(bytes.NewReader(body), &req); err != nil {
			return registerRequest{}, http.StatusBadRequest, "invalid_json"
		}
		return req, 0, ""
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return registerRequest{}, bodyErrorStatus(err), bodyErrorCode(err)
		}
		return registerRequest{Name: r.PostFormValue("workerName"), Code: r.PostFormValue("workerCode")}, 0, ""
	case "multipart/form-data":
		if err := r.ParseMultipartForm(api.maxBody); err != nil {
			return registerRequest{}, bodyErrorStatus(err), bodyErrorCode(err)
		}
		req := registerRequest{Name: r.FormValue("workerName"), Code: r.FormValue("workerCode")}
		if req.Code == "" {
			code, err := formFile(r, "workerCode")
			if err != nil {
				return registerRequest{}, http.StatusBadRequest, "invalid_multipart"
			}
			req.Code = code
		}
		return req, 0, ""
	default:
		return registerRequest{}, http.StatusBadRequest, "unsupported_content_type"
	}
}

func (api *gatewayAPI) handleDispatch(w http.ResponseWriter, r *http.Request) {
	if err := api.router.Route(w, r); err != nil {
		api.writeDomainError(w, r, err)
	}
}

func (api *gatewayAPI) handleListUnits(w http.ResponseWriter, r *http.Request) {
	entries, err := api.directory.List(r.Context())
	if err != nil {
		api.logger.Error("list units failed", "request_id", r.Header.Get(httpserver.HeaderRequestID), "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	out := make([]unitEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, unitEntry{
			Name:         e.Name.String(),
			DeploymentID: e.DeploymentID.String(),
			URL:          api.router.Prefix() + e.Name.String(),
			UpdatedAt:    e.UpdatedAt,
		})
	}
	api.writeJSON(w, http.StatusOK, out)
}

func (api *gatewayAPI) handleRepairUnit(w http.ResponseWriter, r *http.Request) {
	name := domain.UnitName(r.PathValue("name"))
	if err := name.Validate(); err != nil {
		api.writeDomainError(w, r, err)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		api.writeError(w, r, bodyErrorStatus(err), bodyErrorCode(err))
		return
	}
	if err := api.spec.ValidateJSON(apispec.SchemaRepairRequest, body); err != nil {
		api.writeDomainError(w, r, err)
		return
	}
	var req repairRequest
	if err := decodeJSON(bytes.NewReader(body), &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	requestID, _ := httpserver.RequestIDFromContext(r.Context())
	err = api.registrar.Repair(r.Context(), name, domain.DeploymentID(req.DeploymentID), registrar.AuditInfo{
		RequestID:  requestID,
		RemoteAddr: r.RemoteAddr,
		UserAgent:  r.UserAgent(),
	})
	if err != nil {
		api.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (api *gatewayAPI) handleGetSource(w http.ResponseWriter, r *http.Request) {
	if api.archive == nil {
		api.writeError(w, r, http.StatusNotFound, "source_archive_disabled")
		return
	}
	name := domain.UnitName(r.PathValue("name"))
	if err := name.Validate(); err != nil {
		api.writeDomainError(w, r, err)
		return
	}
	body, rev, err := api.archive.Get(r.Context(), name)
	if err != nil {
		if errors.Is(err, sourcearchive.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "source_not_found")
			return
		}
		api.logger.Error("source read failed", "request_id", r.Header.Get(httpserver.HeaderRequestID), "unit", name.String(), "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", domain.ModuleContentType)
	if rev.SHA256 != "" {
		w.Header().Set("X-Content-SHA256", rev.SHA256)
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		api.logger.Warn("source copy interrupted", "unit", name.String(), "error", err)
	}
}

func (api *gatewayAPI) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrUnitNotFound):
		status = http.StatusNotFound
	case domain.IsClientFault(err):
		status = http.StatusBadRequest
	}
	body := map[string]any{
		"error":      domain.Code(err),
		"request_id": r.Header.Get(httpserver.HeaderRequestID),
	}
	if errors.Is(err, domain.ErrDirectoryWriteFailed) {
		if id, ok := domain.DeploymentIDOf(err); ok {
			body["deployment_id"] = id.String()
		}
	}
	api.writeJSON(w, status, body)
}

func (api *gatewayAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	httpserver.WriteJSON(w, status, body)
}

func (api *gatewayAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	api.writeJSON(w, status, map[string]any{
		"error":      code,
		"request_id": r.Header.Get(httpserver.HeaderRequestID),
	})
}

func decodeJSON(r io.Reader, dst any) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

func formFile(r *http.Request, field string) (string, error) {
	if r.MultipartForm == nil || len(r.MultipartForm.File[field]) == 0 {
		return "", nil
	}
	f, err := r.MultipartForm.File[field][0].Open()
	if err != nil {
		return "", err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func bodyErrorStatus(err error) int {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

func bodyErrorCode(err error) string {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return "request_too_large"
	}
	if strings.Contains(err.Error(), "multipart") {
		return "invalid_multipart"
	}
	return "invalid_body"
}
