// Package dispatch resolves deployment ids to forwarding targets.
package dispatch

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/animus-labs/dispatch-gateway/internal/domain"
	"github.com/animus-labs/dispatch-gateway/internal/platform/env"
)

// ErrTargetNotFound is returned by Forward when the backend reports that the
// deployment does not exist.
var ErrTargetNotFound = errors.New("dispatch target not found")

const (
	// HeaderUnitStatus set to UnitStatusNotFound on an upstream response
	// signals a missing deployment. When a status token is configured the
	// signal only counts if HeaderUnitStatusToken carries that token, so a
	// deployed unit cannot fake it; without a token the upstream is trusted.
	// Both headers are stripped before a response reaches the caller.
	HeaderUnitStatus      = "X-Unit-Status"
	HeaderUnitStatusToken = "X-Unit-Status-Token"
	UnitStatusNotFound    = "not-found"

	idPlaceholder = "{id}"
)

// Target forwards one inbound request to a deployed unit. On success the
// unit's response has been written to w and Forward returns nil. On failure
// nothing has been written.
type Target interface {
	Forward(w http.ResponseWriter, r *http.Request) error
}

type TargetFunc func(w http.ResponseWriter, r *http.Request) error

func (f TargetFunc) Forward(w http.ResponseWriter, r *http.Request) error {
	return f(w, r)
}

type Dispatcher interface {
	Resolve(ctx context.Context, id domain.DeploymentID) (Target, error)
}

type Config struct {
	URLTemplate string
	Timeout     time.Duration
	// StatusToken is the shared secret the dispatch backend sends with
	// HeaderUnitStatus. Empty trusts the header as is.
	StatusToken string
}

func ConfigFromEnv() (Config, error) {
	timeout, err := env.Duration("GATEWAY_DISPATCH_TIMEOUT", 30*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		URLTemplate: env.String("GATEWAY_DISPATCH_URL_TEMPLATE", "http://localhost:8787/"+idPlaceholder),
		Timeout:     timeout,
		StatusToken: env.String("GATEWAY_DISPATCH_STATUS_TOKEN", ""),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if !strings.Contains(c.URLTemplate, idPlaceholder) {
		return fmt.Errorf("url template must contain %s: %q", idPlaceholder, c.URLTemplate)
	}
	if _, err := expand(c.URLTemplate, "validate"); err != nil {
		return err
	}
	if c.Timeout <= 0 {
		return errors.New("dispatch timeout must be positive")
	}
	return nil
}

func expand(template string, id domain.DeploymentID) (*url.URL, error) {
	raw := strings.ReplaceAll(template, idPlaceholder, url.PathEscape(id.String()))
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse target url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid target url: %q", raw)
	}
	return u, nil
}

// ProxyDispatcher forwards to a per-deployment URL built from a template
// such as "https://{id}.units.internal".
type ProxyDispatcher struct {
	logger      *slog.Logger
	template    string
	transport   http.RoundTripper
	statusToken string
}

func NewProxyDispatcher(logger *slog.Logger, cfg Config) (*ProxyDispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	d, err := NewProxyDispatcherWithTransport(logger, cfg.URLTemplate, transport)
	if err != nil {
		return nil, err
	}
	d.statusToken = cfg.StatusToken
	return d, nil
}

func NewProxyDispatcherWithTransport(logger *slog.Logger, template string, transport http.RoundTripper) (*ProxyDispatcher, error) {
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if transport == nil {
		return nil, errors.New("transport is required")
	}
	if !strings.Contains(template, idPlaceholder) {
		return nil, fmt.Errorf("url template must contain %s: %q", idPlaceholder, template)
	}
	return &ProxyDispatcher{logger: logger, template: template, transport: transport}, nil
}

func (d *ProxyDispatcher) Resolve(ctx context.Context, id domain.DeploymentID) (Target, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(id.String()) == "" {
		return nil, errors.New("deployment id is required")
	}
	upstream, err := expand(d.template, id)
	if err != nil {
		return nil, err
	}
	return &proxyTarget{dispatcher: d, upstream: upstream, id: id}, nil
}

type proxyTarget struct {
	dispatcher *ProxyDispatcher
	upstream   *url.URL
	id         domain.DeploymentID
}

func (t *proxyTarget) Forward(w http.ResponseWriter, r *http.Request) error {
	var forwardErr error

	proxy := httputil.NewSingleHostReverseProxy(t.upstream)
	proxy.Transport = t.dispatcher.transport
	director := proxy.Director
	proxy.Director = func(out *http.Request) {
		director(out)
		out.Host = t.upstream.Host
	}
	proxy.ModifyResponse = func(resp *http.Response) error {
		status := resp.Header.Get(HeaderUnitStatus)
		token := resp.Header.Get(HeaderUnitStatusToken)
		resp.Header.Del(HeaderUnitStatus)
		resp.Header.Del(HeaderUnitStatusToken)
		if strings.EqualFold(status, UnitStatusNotFound) && t.dispatcher.trustsStatus(token) {
			_ = resp.Body.Close()
			return ErrTargetNotFound
		}
		return nil
	}
	proxy.ErrorHandler = func(_ http.ResponseWriter, req *http.Request, err error) {
		t.dispatcher.logger.Debug("forward failed", "deployment_id", t.id.String(), "upstream", t.upstream.String(), "request_id", req.Header.Get("X-Request-Id"), "error", err)
		forwardErr = fmt.Errorf("forward to deployment %s: %w", t.id, err)
	}

	proxy.ServeHTTP(w, r)
	return forwardErr
}

func (d *ProxyDispatcher) trustsStatus(token string) bool {
	if d.statusToken == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(d.statusToken)) == 1
}
