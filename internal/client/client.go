// Package client talks to the gateway's admin HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/animus-labs/dispatch-gateway/internal/domain"
)

// APIError is a non-2xx gateway response.
type APIError struct {
	StatusCode   int
	Code         string
	RequestID    string
	DeploymentID string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("gateway returned %d %s", e.StatusCode, e.Code)
	if e.RequestID != "" {
		msg += " (request " + e.RequestID + ")"
	}
	return msg
}

// IsCode reports whether err is an APIError with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

type Registration struct {
	Name         string `json:"name"`
	DeploymentID string `json:"deployment_id"`
	URL          string `json:"url"`
}

type Entry struct {
	Name         string    `json:"name"`
	DeploymentID string    `json:"deployment_id"`
	URL          string    `json:"url"`
	UpdatedAt    time.Time `json:"updated_at,omitzero"`
}

type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string, httpClient *http.Client) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("server url must be an absolute http(s) url: %q", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{baseURL: baseURL, http: httpClient}, nil
}

// Register uploads code under name. Bindings, when non-nil, replace the
// gateway's configured bindings for this registration.
func (c *Client) Register(ctx context.Context, name string, code []byte, bindings []domain.Binding) (Registration, error) {
	body := map[string]any{"name": name, "code": string(code)}
	if bindings != nil {
		body["bindings"] = bindings
	}
	var out Registration
	if err := c.doJSON(ctx, http.MethodPost, "/create-worker", body, &out); err != nil {
		return Registration{}, err
	}
	return out, nil
}

func (c *Client) List(ctx context.Context) ([]Entry, error) {
	var out []Entry
	if err := c.doJSON(ctx, http.MethodGet, "/units", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Repair points name at an already deployed id.
func (c *Client) Repair(ctx context.Context, name, deploymentID string) error {
	path := "/units/" + url.PathEscape(name) + "/deployment"
	return c.doJSON(ctx, http.MethodPut, path, map[string]string{"deployment_id": deploymentID}, nil)
}

// Source returns the archived code of name. The caller closes the reader.
func (c *Client) Source(ctx context.Context, name string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/units/"+url.PathEscape(name)+"/source", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	return resp.Body, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var payload struct {
		Error        string `json:"error"`
		RequestID    string `json:"request_id"`
		DeploymentID string `json:"deployment_id"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = json.Unmarshal(raw, &payload)
	if payload.Error == "" {
		payload.Error = strings.ToLower(strings.ReplaceAll(http.StatusText(resp.StatusCode), " ", "_"))
	}
	if payload.RequestID == "" {
		payload.RequestID = resp.Header.Get("X-Request-Id")
	}
	return &APIError{
		StatusCode:   resp.StatusCode,
		Code:         payload.Error,
		RequestID:    payload.RequestID,
		DeploymentID: payload.DeploymentID,
	}
}
