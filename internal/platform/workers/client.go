// Package workers is a client for the dispatch namespace management API.
package workers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/animus-labs/dispatch-gateway/internal/domain"
)

var (
	ErrNotFound      = errors.New("workers resource not found")
	ErrAlreadyExists = errors.New("workers resource already exists")
	ErrUnauthorized  = errors.New("workers request unauthorized")
	ErrForbidden     = errors.New("workers request forbidden")
)

type APIError struct {
	StatusCode int
	Messages   []string
	Body       string
}

func (e *APIError) Error() string {
	if len(e.Messages) > 0 {
		return fmt.Sprintf("workers api error (status=%d): %s", e.StatusCode, strings.Join(e.Messages, "; "))
	}
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("workers api error (status=%d)", e.StatusCode)
	}
	return fmt.Sprintf("workers api error (status=%d): %s", e.StatusCode, body)
}

// ScriptUpload is one module-format script upload.
type ScriptUpload struct {
	Namespace string
	Name      domain.UnitName
	Code      []byte
	Bindings  []domain.Binding
}

type ScriptResult struct {
	ID   string `json:"id"`
	ETag string `json:"etag,omitempty"`
}

type envelope struct {
	Success bool            `json:"success"`
	Errors  []apiMessage    `json:"errors"`
	Result  json.RawMessage `json:"result"`
}

type apiMessage struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type scriptMetadata struct {
	MainModule string           `json:"main_module"`
	Bindings   []domain.Binding `json:"bindings"`
}

type Client struct {
	baseURL   string
	accountID string
	token     string
	http      *http.Client
}

func NewClient(baseURL string, creds domain.Credentials, httpClient *http.Client) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("base url is required")
	}
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:   baseURL,
		accountID: creds.AccountID,
		token:     creds.APIToken,
		http:      httpClient,
	}, nil
}

// Factory returns a constructor binding the shared HTTP client and base URL
// to per-call credentials.
func Factory(cfg Config) func(domain.Credentials) (*Client, error) {
	httpClient := &http.Client{Timeout: cfg.Timeout}
	return func(creds domain.Credentials) (*Client, error) {
		return NewClient(cfg.BaseURL, creds, httpClient)
	}
}

func (c *Client) namespacesPath() string {
	return fmt.Sprintf("/accounts/%s/workers/dispatch/namespaces", url.PathEscape(c.accountID))
}

func (c *Client) NamespaceExists(ctx context.Context, name string) (bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return false, errors.New("namespace name is required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.namespacesPath()+"/"+url.PathEscape(name), nil)
	if err != nil {
		return false, err
	}
	if err := c.do(req, nil); err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// CreateNamespace returns ErrAlreadyExists when the namespace is already present.
func (c *Client) CreateNamespace(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("namespace name is required")
	}
	body, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return fmt.Errorf("marshal namespace: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.namespacesPath(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, nil)
}

func (c *Client) UpsertScript(ctx context.Context, upload ScriptUpload) (ScriptResult, error) {
	if strings.TrimSpace(upload.Namespace) == "" {
		return ScriptResult{}, errors.New("namespace name is required")
	}
	if err := upload.Name.Validate(); err != nil {
		return ScriptResult{}, err
	}
	body, contentType, err := encodeScript(upload)
	if err != nil {
		return ScriptResult{}, err
	}
	path := fmt.Sprintf("%s/%s/scripts/%s", c.namespacesPath(), url.PathEscape(upload.Namespace), url.PathEscape(upload.Name.String()))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+path, body)
	if err != nil {
		return ScriptResult{}, err
	}
	req.Header.Set("Content-Type", contentType)

	var out ScriptResult
	if err := c.do(req, &out); err != nil {
		return ScriptResult{}, err
	}
	return out, nil
}

func encodeScript(upload ScriptUpload) (io.Reader, string, error) {
	filename := upload.Name.ModuleFilename()
	bindings := upload.Bindings
	if bindings == nil {
		bindings = []domain.Binding{}
	}
	meta, err := json.Marshal(scriptMetadata{MainModule: filename, Bindings: bindings})
	if err != nil {
		return nil, "", fmt.Errorf("marshal metadata: %w", err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("metadata", string(meta)); err != nil {
		return nil, "", err
	}
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, filename, filename))
	header.Set("Content-Type", domain.ModuleContentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(upload.Code); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return err
	}

	var env envelope
	_ = json.Unmarshal(body, &env)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		if len(env.Errors) > 0 && !env.Success {
			if mentionsAlreadyExists(env.Errors) {
				return ErrAlreadyExists
			}
			return &APIError{StatusCode: resp.StatusCode, Messages: messages(env.Errors), Body: string(body)}
		}
		if out == nil || len(env.Result) == 0 || string(env.Result) == "null" {
			return nil
		}
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("decode workers response: %w", err)
		}
		return nil
	case http.StatusConflict:
		return ErrAlreadyExists
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	default:
		if resp.StatusCode == http.StatusBadRequest && mentionsAlreadyExists(env.Errors) {
			return ErrAlreadyExists
		}
		return &APIError{StatusCode: resp.StatusCode, Messages: messages(env.Errors), Body: string(body)}
	}
}

func messages(in []apiMessage) []string {
	out := make([]string, 0, len(in))
	for _, m := range in {
		out = append(out, fmt.Sprintf("%d: %s", m.Code, m.Message))
	}
	return out
}

func mentionsAlreadyExists(in []apiMessage) bool {
	for _, m := range in {
		if strings.Contains(strings.ToLower(m.Message), "already exists") {
			return true
		}
	}
	return false
}
