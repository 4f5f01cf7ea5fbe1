package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   map[string]any
}

func fakeGateway(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*httptest.Server, *[]recordedRequest) {
	t.Helper()
	var seen []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recordedRequest{Method: r.Method, Path: r.URL.Path}
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&rec.Body)
		}
		seen = append(seen, rec)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func run(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	var stdout, stderr bytes.Buffer
	root := NewRootCommand(strings.NewReader(stdin), &stdout, &stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestRegisterFromStdin(t *testing.T) {
	srv, seen := fakeGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"name":"hello-1","deployment_id":"d1","url":"/user-workers/hello-1"}`)
	})

	out, _, err := run(t, "export default {}", "--server", srv.URL, "register", "hello-1", "-")
	if err != nil {
		t.Fatalf("Execute() err=%v", err)
	}
	if !strings.Contains(out, "deployment: d1") {
		t.Fatalf("stdout=%q", out)
	}
	if len(*seen) != 1 || (*seen)[0].Path != "/create-worker" || (*seen)[0].Body["code"] != "export default {}" {
		t.Fatalf("requests=%+v", *seen)
	}
	if _, ok := (*seen)[0].Body["bindings"]; ok {
		t.Fatalf("bindings sent without --bindings")
	}
}

func TestRegisterWithBindingsFile(t *testing.T) {
	srv, seen := fakeGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"name":"b","deployment_id":"d","url":"/user-workers/b"}`)
	})
	dir := t.TempDir()
	code := filepath.Join(dir, "b.mjs")
	_ = os.WriteFile(code, []byte("export default 1"), 0o600)
	bindingsPath := filepath.Join(dir, "bindings.yaml")
	_ = os.WriteFile(bindingsPath, []byte("bindings:\n  - type: plain_text\n    name: GREETING\n    text: hi\n"), 0o600)

	if _, stderr, err := run(t, "", "--server", srv.URL, "register", "b", code, "--bindings", bindingsPath); err != nil {
		t.Fatalf("Execute() err=%v stderr=%s", err, stderr)
	}
	list, ok := (*seen)[0].Body["bindings"].([]any)
	if !ok || len(list) != 1 {
		t.Fatalf("bindings=%v", (*seen)[0].Body["bindings"])
	}
}

func TestRegisterInvalidNameSendsNothing(t *testing.T) {
	srv, seen := fakeGateway(t, func(w http.ResponseWriter, r *http.Request) {})
	_, stderr, err := run(t, "x", "--server", srv.URL, "register", "bad name!", "-")
	if err == nil {
		t.Fatalf("expected error")
	}
	if len(*seen) != 0 {
		t.Fatalf("requests=%+v", *seen)
	}
	if !strings.Contains(stderr, "error:") {
		t.Fatalf("stderr=%q", stderr)
	}
}

func TestRegisterDirectoryWriteFailedPrintsRepair(t *testing.T) {
	srv, _ := fakeGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":"directory_write_failed","request_id":"r1","deployment_id":"d7"}`)
	})
	_, stderr, err := run(t, "x", "--server", srv.URL, "register", "hello-1", "-")
	if err == nil {
		t.Fatalf("expected error")
	}
	for _, want := range []string{"directory_write_failed", "request r1", "dispatchctl repair hello-1 d7"} {
		if !strings.Contains(stderr, want) {
			t.Fatalf("stderr %q missing %q", stderr, want)
		}
	}
}

func TestListTable(t *testing.T) {
	srv, _ := fakeGateway(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[{"name":"a","deployment_id":"d1","url":"/user-workers/a"}]`)
	})
	out, _, err := run(t, "", "--server", srv.URL, "list")
	if err != nil {
		t.Fatalf("Execute() err=%v", err)
	}
	if !strings.Contains(out, "NAME") || !strings.Contains(out, "d1") {
		t.Fatalf("stdout=%q", out)
	}
}

func TestServerFromEnvAndConfig(t *testing.T) {
	srv, seen := fakeGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	t.Setenv("DISPATCHCTL_SERVER", srv.URL)
	if _, _, err := run(t, "", "repair", "a", "d2"); err != nil {
		t.Fatalf("env: Execute() err=%v", err)
	}

	t.Setenv("DISPATCHCTL_SERVER", "")
	cfg := filepath.Join(t.TempDir(), "config.yaml")
	_ = os.WriteFile(cfg, []byte("server: "+srv.URL+"\n"), 0o600)
	if _, _, err := run(t, "", "--config", cfg, "repair", "a", "d3"); err != nil {
		t.Fatalf("config: Execute() err=%v", err)
	}

	if len(*seen) != 2 || (*seen)[1].Path != "/units/a/deployment" || (*seen)[1].Body["deployment_id"] != "d3" {
		t.Fatalf("requests=%+v", *seen)
	}
}

func TestSourceNotFound(t *testing.T) {
	srv, _ := fakeGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"source_not_found"}`)
	})
	_, stderr, err := run(t, "", "--server", srv.URL, "source", "a")
	if err == nil || !strings.Contains(stderr, "source_not_found") {
		t.Fatalf("err=%v stderr=%q", err, stderr)
	}
}
