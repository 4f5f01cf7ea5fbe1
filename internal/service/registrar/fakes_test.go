package registrar

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/animus-labs/dispatch-gateway/internal/domain"
	"github.com/animus-labs/dispatch-gateway/internal/platform/auditlog"
	"github.com/animus-labs/dispatch-gateway/internal/platform/workers"
	"github.com/animus-labs/dispatch-gateway/internal/repo"
	"github.com/animus-labs/dispatch-gateway/internal/repo/memory"
	"github.com/animus-labs/dispatch-gateway/internal/storage/sourcearchive"
)

var testCreds = domain.Credentials{AccountID: "acct-1", APIToken: "tok-1"}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// spyClient is an in-memory namespace backend that counts every call.
type spyClient struct {
	mu         sync.Mutex
	namespaces map[string]bool
	scripts    map[string][]byte
	uploads    []workers.ScriptUpload

	existsCalls int
	createCalls int
	upsertCalls int

	existsErr  error
	createErr  error
	upsertErr  error
	resultID   string
	hideExists bool
}

func newSpyClient() *spyClient {
	return &spyClient{namespaces: map[string]bool{}, scripts: map[string][]byte{}}
}

func (c *spyClient) NamespaceExists(ctx context.Context, name string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.existsCalls++
	if c.existsErr != nil {
		return false, c.existsErr
	}
	if c.hideExists {
		return false, nil
	}
	return c.namespaces[name], nil
}

func (c *spyClient) CreateNamespace(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.createCalls++
	if c.createErr != nil {
		return c.createErr
	}
	if c.namespaces[name] {
		return workers.ErrAlreadyExists
	}
	c.namespaces[name] = true
	return nil
}

func (c *spyClient) UpsertScript(ctx context.Context, upload workers.ScriptUpload) (workers.ScriptResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.upsertCalls++
	if err := ctx.Err(); err != nil {
		return workers.ScriptResult{}, err
	}
	if c.upsertErr != nil {
		return workers.ScriptResult{}, c.upsertErr
	}
	c.uploads = append(c.uploads, upload)
	c.scripts[upload.Namespace+"/"+upload.Name.String()] = upload.Code
	id := c.resultID
	if id == "" {
		id = "dep-" + upload.Name.String()
	}
	return workers.ScriptResult{ID: id}, nil
}

func (c *spyClient) remoteCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.existsCalls + c.createCalls + c.upsertCalls
}

func factoryFor(c *spyClient) ClientFactory {
	return func(domain.Credentials) (NamespaceClient, error) { return c, nil }
}

// flakyDirectory fails Put while failPut is set.
type flakyDirectory struct {
	repo.DirectoryStore
	mu      sync.Mutex
	failPut bool
	puts    int
}

func newFlakyDirectory() *flakyDirectory {
	return &flakyDirectory{DirectoryStore: memory.NewDirectoryStore()}
}

func (d *flakyDirectory) Put(ctx context.Context, name domain.UnitName, id domain.DeploymentID) error {
	d.mu.Lock()
	d.puts++
	fail := d.failPut
	d.mu.Unlock()
	if fail {
		return errors.New("directory unavailable")
	}
	return d.DirectoryStore.Put(ctx, name, id)
}

func (d *flakyDirectory) putCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.puts
}

type spyAudit struct {
	mu     sync.Mutex
	events []auditlog.Event
}

func (a *spyAudit) Record(ctx context.Context, event auditlog.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

type fakeArchive struct {
	mu    sync.Mutex
	code  map[domain.UnitName][]byte
	fail  error
	calls int
}

func (a *fakeArchive) Put(ctx context.Context, name domain.UnitName, code []byte) (sourcearchive.Revision, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.fail != nil {
		return sourcearchive.Revision{}, a.fail
	}
	if a.code == nil {
		a.code = map[domain.UnitName][]byte{}
	}
	a.code[name] = code
	return sourcearchive.Revision{Key: sourcearchive.Key(name)}, nil
}

func (a *fakeArchive) Get(ctx context.Context, name domain.UnitName) (io.ReadCloser, sourcearchive.Revision, error) {
	return nil, sourcearchive.Revision{}, sourcearchive.ErrNotFound
}

type countingMetrics struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (m *countingMetrics) RecordRegistration(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outcomes == nil {
		m.outcomes = map[string]int{}
	}
	m.outcomes[outcome]++
}
