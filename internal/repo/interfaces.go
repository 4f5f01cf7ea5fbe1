package repo

import (
	"context"
	"errors"

	"github.com/animus-labs/dispatch-gateway/internal/domain"
)

var ErrNotFound = errors.New("not found")

// DirectoryStore maps unit names to the deployment id that serves them.
// Implementations must be atomic per key; concurrent Puts for the same name
// are last-write-wins.
type DirectoryStore interface {
	// Get returns ErrNotFound when name has never been registered.
	Get(ctx context.Context, name domain.UnitName) (domain.Entry, error)
	Put(ctx context.Context, name domain.UnitName, id domain.DeploymentID) error
	// List returns every entry ordered by name.
	List(ctx context.Context) ([]domain.Entry, error)
}

// Pinger is implemented by stores backed by a remote service.
type Pinger interface {
	PingContext(ctx context.Context) error
}
