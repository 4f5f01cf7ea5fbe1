package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/animus-labs/dispatch-gateway/internal/domain"
	"github.com/animus-labs/dispatch-gateway/internal/repo"
)

// DirectoryStore is an in-process directory for development and tests.
type DirectoryStore struct {
	mu      sync.RWMutex
	entries map[domain.UnitName]domain.Entry
	now     func() time.Time
}

func NewDirectoryStore() *DirectoryStore {
	return &DirectoryStore{
		entries: make(map[domain.UnitName]domain.Entry),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *DirectoryStore) Get(ctx context.Context, name domain.UnitName) (domain.Entry, error) {
	if err := ctx.Err(); err != nil {
		return domain.Entry{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[name]
	if !ok {
		return domain.Entry{}, repo.ErrNotFound
	}
	return entry, nil
}

func (s *DirectoryStore) Put(ctx context.Context, name domain.UnitName, id domain.DeploymentID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[name] = domain.Entry{Name: name, DeploymentID: id, UpdatedAt: s.now()}
	return nil
}

func (s *DirectoryStore) List(ctx context.Context) ([]domain.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]domain.Entry, 0, len(s.entries))
	for _, entry := range s.entries {
		out = append(out, entry)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
