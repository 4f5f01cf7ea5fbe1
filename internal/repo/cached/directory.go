// Package cached fronts a DirectoryStore with a short-lived in-memory read
// cache for the dispatch path.
//
// Puts go to the backing store first and then refresh the cache, so a lookup
// on this instance never returns an id older than its own last write. Other
// gateway instances may serve the previous id until their entry expires.
// Misses are not cached: a freshly registered unit becomes routable on the
// next request. A read that overlaps a Put on the same key never refills the
// cache with the value it fetched before that Put.
package cached

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/animus-labs/dispatch-gateway/internal/domain"
	"github.com/animus-labs/dispatch-gateway/internal/repo"
)

// Observer is told whether each Get was served from the cache.
type Observer func(hit bool)

type DirectoryStore struct {
	next     repo.DirectoryStore
	cache    *gocache.Cache
	ttl      time.Duration
	observer Observer

	// mu orders cache fills against Puts; gen counts Puts per unit.
	mu  sync.Mutex
	gen map[domain.UnitName]uint64
}

// Wrap returns next unchanged when ttl is not positive.
func Wrap(next repo.DirectoryStore, ttl time.Duration, observer Observer) repo.DirectoryStore {
	if next == nil || ttl <= 0 {
		return next
	}
	return &DirectoryStore{
		next:     next,
		cache:    gocache.New(ttl, 2*ttl),
		ttl:      ttl,
		observer: observer,
		gen:      make(map[domain.UnitName]uint64),
	}
}

func (s *DirectoryStore) Get(ctx context.Context, name domain.UnitName) (domain.Entry, error) {
	if v, found := s.cache.Get(string(name)); found {
		if entry, ok := v.(domain.Entry); ok {
			s.observe(true)
			return entry, nil
		}
	}
	s.observe(false)

	s.mu.Lock()
	gen := s.gen[name]
	s.mu.Unlock()

	entry, err := s.next.Get(ctx, name)
	if err != nil {
		return domain.Entry{}, err
	}

	s.mu.Lock()
	if s.gen[name] == gen {
		s.cache.Set(string(name), entry, s.ttl)
	}
	s.mu.Unlock()
	return entry, nil
}

func (s *DirectoryStore) Put(ctx context.Context, name domain.UnitName, id domain.DeploymentID) error {
	err := s.next.Put(ctx, name, id)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen[name]++
	if err != nil {
		// The backing store may or may not have applied the write.
		s.cache.Delete(string(name))
		return err
	}
	s.cache.Set(string(name), domain.Entry{Name: name, DeploymentID: id, UpdatedAt: time.Now().UTC()}, s.ttl)
	return nil
}

func (s *DirectoryStore) List(ctx context.Context) ([]domain.Entry, error) {
	return s.next.List(ctx)
}

// PingContext forwards to the backing store when it supports pings.
func (s *DirectoryStore) PingContext(ctx context.Context) error {
	if p, ok := s.next.(repo.Pinger); ok {
		return p.PingContext(ctx)
	}
	return nil
}

func (s *DirectoryStore) observe(hit bool) {
	if s.observer != nil {
		s.observer(hit)
	}
}
