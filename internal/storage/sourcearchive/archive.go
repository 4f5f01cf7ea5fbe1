// Package sourcearchive keeps the last uploaded revision of every unit's code
// in S3-compatible object storage.
package sourcearchive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/animus-labs/dispatch-gateway/internal/domain"
)

var ErrNotFound = errors.New("source not found")

const metaSHA256 = "Sha256"

// Archive stores and retrieves unit source revisions.
type Archive interface {
	Put(ctx context.Context, name domain.UnitName, code []byte) (Revision, error)
	Get(ctx context.Context, name domain.UnitName) (io.ReadCloser, Revision, error)
}

type Revision struct {
	Key       string
	SHA256    string
	Size      int64
	UpdatedAt time.Time
}

type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
	UserMetadata map[string]string
}

// Objects is the subset of an object store the archive needs.
// Get returns ErrNotFound for missing keys.
type Objects interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string, meta map[string]string) error
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)
}

type Store struct {
	objects Objects
	now     func() time.Time
}

func New(objects Objects) *Store {
	return &Store{objects: objects, now: time.Now}
}

// Key is the object key a unit's code is archived under.
func Key(name domain.UnitName) string {
	return "units/" + name.String() + "/" + name.ModuleFilename()
}

func (s *Store) Put(ctx context.Context, name domain.UnitName, code []byte) (Revision, error) {
	if s == nil || s.objects == nil {
		return Revision{}, errors.New("source archive not initialized")
	}
	if err := name.Validate(); err != nil {
		return Revision{}, err
	}
	sum := sha256.Sum256(code)
	rev := Revision{
		Key:       Key(name),
		SHA256:    hex.EncodeToString(sum[:]),
		Size:      int64(len(code)),
		UpdatedAt: s.now().UTC(),
	}
	meta := map[string]string{metaSHA256: rev.SHA256}
	if err := s.objects.Put(ctx, rev.Key, bytes.NewReader(code), rev.Size, domain.ModuleContentType, meta); err != nil {
		return Revision{}, fmt.Errorf("put %s: %w", rev.Key, err)
	}
	return rev, nil
}

func (s *Store) Get(ctx context.Context, name domain.UnitName) (io.ReadCloser, Revision, error) {
	if s == nil || s.objects == nil {
		return nil, Revision{}, errors.New("source archive not initialized")
	}
	if err := name.Validate(); err != nil {
		return nil, Revision{}, err
	}
	key := Key(name)
	body, info, err := s.objects.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, Revision{}, ErrNotFound
		}
		return nil, Revision{}, fmt.Errorf("get %s: %w", key, err)
	}
	return body, Revision{
		Key:       key,
		SHA256:    lookupMeta(info.UserMetadata, metaSHA256),
		Size:      info.Size,
		UpdatedAt: info.LastModified,
	}, nil
}

// Object stores canonicalize user metadata keys differently; match loosely.
func lookupMeta(meta map[string]string, key string) string {
	for k, v := range meta {
		k = strings.TrimPrefix(strings.ToLower(k), "x-amz-meta-")
		if k == strings.ToLower(key) {
			return v
		}
	}
	return ""
}
