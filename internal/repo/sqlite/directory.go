// Package sqlite stores the unit directory in an embedded SQLite database for
// single-node installs.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/animus-labs/dispatch-gateway/internal/domain"
	"github.com/animus-labs/dispatch-gateway/internal/repo"
)

type DirectoryStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewDirectoryStore(db *sql.DB) *DirectoryStore {
	if db == nil {
		return nil
	}
	return &DirectoryStore{db: db, now: time.Now}
}

func (s *DirectoryStore) Get(ctx context.Context, name domain.UnitName) (domain.Entry, error) {
	if s == nil || s.db == nil {
		return domain.Entry{}, fmt.Errorf("directory store not initialized")
	}
	var (
		unitName  string
		id        string
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT unit_name, deployment_id, updated_at FROM directory_entries WHERE unit_name = ?`,
		string(name),
	).Scan(&unitName, &id, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Entry{}, repo.ErrNotFound
		}
		return domain.Entry{}, fmt.Errorf("get directory entry: %w", err)
	}
	return domain.Entry{
		Name:         domain.UnitName(unitName),
		DeploymentID: domain.DeploymentID(id),
		UpdatedAt:    time.UnixMilli(updatedAt).UTC(),
	}, nil
}

func (s *DirectoryStore) Put(ctx context.Context, name domain.UnitName, id domain.DeploymentID) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("directory store not initialized")
	}
	if strings.TrimSpace(string(id)) == "" {
		return fmt.Errorf("deployment id is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO directory_entries (unit_name, deployment_id, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (unit_name) DO UPDATE SET deployment_id = excluded.deployment_id, updated_at = excluded.updated_at`,
		string(name), string(id), s.now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert directory entry: %w", err)
	}
	return nil
}

func (s *DirectoryStore) List(ctx context.Context) ([]domain.Entry, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("directory store not initialized")
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT unit_name, deployment_id, updated_at FROM directory_entries ORDER BY unit_name`)
	if err != nil {
		return nil, fmt.Errorf("list directory entries: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.Entry, 0)
	for rows.Next() {
		var (
			unitName  string
			id        string
			updatedAt int64
		)
		if err := rows.Scan(&unitName, &id, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan directory entry: %w", err)
		}
		entries = append(entries, domain.Entry{
			Name:         domain.UnitName(unitName),
			DeploymentID: domain.DeploymentID(id),
			UpdatedAt:    time.UnixMilli(updatedAt).UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list directory entries: %w", err)
	}
	return entries, nil
}
