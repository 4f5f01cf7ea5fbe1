package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/animus-labs/dispatch-gateway/internal/domain"
)

const (
	upsertEntrySQL = `INSERT INTO directory_entries (unit_name, deployment_id, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (unit_name) DO UPDATE
		SET deployment_id = EXCLUDED.deployment_id, updated_at = EXCLUDED.updated_at`
	getEntrySQL    = `SELECT unit_name, deployment_id, updated_at FROM directory_entries WHERE unit_name = $1`
	listEntriesSQL = `SELECT unit_name, deployment_id, updated_at FROM directory_entries ORDER BY unit_name`
)

type DirectoryStore struct {
	db  DB
	now func() time.Time
}

func NewDirectoryStore(db DB) *DirectoryStore {
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
		entry    domain.Entry
		unitName string
		id       string
	)
	row := s.db.QueryRowContext(ctx, getEntrySQL, string(name))
	if err := row.Scan(&unitName, &id, &entry.UpdatedAt); err != nil {
		return domain.Entry{}, handleNotFound(err)
	}
	entry.Name = domain.UnitName(unitName)
	entry.DeploymentID = domain.DeploymentID(id)
	entry.UpdatedAt = entry.UpdatedAt.UTC()
	return entry, nil
}

func (s *DirectoryStore) Put(ctx context.Context, name domain.UnitName, id domain.DeploymentID) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("directory store not initialized")
	}
	if strings.TrimSpace(string(id)) == "" {
		return fmt.Errorf("deployment id is required")
	}
	_, err := s.db.ExecContext(ctx, upsertEntrySQL, string(name), string(id), normalizeTime(s.now()))
	if err != nil {
		return fmt.Errorf("upsert directory entry: %w", err)
	}
	return nil
}

func (s *DirectoryStore) List(ctx context.Context) ([]domain.Entry, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("directory store not initialized")
	}
	rows, err := s.db.QueryContext(ctx, listEntriesSQL)
	if err != nil {
		return nil, fmt.Errorf("list directory entries: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.Entry, 0)
	for rows.Next() {
		var (
			entry    domain.Entry
			unitName string
			id       string
		)
		if err := rows.Scan(&unitName, &id, &entry.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan directory entry: %w", err)
		}
		entry.Name = domain.UnitName(unitName)
		entry.DeploymentID = domain.DeploymentID(id)
		entry.UpdatedAt = entry.UpdatedAt.UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list directory entries: %w", err)
	}
	return entries, nil
}
