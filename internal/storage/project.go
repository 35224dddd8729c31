package storage

import (
	"context"
	"database/sql"
)

// Project is one filesystem repository root tracked by agentty.
type Project struct {
	ID           int64
	Path         string
	GitBranch    string
	DisplayName  string
	IsFavorite   bool
	LastOpenedAt int64
}

// UpsertProject inserts or updates the project row for path, returning its id.
func (s *Storage) UpsertProject(ctx context.Context, path, gitBranch, displayName string, now int64) (int64, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (path, git_branch, display_name, last_opened_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			git_branch = excluded.git_branch,
			last_opened_at = excluded.last_opened_at`,
		path, gitBranch, displayName, now)
	if err != nil {
		return 0, err
	}

	var id int64
	err = s.db.QueryRowContext(ctx, `SELECT id FROM projects WHERE path = ?`, path).Scan(&id)
	return id, err
}

func (s *Storage) GetProject(ctx context.Context, id int64) (*Project, error) {
	var p Project
	var fav int
	err := s.db.QueryRowContext(ctx,
		`SELECT id, path, git_branch, display_name, is_favorite, last_opened_at FROM projects WHERE id = ?`, id).
		Scan(&p.ID, &p.Path, &p.GitBranch, &p.DisplayName, &fav, &p.LastOpenedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.IsFavorite = fav != 0
	return &p, nil
}

// BackfillSessionProject assigns defaultID to any session row lacking a
// valid project_id (used when migrating from a single-project layout).
func (s *Storage) BackfillSessionProject(ctx context.Context, defaultID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET project_id = ? WHERE project_id IS NULL OR project_id = 0`, defaultID)
	return err
}

// Settings.

func (s *Storage) GetSetting(ctx context.Context, name string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE name = ?`, name).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// SetSetting is a race-free upsert into the singleton settings map.
func (s *Storage) SetSetting(ctx context.Context, name, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (name, value) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value`, name, value)
	return err
}
