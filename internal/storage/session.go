package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// Session is the persisted row for one agentty session.
type Session struct {
	ID             string
	ProjectID      int64
	AgentKind      string
	Model          string
	BaseBranch     string
	WorktreeBranch string
	Folder         string
	Prompt         string
	Title          string
	Summary        string
	Output         string
	PermissionMode string
	Status         string
	CommitCount    int64
	SizeBucket     string
	InputTokens    int64
	OutputTokens   int64
	CreatedAt      int64
	UpdatedAt      int64
}

// InsertSession creates a new session row. Returns ErrConflict if id
// already exists.
func (s *Storage) InsertSession(ctx context.Context, sess Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (
			id, project_id, agent_kind, model, base_branch, worktree_branch,
			folder, prompt, title, summary, output, permission_mode, status,
			commit_count, size_bucket, input_tokens, output_tokens,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.ProjectID, sess.AgentKind, sess.Model, sess.BaseBranch,
		sess.WorktreeBranch, sess.Folder, sess.Prompt, sess.Title, sess.Summary,
		sess.Output, sess.PermissionMode, sess.Status, sess.CommitCount,
		sess.SizeBucket, sess.InputTokens, sess.OutputTokens, sess.CreatedAt, sess.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

// AppendSessionOutput atomically appends chunk to the session's output
// and bumps updated_at.
func (s *Storage) AppendSessionOutput(ctx context.Context, id, chunk string, now int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET output = output || ?, updated_at = ? WHERE id = ?`,
		chunk, now, id)
	return err
}

func (s *Storage) UpdateSessionStatus(ctx context.Context, id, status string, now int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, updated_at = ? WHERE id = ? AND status != ?`,
		status, now, id, status)
	return err
}

// UpdateSessionStats adds one turn's token counts to the session's
// cumulative totals.
func (s *Storage) UpdateSessionStats(ctx context.Context, id string, inputTokens, outputTokens int64, now int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET input_tokens = input_tokens + ?, output_tokens = output_tokens + ?, updated_at = ? WHERE id = ?`,
		inputTokens, outputTokens, now, id)
	return err
}

func (s *Storage) UpdateSessionTitle(ctx context.Context, id, title string, now int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET title = ?, updated_at = ? WHERE id = ? AND title != ?`,
		title, now, id, title)
	return err
}

func (s *Storage) UpdateSessionPrompt(ctx context.Context, id, prompt string, now int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET prompt = ?, updated_at = ? WHERE id = ? AND prompt != ?`,
		prompt, now, id, prompt)
	return err
}

func (s *Storage) UpdateSessionSummary(ctx context.Context, id, summary string, now int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET summary = ?, updated_at = ? WHERE id = ? AND summary != ?`,
		summary, now, id, summary)
	return err
}

func (s *Storage) UpdateSessionPermissionMode(ctx context.Context, id, mode string, now int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET permission_mode = ?, updated_at = ? WHERE id = ? AND permission_mode != ?`,
		mode, now, id, mode)
	return err
}

func (s *Storage) UpdateSessionSize(ctx context.Context, id, bucket string, now int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET size_bucket = ?, updated_at = ? WHERE id = ? AND size_bucket != ?`,
		bucket, now, id, bucket)
	return err
}

func (s *Storage) UpdateSessionAgentAndModel(ctx context.Context, id, agent, model string, now int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET agent_kind = ?, model = ?, updated_at = ? WHERE id = ?`,
		agent, model, now, id)
	return err
}

// IncrementCommitCount bumps commit_count by one and returns the new value.
func (s *Storage) IncrementCommitCount(ctx context.Context, id string, now int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET commit_count = commit_count + 1, updated_at = ? WHERE id = ?`,
		now, id); err != nil {
		return 0, err
	}

	var count int64
	if err := tx.QueryRowContext(ctx, `SELECT commit_count FROM sessions WHERE id = ?`, id).Scan(&count); err != nil {
		return 0, err
	}

	return count, tx.Commit()
}

// ClearSessionHistory resets output/prompt/title/summary/status to the
// New-session defaults, preserving id/commit_count/stats/agent/model/
// branch/folder.
func (s *Storage) ClearSessionHistory(ctx context.Context, id string, now int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET output = '', prompt = '', title = '', summary = '', status = 'New', updated_at = ?
		WHERE id = ?`, now, id)
	return err
}

// DeleteSession removes the row; ok if absent.
func (s *Storage) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	return err
}

// LoadSessionsForProject returns sessions ordered by updated_at desc,
// ties broken by id.
func (s *Storage) LoadSessionsForProject(ctx context.Context, projectID int64) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, agent_kind, model, base_branch, worktree_branch,
		       folder, prompt, title, summary, output, permission_mode, status,
		       commit_count, size_bucket, input_tokens, output_tokens,
		       created_at, updated_at
		FROM sessions
		WHERE project_id = ?
		ORDER BY updated_at DESC, id ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(
			&sess.ID, &sess.ProjectID, &sess.AgentKind, &sess.Model, &sess.BaseBranch,
			&sess.WorktreeBranch, &sess.Folder, &sess.Prompt, &sess.Title, &sess.Summary,
			&sess.Output, &sess.PermissionMode, &sess.Status, &sess.CommitCount,
			&sess.SizeBucket, &sess.InputTokens, &sess.OutputTokens, &sess.CreatedAt, &sess.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// GetSession loads a single session by id.
func (s *Storage) GetSession(ctx context.Context, id string) (*Session, error) {
	var sess Session
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, agent_kind, model, base_branch, worktree_branch,
		       folder, prompt, title, summary, output, permission_mode, status,
		       commit_count, size_bucket, input_tokens, output_tokens,
		       created_at, updated_at
		FROM sessions WHERE id = ?`, id).Scan(
		&sess.ID, &sess.ProjectID, &sess.AgentKind, &sess.Model, &sess.BaseBranch,
		&sess.WorktreeBranch, &sess.Folder, &sess.Prompt, &sess.Title, &sess.Summary,
		&sess.Output, &sess.PermissionMode, &sess.Status, &sess.CommitCount,
		&sess.SizeBucket, &sess.InputTokens, &sess.OutputTokens, &sess.CreatedAt, &sess.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &sess, nil
}

// LoadSessionsMetadata returns a cheap digest used for change detection.
func (s *Storage) LoadSessionsMetadata(ctx context.Context, projectID int64) (rowCount int64, maxUpdatedAt int64, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(1), COALESCE(MAX(updated_at), 0)
		FROM sessions WHERE project_id = ?`, projectID).Scan(&rowCount, &maxUpdatedAt)
	return
}
