package storage

import "context"

// Operation statuses, per the operation journal (spec §4.4).
const (
	OpQueued    = "Queued"
	OpRunning   = "Running"
	OpSucceeded = "Succeeded"
	OpFailed    = "Failed"
	OpCanceled  = "Canceled"
)

// Operation is a journaled unit of work executed by a session worker.
type Operation struct {
	ID        string
	SessionID string
	Kind      string
	Status    string
	CreatedAt int64
}

func (s *Storage) InsertOperation(ctx context.Context, op Operation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO operations (id, session_id, kind, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		op.ID, op.SessionID, op.Kind, op.Status, op.CreatedAt)
	return err
}

func (s *Storage) UpdateOperationStatus(ctx context.Context, id, status string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE operations SET status = ? WHERE id = ?`, status, id)
	return err
}

// RequestCancelForSessionOperations marks any still-queued/running
// operations for id as Canceled.
func (s *Storage) RequestCancelForSessionOperations(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE operations SET status = ? WHERE session_id = ? AND status IN (?, ?)`,
		OpCanceled, sessionID, OpQueued, OpRunning)
	return err
}

// FailAbandonedOperations marks every still Queued/Running operation as
// Failed (abandoned), used on startup crash recovery. Returns the
// distinct set of session ids affected.
func (s *Storage) FailAbandonedOperations(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT session_id FROM operations WHERE status IN (?, ?)`, OpQueued, OpRunning)
	if err != nil {
		return nil, err
	}

	var sessionIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		sessionIDs = append(sessionIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	if _, err := s.db.ExecContext(ctx,
		`UPDATE operations SET status = ? WHERE status IN (?, ?)`, OpFailed, OpQueued, OpRunning); err != nil {
		return nil, err
	}

	return sessionIDs, nil
}
