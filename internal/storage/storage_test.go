package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := OpenInMemory(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertDuplicateSessionFails(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	projectID, err := s.UpsertProject(ctx, "/repo", "main", "repo", 1)
	require.NoError(t, err)

	sess := Session{
		ID: "session-1", ProjectID: projectID, AgentKind: "claude", Model: "default",
		BaseBranch: "main", WorktreeBranch: "agentty/session-1", Folder: "/tmp/wt",
		Status: "New", CreatedAt: 1, UpdatedAt: 1,
	}
	require.NoError(t, s.InsertSession(ctx, sess))

	err = s.InsertSession(ctx, sess)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestLoadSessionsOrderedByUpdatedAt(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	projectID, err := s.UpsertProject(ctx, "/repo", "main", "repo", 1)
	require.NoError(t, err)

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.InsertSession(ctx, Session{
			ID: id, ProjectID: projectID, AgentKind: "claude", Model: "default",
			BaseBranch: "main", WorktreeBranch: "agentty/" + id, Folder: "/tmp/" + id,
			Status: "New", CreatedAt: int64(i), UpdatedAt: int64(i),
		}))
	}

	sessions, err := s.LoadSessionsForProject(ctx, projectID)
	require.NoError(t, err)
	require.Len(t, sessions, 3)
	assert.Equal(t, "c", sessions[0].ID)
	assert.Equal(t, "b", sessions[1].ID)
	assert.Equal(t, "a", sessions[2].ID)
}

func TestClearSessionHistoryPreservesIdentity(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	projectID, err := s.UpsertProject(ctx, "/repo", "main", "repo", 1)
	require.NoError(t, err)

	require.NoError(t, s.InsertSession(ctx, Session{
		ID: "s1", ProjectID: projectID, AgentKind: "claude", Model: "default",
		BaseBranch: "main", WorktreeBranch: "agentty/s1", Folder: "/tmp/s1",
		Prompt: "hello", Title: "Hello", Output: "output", Status: "Review",
		CommitCount: 2, CreatedAt: 1, UpdatedAt: 1,
	}))

	require.NoError(t, s.ClearSessionHistory(ctx, "s1", 2))

	got, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "", got.Output)
	assert.Equal(t, "", got.Prompt)
	assert.Equal(t, "", got.Title)
	assert.Equal(t, "New", got.Status)
	assert.Equal(t, int64(2), got.CommitCount)
	assert.Equal(t, "agentty/s1", got.WorktreeBranch)
}

func TestRequestCancelForSessionOperations(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	projectID, err := s.UpsertProject(ctx, "/repo", "main", "repo", 1)
	require.NoError(t, err)
	require.NoError(t, s.InsertSession(ctx, Session{
		ID: "s1", ProjectID: projectID, AgentKind: "claude", Model: "default",
		BaseBranch: "main", WorktreeBranch: "agentty/s1", Folder: "/tmp/s1",
		Status: "InProgress", CreatedAt: 1, UpdatedAt: 1,
	}))
	require.NoError(t, s.InsertOperation(ctx, Operation{
		ID: "op1", SessionID: "s1", Kind: "StartPrompt", Status: OpRunning, CreatedAt: 1,
	}))

	require.NoError(t, s.RequestCancelForSessionOperations(ctx, "s1"))

	var status string
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT status FROM operations WHERE id = ?`, "op1").Scan(&status))
	assert.Equal(t, OpCanceled, status)
}

func TestFailAbandonedOperations(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	projectID, err := s.UpsertProject(ctx, "/repo", "main", "repo", 1)
	require.NoError(t, err)
	require.NoError(t, s.InsertSession(ctx, Session{
		ID: "s1", ProjectID: projectID, AgentKind: "claude", Model: "default",
		BaseBranch: "main", WorktreeBranch: "agentty/s1", Folder: "/tmp/s1",
		Status: "InProgress", CreatedAt: 1, UpdatedAt: 1,
	}))
	require.NoError(t, s.InsertOperation(ctx, Operation{
		ID: "op1", SessionID: "s1", Kind: "StartPrompt", Status: OpRunning, CreatedAt: 1,
	}))

	affected, err := s.FailAbandonedOperations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, affected)
}
