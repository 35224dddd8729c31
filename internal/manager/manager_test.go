package manager

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentty-dev/agentty/internal/agent"
	"github.com/agentty-dev/agentty/internal/config"
	"github.com/agentty-dev/agentty/internal/events"
	"github.com/agentty-dev/agentty/internal/storage"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	store, err := storage.OpenInMemory(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	projectID, err := store.UpsertProject(context.Background(), "/repo", "main", "repo", 1)
	require.NoError(t, err)

	m := New(store, events.NewBus(), nil, config.DefaultConfig(), "/repo", "/state")
	m.projectID = projectID
	return m
}

func TestSummarizeTitleTruncatesAtSixtyRunes(t *testing.T) {
	short := "fix the bug"
	assert.Equal(t, short, summarizeTitle(short))

	long := ""
	for i := 0; i < 100; i++ {
		long += "a"
	}
	truncated := summarizeTitle(long)
	assert.Equal(t, 60, len([]rune(truncated)))
	assert.True(t, len(truncated) > 0 && []rune(truncated)[59] == '…')
}

func TestSessionWorktreeBranchUsesShortPrefix(t *testing.T) {
	branch := sessionWorktreeBranch("0123456789abcdef")
	assert.Equal(t, "agentty/01234567", branch)
}

func TestSessionFolderNestsUnderStateRoot(t *testing.T) {
	folder := sessionFolder("/home/user/.agentty", "sess-1")
	assert.Equal(t, "/home/user/.agentty/wt/sess-1", folder)
}

func TestCommitMessageFallsBackThroughTitleSummaryPrompt(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	now := int64(1000)
	sess := storage.Session{
		ID: "s1", ProjectID: 1, AgentKind: "claude", Model: "claude-sonnet-4-5",
		BaseBranch: "main", WorktreeBranch: "agentty/s1", Folder: "/tmp/s1",
		Status: "New", PermissionMode: "AutoEdit", SizeBucket: "XS",
		Prompt: "please refactor the widget loader", CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, m.store.InsertSession(ctx, sess))

	msg, err := m.CommitMessage(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "please refactor the widget loader", msg)

	require.NoError(t, m.store.UpdateSessionSummary(ctx, "s1", "Refactor widget loader", now))
	msg, err = m.CommitMessage(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Refactor widget loader", msg)

	require.NoError(t, m.store.UpdateSessionTitle(ctx, "s1", "Widget loader refactor", now))
	msg, err = m.CommitMessage(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Widget loader refactor", msg)
}

func TestTogglePermissionModeCyclesThroughAllThreeModes(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	now := int64(1000)

	sess := storage.Session{
		ID: "s1", ProjectID: 1, AgentKind: "claude", Model: "claude-sonnet-4-5",
		Status: "Review", PermissionMode: string(agent.Plan), SizeBucket: "XS",
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, m.store.InsertSession(ctx, sess))
	m.sessions["s1"] = &sess

	mode, err := m.TogglePermissionMode(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, agent.AutoEdit, mode)

	sess.PermissionMode = string(agent.AutoEdit)
	mode, err = m.TogglePermissionMode(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, agent.Autonomous, mode)

	sess.PermissionMode = string(agent.Autonomous)
	mode, err = m.TogglePermissionMode(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, agent.Plan, mode)
}

func TestApplyBatchFoldsAgentModelAndPermissionModeUpdates(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	sess := &storage.Session{ID: "s1", AgentKind: "claude", Model: "claude-sonnet-4-5", PermissionMode: "Plan"}
	m.sessions["s1"] = sess

	batch := &events.Batch{
		ClearedPRCreationIDs: map[string]struct{}{},
		StoppedPRPollIDs:     map[string]struct{}{},
		HistoryClearedIDs:    map[string]struct{}{},
		AgentModelUpdates: map[string]events.SessionAgentModelUpdated{
			"s1": {SessionID: "s1", Agent: "codex", Model: "gpt-5-codex"},
		},
		PermissionModeUpdates: map[string]events.SessionPermissionModeUpdated{
			"s1": {SessionID: "s1", Mode: "Autonomous"},
		},
		SessionIDs: map[string]struct{}{},
	}

	m.applyBatch(ctx, batch)

	assert.Equal(t, "codex", m.sessions["s1"].AgentKind)
	assert.Equal(t, "gpt-5-codex", m.sessions["s1"].Model)
	assert.Equal(t, "Autonomous", m.sessions["s1"].PermissionMode)
}

func TestResyncSessionDropsRowDeletedFromStorage(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	m.sessions["ghost"] = &storage.Session{ID: "ghost"}
	m.resyncSession(ctx, "ghost")

	_, ok := m.sessions["ghost"]
	assert.False(t, ok)
}
