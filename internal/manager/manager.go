// Package manager implements the Session Manager (C7): the public
// façade over session creation, lifecycle operations, and the
// in-memory snapshot the UI/CLI reads, plus the Event Bus reducer
// (C6) that keeps those snapshots consistent.
package manager

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentty-dev/agentty/internal/agent"
	"github.com/agentty-dev/agentty/internal/autocommit"
	"github.com/agentty-dev/agentty/internal/config"
	"github.com/agentty-dev/agentty/internal/events"
	"github.com/agentty-dev/agentty/internal/prforge"
	"github.com/agentty-dev/agentty/internal/storage"
	"github.com/agentty-dev/agentty/internal/worker"
)

// sessionRuntime bundles the live state for one session beyond its DB row.
type sessionRuntime struct {
	handle   *worker.Handle
	w        *worker.Worker
	cancel   context.CancelFunc
	prCancel context.CancelFunc
}

// Manager is the Session Manager façade.
type Manager struct {
	store    *storage.Storage
	bus      *events.Bus
	registry *agent.Registry
	forge    prforge.Forge
	cfg      *config.Config

	repoRoot   string
	baseBranch string
	stateRoot  string // ~/.agentty
	projectID  int64

	mu       sync.RWMutex
	sessions map[string]*storage.Session
	runtime  map[string]*sessionRuntime

	lastGitAhead, lastGitBehind uint32
}

// New constructs a Manager. Call Startup before any other method.
func New(store *storage.Storage, bus *events.Bus, forge prforge.Forge, cfg *config.Config, repoRoot, stateRoot string) *Manager {
	return &Manager{
		store:     store,
		bus:       bus,
		registry:  agent.NewRegistry(),
		forge:     forge,
		cfg:       cfg,
		repoRoot:  repoRoot,
		stateRoot: stateRoot,
		sessions:  make(map[string]*storage.Session),
		runtime:   make(map[string]*sessionRuntime),
	}
}

// Snapshot returns copies of the session rows the manager currently
// tracks for the active project, in no particular order, as last
// applied by the reducer.
func (m *Manager) Snapshot() []storage.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]storage.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, *s)
	}
	return out
}

// Config returns the manager's resolved configuration.
func (m *Manager) Config() *config.Config {
	return m.cfg
}

// GetSession returns a copy of one tracked session, if present.
func (m *Manager) GetSession(id string) (storage.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return storage.Session{}, false
	}
	return *s, true
}

// CommitMessage implements autocommit.TitleProvider: the derived title
// is primary, falling back to the summary and then to the prompt when
// no title has been set yet (spec §9 Open Question 1, resolved in
// SPEC_FULL.md).
func (m *Manager) CommitMessage(ctx context.Context, sessionID string) (string, error) {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if sess == nil {
		return "", fmt.Errorf("session %s not found", sessionID)
	}
	if sess.Title != "" {
		return sess.Title, nil
	}
	if sess.Summary != "" {
		return sess.Summary, nil
	}
	return summarizeTitle(sess.Prompt), nil
}

var _ autocommit.TitleProvider = (*Manager)(nil)

func summarizeTitle(prompt string) string {
	const maxLen = 60
	runes := []rune(prompt)
	if len(runes) <= maxLen {
		return prompt
	}
	return string(runes[:maxLen-1]) + "…"
}

func sessionFolder(stateRoot, sessionID string) string {
	return stateRoot + "/wt/" + sessionID
}

func sessionWorktreeBranch(sessionID string) string {
	short := sessionID
	if len(short) > 8 {
		short = short[:8]
	}
	return "agentty/" + short
}

func (m *Manager) newAutoCommitter() worker.AutoCommitter {
	return autocommit.New(m.store, m.bus, m, m.cfg.AutoCommitMaxAssistAttempts)
}

// ModelUsage returns the all-time per-model usage rollup backing the
// `agentty stats` report.
func (m *Manager) ModelUsage(ctx context.Context) ([]storage.AllTimeModelUsage, error) {
	return m.store.LoadAllTimeModelUsage(ctx)
}

// DailyActivity returns the local-calendar-day session creation counts
// backing the `agentty stats` report.
func (m *Manager) DailyActivity(ctx context.Context) ([]storage.DailyActivity, error) {
	return m.store.LoadDailyActivity(ctx)
}
