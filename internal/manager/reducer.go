package manager

import (
	"context"

	"github.com/agentty-dev/agentty/internal/alog"
	"github.com/agentty-dev/agentty/internal/events"
	"github.com/agentty-dev/agentty/internal/worker"
)

// runReducer is the single-writer loop that drains event batches and
// applies them to m.sessions in the order the state machine requires:
// force-reload, git status, PR clears, history clears, agent/model
// updates, permission mode updates, then per-session handle resync.
func (m *Manager) runReducer(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case first := <-waitForEvent(ctx, m.bus):
			if first == nil {
				return
			}
			batch := m.bus.Drain(first)
			m.applyBatch(ctx, batch)
		}
	}
}

// waitForEvent returns a channel that receives the next bus event,
// letting runReducer select on both ctx.Done and the bus without
// blocking inside Bus.Next itself. The helper goroutine blocks in
// Bus.Next until an event arrives, even after ctx is canceled; an event
// it takes after runReducer has returned is dropped.
func waitForEvent(ctx context.Context, bus *events.Bus) <-chan events.Event {
	out := make(chan events.Event, 1)
	go func() {
		select {
		case out <- bus.Next():
		case <-ctx.Done():
			out <- nil
		}
	}()
	return out
}

func (m *Manager) applyBatch(ctx context.Context, batch *events.Batch) {
	if batch.ForceReload {
		if err := m.loadSessions(ctx); err != nil {
			alog.Error.Printf("reducer: force reload: %v", err)
		}
	}

	// Git status has no session-scoped state to fold in here; it is
	// surfaced to callers via GitStatus() below.
	if batch.HasGitStatus {
		m.mu.Lock()
		m.lastGitAhead = batch.GitAhead
		m.lastGitBehind = batch.GitBehind
		m.mu.Unlock()
	}

	for id := range batch.ClearedPRCreationIDs {
		m.resyncSession(ctx, id)
	}
	for id := range batch.StoppedPRPollIDs {
		m.mu.Lock()
		if rt, ok := m.runtime[id]; ok {
			rt.prCancel = nil
		}
		m.mu.Unlock()
	}
	for id := range batch.HistoryClearedIDs {
		m.resyncSession(ctx, id)
	}
	for id, upd := range batch.AgentModelUpdates {
		m.mu.Lock()
		if sess, ok := m.sessions[id]; ok {
			sess.AgentKind = upd.Agent
			sess.Model = upd.Model
		}
		m.mu.Unlock()
	}
	for id, upd := range batch.PermissionModeUpdates {
		m.mu.Lock()
		if sess, ok := m.sessions[id]; ok {
			sess.PermissionMode = upd.Mode
		}
		m.mu.Unlock()
	}
	for id := range batch.SessionIDs {
		m.resyncSession(ctx, id)
	}
}

// resyncSession replaces one session's in-memory row with the stored
// row and, if a live handle exists, copies the stored output, status
// and commit count into that handle. The storage row is the source for
// both; the handle's own values are not read here.
func (m *Manager) resyncSession(ctx context.Context, id string) {
	sess, err := m.store.GetSession(ctx, id)
	if err != nil {
		alog.Error.Printf("reducer: resync session %s: %v", id, err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if sess == nil {
		delete(m.sessions, id)
		return
	}
	m.sessions[id] = sess

	rt, ok := m.runtime[id]
	if !ok {
		return
	}
	rt.handle.SetOutput(sess.Output)
	rt.handle.SetStatus(sess.Status)
	rt.handle.SetCommitCount(sess.CommitCount)
	if worker.IsTerminal(sess.Status) && sess.Status != worker.StatusPullRequest && rt.w != nil {
		if rt.cancel != nil {
			rt.cancel()
		}
		rt.w = nil
		rt.cancel = nil
	}
}

// GitStatus returns the most recently observed ahead/behind counts.
func (m *Manager) GitStatus() (ahead, behind uint32) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastGitAhead, m.lastGitBehind
}
