package manager

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/agentty-dev/agentty/internal/agent"
	"github.com/agentty-dev/agentty/internal/alog"
	"github.com/agentty-dev/agentty/internal/events"
	"github.com/agentty-dev/agentty/internal/gitgw"
	"github.com/agentty-dev/agentty/internal/housekeep"
	"github.com/agentty-dev/agentty/internal/prforge"
	"github.com/agentty-dev/agentty/internal/storage"
	"github.com/agentty-dev/agentty/internal/worker"
)

// Startup runs the full boot sequence: project upsert, crash recovery,
// session load, handle construction, and housekeeping task launch.
func (m *Manager) Startup(ctx context.Context) error {
	branch, _ := gitgw.DetectBranch(m.repoRoot)
	m.baseBranch = branch

	displayName := m.repoRoot
	if idx := lastSlash(m.repoRoot); idx >= 0 {
		displayName = m.repoRoot[idx+1:]
	}

	projectID, err := m.store.UpsertProject(ctx, m.repoRoot, branch, displayName, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("upsert project: %w", err)
	}
	m.projectID = projectID

	if err := m.failUnfinishedOperationsFromPreviousRun(ctx); err != nil {
		return fmt.Errorf("recover abandoned operations: %w", err)
	}

	if err := m.loadSessions(ctx); err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}

	if branch != "" {
		go housekeep.RunGitStatus(ctx, m.repoRoot, m.bus, time.Duration(m.cfg.GitStatusIntervalMs)*time.Millisecond)
	}
	go housekeep.RunRefreshWatchdog(ctx, m.store, m.projectID, m.bus, time.Duration(m.cfg.RefreshWatchdogIntervalMs)*time.Millisecond)
	go m.runReducer(ctx)

	m.mu.RLock()
	var inFlightPRs []string
	for id, s := range m.sessions {
		if s.Status == worker.StatusCreatingPullRequest || s.Status == worker.StatusPullRequest {
			inFlightPRs = append(inFlightPRs, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range inFlightPRs {
		m.startPRPolling(ctx, id)
	}

	return nil
}

func lastSlash(path string) int {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return i
		}
	}
	return -1
}

// failUnfinishedOperationsFromPreviousRun implements spec §4.7 step 3:
// any Queued/Running operation left by a previous process is marked
// Failed(abandoned); sessions left InProgress are forced to Review with
// a recovery notice.
func (m *Manager) failUnfinishedOperationsFromPreviousRun(ctx context.Context) error {
	affected, err := m.store.FailAbandonedOperations(ctx)
	if err != nil {
		return err
	}

	now := time.Now().Unix()
	for _, sessionID := range affected {
		sess, err := m.store.GetSession(ctx, sessionID)
		if err != nil || sess == nil {
			continue
		}
		if sess.Status != worker.StatusInProgress {
			continue
		}
		if err := m.store.UpdateSessionStatus(ctx, sessionID, worker.StatusReview, now); err != nil {
			alog.Error.Printf("recover session %s: update status: %v", sessionID, err)
			continue
		}
		notice := "[Recovered] Agent was terminated unexpectedly.\n"
		if err := m.store.AppendSessionOutput(ctx, sessionID, notice, now); err != nil {
			alog.Error.Printf("recover session %s: append notice: %v", sessionID, err)
		}
	}
	return nil
}

// loadSessions loads rows for the active project, dropping non-terminal
// sessions whose worktree folder is missing, and builds handles.
func (m *Manager) loadSessions(ctx context.Context) error {
	rows, err := m.store.LoadSessionsForProject(ctx, m.projectID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions = make(map[string]*storage.Session)
	for i := range rows {
		sess := rows[i]
		isTerminal := sess.Status == worker.StatusDone || sess.Status == worker.StatusCanceled
		if _, statErr := os.Stat(sess.Folder); statErr != nil && !isTerminal {
			continue
		}

		m.sessions[sess.ID] = &sess
		if _, ok := m.runtime[sess.ID]; !ok {
			m.runtime[sess.ID] = &sessionRuntime{
				handle: worker.NewHandle(sess.Output, sess.Status, sess.CommitCount),
			}
		}
	}
	return nil
}

// CreateSession implements spec §4.7 "Create session".
func (m *Manager) CreateSession(ctx context.Context, agentKind agent.Kind, model string, permMode agent.PermissionMode) (string, error) {
	if m.baseBranch == "" {
		return "", fmt.Errorf("no base branch detected for %s", m.repoRoot)
	}
	if model == "" {
		model = agent.DefaultModel(agentKind)
	}

	sessionID := uuid.NewString()
	folder := sessionFolder(m.stateRoot, sessionID)
	branch := sessionWorktreeBranch(sessionID)
	now := time.Now().Unix()

	if err := gitgw.CreateWorktree(m.repoRoot, folder, branch, m.baseBranch); err != nil {
		return "", fmt.Errorf("create worktree: %w", err)
	}

	sess := storage.Session{
		ID: sessionID, ProjectID: m.projectID, AgentKind: string(agentKind), Model: model,
		BaseBranch: m.baseBranch, WorktreeBranch: branch, Folder: folder,
		PermissionMode: string(permMode), Status: worker.StatusNew, SizeBucket: "XS",
		CreatedAt: now, UpdatedAt: now,
	}

	if err := m.store.InsertSession(ctx, sess); err != nil {
		m.rollbackFailedSessionCreation(sessionID, folder, branch)
		return "", fmt.Errorf("insert session: %w", err)
	}
	if err := m.store.RecordSessionActivity(ctx, sessionID, now); err != nil {
		alog.Error.Printf("session %s: record activity: %v", sessionID, err)
	}

	backend, ok := m.registry.Get(agentKind)
	if !ok {
		m.rollbackFailedSessionCreation(sessionID, folder, branch)
		_ = m.store.DeleteSession(ctx, sessionID)
		return "", fmt.Errorf("unknown agent kind %q", agentKind)
	}
	if err := backend.Setup(folder); err != nil {
		alog.Error.Printf("session %s: backend setup: %v", sessionID, err)
	}

	m.mu.Lock()
	m.sessions[sessionID] = &sess
	m.runtime[sessionID] = &sessionRuntime{handle: worker.NewHandle("", worker.StatusNew, 0)}
	m.mu.Unlock()

	m.bus.Emit(events.RefreshSessions{})
	return sessionID, nil
}

func (m *Manager) rollbackFailedSessionCreation(sessionID, folder, branch string) {
	if err := gitgw.RemoveWorktree(m.repoRoot, folder); err != nil {
		alog.Error.Printf("rollback session %s: remove worktree: %v", sessionID, err)
	}
	if err := gitgw.DeleteBranch(m.repoRoot, branch); err != nil {
		alog.Error.Printf("rollback session %s: delete branch: %v", sessionID, err)
	}
	_ = os.RemoveAll(folder)
}

// ensureWorker lazily spawns the worker goroutine for a session.
func (m *Manager) ensureWorker(ctx context.Context, sessionID string) *worker.Worker {
	m.mu.Lock()
	defer m.mu.Unlock()

	rt := m.runtime[sessionID]
	if rt.w != nil {
		return rt.w
	}

	sess := m.sessions[sessionID]
	wctx, cancel := context.WithCancel(ctx)
	w := worker.New(sessionID, sess.Folder, sess.BaseBranch, m.store, m.bus, rt.handle, m.newAutoCommitter())
	rt.w = w
	rt.cancel = cancel
	go w.Run(wctx)
	return w
}

// StartOrReply implements spec §4.4/§4.7 start/reply: requires status
// New or Review.
func (m *Manager) StartOrReply(ctx context.Context, sessionID, prompt string) error {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("session %s not found", sessionID)
	}
	status := sess.Status
	isFirst := status == worker.StatusNew
	if status != worker.StatusNew && status != worker.StatusReview {
		rt := m.runtime[sessionID]
		m.mu.Unlock()
		if rt != nil {
			rt.handle.AppendOutput("\n[Reply Error] Session must be in review status\n")
		}
		_ = m.store.AppendSessionOutput(ctx, sessionID, "\n[Reply Error] Session must be in review status\n", time.Now().Unix())
		return fmt.Errorf("session %s must be New or Review to start/reply, is %s", sessionID, status)
	}

	agentKind := agent.Kind(sess.AgentKind)
	model := sess.Model
	mode := agent.PermissionMode(sess.PermissionMode)
	folder := sess.Folder
	title := summarizeTitle(prompt)
	now := time.Now().Unix()

	if isFirst {
		sess.Prompt = prompt
		sess.Title = title
	}
	m.mu.Unlock()

	if isFirst {
		if err := m.store.UpdateSessionPrompt(ctx, sessionID, prompt, now); err != nil {
			alog.Error.Printf("session %s: update prompt: %v", sessionID, err)
		}
		if err := m.store.UpdateSessionTitle(ctx, sessionID, title, now); err != nil {
			alog.Error.Printf("session %s: update title: %v", sessionID, err)
		}
	}

	backend, ok := m.registry.Get(agentKind)
	if !ok {
		return fmt.Errorf("unknown agent kind %q", agentKind)
	}

	var execCmd = backend.BuildStartCommand(folder, prompt, model, mode)
	kind := worker.KindStartPrompt
	rt := m.runtimeFor(sessionID)
	if !isFirst {
		execCmd = backend.BuildResumeCommand(folder, prompt, model, mode, rt.handle.Output())
		kind = worker.KindReply
	}

	operationID := uuid.NewString()
	if err := m.store.InsertOperation(ctx, storage.Operation{
		ID: operationID, SessionID: sessionID, Kind: string(kind), Status: storage.OpQueued, CreatedAt: now,
	}); err != nil {
		return fmt.Errorf("insert operation: %w", err)
	}

	w := m.ensureWorker(ctx, sessionID)
	w.Enqueue(worker.Command{
		Kind: kind, OperationID: operationID, AgentKind: agentKind, Model: model,
		Cmd: execCmd, PermissionMode: mode, Prompt: prompt,
	})
	return nil
}

func (m *Manager) runtimeFor(sessionID string) *sessionRuntime {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.runtime[sessionID]
}

// Stop sends SIGINT to the session's in-flight child and cancels queued ops.
func (m *Manager) Stop(ctx context.Context, sessionID string) error {
	m.mu.RLock()
	sess, ok := m.sessions[sessionID]
	rt := m.runtime[sessionID]
	m.mu.RUnlock()
	if !ok || rt == nil || rt.w == nil {
		return fmt.Errorf("session %s has no active worker", sessionID)
	}
	if sess.Status != worker.StatusInProgress {
		return fmt.Errorf("session %s is not InProgress", sessionID)
	}
	rt.w.Stop(ctx)
	return nil
}

// ClearHistory resets a session to New, preserving identity fields.
func (m *Manager) ClearHistory(ctx context.Context, sessionID string) error {
	now := time.Now().Unix()
	if err := m.store.ClearSessionHistory(ctx, sessionID, now); err != nil {
		return err
	}

	m.mu.RLock()
	rt := m.runtime[sessionID]
	m.mu.RUnlock()
	if rt != nil {
		rt.handle.SetOutput("")
		rt.handle.SetStatus(worker.StatusNew)
	}

	m.bus.Emit(events.SessionHistoryCleared{SessionID: sessionID})
	return nil
}

// Delete removes a session's worktree, branch, and row.
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	rt := m.runtime[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	if rt != nil {
		delete(m.runtime, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("session %s not found", sessionID)
	}

	if err := m.store.RequestCancelForSessionOperations(ctx, sessionID); err != nil {
		alog.Error.Printf("delete session %s: cancel ops: %v", sessionID, err)
	}
	if rt != nil {
		if rt.w != nil {
			rt.w.Stop(ctx)
		}
		if rt.cancel != nil {
			rt.cancel()
		}
		if rt.prCancel != nil {
			rt.prCancel()
		}
	}
	if err := m.store.DeleteSession(ctx, sessionID); err != nil {
		alog.Error.Printf("delete session %s: delete row: %v", sessionID, err)
	}

	if sess.WorktreeBranch != "" {
		if err := gitgw.RemoveWorktree(m.repoRoot, sess.Folder); err != nil {
			alog.Error.Printf("delete session %s: remove worktree: %v", sessionID, err)
		}
		if err := gitgw.DeleteBranch(m.repoRoot, sess.WorktreeBranch); err != nil {
			alog.Error.Printf("delete session %s: delete branch: %v", sessionID, err)
		}
	}
	_ = os.RemoveAll(sess.Folder)

	m.bus.Emit(events.RefreshSessions{})
	return nil
}

// Reset deletes every tracked session, its worktree, and its branch,
// mirroring the teacher's reset subcommand.
func (m *Manager) Reset(ctx context.Context) error {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	var firstErr error
	for _, id := range ids {
		if err := m.Delete(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Merge squash-merges the session's branch into base_branch, from Review.
func (m *Manager) Merge(ctx context.Context, sessionID string) error {
	m.mu.RLock()
	sess, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("session %s not found", sessionID)
	}
	if sess.Status != worker.StatusReview {
		return fmt.Errorf("session %s must be in Review to merge, is %s", sessionID, sess.Status)
	}

	now := time.Now().Unix()
	if err := m.store.UpdateSessionStatus(ctx, sessionID, worker.StatusMerging, now); err != nil {
		return err
	}

	message := sess.Title
	if message == "" {
		message = summarizeTitle(sess.Prompt)
	}

	outcome, err := gitgw.SquashMerge(m.repoRoot, sess.WorktreeBranch, sess.BaseBranch, message)
	now = time.Now().Unix()
	if err != nil {
		_ = m.store.UpdateSessionStatus(ctx, sessionID, worker.StatusReview, now)
		notice := fmt.Sprintf("\n[Merge Error] %v\n", err)
		_ = m.store.AppendSessionOutput(ctx, sessionID, notice, now)
		return err
	}

	var notice string
	switch outcome {
	case gitgw.Committed:
		notice = "\n[Merged]\n"
	case gitgw.AlreadyPresentInTarget:
		notice = "\n[Merged] (already present in base branch)\n"
	}
	_ = m.store.AppendSessionOutput(ctx, sessionID, notice, now)
	if err := m.store.UpdateSessionStatus(ctx, sessionID, worker.StatusDone, now); err != nil {
		return err
	}

	m.bus.Emit(events.SessionUpdated{SessionID: sessionID})
	return nil
}

// SetAgentAndModel persists a new agent/model pair for the session.
func (m *Manager) SetAgentAndModel(ctx context.Context, sessionID string, kind agent.Kind, model string) error {
	now := time.Now().Unix()
	if err := m.store.UpdateSessionAgentAndModel(ctx, sessionID, string(kind), model, now); err != nil {
		return err
	}
	m.bus.Emit(events.SessionAgentModelUpdated{SessionID: sessionID, Agent: string(kind), Model: model})
	return nil
}

// TogglePermissionMode cycles Plan -> AutoEdit -> Autonomous -> Plan.
func (m *Manager) TogglePermissionMode(ctx context.Context, sessionID string) (agent.PermissionMode, error) {
	m.mu.RLock()
	sess, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("session %s not found", sessionID)
	}

	var next agent.PermissionMode
	switch agent.PermissionMode(sess.PermissionMode) {
	case agent.Plan:
		next = agent.AutoEdit
	case agent.AutoEdit:
		next = agent.Autonomous
	default:
		next = agent.Plan
	}

	now := time.Now().Unix()
	if err := m.store.UpdateSessionPermissionMode(ctx, sessionID, string(next), now); err != nil {
		return "", err
	}
	m.bus.Emit(events.SessionPermissionModeUpdated{SessionID: sessionID, Mode: string(next)})
	return next, nil
}

// OpenPR creates a draft pull request for the session's branch and
// starts polling it for a terminal (merged/closed) state.
func (m *Manager) OpenPR(ctx context.Context, sessionID string) (string, error) {
	if m.forge == nil {
		return "", fmt.Errorf("no pull request forge configured")
	}

	m.mu.RLock()
	sess, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("session %s not found", sessionID)
	}
	if sess.Status != worker.StatusReview {
		return "", fmt.Errorf("session %s must be in Review to open a pull request, is %s", sessionID, sess.Status)
	}

	owner, repo, err := m.ownerRepo()
	if err != nil {
		return "", err
	}

	now := time.Now().Unix()
	if err := m.store.UpdateSessionStatus(ctx, sessionID, worker.StatusCreatingPullRequest, now); err != nil {
		return "", err
	}

	title := sess.Title
	if title == "" {
		title = summarizeTitle(sess.Prompt)
	}

	pr, err := m.forge.Create(ctx, owner, repo, sess.WorktreeBranch, sess.BaseBranch, title)
	now = time.Now().Unix()
	if err != nil {
		_ = m.store.UpdateSessionStatus(ctx, sessionID, worker.StatusReview, now)
		notice := fmt.Sprintf("\n[Pull Request Error] %v\n", err)
		_ = m.store.AppendSessionOutput(ctx, sessionID, notice, now)
		m.bus.Emit(events.PrCreationCleared{SessionID: sessionID})
		return "", err
	}

	notice := fmt.Sprintf("\n[Pull Request] %s\n", pr.URL)
	_ = m.store.AppendSessionOutput(ctx, sessionID, notice, now)
	if err := m.store.UpdateSessionStatus(ctx, sessionID, worker.StatusPullRequest, now); err != nil {
		return "", err
	}

	m.startPRPolling(ctx, sessionID)
	m.bus.Emit(events.PrCreationCleared{SessionID: sessionID})
	return pr.URL, nil
}

func (m *Manager) ownerRepo() (owner, repo string, err error) {
	remote, err := gitgw.RemoteURL(m.repoRoot)
	if err != nil {
		return "", "", fmt.Errorf("resolve remote: %w", err)
	}
	owner, repo, ok := gitgw.OwnerRepo(gitgw.NormalizeRepoURL(remote))
	if !ok {
		return "", "", fmt.Errorf("could not parse owner/repo from remote %q", remote)
	}
	return owner, repo, nil
}

// startPRPolling launches the PR-polling housekeeping task for a session.
// onTerminal applies the Merged->Done or Closed->Review transition before
// housekeep emits SessionUpdated and PrPollingStopped.
func (m *Manager) startPRPolling(ctx context.Context, sessionID string) {
	if m.forge == nil {
		return
	}
	m.mu.Lock()
	sess := m.sessions[sessionID]
	rt := m.runtime[sessionID]
	if sess == nil || rt == nil {
		m.mu.Unlock()
		return
	}
	pctx, cancel := context.WithCancel(ctx)
	rt.prCancel = cancel
	m.mu.Unlock()

	owner, repo, err := m.ownerRepo()
	if err != nil {
		alog.Error.Printf("session %s: pr poll: %v", sessionID, err)
		cancel()
		return
	}

	prInterval := time.Duration(m.cfg.PRPollIntervalMs) * time.Millisecond
	go housekeep.RunPRPoll(pctx, m.forge, owner, repo, sess.WorktreeBranch, sessionID, m.bus, prInterval, func(state prforge.State) {
		now := time.Now().Unix()
		var notice string
		var next string
		switch state {
		case prforge.Merged:
			next = worker.StatusDone
			notice = "\n[Pull Request] merged\n"
		case prforge.Closed:
			next = worker.StatusReview
			notice = "\n[Pull Request] closed without merging\n"
		default:
			return
		}
		if err := m.store.UpdateSessionStatus(context.Background(), sessionID, next, now); err != nil {
			alog.Error.Printf("session %s: pr terminal status update: %v", sessionID, err)
			return
		}
		_ = m.store.AppendSessionOutput(context.Background(), sessionID, notice, now)
	})
}
