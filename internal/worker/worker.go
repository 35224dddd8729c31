// Package worker implements the Session Worker (C4): one goroutine per
// session draining a strictly sequential command mailbox, running at
// most one external agent process at a time.
package worker

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/agentty-dev/agentty/internal/agent"
	"github.com/agentty-dev/agentty/internal/alog"
	"github.com/agentty-dev/agentty/internal/events"
	"github.com/agentty-dev/agentty/internal/gitgw"
	"github.com/agentty-dev/agentty/internal/storage"
)

// AutoCommitter runs the auto-commit pipeline (C5) after a successful
// turn. Implemented by package autocommit; declared here to avoid an
// import cycle between worker and autocommit.
type AutoCommitter interface {
	Run(ctx context.Context, sessionID, folder, model string, backend agent.Backend, mode agent.PermissionMode, handle *Handle) error
}

// Worker owns one session's mailbox and runs its commands strictly
// sequentially.
type Worker struct {
	SessionID  string
	Folder     string
	BaseBranch string

	mailbox  chan Command
	store    *storage.Storage
	bus      *events.Bus
	handle   *Handle
	commit   AutoCommitter
	registry *agent.Registry

	mu       sync.Mutex
	childCmd *exec.Cmd
}

// New constructs a worker for sessionID. Call Run in its own goroutine.
func New(sessionID, folder, baseBranch string, store *storage.Storage, bus *events.Bus, handle *Handle, commit AutoCommitter) *Worker {
	return &Worker{
		SessionID:  sessionID,
		Folder:     folder,
		BaseBranch: baseBranch,
		mailbox:    make(chan Command, 64),
		store:      store,
		bus:        bus,
		handle:     handle,
		commit:     commit,
		registry:   agent.NewRegistry(),
	}
}

// Enqueue submits a command to the mailbox, a buffered channel of 64
// commands. It blocks while all 64 slots are full.
func (w *Worker) Enqueue(cmd Command) {
	w.mailbox <- cmd
}

// Stop sends SIGINT to the in-flight child process, if any, and
// requests cancellation of any still-queued operations.
func (w *Worker) Stop(ctx context.Context) {
	w.mu.Lock()
	cmd := w.childCmd
	w.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Signal(syscall.SIGINT)
	}

	if err := w.store.RequestCancelForSessionOperations(ctx, w.SessionID); err != nil {
		alog.Error.Printf("session %s: cancel queued operations: %v", w.SessionID, err)
	}
}

// Run drains the mailbox until ctx is canceled, executing each command
// to completion before dequeuing the next.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-w.mailbox:
			w.execute(ctx, cmd)
		}
	}
}

func (w *Worker) execute(ctx context.Context, cmd Command) {
	now := time.Now().Unix()

	if err := w.store.UpdateOperationStatus(ctx, cmd.OperationID, storage.OpRunning); err != nil {
		alog.Error.Printf("session %s: mark operation running: %v", w.SessionID, err)
	}

	w.appendOutput(ctx, fmt.Sprintf(" › %s\n\n", cmd.Prompt), now)
	w.setStatus(ctx, StatusInProgress, now)

	out, outErr := cmd.Cmd.StdoutPipe()
	errPipe, errPipeErr := cmd.Cmd.StderrPipe()

	if err := cmd.Cmd.Start(); err != nil {
		w.appendOutput(ctx, fmt.Sprintf("Failed to spawn process: %v\n", err), time.Now().Unix())
		w.setStatus(ctx, StatusReview, time.Now().Unix())
		_ = w.store.UpdateOperationStatus(ctx, cmd.OperationID, storage.OpFailed)
		return
	}

	w.mu.Lock()
	w.childCmd = cmd.Cmd
	w.mu.Unlock()
	if cmd.Cmd.Process != nil {
		w.handle.SetChildPID(cmd.Cmd.Process.Pid)
	}

	var wg sync.WaitGroup
	var stdoutBuf, stderrBuf strings.Builder
	var bufMu sync.Mutex

	if outErr == nil {
		wg.Add(1)
		go captureLines(&wg, out, &stdoutBuf, &bufMu)
	}
	if errPipeErr == nil {
		wg.Add(1)
		go captureLines(&wg, errPipe, &stderrBuf, &bufMu)
	}

	wg.Wait()
	waitErr := cmd.Cmd.Wait()

	w.mu.Lock()
	w.childCmd = nil
	w.mu.Unlock()
	w.handle.SetChildPID(0)

	if signaled(waitErr) {
		w.appendOutput(ctx, "\n[Stopped] Agent interrupted by user.\n", time.Now().Unix())
		w.setStatus(ctx, StatusCanceled, time.Now().Unix())
		_ = w.store.UpdateOperationStatus(ctx, cmd.OperationID, storage.OpCanceled)
		return
	}

	bufMu.Lock()
	stdout := stdoutBuf.String()
	stderr := stderrBuf.String()
	bufMu.Unlock()

	backend, _ := w.registry.Get(cmd.AgentKind)

	var resp agent.Response
	if backend != nil {
		resp = backend.ParseResponse(stdout, stderr, cmd.PermissionMode)
	} else {
		resp = agent.Response{Content: stdout}
	}

	w.appendOutput(ctx, resp.Content, time.Now().Unix())
	if err := w.store.UpdateSessionStats(ctx, w.SessionID, resp.Stats.InputTokens, resp.Stats.OutputTokens, time.Now().Unix()); err != nil {
		alog.Error.Printf("session %s: update stats: %v", w.SessionID, err)
	}
	w.setStatus(ctx, StatusReview, time.Now().Unix())
	_ = w.store.UpdateOperationStatus(ctx, cmd.OperationID, storage.OpSucceeded)

	if w.commit != nil && backend != nil {
		if err := w.commit.Run(ctx, w.SessionID, w.Folder, cmd.Model, backend, cmd.PermissionMode, w.handle); err != nil {
			alog.Error.Printf("session %s: auto-commit: %v", w.SessionID, err)
		}
	}

	w.resizeSession(ctx)

	w.bus.Emit(events.SessionUpdated{SessionID: w.SessionID})
}

// resizeSession recomputes the session's size bucket from the diff
// against its base branch, keeping session_size_for_folder current
// after a turn changes the worktree.
func (w *Worker) resizeSession(ctx context.Context) {
	if w.BaseBranch == "" {
		return
	}
	diff, err := gitgw.Diff(w.Folder, w.BaseBranch)
	if err != nil {
		alog.Warning.Printf("session %s: resize: diff: %v", w.SessionID, err)
		return
	}
	added, removed := gitgw.DiffLineCounts(diff)
	bucket := gitgw.SizeBucket(added, removed)
	if err := w.store.UpdateSessionSize(ctx, w.SessionID, bucket, time.Now().Unix()); err != nil {
		alog.Error.Printf("session %s: resize: update size: %v", w.SessionID, err)
	}
}

func (w *Worker) appendOutput(ctx context.Context, chunk string, now int64) {
	w.handle.AppendOutput(chunk)
	if err := w.store.AppendSessionOutput(ctx, w.SessionID, chunk, now); err != nil {
		alog.Error.Printf("session %s: append output: %v", w.SessionID, err)
	}
	w.bus.Emit(events.SessionUpdated{SessionID: w.SessionID})
}

func (w *Worker) setStatus(ctx context.Context, status string, now int64) {
	current := w.handle.Status()
	if !CanTransition(current, status) {
		return
	}
	w.handle.SetStatus(status)
	if err := w.store.UpdateSessionStatus(ctx, w.SessionID, status, now); err != nil {
		alog.Error.Printf("session %s: update status: %v", w.SessionID, err)
	}
	w.bus.Emit(events.SessionUpdated{SessionID: w.SessionID})
}

func captureLines(wg *sync.WaitGroup, r io.Reader, buf *strings.Builder, mu *sync.Mutex) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		mu.Lock()
		buf.WriteString(scanner.Text())
		buf.WriteByte('\n')
		mu.Unlock()
	}
}

// Signaled reports whether err is an *exec.ExitError caused by the
// child process being terminated by a signal (e.g. SIGINT on stop).
func Signaled(err error) bool {
	return signaled(err)
}

func signaled(err error) bool {
	if err == nil {
		return false
	}
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return false
	}
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		return false
	}
	return status.Signaled()
}
