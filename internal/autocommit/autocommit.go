// Package autocommit implements the Auto-Commit Pipeline (C5): after
// every successful turn, stage and commit the worktree, retrying with
// agent-assisted repair turns on failure.
package autocommit

import (
	"bufio"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/agentty-dev/agentty/internal/agent"
	"github.com/agentty-dev/agentty/internal/alog"
	"github.com/agentty-dev/agentty/internal/events"
	"github.com/agentty-dev/agentty/internal/gitgw"
	"github.com/agentty-dev/agentty/internal/storage"
	"github.com/agentty-dev/agentty/internal/worker"
)

// MaxAssistAttempts bounds the self-healing retry loop.
const MaxAssistAttempts = 3

//go:embed assist_prompt.md
var assistPromptTemplate string

// TitleProvider resolves the commit message for a session (derived
// title, per spec's resolved Open Question).
type TitleProvider interface {
	CommitMessage(ctx context.Context, sessionID string) (string, error)
}

// Pipeline runs commit_all with up to maxAssistAttempts assisted
// retries, satisfying worker.AutoCommitter.
type Pipeline struct {
	store             *storage.Storage
	bus               *events.Bus
	title             TitleProvider
	maxAssistAttempts int
}

// New constructs a Pipeline. maxAssistAttempts configures the
// self-healing retry bound (spec's resolved Open Question default is
// MaxAssistAttempts); a non-positive value falls back to that default.
func New(store *storage.Storage, bus *events.Bus, title TitleProvider, maxAssistAttempts int) *Pipeline {
	if maxAssistAttempts <= 0 {
		maxAssistAttempts = MaxAssistAttempts
	}
	return &Pipeline{store: store, bus: bus, title: title, maxAssistAttempts: maxAssistAttempts}
}

var _ worker.AutoCommitter = (*Pipeline)(nil)

// Run executes the pipeline for one completed turn.
func (p *Pipeline) Run(ctx context.Context, sessionID, folder, model string, backend agent.Backend, mode agent.PermissionMode, handle *worker.Handle) error {
	message, err := p.title.CommitMessage(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("resolve commit message: %w", err)
	}

	hash, err := p.commitWithAssist(ctx, sessionID, folder, model, backend, mode, handle, message)
	now := time.Now().Unix()
	if err != nil {
		if errors.Is(err, gitgw.ErrNothingToCommit) {
			return nil
		}
		p.append(ctx, sessionID, handle, fmt.Sprintf("\n[Commit Error] %v\n", err), now)
		return nil
	}
	if hash == "" {
		return nil
	}

	count, err := p.store.IncrementCommitCount(ctx, sessionID, now)
	if err != nil {
		return fmt.Errorf("increment commit count: %w", err)
	}
	handle.SetCommitCount(count)
	p.append(ctx, sessionID, handle, fmt.Sprintf("\n[Commit] committed with hash `%s`\n", hash), now)
	return nil
}

func (p *Pipeline) commitWithAssist(ctx context.Context, sessionID, folder, model string, backend agent.Backend, mode agent.PermissionMode, handle *worker.Handle, message string) (string, error) {
	var lastErr error

	for attempt := 1; attempt <= p.maxAssistAttempts+1; attempt++ {
		hash, err := gitgw.CommitAll(folder, message)
		if err == nil {
			return hash, nil
		}
		if errors.Is(err, gitgw.ErrNothingToCommit) {
			return "", gitgw.ErrNothingToCommit
		}
		lastErr = err

		if attempt > p.maxAssistAttempts {
			break
		}

		p.append(ctx, sessionID, handle, formatAssistHeader(attempt, p.maxAssistAttempts, err), time.Now().Unix())
		p.runAssistTurn(ctx, sessionID, folder, model, backend, mode, handle, err)
	}

	return "", lastErr
}

func formatAssistHeader(attempt, maxAttempts int, commitErr error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n[Commit Assist] Attempt %d/%d. Resolving auto-commit failure:\n", attempt, maxAttempts)
	for _, line := range strings.Split(commitErr.Error(), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fmt.Fprintf(&b, "- %s\n", line)
	}
	return b.String()
}

func (p *Pipeline) runAssistTurn(ctx context.Context, sessionID, folder, model string, backend agent.Backend, mode agent.PermissionMode, handle *worker.Handle, commitErr error) {
	effectiveMode := mode
	if mode == agent.Plan {
		effectiveMode = agent.AutoEdit
	}

	prompt := strings.Replace(assistPromptTemplate, "{commit_error}", commitErr.Error(), 1)
	cmd := backend.BuildResumeCommand(folder, prompt, model, effectiveMode, handle.Output())

	out, outErr := cmd.StdoutPipe()
	errPipe, errPipeErr := cmd.StderrPipe()

	if err := cmd.Start(); err != nil {
		p.append(ctx, sessionID, handle, fmt.Sprintf("Failed to spawn process: %v\n", err), time.Now().Unix())
		return
	}

	var wg sync.WaitGroup
	var stdoutBuf, stderrBuf strings.Builder
	var mu sync.Mutex

	if outErr == nil {
		wg.Add(1)
		go captureLines(&wg, out, &stdoutBuf, &mu)
	}
	if errPipeErr == nil {
		wg.Add(1)
		go captureLines(&wg, errPipe, &stderrBuf, &mu)
	}

	wg.Wait()
	waitErr := cmd.Wait()

	if signaled(waitErr) {
		p.append(ctx, sessionID, handle, "\n[Stopped] Agent assistance interrupted.\n", time.Now().Unix())
		return
	}

	mu.Lock()
	stdout := stdoutBuf.String()
	stderr := stderrBuf.String()
	mu.Unlock()

	resp := backend.ParseResponse(stdout, stderr, effectiveMode)
	p.append(ctx, sessionID, handle, resp.Content, time.Now().Unix())
}

func (p *Pipeline) append(ctx context.Context, sessionID string, handle *worker.Handle, chunk string, now int64) {
	handle.AppendOutput(chunk)
	if err := p.store.AppendSessionOutput(ctx, sessionID, chunk, now); err != nil {
		alog.Error.Printf("session %s: append output: %v", sessionID, err)
	}
	if p.bus != nil {
		p.bus.Emit(events.SessionUpdated{SessionID: sessionID})
	}
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

func signaled(err error) bool {
	return worker.Signaled(err)
}
