package autocommit

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentty-dev/agentty/internal/agent"
	"github.com/agentty-dev/agentty/internal/events"
	"github.com/agentty-dev/agentty/internal/storage"
	"github.com/agentty-dev/agentty/internal/worker"
)

func TestFormatAssistHeaderBulletsEachLine(t *testing.T) {
	err := errors.New("first line\nsecond line")
	header := formatAssistHeader(2, 3, err)

	assert.Contains(t, header, "[Commit Assist] Attempt 2/3")
	assert.Contains(t, header, "- first line")
	assert.Contains(t, header, "- second line")
}

func TestMaxAssistAttemptsMatchesSpec(t *testing.T) {
	assert.Equal(t, 3, MaxAssistAttempts)
}

func TestAssistPromptTemplateHasPlaceholder(t *testing.T) {
	assert.True(t, strings.Contains(assistPromptTemplate, "{commit_error}"))
}

type fakeTitleProvider struct{ message string }

func (f fakeTitleProvider) CommitMessage(ctx context.Context, sessionID string) (string, error) {
	return f.message, nil
}

// fakeBackend records the model passed to BuildResumeCommand instead of
// actually invoking an agent CLI, so runAssistTurn can be exercised
// without a real child process.
type fakeBackend struct {
	resumeModel string
}

func (f *fakeBackend) Kind() agent.Kind { return agent.Claude }
func (f *fakeBackend) Setup(folder string) error { return nil }
func (f *fakeBackend) BuildStartCommand(folder, prompt, model string, mode agent.PermissionMode) *exec.Cmd {
	return exec.Command("true")
}
func (f *fakeBackend) BuildResumeCommand(folder, prompt, model string, mode agent.PermissionMode, transcript string) *exec.Cmd {
	f.resumeModel = model
	return exec.Command("true")
}
func (f *fakeBackend) ParseResponse(stdout, stderr string, mode agent.PermissionMode) agent.Response {
	return agent.Response{Content: "assist output"}
}

var _ agent.Backend = (*fakeBackend)(nil)

func TestRunAssistTurnThreadsSessionModelIntoResumeCommand(t *testing.T) {
	store, err := storage.OpenInMemory(context.Background())
	require.NoError(t, err)

	p := New(store, events.NewBus(), fakeTitleProvider{message: "fix it"}, 1)
	backend := &fakeBackend{}
	handle := worker.NewHandle("", worker.StatusInProgress, 0)

	p.runAssistTurn(context.Background(), "s1", t.TempDir(), "claude-opus-4-1", backend, agent.AutoEdit, handle, errors.New("commit failed"))

	assert.Equal(t, "claude-opus-4-1", backend.resumeModel)
}

func TestNewFallsBackToDefaultMaxAssistAttempts(t *testing.T) {
	store, err := storage.OpenInMemory(context.Background())
	require.NoError(t, err)

	p := New(store, events.NewBus(), fakeTitleProvider{}, 0)
	assert.Equal(t, MaxAssistAttempts, p.maxAssistAttempts)
}
