// Package agent is the Agent Backend Registry: pure, deterministic
// adapters around each external coding-agent CLI.
package agent

import (
	"fmt"
	"os/exec"
	"strings"
)

// Kind identifies one of the supported agent CLIs.
type Kind string

const (
	Claude Kind = "claude"
	Gemini Kind = "gemini"
	Codex  Kind = "codex"
)

// PermissionMode governs which tools the agent may invoke.
type PermissionMode string

const (
	Plan       PermissionMode = "Plan"
	AutoEdit   PermissionMode = "AutoEdit"
	Autonomous PermissionMode = "Autonomous"
)

// Stats is cumulative token usage reported by a turn.
type Stats struct {
	InputTokens  int64
	OutputTokens int64
}

// Response is the result of parsing one completed turn's stdout/stderr.
type Response struct {
	Content string
	Stats   Stats
}

// Backend is the capability set every agent CLI adapter implements.
// Implementations are pure and deterministic given their inputs.
type Backend interface {
	Kind() Kind
	Setup(folder string) error
	BuildStartCommand(folder, prompt, model string, mode PermissionMode) *exec.Cmd
	BuildResumeCommand(folder, prompt, model string, mode PermissionMode, transcript string) *exec.Cmd
	ParseResponse(stdout, stderr string, mode PermissionMode) Response
}

// maxTranscriptTurns bounds resume-prompt transcript embedding, counted
// in transcript lines (oldest lines dropped first).
const maxTranscriptTurns = 50

// embedTranscript keeps at most the last maxTranscriptTurns lines of
// transcript and wraps them with the new prompt. All three backends'
// resume commands use it, including Claude (-c) and Codex (resume --last).
func embedTranscript(transcript, prompt string) string {
	lines := strings.Split(strings.TrimRight(transcript, "\n"), "\n")
	if len(lines) > maxTranscriptTurns {
		lines = lines[len(lines)-maxTranscriptTurns:]
	}
	history := strings.Join(lines, "\n")
	if history == "" {
		return prompt
	}
	return fmt.Sprintf("Previous conversation:\n%s\n\nContinue with:\n%s", history, prompt)
}

// Registry maps agent kinds to their backend implementation.
type Registry struct {
	backends map[Kind]Backend
}

// NewRegistry builds the default registry of the three shipped backends.
func NewRegistry() *Registry {
	r := &Registry{backends: make(map[Kind]Backend)}
	r.Register(NewClaudeBackend())
	r.Register(NewGeminiBackend())
	r.Register(NewCodexBackend())
	return r
}

func (r *Registry) Register(b Backend) {
	r.backends[b.Kind()] = b
}

func (r *Registry) Get(kind Kind) (Backend, bool) {
	b, ok := r.backends[kind]
	return b, ok
}

// Models lists the allowed model names for a given agent kind.
func Models(kind Kind) []string {
	switch kind {
	case Claude:
		return []string{"claude-sonnet-4-5", "claude-opus-4-1"}
	case Gemini:
		return []string{"gemini-2.5-pro", "gemini-2.5-flash"}
	case Codex:
		return []string{"gpt-5-codex", "o4-mini"}
	default:
		return nil
	}
}

// DefaultModel returns kind's default model.
func DefaultModel(kind Kind) string {
	models := Models(kind)
	if len(models) == 0 {
		return ""
	}
	return models[0]
}
