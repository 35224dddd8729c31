package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClaudeAutoEditUsesAllowedToolsEdit(t *testing.T) {
	b := NewClaudeBackend()
	cmd := b.BuildStartCommand("/tmp/wt", "do a thing", "claude-sonnet-4-5", AutoEdit)

	joined := strings.Join(cmd.Args, " ")
	assert.Contains(t, joined, "--allowedTools")
	assert.Contains(t, joined, "Edit")
	assert.NotContains(t, joined, "--permission-mode")
}

func TestClaudePlanHasNoToolFlags(t *testing.T) {
	b := NewClaudeBackend()
	cmd := b.BuildStartCommand("/tmp/wt", "plan it", "claude-sonnet-4-5", Plan)

	joined := strings.Join(cmd.Args, " ")
	assert.NotContains(t, joined, "--allowedTools")
}

func TestCodexUsesExecSubcommand(t *testing.T) {
	b := NewCodexBackend()
	cmd := b.BuildStartCommand("/tmp/wt", "fix bug", "gpt-5-codex", Autonomous)

	assert.Equal(t, "exec", cmd.Args[1])
	assert.Contains(t, cmd.Args, "--full-auto")
}

func TestCodexResumeUsesExecResume(t *testing.T) {
	b := NewCodexBackend()
	cmd := b.BuildResumeCommand("/tmp/wt", "continue", "gpt-5-codex", AutoEdit, "turn1\nturn2")

	joined := strings.Join(cmd.Args, " ")
	assert.Contains(t, joined, "exec resume --last")
}

func TestClaudeParseResponseFallsBackToRawText(t *testing.T) {
	b := NewClaudeBackend()
	resp := b.ParseResponse("not json at all", "", AutoEdit)
	assert.Equal(t, "not json at all", resp.Content)
	assert.Equal(t, Stats{}, resp.Stats)
}

func TestEmbedTranscriptTruncatesOldestFirst(t *testing.T) {
	var lines []string
	for i := 0; i < 60; i++ {
		lines = append(lines, "turn"+strings.Repeat("x", i))
	}
	transcript := strings.Join(lines, "\n")

	result := embedTranscript(transcript, "new prompt")
	assert.Contains(t, result, "new prompt")
	assert.LessOrEqual(t, strings.Count(result, "turn"), maxTranscriptTurns)
	assert.Contains(t, result, "turn"+strings.Repeat("x", 59))
	assert.NotContains(t, result, "turn\n")
}
