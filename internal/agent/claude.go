package agent

import (
	"encoding/json"
	"os/exec"
	"strings"
)

// ClaudeBackend drives the `claude` CLI in non-interactive mode.
type ClaudeBackend struct{}

func NewClaudeBackend() *ClaudeBackend { return &ClaudeBackend{} }

func (b *ClaudeBackend) Kind() Kind { return Claude }

func (b *ClaudeBackend) Setup(folder string) error {
	return nil
}

func (b *ClaudeBackend) BuildStartCommand(folder, prompt, model string, mode PermissionMode) *exec.Cmd {
	args := []string{"-p", prompt}
	args = append(args, claudePermissionArgs(mode)...)
	args = append(args, "--verbose", "--output-format", "stream-json")
	return claudeCommand(folder, model, args)
}

func (b *ClaudeBackend) BuildResumeCommand(folder, prompt, model string, mode PermissionMode, transcript string) *exec.Cmd {
	args := []string{"-c", "-p", embedTranscript(transcript, prompt)}
	args = append(args, claudePermissionArgs(mode)...)
	args = append(args, "--verbose", "--output-format", "stream-json")
	return claudeCommand(folder, model, args)
}

func claudePermissionArgs(mode PermissionMode) []string {
	switch mode {
	case AutoEdit:
		return []string{"--allowedTools", "Edit"}
	case Autonomous:
		return []string{"--allowedTools", "Edit,Bash,WebFetch"}
	default: // Plan
		return nil
	}
}

func claudeCommand(folder, model string, args []string) *exec.Cmd {
	cmd := exec.Command("claude", args...)
	cmd.Dir = folder
	cmd.Env = append(cmd.Environ(), "ANTHROPIC_MODEL="+model)
	return cmd
}

type claudeStreamLine struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Usage   *struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

func (b *ClaudeBackend) ParseResponse(stdout, stderr string, mode PermissionMode) Response {
	var content strings.Builder
	var stats Stats

	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var parsed claudeStreamLine
		if err := json.Unmarshal([]byte(line), &parsed); err != nil {
			continue
		}
		if parsed.Content != "" {
			content.WriteString(parsed.Content)
		}
		if parsed.Usage != nil {
			stats.InputTokens += parsed.Usage.InputTokens
			stats.OutputTokens += parsed.Usage.OutputTokens
		}
	}

	if content.Len() == 0 {
		return Response{Content: stdout, Stats: Stats{}}
	}
	return Response{Content: content.String(), Stats: stats}
}
