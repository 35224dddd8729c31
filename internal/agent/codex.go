package agent

import (
	"encoding/json"
	"os/exec"
	"strings"
)

// CodexBackend drives `codex exec`, the non-interactive subcommand.
// Interactive `codex` requires a TTY and fails headless with
// "Error: stdout is not a terminal", so every invocation goes through
// `exec`/`exec resume`.
type CodexBackend struct{}

func NewCodexBackend() *CodexBackend { return &CodexBackend{} }

func (b *CodexBackend) Kind() Kind { return Codex }

func (b *CodexBackend) Setup(folder string) error {
	return nil
}

func (b *CodexBackend) BuildStartCommand(folder, prompt, model string, mode PermissionMode) *exec.Cmd {
	args := append([]string{"exec", "--model", model}, codexPermissionArgs(mode)...)
	args = append(args, "--json", prompt)
	cmd := exec.Command("codex", args...)
	cmd.Dir = folder
	return cmd
}

func (b *CodexBackend) BuildResumeCommand(folder, prompt, model string, mode PermissionMode, transcript string) *exec.Cmd {
	args := append([]string{"exec", "resume", "--last", "--model", model}, codexPermissionArgs(mode)...)
	args = append(args, "--json", embedTranscript(transcript, prompt))
	cmd := exec.Command("codex", args...)
	cmd.Dir = folder
	return cmd
}

func codexPermissionArgs(mode PermissionMode) []string {
	switch mode {
	case Autonomous:
		return []string{"--full-auto"}
	case AutoEdit:
		return []string{"--full-auto"}
	default: // Plan
		return nil
	}
}

type codexEvent struct {
	Type string `json:"type"`
	Text string `json:"text"`
	Usage *struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

func (b *CodexBackend) ParseResponse(stdout, stderr string, mode PermissionMode) Response {
	var content strings.Builder
	var stats Stats

	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var ev codexEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}
		if ev.Text != "" {
			content.WriteString(ev.Text)
		}
		if ev.Usage != nil {
			stats.InputTokens += ev.Usage.InputTokens
			stats.OutputTokens += ev.Usage.OutputTokens
		}
	}

	if content.Len() == 0 {
		return Response{Content: stdout, Stats: Stats{}}
	}
	return Response{Content: content.String(), Stats: stats}
}
