package agent

import (
	"encoding/json"
	"os/exec"
)

// GeminiBackend drives the `gemini` CLI as a one-shot process per turn,
// matching the Backend interface's request/response shape used by the
// Claude and Codex backends. This differs from the real Gemini ACP
// client, which keeps one long-lived `gemini --experimental-acp`
// process per session and resumes by session id instead of by
// re-embedding a text transcript (see DESIGN.md, C3).
type GeminiBackend struct{}

func NewGeminiBackend() *GeminiBackend { return &GeminiBackend{} }

func (b *GeminiBackend) Kind() Kind { return Gemini }

func (b *GeminiBackend) Setup(folder string) error {
	return nil
}

func (b *GeminiBackend) BuildStartCommand(folder, prompt, model string, mode PermissionMode) *exec.Cmd {
	args := []string{"-p", prompt, "--model", model, "--output-format", "json"}
	args = append(args, geminiPermissionArgs(mode)...)
	cmd := exec.Command("gemini", args...)
	cmd.Dir = folder
	return cmd
}

func (b *GeminiBackend) BuildResumeCommand(folder, prompt, model string, mode PermissionMode, transcript string) *exec.Cmd {
	args := []string{"-p", embedTranscript(transcript, prompt), "--model", model, "--output-format", "json"}
	args = append(args, geminiPermissionArgs(mode)...)
	cmd := exec.Command("gemini", args...)
	cmd.Dir = folder
	return cmd
}

func geminiPermissionArgs(mode PermissionMode) []string {
	switch mode {
	case AutoEdit:
		return []string{"--edit"}
	case Autonomous:
		return []string{"--yolo"}
	default: // Plan
		return nil
	}
}

type geminiResult struct {
	Response string `json:"response"`
	Usage    *struct {
		PromptTokens     int64 `json:"promptTokenCount"`
		CandidateTokens  int64 `json:"candidatesTokenCount"`
	} `json:"usage"`
}

func (b *GeminiBackend) ParseResponse(stdout, stderr string, mode PermissionMode) Response {
	var parsed geminiResult
	if err := json.Unmarshal([]byte(stdout), &parsed); err != nil || parsed.Response == "" {
		return Response{Content: stdout, Stats: Stats{}}
	}

	stats := Stats{}
	if parsed.Usage != nil {
		stats.InputTokens = parsed.Usage.PromptTokens
		stats.OutputTokens = parsed.Usage.CandidateTokens
	}
	return Response{Content: parsed.Response, Stats: stats}
}
