package worker

import (
	"os/exec"

	"github.com/agentty-dev/agentty/internal/agent"
)

// CommandKind identifies which mailbox command is being executed.
type CommandKind string

const (
	KindStartPrompt  CommandKind = "StartPrompt"
	KindReply        CommandKind = "Reply"
	KindAssistRepair CommandKind = "AssistRepair"
)

// Command is one unit of work a session worker executes. AssistRepair
// is internal to the auto-commit pipeline and never enqueues a new
// user-visible operation row.
type Command struct {
	Kind           CommandKind
	OperationID    string
	AgentKind      agent.Kind
	Model          string
	Cmd            *exec.Cmd
	PermissionMode agent.PermissionMode
	Prompt         string
}
