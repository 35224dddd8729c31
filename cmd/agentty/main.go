package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentty-dev/agentty/internal/agent"
	"github.com/agentty-dev/agentty/internal/alog"
	"github.com/agentty-dev/agentty/internal/config"
	"github.com/agentty-dev/agentty/internal/events"
	"github.com/agentty-dev/agentty/internal/gitgw"
	"github.com/agentty-dev/agentty/internal/lockfile"
	"github.com/agentty-dev/agentty/internal/manager"
	"github.com/agentty-dev/agentty/internal/prforge"
	"github.com/agentty-dev/agentty/internal/storage"
	"github.com/agentty-dev/agentty/internal/worker"
)

var version = "0.1.0"

var (
	agentFlag     string
	modelFlag     string
	permModeFlag  string
	sessionIDFlag string

	rootCmd = &cobra.Command{
		Use:   "agentty",
		Short: "agentty - orchestrate coding-agent sessions on git worktrees",
	}

	createCmd = &cobra.Command{
		Use:   "create [prompt]",
		Short: "Create a session and run the given prompt to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, cleanup, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			kind, model, mode := resolveAgentFlags(m)
			id, err := m.CreateSession(cmd.Context(), kind, model, mode)
			if err != nil {
				return fmt.Errorf("create session: %w", err)
			}
			if err := m.StartOrReply(cmd.Context(), id, args[0]); err != nil {
				return fmt.Errorf("start session: %w", err)
			}
			sess, err := waitForReview(cmd.Context(), m, id)
			if err != nil {
				return err
			}
			printSession(sess)
			return nil
		},
	}

	replyCmd = &cobra.Command{
		Use:   "reply [prompt]",
		Short: "Reply to a session in Review, resuming its agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, cleanup, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			if sessionIDFlag == "" {
				return fmt.Errorf("--session is required")
			}
			if err := m.StartOrReply(cmd.Context(), sessionIDFlag, args[0]); err != nil {
				return fmt.Errorf("reply: %w", err)
			}
			sess, err := waitForReview(cmd.Context(), m, sessionIDFlag)
			if err != nil {
				return err
			}
			printSession(sess)
			return nil
		},
	}

	stopCmd = &cobra.Command{
		Use:   "stop",
		Short: "Interrupt a session's in-flight agent turn",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, cleanup, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()
			return m.Stop(cmd.Context(), sessionIDFlag)
		},
	}

	clearCmd = &cobra.Command{
		Use:   "clear-history",
		Short: "Reset a session's conversation back to New",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, cleanup, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()
			return m.ClearHistory(cmd.Context(), sessionIDFlag)
		},
	}

	deleteCmd = &cobra.Command{
		Use:   "delete",
		Short: "Delete a session, its worktree, and its branch",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, cleanup, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()
			return m.Delete(cmd.Context(), sessionIDFlag)
		},
	}

	mergeCmd = &cobra.Command{
		Use:   "merge",
		Short: "Squash-merge a session's branch into its base branch",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, cleanup, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()
			if err := m.Merge(cmd.Context(), sessionIDFlag); err != nil {
				return err
			}
			sess, ok := m.GetSession(sessionIDFlag)
			if ok {
				printSession(sess)
			}
			return nil
		},
	}

	openPRCmd = &cobra.Command{
		Use:   "open-pr",
		Short: "Open a draft pull request for a session in Review",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, cleanup, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()
			url, err := m.OpenPR(cmd.Context(), sessionIDFlag)
			if err != nil {
				return err
			}
			fmt.Println(url)
			return nil
		},
	}

	setAgentCmd = &cobra.Command{
		Use:   "set-agent",
		Short: "Change a session's agent and model",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, cleanup, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()
			if agentFlag == "" {
				return fmt.Errorf("--agent is required")
			}
			return m.SetAgentAndModel(cmd.Context(), sessionIDFlag, agent.Kind(agentFlag), modelFlag)
		},
	}

	toggleModeCmd = &cobra.Command{
		Use:   "toggle-permission-mode",
		Short: "Cycle a session's permission mode: Plan -> AutoEdit -> Autonomous",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, cleanup, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()
			mode, err := m.TogglePermissionMode(cmd.Context(), sessionIDFlag)
			if err != nil {
				return err
			}
			fmt.Println(mode)
			return nil
		},
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "List all sessions tracked for the current repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, cleanup, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()
			for _, sess := range m.Snapshot() {
				printSession(sess)
			}
			ahead, behind := m.GitStatus()
			fmt.Printf("base branch: ahead %d, behind %d\n", ahead, behind)
			return nil
		},
	}

	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Print all-time model usage and daily session activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, cleanup, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			usage, err := m.ModelUsage(cmd.Context())
			if err != nil {
				return fmt.Errorf("load model usage: %w", err)
			}
			fmt.Println("Model usage:")
			for _, u := range usage {
				fmt.Printf("  %-20s %4d sessions  %8d in  %8d out\n", u.Model, u.SessionCount, u.SumInputTokens, u.SumOutputTokens)
			}

			activity, err := m.DailyActivity(cmd.Context())
			if err != nil {
				return fmt.Errorf("load daily activity: %w", err)
			}
			fmt.Println("Daily activity:")
			for _, d := range activity {
				fmt.Printf("  day %d: %d sessions\n", d.DayKey, d.SessionCount)
			}
			return nil
		},
	}

	resetCmd = &cobra.Command{
		Use:   "reset",
		Short: "Delete every tracked session, its worktree, and its branch",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, cleanup, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()
			if err := m.Reset(cmd.Context()); err != nil {
				return fmt.Errorf("reset: %w", err)
			}
			fmt.Println("agentty state has been reset")
			return nil
		},
	}

	debugCmd = &cobra.Command{
		Use:   "debug",
		Short: "Print resolved configuration and state paths",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			stateDir, err := config.StateDir()
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(cfg, "", "  ")
			fmt.Printf("State dir: %s\nConfig: %s\n", stateDir, data)
			return nil
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the agentty version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("agentty version %s\n", version)
		},
	}
)

func init() {
	for _, c := range []*cobra.Command{replyCmd, stopCmd, clearCmd, deleteCmd, mergeCmd, openPRCmd, setAgentCmd, toggleModeCmd} {
		c.Flags().StringVar(&sessionIDFlag, "session", "", "session id")
	}
	createCmd.Flags().StringVar(&agentFlag, "agent", "", "agent kind: claude, gemini, codex (default from config)")
	createCmd.Flags().StringVar(&modelFlag, "model", "", "model name (default for the chosen agent)")
	createCmd.Flags().StringVar(&permModeFlag, "permission-mode", "", "Plan, AutoEdit, or Autonomous (default from config)")
	setAgentCmd.Flags().StringVar(&agentFlag, "agent", "", "agent kind: claude, gemini, codex")
	setAgentCmd.Flags().StringVar(&modelFlag, "model", "", "model name")

	rootCmd.AddCommand(createCmd, replyCmd, stopCmd, clearCmd, deleteCmd, mergeCmd, openPRCmd,
		setAgentCmd, toggleModeCmd, statusCmd, statsCmd, resetCmd, debugCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// bootstrap wires up the full session-manager stack for one CLI
// invocation: config, logging, the advisory lock, storage, and the
// manager's startup sequence. The returned cleanup releases the lock
// and closes logging; it does not stop background goroutines, which
// the process exit handles.
func bootstrap(ctx context.Context) (*manager.Manager, func(), error) {
	stateDir, err := config.StateDir()
	if err != nil {
		return nil, nil, err
	}
	alog.Initialize(stateDir)

	cfg := config.Load()

	lock, err := lockfile.Acquire(stateDir)
	if err != nil {
		alog.Close()
		return nil, nil, err
	}

	cwd, err := filepath.Abs(".")
	if err != nil {
		lock.Release()
		alog.Close()
		return nil, nil, fmt.Errorf("resolve working directory: %w", err)
	}
	repoRoot, ok := gitgw.FindRepoRoot(cwd)
	if !ok {
		lock.Release()
		alog.Close()
		return nil, nil, fmt.Errorf("agentty must be run from within a git repository")
	}

	dbPath := filepath.Join(stateDir, "db", "agentty.db")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		lock.Release()
		alog.Close()
		return nil, nil, fmt.Errorf("create database directory: %w", err)
	}
	store, err := storage.Open(ctx, dbPath)
	if err != nil {
		lock.Release()
		alog.Close()
		return nil, nil, fmt.Errorf("open storage: %w", err)
	}

	var forge prforge.Forge
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		forge = prforge.NewGitHubForge(token)
	}

	bus := events.NewBus()
	m := manager.New(store, bus, forge, cfg, repoRoot, stateDir)
	if err := m.Startup(ctx); err != nil {
		lock.Release()
		alog.Close()
		return nil, nil, fmt.Errorf("manager startup: %w", err)
	}

	cleanup := func() {
		lock.Release()
		alog.Close()
	}
	return m, cleanup, nil
}

func resolveAgentFlags(m *manager.Manager) (agent.Kind, string, agent.PermissionMode) {
	cfg := m.Config()
	kind := agent.Kind(agentFlag)
	if kind == "" {
		kind = agent.Kind(cfg.DefaultAgent)
	}
	model := modelFlag
	if model == "" {
		model = cfg.DefaultModel
	}
	mode := agent.PermissionMode(permModeFlag)
	if mode == "" {
		mode = agent.PermissionMode(cfg.DefaultPermissionMode)
	}
	return kind, model, mode
}

// waitForReview polls the manager's snapshot until sessionID is in
// neither New nor InProgress, since each CLI invocation is a one-shot process rather
// than the long-lived reducer loop a TUI would drive interactively.
func waitForReview(ctx context.Context, m *manager.Manager, sessionID string) (storage.Session, error) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		sess, ok := m.GetSession(sessionID)
		if !ok {
			return storage.Session{}, fmt.Errorf("session %s vanished while waiting", sessionID)
		}
		if sess.Status != worker.StatusInProgress && sess.Status != worker.StatusNew {
			return sess, nil
		}
		select {
		case <-ctx.Done():
			return sess, ctx.Err()
		case <-ticker.C:
		}
	}
}

func printSession(sess storage.Session) {
	fmt.Printf("%s [%s] %s/%s %s\n", sess.ID, sess.Status, sess.AgentKind, sess.Model, sess.Title)
	if sess.Output != "" {
		fmt.Println(sess.Output)
	}
}
