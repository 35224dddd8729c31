// Package housekeep implements the periodic background tasks (C8):
// git ahead/behind polling, the sessions-refresh watchdog, and
// per-session PR-state polling.
package housekeep

import (
	"context"
	"time"

	"github.com/agentty-dev/agentty/internal/alog"
	"github.com/agentty-dev/agentty/internal/events"
	"github.com/agentty-dev/agentty/internal/gitgw"
	"github.com/agentty-dev/agentty/internal/prforge"
	"github.com/agentty-dev/agentty/internal/storage"
)

// Default intervals, used when config.Config supplies a non-positive
// value (time.NewTicker panics on a non-positive duration).
const (
	GitStatusInterval     = 30 * time.Second
	RefreshWatchdogPeriod = 2 * time.Second
	PRPollInterval        = 10 * time.Second
)

// RunGitStatus periodically fetches and reports ahead/behind counts
// for repoRoot until ctx is canceled.
func RunGitStatus(ctx context.Context, repoRoot string, bus *events.Bus, interval time.Duration) {
	if interval <= 0 {
		interval = GitStatusInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	everyLog := alog.NewEvery(time.Minute)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := gitgw.FetchRemote(repoRoot); err != nil {
				if everyLog.ShouldLog() {
					alog.Warning.Printf("git status: fetch failed: %v", err)
				}
				continue
			}
			ahead, behind, err := gitgw.AheadBehind(repoRoot)
			if err != nil {
				if everyLog.ShouldLog() {
					alog.Warning.Printf("git status: ahead/behind failed: %v", err)
				}
				continue
			}
			bus.Emit(events.GitStatusUpdated{Ahead: ahead, Behind: behind, HasStatus: true})
		}
	}
}

// RunRefreshWatchdog polls the storage metadata digest every period
// (RefreshWatchdogPeriod when period is non-positive) and emits RefreshSessions when it diverges from
// the last observed value, catching external writes to the database.
func RunRefreshWatchdog(ctx context.Context, store *storage.Storage, projectID int64, bus *events.Bus, period time.Duration) {
	if period <= 0 {
		period = RefreshWatchdogPeriod
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	var lastRowCount, lastMaxUpdated int64 = -1, -1

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rowCount, maxUpdated, err := store.LoadSessionsMetadata(ctx, projectID)
			if err != nil {
				alog.Error.Printf("refresh watchdog: %v", err)
				continue
			}
			if rowCount != lastRowCount || maxUpdated != lastMaxUpdated {
				lastRowCount, lastMaxUpdated = rowCount, maxUpdated
				bus.Emit(events.RefreshSessions{})
			}
		}
	}
}

// RunPRPoll polls forge for branch's PR state every interval
// (PRPollInterval when interval is non-positive) until it reaches a terminal transition (Merged or Closed), invoking
// onTerminal to apply the corresponding status change, then emits
// PrPollingStopped.
func RunPRPoll(ctx context.Context, forge prforge.Forge, owner, repo, branch, sessionID string, bus *events.Bus, interval time.Duration, onTerminal func(state prforge.State)) {
	if interval <= 0 {
		interval = PRPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	defer bus.Emit(events.PrPollingStopped{SessionID: sessionID})

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			state, err := forge.State(ctx, owner, repo, branch)
			if err != nil {
				alog.Warning.Printf("pr poll for session %s: %v", sessionID, err)
				continue
			}
			switch state {
			case prforge.Merged, prforge.Closed:
				onTerminal(state)
				bus.Emit(events.SessionUpdated{SessionID: sessionID})
				return
			}
		}
	}
}
