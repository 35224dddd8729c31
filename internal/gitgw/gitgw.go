// Package gitgw is the Git Gateway: worktree lifecycle, branch
// inspection, diffing, and squash-merge, built as a hybrid of go-git
// plumbing inspection and exec'd git subprocesses for operations that
// have no stable plumbing-level equivalent.
package gitgw

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

var ErrGit = fmt.Errorf("git error")

// MergeOutcome is the result of a squash-merge attempt.
type MergeOutcome int

const (
	Committed MergeOutcome = iota
	AlreadyPresentInTarget
)

// FindRepoRoot walks up from dir looking for a .git entry.
func FindRepoRoot(dir string) (string, bool) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return "", false
	}
	wt, err := repo.Worktree()
	if err != nil {
		return "", false
	}
	return wt.Filesystem.Root(), true
}

// DetectBranch returns the current branch name, or "HEAD@<short-sha>"
// for a detached HEAD.
func DetectBranch(dir string) (string, bool) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return "", false
	}
	head, err := repo.Head()
	if err != nil {
		return "", false
	}
	if head.Name().IsBranch() {
		return head.Name().Short(), true
	}
	return fmt.Sprintf("HEAD@%s", head.Hash().String()[:7]), true
}

// CreateWorktree creates folder as a new worktree on a fresh branch
// forked from baseBranch. Fails if folder or branch already exists.
func CreateWorktree(repoRoot, folder, branch, baseBranch string) error {
	if _, err := os.Stat(folder); err == nil {
		return fmt.Errorf("%w: worktree folder already exists: %s", ErrGit, folder)
	}

	repo, err := git.PlainOpen(repoRoot)
	if err == nil {
		if _, err := repo.Reference(plumbing.NewBranchReferenceName(branch), false); err == nil {
			return fmt.Errorf("%w: branch already exists: %s", ErrGit, branch)
		}
	}

	if err := os.MkdirAll(filepath.Dir(folder), 0755); err != nil {
		return fmt.Errorf("create worktree parent dir: %w", err)
	}

	out, err := runGit(repoRoot, "worktree", "add", "-b", branch, folder, baseBranch)
	if err != nil {
		return fmt.Errorf("%w: git worktree add: %s", ErrGit, out)
	}
	return nil
}

// RemoveWorktree removes folder's worktree registration and directory.
// Idempotent: missing is ok.
func RemoveWorktree(repoRoot, folder string) error {
	if _, err := os.Stat(folder); os.IsNotExist(err) {
		return nil
	}
	if _, err := runGit(repoRoot, "worktree", "remove", "--force", folder); err != nil {
		_ = os.RemoveAll(folder)
	}
	_, _ = runGit(repoRoot, "worktree", "prune")
	return nil
}

// DeleteBranch removes branch from repoRoot. Idempotent.
func DeleteBranch(repoRoot, branch string) error {
	repo, err := git.PlainOpen(repoRoot)
	if err != nil {
		return fmt.Errorf("open repo: %w", err)
	}
	ref := plumbing.NewBranchReferenceName(branch)
	if _, err := repo.Reference(ref, false); err != nil {
		return nil
	}
	return repo.Storer.RemoveReference(ref)
}

// Diff returns a unified diff of the worktree at folder against
// baseBranch, grounded on the teacher's "git add -N ." + "git diff"
// pattern so untracked files participate in the diff.
func Diff(folder, baseBranch string) (string, error) {
	if _, err := runGitIn(folder, "add", "-N", "."); err != nil {
		return "", fmt.Errorf("%w: git add -N: %s", ErrGit, err)
	}
	out, err := runGitIn(folder, "--no-pager", "diff", baseBranch)
	if err != nil {
		return "", fmt.Errorf("%w: git diff: %s", ErrGit, err)
	}
	return out, nil
}

// DiffLineCounts counts added/removed lines in a unified diff, skipping
// the +++/--- file-header lines.
func DiffLineCounts(diff string) (added, removed int) {
	for _, line := range strings.Split(diff, "\n") {
		switch {
		case strings.HasPrefix(line, "+++") || strings.HasPrefix(line, "---"):
			continue
		case strings.HasPrefix(line, "+"):
			added++
		case strings.HasPrefix(line, "-"):
			removed++
		}
	}
	return
}

// AheadBehind returns (ahead, behind) versus the configured upstream.
func AheadBehind(repoRoot string) (ahead, behind uint32, err error) {
	out, err := runGit(repoRoot, "rev-list", "--left-right", "--count", "HEAD...@{u}")
	if err != nil {
		return 0, 0, fmt.Errorf("%w: rev-list: %s", ErrGit, err)
	}
	fields := strings.Fields(out)
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("%w: unexpected rev-list output: %q", ErrGit, out)
	}
	a, _ := strconv.ParseUint(fields[0], 10, 32)
	b, _ := strconv.ParseUint(fields[1], 10, 32)
	return uint32(a), uint32(b), nil
}

// FetchRemote runs `git fetch origin`; other remotes are not tried.
func FetchRemote(repoRoot string) error {
	if _, err := runGit(repoRoot, "fetch", "origin"); err != nil {
		return fmt.Errorf("%w: fetch: %s", ErrGit, err)
	}
	return nil
}

// SquashMerge squash-merges sourceBranch into the currently checked-out
// targetBranch. Precondition: repoRoot is already on targetBranch;
// this never switches branches. Hooks are skipped on commit because
// the session worktree already ran them during its own auto-commit
// turns.
func SquashMerge(repoRoot, sourceBranch, targetBranch, message string) (MergeOutcome, error) {
	current, ok := DetectBranch(repoRoot)
	if !ok || current != targetBranch {
		return 0, fmt.Errorf("%w: cannot merge: repository is on %q but expected %q", ErrGit, current, targetBranch)
	}

	if out, err := runGit(repoRoot, "merge", "--squash", sourceBranch); err != nil {
		return 0, fmt.Errorf("%w: git merge --squash: %s", ErrGit, out)
	}

	cmd := exec.Command("git", "diff", "--cached", "--quiet")
	cmd.Dir = repoRoot
	err := cmd.Run()
	if err == nil {
		return AlreadyPresentInTarget, nil
	}
	if exitErr, ok := err.(*exec.ExitError); !ok || exitErr.ExitCode() != 1 {
		return 0, fmt.Errorf("%w: git diff --cached --quiet: %v", ErrGit, err)
	}

	if out, err := runGit(repoRoot, "commit", "--no-verify", "-m", message); err != nil {
		return 0, fmt.Errorf("%w: git commit: %s", ErrGit, out)
	}
	return Committed, nil
}

// CommitAll stages everything in folder and commits it. Returns
// ErrNothingToCommit when the index already equals HEAD.
var ErrNothingToCommit = fmt.Errorf("nothing to commit")

func CommitAll(folder, message string) (string, error) {
	if _, err := runGitIn(folder, "add", "-A"); err != nil {
		return "", fmt.Errorf("%w: git add -A: %s", ErrGit, err)
	}

	cmd := exec.Command("git", "diff", "--cached", "--quiet")
	cmd.Dir = folder
	if err := cmd.Run(); err == nil {
		return "", ErrNothingToCommit
	}

	if out, err := runGitIn(folder, "commit", "-m", message); err != nil {
		return "", fmt.Errorf("%w: git commit: %s", ErrGit, out)
	}

	hash, err := runGitIn(folder, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("%w: rev-parse HEAD: %s", ErrGit, err)
	}
	return strings.TrimSpace(hash), nil
}

var sshURLPattern = regexp.MustCompile(`^(?:ssh://)?git@([^:/]+)[:/](.+?)(?:\.git)?$`)

// NormalizeRepoURL converts SSH-form remote URLs to HTTPS for display.
func NormalizeRepoURL(rawURL string) string {
	rawURL = strings.TrimSuffix(strings.TrimSpace(rawURL), ".git")
	if m := sshURLPattern.FindStringSubmatch(rawURL); m != nil {
		return fmt.Sprintf("https://%s/%s", m[1], m[2])
	}
	return rawURL
}

// RemoteURL returns the configured URL of the "origin" remote.
func RemoteURL(repoRoot string) (string, error) {
	out, err := runGit(repoRoot, "remote", "get-url", "origin")
	if err != nil {
		return "", fmt.Errorf("%w: remote get-url origin: %s", ErrGit, out)
	}
	return strings.TrimSpace(out), nil
}

var httpsURLPattern = regexp.MustCompile(`^https://[^/]+/([^/]+)/(.+?)(?:\.git)?$`)

// OwnerRepo splits a normalized HTTPS remote URL into owner and repo.
func OwnerRepo(normalizedURL string) (owner, repo string, ok bool) {
	m := httpsURLPattern.FindStringSubmatch(normalizedURL)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

func runGit(repoRoot string, args ...string) (string, error) {
	cmd := exec.Command("git", append([]string{"-C", repoRoot}, args...)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		combined := strings.TrimSpace(stderr.String())
		if combined == "" {
			combined = strings.TrimSpace(stdout.String())
		}
		return combined, err
	}
	return stdout.String(), nil
}

func runGitIn(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		combined := strings.TrimSpace(stderr.String())
		if combined == "" {
			combined = strings.TrimSpace(stdout.String())
		}
		return combined, err
	}
	return stdout.String(), nil
}
