// Package prforge is the injected pull-request forge collaborator:
// create a PR and poll it for merge/close, without the core depending
// on any concrete forge's wire format beyond this interface.
package prforge

import "context"

// State is the forge-reported lifecycle state of a pull request.
type State string

const (
	Open   State = "OPEN"
	Merged State = "MERGED"
	Closed State = "CLOSED"
)

// PullRequest is the result of creating (or finding an existing) PR.
type PullRequest struct {
	URL string
}

// Forge is the interface the Session Manager depends on; it never sees
// go-github types directly.
type Forge interface {
	// Create opens a draft PR from source into target, or returns the
	// URL of an already-existing PR for that branch pair.
	Create(ctx context.Context, owner, repo, source, target, title string) (PullRequest, error)
	// State polls the current lifecycle state of the PR for branch.
	State(ctx context.Context, owner, repo, branch string) (State, error)
}
