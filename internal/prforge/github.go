package prforge

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

// GitHubForge implements Forge against the GitHub REST API. It
// preserves the semantics of the original CLI-shelling implementation
// (draft PR, "already exists" fallback, Merged/Closed polling) while
// using a direct API client rather than shelling out to `gh`.
type GitHubForge struct {
	client *github.Client
}

// NewGitHubForge builds a client authenticated with a personal access
// token (or fine-grained token) for the GitHub REST API.
func NewGitHubForge(token string) *GitHubForge {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := oauth2.NewClient(context.Background(), ts)
	return &GitHubForge{client: github.NewClient(httpClient)}
}

const prBody = "Created by Agentty"

func (f *GitHubForge) Create(ctx context.Context, owner, repo, source, target, title string) (PullRequest, error) {
	draft := true
	body := prBody
	pr, _, err := f.client.PullRequests.Create(ctx, owner, repo, &github.NewPullRequest{
		Title: &title,
		Head:  &source,
		Base:  &target,
		Body:  &body,
		Draft: &draft,
	})
	if err != nil {
		if strings.Contains(err.Error(), "already exists") {
			existing, findErr := f.findOpenPR(ctx, owner, repo, source)
			if findErr != nil {
				return PullRequest{}, fmt.Errorf("pr already exists but could not be located: %w", findErr)
			}
			return PullRequest{URL: existing}, nil
		}
		return PullRequest{}, fmt.Errorf("create pull request: %w", err)
	}

	return PullRequest{URL: pr.GetHTMLURL()}, nil
}

func (f *GitHubForge) findOpenPR(ctx context.Context, owner, repo, branch string) (string, error) {
	prs, _, err := f.client.PullRequests.List(ctx, owner, repo, &github.PullRequestListOptions{
		Head:  fmt.Sprintf("%s:%s", owner, branch),
		State: "open",
	})
	if err != nil {
		return "", err
	}
	if len(prs) == 0 {
		return "", fmt.Errorf("no open pull request found for branch %s", branch)
	}
	return prs[0].GetHTMLURL(), nil
}

func (f *GitHubForge) State(ctx context.Context, owner, repo, branch string) (State, error) {
	prs, _, err := f.client.PullRequests.List(ctx, owner, repo, &github.PullRequestListOptions{
		Head:  fmt.Sprintf("%s:%s", owner, branch),
		State: "all",
	})
	if err != nil {
		return "", fmt.Errorf("list pull requests: %w", err)
	}
	if len(prs) == 0 {
		return "", fmt.Errorf("no pull request found for branch %s", branch)
	}

	pr := prs[0]
	switch {
	case pr.GetMerged():
		return Merged, nil
	case pr.GetState() == "closed":
		return Closed, nil
	default:
		return Open, nil
	}
}
