package worker

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to string
		want     bool
	}{
		{StatusNew, StatusInProgress, true},
		{StatusNew, StatusReview, false},
		{StatusInProgress, StatusReview, true},
		{StatusInProgress, StatusCanceled, true},
		{StatusInProgress, StatusMerging, false},
		{StatusReview, StatusInProgress, true},
		{StatusReview, StatusMerging, true},
		{StatusReview, StatusCreatingPullRequest, true},
		{StatusReview, StatusDone, false},
		{StatusMerging, StatusDone, true},
		{StatusCreatingPullRequest, StatusPullRequest, true},
		{StatusPullRequest, StatusDone, true},
		{StatusPullRequest, StatusReview, true},
		{StatusDone, StatusInProgress, false},
		{StatusDone, StatusDone, true},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	terminal := []string{StatusDone, StatusCanceled, StatusPullRequest}
	for _, s := range terminal {
		if !IsTerminal(s) {
			t.Errorf("IsTerminal(%s) = false, want true", s)
		}
	}

	nonTerminal := []string{StatusNew, StatusInProgress, StatusReview, StatusMerging, StatusCreatingPullRequest}
	for _, s := range nonTerminal {
		if IsTerminal(s) {
			t.Errorf("IsTerminal(%s) = true, want false", s)
		}
	}
}
