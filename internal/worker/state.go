package worker

// Status values for the session state machine (spec §4.4).
const (
	StatusNew                 = "New"
	StatusInProgress          = "InProgress"
	StatusReview              = "Review"
	StatusMerging             = "Merging"
	StatusCreatingPullRequest = "CreatingPullRequest"
	StatusPullRequest         = "PullRequest"
	StatusDone                = "Done"
	StatusCanceled            = "Canceled"
)

var edges = map[string]map[string]bool{
	StatusNew:                 {StatusInProgress: true},
	StatusInProgress:          {StatusReview: true, StatusCanceled: true},
	StatusReview:              {StatusInProgress: true, StatusMerging: true, StatusCreatingPullRequest: true},
	StatusMerging:             {StatusDone: true},
	StatusCreatingPullRequest: {StatusPullRequest: true},
	StatusPullRequest:         {StatusDone: true, StatusReview: true},
}

// CanTransition reports whether (from, to) is an edge in the status
// state graph. ClearHistory (from any state to New) is handled
// separately by callers since it is not a normal forward edge.
func CanTransition(from, to string) bool {
	if from == to {
		return true
	}
	next, ok := edges[from]
	if !ok {
		return false
	}
	return next[to]
}

// IsTerminal reports whether status has no further agent activity.
func IsTerminal(status string) bool {
	return status == StatusDone || status == StatusCanceled || status == StatusPullRequest
}
