// Package events implements the Event Bus & Reducer: a single-producer,
// many-consumer channel feeding one coalescing reducer.
package events

// Event is the sum type of everything a worker or housekeeping task can
// notify the reducer about.
type Event interface {
	isEvent()
}

type GitStatusUpdated struct {
	Ahead, Behind uint32
	HasStatus     bool
}

type SessionHistoryCleared struct{ SessionID string }

type SessionAgentModelUpdated struct {
	SessionID string
	Agent     string
	Model     string
}

type SessionPermissionModeUpdated struct {
	SessionID string
	Mode      string
}

type PrCreationCleared struct{ SessionID string }
type PrPollingStopped struct{ SessionID string }
type RefreshSessions struct{}
type SessionUpdated struct{ SessionID string }

func (GitStatusUpdated) isEvent()             {}
func (SessionHistoryCleared) isEvent()        {}
func (SessionAgentModelUpdated) isEvent()     {}
func (SessionPermissionModeUpdated) isEvent() {}
func (PrCreationCleared) isEvent()            {}
func (PrPollingStopped) isEvent()             {}
func (RefreshSessions) isEvent()              {}
func (SessionUpdated) isEvent()               {}

// Batch is the coalesced result of draining a tick's worth of events.
type Batch struct {
	ForceReload bool

	HasGitStatus bool
	GitAhead     uint32
	GitBehind    uint32

	ClearedPRCreationIDs map[string]struct{}
	StoppedPRPollIDs     map[string]struct{}
	HistoryClearedIDs    map[string]struct{}

	AgentModelUpdates     map[string]SessionAgentModelUpdated
	PermissionModeUpdates map[string]SessionPermissionModeUpdated

	SessionIDs map[string]struct{}
}

func newBatch() *Batch {
	return &Batch{
		ClearedPRCreationIDs:  make(map[string]struct{}),
		StoppedPRPollIDs:      make(map[string]struct{}),
		HistoryClearedIDs:     make(map[string]struct{}),
		AgentModelUpdates:     make(map[string]SessionAgentModelUpdated),
		PermissionModeUpdates: make(map[string]SessionPermissionModeUpdated),
		SessionIDs:            make(map[string]struct{}),
	}
}

// Bus is a buffered event channel (256 slots) plus draining/coalescing
// logic. The channel is bounded: it does not grow past 256 events.
type Bus struct {
	ch chan Event
}

func NewBus() *Bus {
	return &Bus{ch: make(chan Event, 256)}
}

// Emit enqueues an event. It returns at once while the buffer has room;
// when all 256 slots are full it blocks until the reducer drains one.
func (b *Bus) Emit(e Event) {
	b.ch <- e
}

// Next blocks for the first event of the next tick.
func (b *Bus) Next() Event {
	return <-b.ch
}

// Drain collects first plus every currently-queued event into one
// coalesced Batch, following spec's coalescing rules.
func (b *Bus) Drain(first Event) *Batch {
	batch := newBatch()
	collect(batch, first)

	for {
		select {
		case e := <-b.ch:
			collect(batch, e)
		default:
			return batch
		}
	}
}

func collect(batch *Batch, e Event) {
	switch ev := e.(type) {
	case GitStatusUpdated:
		batch.HasGitStatus = true
		batch.GitAhead = ev.Ahead
		batch.GitBehind = ev.Behind
	case RefreshSessions:
		batch.ForceReload = true
	case SessionUpdated:
		batch.SessionIDs[ev.SessionID] = struct{}{}
	case SessionAgentModelUpdated:
		batch.AgentModelUpdates[ev.SessionID] = ev
	case SessionPermissionModeUpdated:
		batch.PermissionModeUpdates[ev.SessionID] = ev
	case SessionHistoryCleared:
		batch.HistoryClearedIDs[ev.SessionID] = struct{}{}
	case PrCreationCleared:
		batch.ClearedPRCreationIDs[ev.SessionID] = struct{}{}
	case PrPollingStopped:
		batch.StoppedPRPollIDs[ev.SessionID] = struct{}{}
	}
}
