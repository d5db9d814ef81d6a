package gaming

import "github.com/bitcraps/bitcraps/protocol"

// EventType classifies game events.
type EventType uint8

// Event types.
const (
	// EventCommitted: the game's head advanced.
	EventCommitted EventType = iota

	// EventRollResolved: a dice roll resolved bets.
	EventRollResolved

	// EventEvidence: misbehavior evidence was recorded.
	EventEvidence

	// EventCompleted: the game finished and its final snapshot was
	// handed to the store.
	EventCompleted
)

var eventTypeNames = [...]string{"committed", "roll-resolved", "evidence", "completed"}

// String returns the event type name for logs.
func (t EventType) String() string {
	if int(t) < len(eventTypeNames) {
		return eventTypeNames[t]
	}
	return "unknown"
}

// Event is one game notification. State is a private clone for
// committed and resolved events; Evidence is set for evidence events.
type Event struct {
	Type     EventType
	GameID   protocol.GameID
	Sequence uint64
	State    *protocol.GameState
	Evidence *protocol.EvidenceRecord
}

// Stats is a point-in-time snapshot of manager activity, in the shape
// the application layer polls.
type Stats struct {
	GamesCreated        uint64
	ActiveGames         int
	OperationsSubmitted uint64
	OperationsCommitted uint64
	RollsResolved       uint64
}
