package session

import (
	"time"

	"github.com/hochfrequenz/filter-runner/internal/domain"
)

// EventKind tags a session Event
type EventKind int

const (
	EventStarted EventKind = iota
	EventProgress
	EventFinished
	EventDisposed
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventProgress:
		return "progress"
	case EventFinished:
		return "finished"
	case EventDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// Event is a session lifecycle notification. Which fields are set depends on Kind:
// Progress carries Record and Elapsed, Finished carries Outcome and Err,
// Disposed carries Outputs when the session succeeded.
type Event struct {
	Kind      EventKind
	SessionID string
	State     State
	Outcome   Outcome
	// Index is the position of the current item, Total the pipeline length
	Index    int
	Total    int
	Record   *domain.RuntimeRecord
	Elapsed  time.Duration
	Pipeline *domain.Pipeline
	Outputs  []string
	Err      error
	At       time.Time
}
