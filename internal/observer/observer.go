// Package observer collects run metrics and watches filter definitions for changes.
package observer

import (
	"sync"
	"time"

	"github.com/hochfrequenz/filter-runner/internal/session"
)

// Observer monitors session execution and collects metrics
type Observer struct {
	longRunningThreshold time.Duration

	completions []completion
	mu          sync.RWMutex
}

type completion struct {
	SessionID   string
	Outcome     session.Outcome
	State       session.State
	Duration    time.Duration
	Records     int
	CompletedAt time.Time
}

// Metrics holds aggregated metrics
type Metrics struct {
	TotalSessions  int
	TotalSucceeded int
	TotalFailed    int
	TotalCanceled  int
	TotalKilled    int
	AvgDuration    time.Duration
}

// New creates a new Observer
func New(longRunningThreshold time.Duration) *Observer {
	return &Observer{
		longRunningThreshold: longRunningThreshold,
	}
}

// IsLongRunning reports a session that has been running longer than the threshold.
// It is informational only; sessions are never timed out.
func (o *Observer) IsLongRunning(s *session.Session) bool {
	if o.longRunningThreshold <= 0 || s.State() != session.Running {
		return false
	}
	return time.Since(s.CreatedAt()) > o.longRunningThreshold
}

// Observe records finished sessions and ignores every other event
func (o *Observer) Observe(ev session.Event) {
	if ev.Kind != session.EventFinished {
		return
	}
	var duration time.Duration
	records := 0
	if ev.Pipeline != nil {
		records = ev.Pipeline.Len()
		for _, rec := range ev.Pipeline.Records() {
			duration += rec.Elapsed()
		}
	}
	o.RecordCompletion(ev.SessionID, ev.State, ev.Outcome, duration, records)
}

// RecordCompletion records a finished session
func (o *Observer) RecordCompletion(sessionID string, state session.State, outcome session.Outcome, duration time.Duration, records int) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.completions = append(o.completions, completion{
		SessionID:   sessionID,
		State:       state,
		Outcome:     outcome,
		Duration:    duration,
		Records:     records,
		CompletedAt: time.Now(),
	})
}

// GetMetrics returns aggregated metrics
func (o *Observer) GetMetrics() Metrics {
	o.mu.RLock()
	defer o.mu.RUnlock()

	var metrics Metrics
	var totalDuration time.Duration

	for _, c := range o.completions {
		metrics.TotalSessions++
		totalDuration += c.Duration
		switch {
		case c.State == session.Killed:
			metrics.TotalKilled++
		case c.Outcome == session.Success:
			metrics.TotalSucceeded++
		case c.Outcome == session.Canceled:
			metrics.TotalCanceled++
		default:
			metrics.TotalFailed++
		}
	}

	if metrics.TotalSessions > 0 {
		metrics.AvgDuration = totalDuration / time.Duration(metrics.TotalSessions)
	}

	return metrics
}

// GetRecentCompletions returns the ids of sessions finished within since
func (o *Observer) GetRecentCompletions(since time.Duration) []string {
	o.mu.RLock()
	defer o.mu.RUnlock()

	cutoff := time.Now().Add(-since)
	var result []string

	for _, c := range o.completions {
		if c.CompletedAt.After(cutoff) {
			result = append(result, c.SessionID)
		}
	}

	return result
}
