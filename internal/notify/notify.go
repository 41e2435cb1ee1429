package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"github.com/hochfrequenz/filter-runner/internal/logging"
	"github.com/hochfrequenz/filter-runner/internal/session"
)

// NotificationType represents the type of notification
type NotificationType int

const (
	NotifyInfo NotificationType = iota
	NotifySuccess
	NotifyWarning
	NotifyError
)

// Notification represents a notification to be sent
type Notification struct {
	Title     string
	Message   string
	Type      NotificationType
	SessionID string   // Optional session reference
	Outputs   []string // Optional result files
}

// Notifier is the interface for sending notifications
type Notifier interface {
	Send(n Notification) error
}

// MultiNotifier sends to multiple notifiers
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that sends to all provided notifiers
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send sends the notification to all notifiers and reports every failure
func (m *MultiNotifier) Send(n Notification) error {
	var errs *multierror.Error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(n); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// NoopNotifier does nothing (for testing or disabled notifications)
type NoopNotifier struct{}

func (NoopNotifier) Send(n Notification) error { return nil }

// FromEvent builds the notification for a finished session. Other events yield false.
func FromEvent(ev session.Event) (Notification, bool) {
	if ev.Kind != session.EventFinished || ev.Pipeline == nil {
		return Notification{}, false
	}

	names := strings.Join(ev.Pipeline.Names(), " → ")
	n := Notification{
		SessionID: ev.SessionID,
		Message:   names,
	}
	if ev.Record != nil && ev.Record.Completed() {
		n.Message = fmt.Sprintf("%s (finished %s)", names, humanize.Time(ev.Record.StartedAt().Add(ev.Record.Elapsed())))
	}

	switch {
	case ev.State == session.Killed:
		n.Type = NotifyWarning
		n.Title = "Filter run killed"
	case ev.State == session.Terminated || ev.Outcome == session.Canceled:
		n.Type = NotifyWarning
		n.Title = "Filter run canceled"
	case ev.Outcome == session.Success:
		n.Type = NotifySuccess
		n.Title = "Filter run finished"
		n.Outputs = ev.Pipeline.OutputsToShow()
	default:
		n.Type = NotifyError
		n.Title = "Filter run failed"
		if ev.Record != nil {
			n.Message = fmt.Sprintf("%s: %s exited with %d", names, ev.Record.Name(), ev.Record.ExitCode())
		}
		if ev.Err != nil {
			n.Message = fmt.Sprintf("%s: %v", names, ev.Err)
		}
	}
	return n, true
}

// Forward sends a notification for every finished session received on events
// until the channel is closed or ctx is done. Sending happens on the calling
// goroutine, never on the control thread.
func Forward(ctx context.Context, events <-chan session.Event, notifier Notifier, log hclog.Logger) {
	log = logging.OrNull(log).Named("notify")
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			n, ok := FromEvent(ev)
			if !ok {
				continue
			}
			if err := notifier.Send(n); err != nil {
				log.Warn("notification failed", "session", ev.SessionID, "error", err)
			}
		}
	}
}
