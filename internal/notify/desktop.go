package notify

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// maxDesktopOutputs bounds the output files listed in a desktop notification
const maxDesktopOutputs = 3

// DesktopNotifier shows finished filter runs as desktop notifications
type DesktopNotifier struct {
	enabled bool
	goos    string
	run     func(name string, args ...string) error
}

// NewDesktopNotifier creates a new desktop notifier
func NewDesktopNotifier(enabled bool) *DesktopNotifier {
	return &DesktopNotifier{
		enabled: enabled,
		goos:    runtime.GOOS,
		run: func(name string, args ...string) error {
			return exec.Command(name, args...).Run()
		},
	}
}

// Send sends a desktop notification
func (d *DesktopNotifier) Send(n Notification) error {
	if !d.enabled {
		return nil
	}

	switch d.goos {
	case "darwin":
		script := fmt.Sprintf(`display notification "%s" with title "%s" subtitle "%s"`,
			quoteAppleScript(desktopBody(n)), quoteAppleScript(n.Title), quoteAppleScript("session "+shortID(n.SessionID)))
		return d.run("osascript", "-e", script)
	case "linux":
		return d.run("notify-send",
			"--urgency", urgencyForType(n.Type),
			"--icon", IconForType(n.Type),
			"--app-name", "filter-runner",
			n.Title, desktopBody(n))
	default:
		return nil // Unsupported
	}
}

// desktopBody is the message followed by the first output files
func desktopBody(n Notification) string {
	lines := []string{n.Message}
	for i, o := range n.Outputs {
		if i == maxDesktopOutputs {
			lines = append(lines, fmt.Sprintf("and %d more", len(n.Outputs)-i))
			break
		}
		lines = append(lines, o)
	}
	return strings.Join(lines, "\n")
}

func quoteAppleScript(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}

func urgencyForType(t NotificationType) string {
	switch t {
	case NotifyError:
		return "critical"
	case NotifySuccess:
		return "low"
	default:
		return "normal"
	}
}

// IconForType returns an icon name for the notification type
func IconForType(t NotificationType) string {
	switch t {
	case NotifySuccess:
		return "dialog-positive"
	case NotifyWarning:
		return "dialog-warning"
	case NotifyError:
		return "dialog-error"
	default:
		return "dialog-information"
	}
}
