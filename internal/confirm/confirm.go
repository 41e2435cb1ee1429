// Package confirm provides the single yes/no gate used before destructive or
// risky operations (adopting drifted definitions, force-killing sessions).
package confirm

// Kind identifies what is being confirmed
type Kind int

const (
	AdoptDefinitions Kind = iota
	KillTerminating
	KillOnShutdown
)

func (k Kind) String() string {
	switch k {
	case AdoptDefinitions:
		return "adopt-definitions"
	case KillTerminating:
		return "kill-terminating"
	case KillOnShutdown:
		return "kill-on-shutdown"
	default:
		return "unknown"
	}
}

// Prompt describes one confirmation request
type Prompt struct {
	Kind    Kind
	Message string
	Details []string
}

// Confirmer answers a prompt
type Confirmer interface {
	Confirm(p Prompt) bool
}

// Func adapts a function to a Confirmer
type Func func(p Prompt) bool

func (f Func) Confirm(p Prompt) bool { return f(p) }

// Always accepts every prompt
var Always Confirmer = Func(func(Prompt) bool { return true })

// Never declines every prompt
var Never Confirmer = Func(func(Prompt) bool { return false })

// Recorder answers with a preset value and remembers what was asked.
// The dashboard uses it to find out whether an operation needs confirmation
// before showing a dialog, then repeats the operation with Always.
type Recorder struct {
	Answer bool
	Asked  []Prompt
}

func (r *Recorder) Confirm(p Prompt) bool {
	r.Asked = append(r.Asked, p)
	return r.Answer
}

// WasAsked reports whether at least one prompt was recorded
func (r *Recorder) WasAsked() bool { return len(r.Asked) > 0 }

// Last returns the most recent prompt
func (r *Recorder) Last() (Prompt, bool) {
	if len(r.Asked) == 0 {
		return Prompt{}, false
	}
	return r.Asked[len(r.Asked)-1], true
}
