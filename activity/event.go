package activity

import "fmt"

// Kind identifies a lifecycle event.
type Kind int

const (
	NavigatedTo Kind = iota + 1
	NavigatedFrom
	Suspending
	Resuming
	VisibilityChanged
)

func (k Kind) String() string {
	switch k {
	case NavigatedTo:
		return "navigated-to"
	case NavigatedFrom:
		return "navigated-from"
	case Suspending:
		return "suspending"
	case Resuming:
		return "resuming"
	case VisibilityChanged:
		return "visibility-changed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event is one inbound lifecycle signal.
type Event struct {
	Kind Kind
	// Visible is the new window visibility for VisibilityChanged.
	Visible bool
	// Ack, when set on a Suspending event, must be called once the camera
	// has been released.
	Ack func()
}

// Apply folds ev into the gate switches.
func (g *Gate) Apply(ev Event) {
	switch ev.Kind {
	case NavigatedTo:
		g.SetPageActive(true)
	case NavigatedFrom:
		g.SetPageActive(false)
	case Suspending:
		g.SetSuspending(true)
	case Resuming:
		g.SetSuspending(false)
	case VisibilityChanged:
		g.SetWindowVisible(ev.Visible)
	}
}
