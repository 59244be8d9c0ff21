package timer

import "time"

const (
	TitleStart = "Start"
	TitlePause = "Pause"
)

// Presenter receives a fresh View after every state mutation.
//
// Render is called with the Machine locked; implementations must not call
// back into the Machine.
type Presenter interface {
	Render(view View)
}

// PresenterFunc adapts a function to the Presenter interface.
type PresenterFunc func(view View)

func (f PresenterFunc) Render(view View) { f(view) }

// NopPresenter discards every view.
type NopPresenter struct{}

func (NopPresenter) Render(View) {}

// View is what a screen needs to draw the timer: button enablement, the
// start/pause title and the label target.
type View struct {
	Status            Status        `json:"status"`
	CancelEnabled     bool          `json:"cancel_enabled"`
	StartPauseEnabled bool          `json:"start_pause_enabled"`
	StartPauseTitle   string        `json:"start_pause_title"`
	Remaining         time.Duration `json:"remaining"`
	// LabelDeadline is the instant the label counts down to while ticking.
	LabelDeadline time.Time `json:"label_deadline,omitempty"`
	LabelTicking  bool      `json:"label_ticking"`
}

// ViewOf derives the presentation for a snapshot.
func ViewOf(s Snapshot) View {
	v := View{
		Status:        s.Status,
		Remaining:     s.Remaining,
		LabelDeadline: s.Deadline,
		LabelTicking:  s.Status == StatusRunning,
	}

	switch s.Status {
	case StatusRunning:
		v.CancelEnabled = false
		v.StartPauseEnabled = true
		v.StartPauseTitle = TitlePause
	case StatusFinished:
		v.CancelEnabled = true
		v.StartPauseEnabled = false
		v.StartPauseTitle = TitleStart
	case StatusPaused:
		v.CancelEnabled = true
		v.StartPauseEnabled = true
		v.StartPauseTitle = TitleStart
	default:
		v.CancelEnabled = false
		v.StartPauseEnabled = true
		v.StartPauseTitle = TitleStart
	}

	return v
}
