package device

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mcdev12/bluetime/go/internal/timer"
)

// LogPresenter renders views as structured log lines.
type LogPresenter struct {
	logger zerolog.Logger
}

func NewLogPresenter(logger zerolog.Logger) *LogPresenter {
	return &LogPresenter{logger: logger}
}

func (p *LogPresenter) Render(v timer.View) {
	ev := p.logger.Info().
		Str("status", string(v.Status)).
		Str("label", FormatRemaining(v.Remaining)).
		Bool("cancel_enabled", v.CancelEnabled).
		Bool("start_pause_enabled", v.StartPauseEnabled).
		Str("start_pause_title", v.StartPauseTitle)
	if v.LabelTicking {
		ev = ev.Time("label_deadline", v.LabelDeadline)
	}
	ev.Msg("display")
}

// FormatRemaining formats a countdown as m:ss, rounding partial seconds up.
func FormatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64((d + time.Second - 1) / time.Second)
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}
