package detector

import (
	"log/slog"

	"ledwatch/internal/statetable"
)

// Reporter receives the externally visible events of a running detector.
// Methods are called synchronously from the detection goroutine.
type Reporter interface {
	// Transition is called when an LED changes power.
	Transition(tr statetable.Transition)
	// Degraded is called once when orientation estimation has failed
	// failures times in a row. err is the latest failure.
	Degraded(failures int, err error)
	// Recovered is called on the first successful cycle after Degraded.
	Recovered()
}

// LogReporter writes detector events to a structured logger.
type LogReporter struct {
	Logger *slog.Logger
}

func (r LogReporter) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

func (r LogReporter) Transition(tr statetable.Transition) {
	attrs := []any{
		"led", tr.LedID,
		"power", tr.New.Power,
		"at", tr.New.Timestamp,
	}
	if tr.New.Color != "" {
		attrs = append(attrs, "color", tr.New.Color)
	}
	if tr.Hertz > 0 {
		attrs = append(attrs, "hz", tr.Hertz)
	}
	r.logger().Info("led transition", attrs...)
}

func (r LogReporter) Degraded(failures int, err error) {
	r.logger().Warn("board not found, detection degraded", "failures", failures, "error", err)
}

func (r LogReporter) Recovered() {
	r.logger().Info("board found again, detection recovered")
}
