package logging

import "time"

// Console lines carry milliseconds so interleaved worker output can be
// ordered by eye.
const headerTimeLayout = "15:04:05.000"

// Time-valued attributes (checkpoint and run timestamps) keep the date.
const valueTimeLayout = "2006-01-02 15:04:05"

func formatTimestamp(ts time.Time) string {
	if ts.IsZero() {
		return "--:--:--.---"
	}
	return ts.In(time.Local).Format(headerTimeLayout)
}

func formatTimeValue(ts time.Time) string {
	if ts.IsZero() {
		return "never"
	}
	return ts.In(time.Local).Format(valueTimeLayout)
}

// formatDuration rounds to a precision that stays readable at each scale:
// judge calls in milliseconds, stages in centiseconds, runs in seconds.
func formatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "0s"
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	case d < time.Minute:
		return d.Round(10 * time.Millisecond).String()
	default:
		return d.Round(time.Second).String()
	}
}
