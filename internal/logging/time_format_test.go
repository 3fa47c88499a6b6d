package logging

import (
	"testing"
	"time"
)

func TestFormatTimestamp(t *testing.T) {
	ts := time.Date(2026, 3, 4, 5, 6, 7, 890_000_000, time.Local)
	if got := formatTimestamp(ts); got != "05:06:07.890" {
		t.Fatalf("formatTimestamp = %q", got)
	}
	if got := formatTimeValue(ts); got != "2026-03-04 05:06:07" {
		t.Fatalf("formatTimeValue = %q", got)
	}
	if got := formatTimeValue(time.Time{}); got != "never" {
		t.Fatalf("zero time value = %q", got)
	}
}

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{1234567 * time.Nanosecond, "1ms"},
		{2345 * time.Millisecond, "2.35s"},
		{90*time.Second + 400*time.Millisecond, "1m30s"},
	}
	for _, tc := range cases {
		if got := formatDuration(tc.in); got != tc.want {
			t.Fatalf("formatDuration(%s) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
