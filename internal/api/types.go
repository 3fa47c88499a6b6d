package api

import (
	"sort"
	"time"

	"curator/internal/checkpoint"
	"curator/internal/runner"
	"curator/internal/stage"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// StageHealth mirrors readiness reporting for pipeline stages.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// HealthResponse is the /healthz payload.
type HealthResponse struct {
	Ready     bool          `json:"ready"`
	Stages    []StageHealth `json:"stages"`
	CheckedAt string        `json:"checkedAt"`
}

// RunStatus is the /status payload.
type RunStatus struct {
	RunID            string         `json:"runId"`
	CurrentRunID     string         `json:"currentRunId,omitempty"`
	Running          bool           `json:"running"`
	Resumed          bool           `json:"resumed"`
	Interrupted      bool           `json:"interrupted"`
	Processed        int            `json:"processed"`
	Accepted         int            `json:"accepted"`
	Rejected         int            `json:"rejected"`
	Skipped          int            `json:"skipped"`
	Abandoned        int            `json:"abandoned"`
	RejectionReasons map[string]int `json:"rejectionReasons"`
	LastFlush        string         `json:"lastFlush,omitempty"`
	Elapsed          string         `json:"elapsed,omitempty"`
	LastError        string         `json:"lastError,omitempty"`
}

// FromCheckpoint combines durable progress with live counters of the current
// run. Accepted, rejected, and reason totals come from the checkpoint so they
// include earlier runs.
func FromCheckpoint(cp checkpoint.Checkpoint, report runner.Report) RunStatus {
	status := RunStatus{
		RunID:            cp.RunID,
		Processed:        len(cp.ProcessedIDs),
		Accepted:         cp.AcceptedCount,
		Rejected:         cp.RejectedCount,
		Skipped:          report.Skipped,
		Abandoned:        report.Abandoned,
		Interrupted:      report.Interrupted,
		RejectionReasons: map[string]int{},
	}
	for reason, count := range cp.RejectionReasons {
		status.RejectionReasons[reason] = count
	}
	if len(cp.Runs) > 0 {
		current := cp.Runs[len(cp.Runs)-1]
		status.CurrentRunID = current.ID
		status.Resumed = current.Resumed
	}
	if !cp.LastFlush.IsZero() {
		status.LastFlush = cp.LastFlush.UTC().Format(dateTimeFormat)
	}
	if report.Duration > 0 {
		status.Elapsed = report.Duration.Round(time.Millisecond).String()
	}
	return status
}

// FromHealth converts stage readiness into the transport shape, sorted by name.
func FromHealth(health []stage.Health, checkedAt time.Time) HealthResponse {
	resp := HealthResponse{
		Ready:     true,
		Stages:    make([]StageHealth, 0, len(health)),
		CheckedAt: checkedAt.UTC().Format(dateTimeFormat),
	}
	for _, h := range health {
		if !h.Ready {
			resp.Ready = false
		}
		resp.Stages = append(resp.Stages, StageHealth{Name: h.Name, Ready: h.Ready, Detail: h.Detail})
	}
	sort.Slice(resp.Stages, func(i, j int) bool { return resp.Stages[i].Name < resp.Stages[j].Name })
	return resp
}
