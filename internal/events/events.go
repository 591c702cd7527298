// Package events is the in-process fan-out used by the SSE endpoint. Run
// progress is published here; slow subscribers lose events rather than
// stalling the pipeline.
package events

import (
	"encoding/json"
	"time"
)

// Event types published over the run lifetime.
const (
	TypeRunStarted   = "run.started"
	TypeRunFinished  = "run.finished"
	TypePostingFound = "posting.found"
	TypeAppQueued    = "application.queued"
	TypeAppSent      = "application.sent"
	TypeAppFailed    = "application.failed"
	TypeAppSkipped   = "application.skipped"
)

type Event struct {
	Type  string          `json:"type"`
	At    time.Time       `json:"at"`
	RunID string          `json:"run_id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Make serializes one event to its wire form.
func Make(runID, typ string, data any) string {
	var raw json.RawMessage
	if data != nil {
		b, _ := json.Marshal(data)
		raw = b
	}
	e := Event{
		Type:  typ,
		At:    time.Now().UTC(),
		RunID: runID,
		Data:  raw,
	}
	b, _ := json.Marshal(e)
	return string(b)
}
