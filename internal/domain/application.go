// Package domain holds the core types shared across the pipeline.
//
// Application status graph:
//
//	QUEUED ──► GENERATING ──► SENDING ──► SENT
//	   │            │             │
//	   └────────────┴─────────────┴──► FAILED
//
// SKIPPED is entered directly when the score is below threshold or the
// daily quota is already exhausted. SENT, FAILED and SKIPPED are terminal.
package domain

import (
	"fmt"
	"time"
)

type Status string

const (
	StatusQueued     Status = "QUEUED"
	StatusGenerating Status = "GENERATING"
	StatusSending    Status = "SENDING"
	StatusSent       Status = "SENT"
	StatusFailed     Status = "FAILED"
	StatusSkipped    Status = "SKIPPED"
)

var validTransitions = map[Status][]Status{
	StatusQueued:     {StatusGenerating, StatusSkipped, StatusFailed},
	StatusGenerating: {StatusSending, StatusFailed},
	StatusSending:    {StatusSent, StatusFailed},
	// SENT, FAILED and SKIPPED are terminal
}

// ParseStatus converts a raw string to a Status, returning an error for
// unknown values.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	switch st {
	case StatusQueued, StatusGenerating, StatusSending, StatusSent, StatusFailed, StatusSkipped:
		return st, nil
	}
	return "", fmt.Errorf("unknown application status %q", s)
}

// IsTransitionAllowed returns true when moving from → to is permitted.
func IsTransitionAllowed(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status has no outgoing transitions. A
// terminal application is never re-entered by a run; requeueing is an
// explicit operator action.
func IsTerminal(s Status) bool {
	_, ok := validTransitions[s]
	return !ok
}

// Application is the durable record of one (user, posting) pair. At most
// one exists per pair; it is appended to, never deleted.
type Application struct {
	ID         int64      `json:"id"`
	UserID     string     `json:"user_id"`
	PostingID  int64      `json:"posting_id"`
	ExternalID string     `json:"external_id"`
	Score      int        `json:"score"`
	Status     Status     `json:"status"`
	Recipient  string     `json:"recipient"`
	Subject    string     `json:"subject"`
	Body       string     `json:"body"`
	Attachment string     `json:"attachment"`
	SkipReason string     `json:"skip_reason"`
	ErrorMsg   string     `json:"error_msg"`
	CreatedAt  time.Time  `json:"created_at"`
	SentAt     *time.Time `json:"sent_at,omitempty"`
}

// Draft is what the content generator returns: the outreach subject/body
// plus an opaque attachment reference.
type Draft struct {
	Subject    string
	Body       string
	Attachment string
}
