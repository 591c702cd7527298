package domain

import "time"

// RunLog is the write-once record of one pipeline execution.
type RunLog struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id"`
	UserID     string    `json:"user_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Scraped    int       `json:"scraped"`
	Skipped    int       `json:"skipped"`
	Matched    int       `json:"matched"`
	Sent       int       `json:"sent"`
	Failed     int       `json:"failed"`
	Fatal      bool      `json:"fatal"`
	Errors     []string  `json:"errors"`
}
