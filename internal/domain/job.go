package domain

import "time"

// RawListing is one scraped board row before normalization. It never
// outlives a run.
type RawListing struct {
	Title     string
	Summary   string
	DetailURL string
	RawHTML   string
}

// JobPosting is the canonical entity for one advertisement. ExternalID is a
// stable hash of the canonical detail URL, so re-scraping the same listing
// refreshes mutable fields instead of creating a duplicate.
type JobPosting struct {
	ID         int64     `json:"id"`
	ExternalID string    `json:"external_id"`
	Title      string    `json:"title"`
	Summary    string    `json:"summary"`
	Emails     []string  `json:"emails"`
	SourceURL  string    `json:"source_url"`
	RawHTML    string    `json:"-"`
	FirstSeen  time.Time `json:"first_seen"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Detail holds what a detail page yields after parsing.
type Detail struct {
	Title   string
	Summary string
	Emails  []string
	RawHTML string
}

// Resume is the parsed resume snapshot a run scores against. Skills come
// from the upstream CV processor; Highlights feed the content generator.
type Resume struct {
	Skills     []string
	Highlights string
	FileRef    string
}

// MatchResult pairs a posting with its score for one resume snapshot.
// It is folded into an Application and never persisted on its own.
type MatchResult struct {
	Score          int
	MatchedSkills  []string
	MissingSkills  []string
	SkillsScore    int
	SeniorityScore int
}
