// Package generate is the content-generator boundary. The pipeline only
// sees the Generator interface; whatever produces the outreach content is
// opaque to it.
package generate

import (
	"context"

	"postulamatic-engine/internal/domain"
)

// Input carries everything a generator may use. Nothing else about the run
// leaks across this boundary.
type Input struct {
	JobTitle         string
	JobSummary       string
	ResumeHighlights string
	CandidateName    string
	AttachmentRef    string
}

type Generator interface {
	Generate(ctx context.Context, in Input) (domain.Draft, error)
}
