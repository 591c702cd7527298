package rank

import "postulamatic-engine/internal/domain"

type Scorer interface {
	Score(resume domain.Resume, job domain.JobPosting) domain.MatchResult
}
