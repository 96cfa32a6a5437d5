package submission

import (
	"github.com/Namchee/tanyaaja/pkg/models"
	"github.com/Namchee/tanyaaja/pkg/ratelimit"
)

// Outcome is the terminal decision of one submission.
type Outcome string

const (
	OutcomeInvalid         Outcome = "invalid"
	OutcomeAccepted        Outcome = "accepted"
	OutcomeRateLimited     Outcome = "rate_limited"
	OutcomeBlocked         Outcome = "blocked"
	OutcomeRejected        Outcome = "rejected"
	OutcomeNotFound        Outcome = "not_found"
	OutcomeDependencyError Outcome = "dependency_error"
)

// Stage names the pipeline step a result or failure belongs to.
type Stage string

const (
	StageValidation   Stage = "validation"
	StageAdmission    Stage = "admission"
	StageVerification Stage = "verification"
	StageResolve      Stage = "resolve"
	StageCommit       Stage = "commit"
)

// Result is what Submit returns. Only the fields relevant to Outcome are set:
// Decision is nil when admission never produced one, Score is meaningful for
// Rejected, Question for Accepted, Err for Invalid and DependencyError.
type Result struct {
	Outcome  Outcome
	Stage    Stage
	Decision *ratelimit.Decision
	Score    float64
	Question models.Question
	Err      error
}

func (r Result) withDecision(d ratelimit.Decision) Result {
	r.Decision = &d
	return r
}
