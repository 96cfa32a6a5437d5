// Package submission decides whether an anonymous question is admitted,
// trusted and committed. It returns a Result and never writes HTTP.
package submission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Namchee/tanyaaja/pkg/captcha"
	"github.com/Namchee/tanyaaja/pkg/models"
	"github.com/Namchee/tanyaaja/pkg/ratelimit"
	"github.com/Namchee/tanyaaja/pkg/store"
)

const (
	DefaultThreshold         = 0.5
	DefaultMaxQuestionLength = 1000
	DevDecisionLimit         = 1000
	defaultStageTimeout      = 3 * time.Second
)

// ErrOwnerWithoutID is returned when the directory yields a record with no id.
var ErrOwnerWithoutID = errors.New("owner record has no id")

type Verifier interface {
	Verify(ctx context.Context, token, remoteIP string) (captcha.Assessment, error)
}

// Recorder receives operational counters. metrics.Registry satisfies it.
type Recorder interface {
	IncOutcome(outcome string)
	ObserveStage(stage string, d time.Duration)
}

type Pipeline struct {
	Limiter   ratelimit.Limiter
	Verifier  Verifier
	Directory store.Directory
	Writer    store.QuestionWriter

	// DevMode skips admission and verification entirely. It must only be set
	// after hardening.ValidateBypass accepted the environment.
	DevMode bool

	// Threshold is exclusive. Zero means DefaultThreshold; config rejects
	// values outside (0,1) before they get here.
	Threshold         float64
	MaxQuestionLength int

	AdmissionTimeout    time.Duration
	VerificationTimeout time.Duration
	StoreTimeout        time.Duration

	Logger   *slog.Logger
	Recorder Recorder
	Tracer   trace.Tracer
	Now      func() time.Time
	NewID    func() string
}

// Submit runs admission, verification and commit for one request. identity is
// the resolved client address; it is used as the rate-limit key and passed to
// the verifier, and is never logged or stored.
func (p *Pipeline) Submit(ctx context.Context, req models.SubmissionRequest, identity string) Result {
	res := p.submit(ctx, req.Normalize(), identity)
	if p.Recorder != nil {
		p.Recorder.IncOutcome(string(res.Outcome))
	}
	return res
}

func (p *Pipeline) submit(ctx context.Context, req models.SubmissionRequest, identity string) Result {
	if err := req.Validate(p.maxQuestionLength()); err != nil {
		return Result{Outcome: OutcomeInvalid, Stage: StageValidation, Err: err}
	}

	decision, res, ok := p.admit(ctx, req, identity)
	if !ok {
		return res
	}

	if !p.DevMode {
		if req.Token == "" {
			p.logger().DebugContext(ctx, "submission blocked", "request_id", middleware.GetReqID(ctx), "slug", req.Slug, "reason", "missing token")
			return Result{Outcome: OutcomeBlocked, Stage: StageVerification}.withDecision(decision)
		}
		if res, ok := p.verify(ctx, req, identity); !ok {
			return res.withDecision(decision)
		}
	}

	return p.commit(ctx, req).withDecision(decision)
}

func (p *Pipeline) admit(ctx context.Context, req models.SubmissionRequest, identity string) (ratelimit.Decision, Result, bool) {
	if p.DevMode {
		return ratelimit.Synthetic(DevDecisionLimit), Result{}, true
	}
	ctx, span := p.tracer().Start(ctx, "admission")
	defer span.End()
	start := time.Now()
	actx, cancel := context.WithTimeout(ctx, timeoutOr(p.AdmissionTimeout))
	decision, err := p.Limiter.Allow(actx, identity)
	cancel()
	p.observe(StageAdmission, start)
	if err != nil {
		p.fail(ctx, span, StageAdmission, req.Slug, err)
		return ratelimit.Decision{}, Result{Outcome: OutcomeDependencyError, Stage: StageAdmission, Err: err}, false
	}
	span.SetAttributes(
		attribute.Bool("ratelimit.allowed", decision.Allowed),
		attribute.Int("ratelimit.limit", decision.Limit),
		attribute.Int("ratelimit.remaining", decision.Remaining),
	)
	if !decision.Allowed {
		p.logger().DebugContext(ctx, "submission rate limited", "request_id", middleware.GetReqID(ctx), "slug", req.Slug)
		return decision, Result{Outcome: OutcomeRateLimited, Stage: StageAdmission}.withDecision(decision), false
	}
	return decision, Result{}, true
}

func (p *Pipeline) verify(ctx context.Context, req models.SubmissionRequest, identity string) (Result, bool) {
	ctx, span := p.tracer().Start(ctx, "verification")
	defer span.End()
	start := time.Now()
	vctx, cancel := context.WithTimeout(ctx, timeoutOr(p.VerificationTimeout))
	assessment, err := p.Verifier.Verify(vctx, req.Token, identity)
	cancel()
	p.observe(StageVerification, start)
	if err != nil {
		p.fail(ctx, span, StageVerification, req.Slug, err)
		return Result{Outcome: OutcomeDependencyError, Stage: StageVerification, Err: err}, false
	}
	span.SetAttributes(attribute.Float64("captcha.score", assessment.Score))
	if !(assessment.Score > p.threshold()) {
		p.logger().DebugContext(ctx, "submission rejected", "request_id", middleware.GetReqID(ctx), "slug", req.Slug, "score", assessment.Score)
		return Result{Outcome: OutcomeRejected, Stage: StageVerification, Score: assessment.Score}, false
	}
	return Result{}, true
}

func (p *Pipeline) commit(ctx context.Context, req models.SubmissionRequest) Result {
	ctx, span := p.tracer().Start(ctx, "commit", trace.WithAttributes(attribute.String("slug", req.Slug)))
	defer span.End()
	start := time.Now()
	defer p.observe(StageCommit, start)

	lctx, cancel := context.WithTimeout(ctx, timeoutOr(p.StoreTimeout))
	owners, err := p.Directory.FindBySlug(lctx, req.Slug)
	cancel()
	if err != nil {
		p.fail(ctx, span, StageResolve, req.Slug, err)
		return Result{Outcome: OutcomeDependencyError, Stage: StageResolve, Err: err}
	}
	if len(owners) == 0 {
		p.logger().DebugContext(ctx, "submission owner not found", "request_id", middleware.GetReqID(ctx), "slug", req.Slug)
		return Result{Outcome: OutcomeNotFound, Stage: StageResolve}
	}
	owner := owners[0]
	if strings.TrimSpace(owner.ID) == "" {
		err := fmt.Errorf("slug %q: %w", req.Slug, ErrOwnerWithoutID)
		p.fail(ctx, span, StageResolve, req.Slug, err)
		return Result{Outcome: OutcomeDependencyError, Stage: StageResolve, Err: err}
	}

	q := models.Question{
		ID:          p.newID(),
		OwnerID:     owner.ID,
		Text:        req.Question,
		Status:      models.QuestionStatusNotStarted,
		Public:      false,
		SubmittedAt: p.now().UTC(),
	}
	wctx, cancel := context.WithTimeout(ctx, timeoutOr(p.StoreTimeout))
	err = p.Writer.InsertQuestion(wctx, q)
	cancel()
	if err != nil {
		p.fail(ctx, span, StageCommit, req.Slug, err)
		return Result{Outcome: OutcomeDependencyError, Stage: StageCommit, Err: err}
	}
	span.SetAttributes(attribute.String("question.id", q.ID))
	return Result{Outcome: OutcomeAccepted, Stage: StageCommit, Question: q}
}

func (p *Pipeline) fail(ctx context.Context, span trace.Span, stage Stage, slug string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, string(stage)+" failed")
	p.logger().ErrorContext(ctx, "submission dependency failure",
		"request_id", middleware.GetReqID(ctx),
		"stage", string(stage),
		"slug", slug,
		"error", err,
	)
}

func (p *Pipeline) observe(stage Stage, start time.Time) {
	if p.Recorder != nil {
		p.Recorder.ObserveStage(string(stage), time.Since(start))
	}
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func (p *Pipeline) tracer() trace.Tracer {
	if p.Tracer != nil {
		return p.Tracer
	}
	return otel.Tracer("github.com/Namchee/tanyaaja/pkg/submission")
}

func (p *Pipeline) threshold() float64 {
	if p.Threshold > 0 {
		return p.Threshold
	}
	return DefaultThreshold
}

func (p *Pipeline) maxQuestionLength() int {
	if p.MaxQuestionLength > 0 {
		return p.MaxQuestionLength
	}
	return DefaultMaxQuestionLength
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *Pipeline) newID() string {
	if p.NewID != nil {
		return p.NewID()
	}
	return uuid.NewString()
}

func timeoutOr(d time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return defaultStageTimeout
}
