// Package engine wires the ledger, validation pipeline, policy gate, and
// audit log into the end-to-end modification flow: propose, validate, decide,
// and (when permitted) apply.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/changegate/changegate/internal/gate"
	"github.com/changegate/changegate/internal/ledger"
	"github.com/changegate/changegate/internal/pipeline"
	"github.com/changegate/changegate/internal/risk"
)

// SensitivityFunc classifies a target path's sensitivity.
type SensitivityFunc func(target string) risk.Sensitivity

// Result is everything one proposal produced: the ledger record, the
// validation report, and the gate's decision.
type Result struct {
	Modification ledger.Modification `json:"modification"`
	Report       *pipeline.Report    `json:"report,omitempty"`
	Decision     *gate.Decision      `json:"decision,omitempty"`
}

// Engine runs proposals through validation and the gate, and drives the
// ledger accordingly. It holds no per-modification state of its own.
type Engine struct {
	ledger      *ledger.Service
	validator   *pipeline.Validator
	gateCfg     gate.Config
	sensitivity SensitivityFunc
	notes       *AuditNotifier
	now         func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the engine clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithSensitivity sets the target sensitivity classifier. The default treats
// every target as normal sensitivity.
func WithSensitivity(fn SensitivityFunc) Option {
	return func(e *Engine) { e.sensitivity = fn }
}

// WithAuditNotes lets the engine annotate audit entries with the classified
// safety level.
func WithAuditNotes(n *AuditNotifier) Option {
	return func(e *Engine) { e.notes = n }
}

// New creates an Engine.
func New(svc *ledger.Service, validator *pipeline.Validator, gateCfg gate.Config, opts ...Option) *Engine {
	e := &Engine{
		ledger:      svc,
		validator:   validator,
		gateCfg:     gateCfg,
		sensitivity: func(string) risk.Sensitivity { return risk.SensitivityNormal },
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Propose records a new modification and runs it through the full flow.
// Validation problems never surface as errors; they land in the report and
// the decision. The returned error covers ledger and storage failures only.
func (e *Engine) Propose(ctx context.Context, in ledger.ProposeInput) (Result, error) {
	m, err := e.ledger.Propose(ctx, in)
	if err != nil {
		return Result{}, err
	}

	m, err = e.ledger.MarkValidating(ctx, m.ID)
	if err != nil {
		return Result{}, err
	}

	// A target whose proposals keep getting rejected or blocked stops being
	// re-validated once the refinement budget is spent.
	exhausted, err := e.refinementsExhausted(ctx, m.TargetPath)
	if err != nil {
		return Result{}, err
	}
	if exhausted {
		rationale := fmt.Sprintf("blocked: refinement budget for %s exhausted (max %d)", m.TargetPath, e.gateCfg.MaxRefinements)
		m, err = e.ledger.RecordDecision(ctx, m.ID, ledger.OutcomeBlock, rationale)
		if err != nil {
			return Result{}, err
		}
		return Result{
			Modification: m,
			Decision: &gate.Decision{
				ModificationID: m.ID,
				Outcome:        gate.Block,
				Rationale:      rationale,
				RuleID:         "refinement-budget",
				DecidedAt:      e.now(),
			},
		}, nil
	}

	report := e.validator.Validate(ctx, pipeline.Request{
		ModificationID:  m.ID,
		TargetPath:      m.TargetPath,
		OriginalContent: m.OriginalContent,
		ProposedContent: m.ProposedContent,
		TestSurface:     m.TestSurface,
		Metadata: risk.Metadata{
			TargetPath:            m.TargetPath,
			TargetSensitivity:     e.sensitivity(m.TargetPath),
			ProposedBytes:         len(m.ProposedContent),
			HistoricalFailureRate: e.failureRate(ctx, m.TargetPath),
		},
	})

	decision := gate.Decide(report, e.gateCfg, e.now())
	if e.notes != nil {
		e.notes.NoteLevel(m.ID, report.SafetyLevel.String())
	}

	m, err = e.ledger.RecordDecision(ctx, m.ID, decision.Outcome.String(), decision.Rationale)
	if err != nil {
		return Result{}, err
	}

	if decision.Outcome == gate.AutoApply {
		m, err = e.ledger.Apply(ctx, m.ID)
		if err != nil {
			return Result{Modification: m, Report: report, Decision: &decision}, err
		}
	}

	return Result{Modification: m, Report: report, Decision: &decision}, nil
}

// SubmitReview records a reviewer verdict; approval applies immediately.
func (e *Engine) SubmitReview(ctx context.Context, id string, approve bool, reviewer, note string) (ledger.Modification, error) {
	m, err := e.ledger.SubmitReview(ctx, id, approve, reviewer, note)
	if err != nil {
		return ledger.Modification{}, err
	}
	if approve {
		return e.ledger.Apply(ctx, id)
	}
	return m, nil
}

// Rollback restores a previously applied modification's original content.
func (e *Engine) Rollback(ctx context.Context, id string) (ledger.Modification, error) {
	return e.ledger.Rollback(ctx, id)
}

// Get returns one modification by id.
func (e *Engine) Get(ctx context.Context, id string) (ledger.Modification, error) {
	return e.ledger.Get(ctx, id)
}

// List returns modifications matching the filter.
func (e *Engine) List(ctx context.Context, f ledger.Filter) ([]ledger.Modification, error) {
	return e.ledger.List(ctx, f)
}

// ListPending returns modifications awaiting external review.
func (e *Engine) ListPending(ctx context.Context) ([]ledger.Modification, error) {
	return e.ledger.ListPending(ctx)
}

// refinementsExhausted reports whether the target has already burned through
// its rejected or blocked proposals.
func (e *Engine) refinementsExhausted(ctx context.Context, target string) (bool, error) {
	if e.gateCfg.MaxRefinements <= 0 {
		return false, nil
	}
	var failed int
	for _, status := range []ledger.Status{ledger.StatusRejected, ledger.StatusBlocked} {
		mods, err := e.ledger.List(ctx, ledger.Filter{TargetPath: target, Status: status})
		if err != nil {
			return false, fmt.Errorf("count refinements: %w", err)
		}
		failed += len(mods)
	}
	return failed >= e.gateCfg.MaxRefinements, nil
}

// failureRate derives the target's historical failure rate from its decided
// records. Errors degrade to zero; history is an input to classification, not
// a gatekeeper.
func (e *Engine) failureRate(ctx context.Context, target string) float64 {
	var failed, decided int
	for _, status := range []ledger.Status{
		ledger.StatusBlocked,
		ledger.StatusRejected,
		ledger.StatusRolledBack,
		ledger.StatusApplied,
	} {
		mods, err := e.ledger.List(ctx, ledger.Filter{TargetPath: target, Status: status})
		if err != nil {
			return 0
		}
		decided += len(mods)
		if status != ledger.StatusApplied {
			failed += len(mods)
		}
	}
	if decided == 0 {
		return 0
	}
	return float64(failed) / float64(decided)
}
