// Package pipeline orchestrates the validation stages for one proposed
// modification: syntax check, pattern scan, risk classification, sandbox
// trial, and regression check. Stage order is fixed and sequential within a
// modification; the pipeline holds no cross-modification state, so any number
// of modifications may be validated concurrently.
package pipeline

import (
	"context"
	"fmt"
	"sort"

	"github.com/changegate/changegate/internal/risk"
	"github.com/changegate/changegate/internal/sandbox"
	"github.com/changegate/changegate/internal/scan"
)

// Stage names as they appear in Report.StagesRun.
const (
	StageSyntax     = "syntax"
	StageScan       = "scan"
	StageClassify   = "classify"
	StageSandbox    = "sandbox"
	StageRegression = "regression"
)

// Request is a read-only view of the modification under validation. The
// pipeline never mutates ledger state; it only produces a report.
type Request struct {
	ModificationID  string
	TargetPath      string
	OriginalContent string
	ProposedContent string
	TestSurface     string
	Metadata        risk.Metadata
}

// Validator runs the validation pipeline. It is stateless and reentrant.
type Validator struct {
	scanner    *scan.Scanner
	classifier *risk.Classifier
	executor   *sandbox.Executor
}

// New creates a Validator from its stage implementations.
func New(scanner *scan.Scanner, classifier *risk.Classifier, executor *sandbox.Executor) *Validator {
	return &Validator{
		scanner:    scanner,
		classifier: classifier,
		executor:   executor,
	}
}

// Validate always produces a report, even for maximally risky input: stage
// problems are captured as report data, never returned as errors, so the
// policy gate always has a record to decide against.
func (v *Validator) Validate(ctx context.Context, req Request) *Report {
	report := &Report{
		ModificationID: req.ModificationID,
		TargetPath:     req.TargetPath,
	}

	// Syntax check. A failure short-circuits at Critical: nothing downstream
	// can make unparseable content safer.
	report.StagesRun = append(report.StagesRun, StageSyntax)
	if err := scan.CheckSyntax(req.ProposedContent); err != nil {
		report.SyntaxValid = false
		report.SyntaxError = err.Error()
		report.Findings = v.scanner.Scan(req.ProposedContent)
		report.SafetyLevel = risk.Critical
		return report
	}
	report.SyntaxValid = true

	// Pattern scan.
	report.StagesRun = append(report.StagesRun, StageScan)
	report.Findings = v.scanner.Scan(req.ProposedContent)

	// Risk classification.
	report.StagesRun = append(report.StagesRun, StageClassify)
	report.SafetyLevel = v.classifier.Classify(report.Findings, req.Metadata)

	// A Critical change is blocked outright; running denylisted constructs in
	// the sandbox would only waste its resource budget.
	if report.SafetyLevel >= risk.Critical {
		return report
	}

	// Sandbox trial.
	report.StagesRun = append(report.StagesRun, StageSandbox)
	result := v.executor.Run(ctx, req.OriginalContent, req.ProposedContent, req.TestSurface)
	report.Sandbox = &result

	// Regression check: compare pre/post test-surface behavior. Skipped when
	// the proposed run timed out or crashed — there is no post behavior to
	// compare, and the sandbox outcome alone already forces escalation.
	if result.Status == sandbox.ExitSuccess || result.Status == sandbox.ExitFailure {
		report.StagesRun = append(report.StagesRun, StageRegression)
		report.Regressions = regressions(&result)
	}

	report.SafetyLevel = finalLevel(report)
	return report
}

// regressions lists tests that passed on the original content but failed on
// the proposed content, sorted by test name for determinism.
func regressions(res *sandbox.Result) []Regression {
	var out []Regression
	for test, passedBefore := range res.BaselineTests {
		passedAfter, ran := res.TestResults[test]
		if passedBefore && ran && !passedAfter {
			out = append(out, Regression{
				Test:   test,
				Detail: fmt.Sprintf("%s passed before the change and fails after", test),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Test < out[j].Test })
	return out
}

// finalLevel derives the report's safety level from its fields. Escalation is
// monotonic: a clean sandbox run never lowers the classifier's level, while a
// failed trial or any regression raises it to at least HighRisk.
func finalLevel(r *Report) risk.SafetyLevel {
	level := r.SafetyLevel
	if r.Sandbox != nil && r.Sandbox.Status != sandbox.ExitSuccess {
		level = risk.Max(level, risk.HighRisk)
	}
	if len(r.Regressions) > 0 {
		level = risk.Max(level, risk.HighRisk)
	}
	return level
}
