package pipeline

import (
	"fmt"
	"strings"

	"github.com/changegate/changegate/internal/risk"
	"github.com/changegate/changegate/internal/sandbox"
	"github.com/changegate/changegate/internal/scan"
)

// Report is the single output of validating one modification. Every stage's
// result is additive; nothing is discarded on short-circuit. SafetyLevel is
// derived from the other fields and never set independently.
type Report struct {
	ModificationID string           `json:"modification_id"`
	TargetPath     string           `json:"target_path"`
	SyntaxValid    bool             `json:"syntax_valid"`
	SyntaxError    string           `json:"syntax_error,omitempty"`
	Findings       []scan.Finding   `json:"pattern_findings,omitempty"`
	SafetyLevel    risk.SafetyLevel `json:"safety_level"`
	Sandbox        *sandbox.Result  `json:"sandbox_result,omitempty"`
	Regressions    []Regression     `json:"regression_findings,omitempty"`
	StagesRun      []string         `json:"stages_run"`
}

// Regression is one test that passed against the original content but failed
// against the proposed content.
type Regression struct {
	Test   string `json:"test"`
	Detail string `json:"detail"`
}

// Summary renders a one-line, mechanically derived description of why the
// report landed at its safety level. Used verbatim in decision rationales.
func (r *Report) Summary() string {
	var parts []string
	if !r.SyntaxValid {
		parts = append(parts, "unparseable content")
	}
	if fd := r.worstFinding(); fd != nil {
		parts = append(parts, fmt.Sprintf("%s pattern %q at line %d", fd.Severity, fd.PatternID, fd.Line))
	}
	if r.Sandbox != nil && r.Sandbox.Status != sandbox.ExitSuccess {
		parts = append(parts, fmt.Sprintf("sandbox %s", r.Sandbox.Status))
	}
	if n := len(r.Regressions); n > 0 {
		parts = append(parts, fmt.Sprintf("%d regression(s)", n))
	}
	if len(parts) == 0 {
		if r.Sandbox != nil {
			parts = append(parts, fmt.Sprintf("%d sandbox tests passed", r.Sandbox.TestsPassed))
		} else {
			parts = append(parts, "no findings")
		}
	}
	return fmt.Sprintf("%s — %s", r.SafetyLevel, strings.Join(parts, "; "))
}

// worstFinding returns the highest-severity finding, earliest wins ties.
func (r *Report) worstFinding() *scan.Finding {
	var worst *scan.Finding
	for i := range r.Findings {
		fd := &r.Findings[i]
		if fd.Severity == scan.Info {
			continue
		}
		if worst == nil || fd.Severity > worst.Severity {
			worst = fd
		}
	}
	return worst
}
