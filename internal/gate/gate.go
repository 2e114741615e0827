// Package gate maps a validation report to an apply/hold/block decision.
// The mapping is a deterministic table lookup, not a heuristic: the same
// report and config always produce the same outcome.
package gate

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/changegate/changegate/internal/pipeline"
	"github.com/changegate/changegate/internal/risk"
)

// Outcome is the gate's verdict for one modification.
type Outcome int

const (
	AutoApply       Outcome = iota // safe to apply without review
	RequireApproval                // pending until an external reviewer acts
	Block                          // must not be applied
)

func (o Outcome) String() string {
	switch o {
	case AutoApply:
		return "auto-apply"
	case RequireApproval:
		return "require-approval"
	case Block:
		return "block"
	default:
		return "unknown"
	}
}

// ParseOutcome converts a string to an Outcome.
func ParseOutcome(s string) (Outcome, error) {
	switch s {
	case "auto-apply":
		return AutoApply, nil
	case "require-approval":
		return RequireApproval, nil
	case "block":
		return Block, nil
	default:
		return 0, fmt.Errorf("unknown outcome: %q", s)
	}
}

// MarshalJSON encodes the outcome by its symbolic name.
func (o Outcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

// UnmarshalJSON decodes a symbolic outcome name.
func (o *Outcome) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseOutcome(s)
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

// Decision is a structured gate verdict. The rationale is derived
// mechanically from the report so a Block always explains itself.
type Decision struct {
	ModificationID string    `json:"modification_id"`
	Outcome        Outcome   `json:"outcome"`
	Rationale      string    `json:"rationale"`
	RuleID         string    `json:"rule_id"`
	DecidedAt      time.Time `json:"decided_at"`
}

// Config holds the gate's thresholds, frozen at construction.
type Config struct {
	// AutoApplyEnabled permits Safe and LowRisk changes to apply without
	// review. When false they require approval instead.
	AutoApplyEnabled bool
	// MaxRefinements bounds the re-propose loop after a rejection; exceeding
	// it blocks instead of validating again.
	MaxRefinements int
}

// DefaultConfig returns the default gate configuration.
func DefaultConfig() Config {
	return Config{AutoApplyEnabled: true, MaxRefinements: 2}
}

// Decide converts a report into a decision. The Critical floor is hard and
// non-overridable: no configuration can make a Critical report anything but
// Block. Decide never converts RequireApproval to a terminal state — that is
// the reviewer's job.
func Decide(report *pipeline.Report, cfg Config, now time.Time) Decision {
	d := Decision{
		ModificationID: report.ModificationID,
		DecidedAt:      now.UTC(),
	}

	switch report.SafetyLevel {
	case risk.Critical:
		d.Outcome = Block
		d.RuleID = "critical-floor"
		d.Rationale = "blocked: " + report.Summary()
	case risk.HighRisk:
		d.Outcome = Block
		d.RuleID = "block-high-risk"
		d.Rationale = "blocked: " + report.Summary()
	case risk.MediumRisk:
		d.Outcome = RequireApproval
		d.RuleID = "review-medium-risk"
		d.Rationale = "needs approval: " + report.Summary()
	default: // Safe, LowRisk
		if cfg.AutoApplyEnabled {
			d.Outcome = AutoApply
			d.RuleID = "auto-apply-low-risk"
			d.Rationale = "auto-apply: " + report.Summary()
		} else {
			d.Outcome = RequireApproval
			d.RuleID = "review-auto-apply-disabled"
			d.Rationale = "needs approval (auto-apply disabled): " + report.Summary()
		}
	}
	return d
}
