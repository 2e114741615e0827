package risk

import (
	"github.com/changegate/changegate/internal/scan"
)

// Metadata describes the change itself, independent of its content.
type Metadata struct {
	TargetPath        string
	TargetSensitivity Sensitivity
	// ProposedBytes is the size of the proposed content.
	ProposedBytes int
	// HistoricalFailureRate is the observed failure rate of prior changes to
	// the same target, in [0, 1]. Zero when no history exists.
	HistoricalFailureRate float64
}

// Config freezes the classifier's thresholds at construction time.
type Config struct {
	// WarningCap bounds how far Warning findings alone can escalate.
	WarningCap SafetyLevel
	// LargeChangeBytes escalates one level when the proposed content is at
	// least this large. Zero disables the check.
	LargeChangeBytes int
	// FailureRateThreshold escalates one level when the historical failure
	// rate meets or exceeds it. Zero disables the check.
	FailureRateThreshold float64
}

// DefaultConfig returns the default classifier thresholds.
func DefaultConfig() Config {
	return Config{
		WarningCap:           HighRisk,
		LargeChangeBytes:     16 * 1024,
		FailureRateThreshold: 0.25,
	}
}

// Classifier converts scanner findings plus change metadata into a
// SafetyLevel. It is stateless after construction and safe for concurrent use.
type Classifier struct {
	cfg Config
}

// New creates a Classifier. A zero WarningCap is raised to HighRisk so that
// Warning findings can never be configured into silence.
func New(cfg Config) *Classifier {
	if cfg.WarningCap <= Safe {
		cfg.WarningCap = HighRisk
	}
	return &Classifier{cfg: cfg}
}

// Classify is deterministic and order-independent: it tallies findings by
// severity rather than folding over them, so any permutation of the same
// finding set yields the same level. Escalation is monotonic; no input ever
// lowers the level.
func (c *Classifier) Classify(findings []scan.Finding, meta Metadata) SafetyLevel {
	if meta.TargetSensitivity == SensitivityHigh {
		return Critical
	}

	var warnings int
	for _, fd := range findings {
		switch fd.Severity {
		case scan.Severe:
			return Critical
		case scan.Warning:
			warnings++
		}
		// Info findings never escalate.
	}

	level := Safe + SafetyLevel(warnings)
	if level > c.cfg.WarningCap {
		level = c.cfg.WarningCap
	}

	if c.cfg.LargeChangeBytes > 0 && meta.ProposedBytes >= c.cfg.LargeChangeBytes {
		level = escalate(level, c.cfg.WarningCap)
	}
	if c.cfg.FailureRateThreshold > 0 && meta.HistoricalFailureRate >= c.cfg.FailureRateThreshold {
		level = escalate(level, c.cfg.WarningCap)
	}
	return level
}

// escalate bumps one level without crossing the warning cap. Only Severe
// findings and high sensitivity may reach Critical.
func escalate(level, cap SafetyLevel) SafetyLevel {
	if level >= cap {
		return cap
	}
	return level + 1
}
