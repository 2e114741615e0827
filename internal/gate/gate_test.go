package gate

import (
	"strings"
	"testing"
	"time"

	"github.com/changegate/changegate/internal/pipeline"
	"github.com/changegate/changegate/internal/risk"
	"github.com/changegate/changegate/internal/scan"
)

func reportAt(level risk.SafetyLevel) *pipeline.Report {
	return &pipeline.Report{
		ModificationID: "m-1",
		SyntaxValid:    true,
		SafetyLevel:    level,
	}
}

func TestDecideTable(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name  string
		level risk.SafetyLevel
		cfg   Config
		want  Outcome
	}{
		{"safe auto-applies", risk.Safe, Config{AutoApplyEnabled: true}, AutoApply},
		{"low auto-applies", risk.LowRisk, Config{AutoApplyEnabled: true}, AutoApply},
		{"safe needs approval when disabled", risk.Safe, Config{}, RequireApproval},
		{"low needs approval when disabled", risk.LowRisk, Config{}, RequireApproval},
		{"medium needs approval", risk.MediumRisk, Config{AutoApplyEnabled: true}, RequireApproval},
		{"high blocks", risk.HighRisk, Config{AutoApplyEnabled: true}, Block},
		{"critical blocks", risk.Critical, Config{AutoApplyEnabled: true}, Block},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decide(reportAt(tt.level), tt.cfg, now)
			if d.Outcome != tt.want {
				t.Errorf("got %s, want %s", d.Outcome, tt.want)
			}
			if d.Rationale == "" {
				t.Error("decision has no rationale")
			}
			if d.ModificationID != "m-1" {
				t.Errorf("modification id not carried: %q", d.ModificationID)
			}
		})
	}
}

func TestCriticalFloorIsUnconditional(t *testing.T) {
	// No configuration may turn a Critical report into anything but Block.
	configs := []Config{
		{},
		{AutoApplyEnabled: true},
		{AutoApplyEnabled: true, MaxRefinements: 100},
		DefaultConfig(),
	}
	for i, cfg := range configs {
		d := Decide(reportAt(risk.Critical), cfg, time.Now())
		if d.Outcome != Block {
			t.Errorf("config %d: got %s, want block", i, d.Outcome)
		}
		if d.RuleID != "critical-floor" {
			t.Errorf("config %d: got rule %q, want critical-floor", i, d.RuleID)
		}
	}
}

func TestDecideDeterministic(t *testing.T) {
	report := reportAt(risk.MediumRisk)
	now := time.Now()
	first := Decide(report, DefaultConfig(), now)
	for i := 0; i < 10; i++ {
		if got := Decide(report, DefaultConfig(), now); got != first {
			t.Fatalf("call %d differs: %+v vs %+v", i, got, first)
		}
	}
}

func TestRationaleDerivedFromReport(t *testing.T) {
	report := &pipeline.Report{
		ModificationID: "m-2",
		SyntaxValid:    true,
		SafetyLevel:    risk.Critical,
		Findings: []scan.Finding{
			{PatternID: "fs-delete", Severity: scan.Severe, Line: 42},
		},
	}
	d := Decide(report, DefaultConfig(), time.Now())
	if !strings.Contains(d.Rationale, "blocked") ||
		!strings.Contains(d.Rationale, "fs-delete") ||
		!strings.Contains(d.Rationale, "42") {
		t.Errorf("rationale not derived from report: %q", d.Rationale)
	}
}

func TestOutcomeRoundTrip(t *testing.T) {
	for _, o := range []Outcome{AutoApply, RequireApproval, Block} {
		parsed, err := ParseOutcome(o.String())
		if err != nil || parsed != o {
			t.Errorf("round trip %s: got %v, %v", o, parsed, err)
		}
	}
}
