package risk

import (
	"encoding/json"
	"fmt"
)

// SafetyLevel is the discrete risk tier assigned to a proposed change.
// Levels form a total order: Safe < LowRisk < MediumRisk < HighRisk < Critical.
type SafetyLevel int

const (
	Safe SafetyLevel = iota
	LowRisk
	MediumRisk
	HighRisk
	Critical
)

func (l SafetyLevel) String() string {
	switch l {
	case Safe:
		return "safe"
	case LowRisk:
		return "low"
	case MediumRisk:
		return "medium"
	case HighRisk:
		return "high"
	case Critical:
		return "critical"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// ParseSafetyLevel converts a string to a SafetyLevel.
func ParseSafetyLevel(s string) (SafetyLevel, error) {
	switch s {
	case "safe":
		return Safe, nil
	case "low":
		return LowRisk, nil
	case "medium":
		return MediumRisk, nil
	case "high":
		return HighRisk, nil
	case "critical":
		return Critical, nil
	default:
		return 0, fmt.Errorf("unknown safety level: %q", s)
	}
}

// MarshalJSON encodes the level by its symbolic name.
func (l SafetyLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// UnmarshalJSON decodes a symbolic level name.
func (l *SafetyLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseSafetyLevel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Max returns the more restrictive of two levels.
func Max(a, b SafetyLevel) SafetyLevel {
	if a > b {
		return a
	}
	return b
}

// Sensitivity classifies how sensitive a target path is. High-sensitivity
// targets (authentication, payments, the engine's own config) force Critical
// regardless of findings.
type Sensitivity int

const (
	SensitivityNormal Sensitivity = iota
	SensitivityHigh
)

func (s Sensitivity) String() string {
	switch s {
	case SensitivityNormal:
		return "normal"
	case SensitivityHigh:
		return "high"
	default:
		return fmt.Sprintf("sensitivity(%d)", int(s))
	}
}

// ParseSensitivity converts a string to a Sensitivity.
func ParseSensitivity(s string) (Sensitivity, error) {
	switch s {
	case "normal", "":
		return SensitivityNormal, nil
	case "high":
		return SensitivityHigh, nil
	default:
		return 0, fmt.Errorf("unknown sensitivity: %q", s)
	}
}
