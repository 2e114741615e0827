package sandbox

import (
	"encoding/json"
	"fmt"
	"time"
)

// Limits bound a sandbox trial. The timeout is a hard kill, not a soft
// deadline: when it fires the interpreter is cancelled and the run is
// recorded as a timeout, never retried.
type Limits struct {
	Timeout        time.Duration
	MaxSteps       uint64
	MaxMemoryBytes uint64
	MaxOutputBytes int
}

// DefaultLimits returns the default sandbox limits.
func DefaultLimits() Limits {
	return Limits{
		Timeout:        5 * time.Second,
		MaxSteps:       10_000_000,
		MaxMemoryBytes: 256 << 20,
		MaxOutputBytes: 64 * 1024,
	}
}

func (l Limits) withDefaults() Limits {
	def := DefaultLimits()
	if l.Timeout <= 0 {
		l.Timeout = def.Timeout
	}
	if l.MaxSteps == 0 {
		l.MaxSteps = def.MaxSteps
	}
	if l.MaxMemoryBytes == 0 {
		l.MaxMemoryBytes = def.MaxMemoryBytes
	}
	if l.MaxOutputBytes <= 0 {
		l.MaxOutputBytes = def.MaxOutputBytes
	}
	return l
}

// ExitStatus describes how a sandbox run ended.
type ExitStatus int

const (
	ExitSuccess ExitStatus = iota
	ExitFailure
	ExitTimeout
	ExitCrashed
)

func (s ExitStatus) String() string {
	switch s {
	case ExitSuccess:
		return "success"
	case ExitFailure:
		return "failure"
	case ExitTimeout:
		return "timeout"
	case ExitCrashed:
		return "crashed"
	default:
		return fmt.Sprintf("exit(%d)", int(s))
	}
}

// ParseExitStatus converts a string to an ExitStatus.
func ParseExitStatus(s string) (ExitStatus, error) {
	switch s {
	case "success":
		return ExitSuccess, nil
	case "failure":
		return ExitFailure, nil
	case "timeout":
		return ExitTimeout, nil
	case "crashed":
		return ExitCrashed, nil
	default:
		return 0, fmt.Errorf("unknown exit status: %q", s)
	}
}

// MarshalJSON encodes the status by its symbolic name.
func (s ExitStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a symbolic status name.
func (s *ExitStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	parsed, err := ParseExitStatus(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
