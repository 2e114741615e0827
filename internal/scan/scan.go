package scan

import (
	"encoding/json"
	"fmt"

	"go.starlark.net/syntax"
)

// Severity classifies how dangerous a finding is.
type Severity int

const (
	Info    Severity = iota // noteworthy but harmless (print calls, etc.)
	Warning                 // suspicious, escalates risk one level
	Severe                  // denylisted construct, forces Critical
)

func (s Severity) String() string {
	switch s {
	case Info:
		return "info"
	case Warning:
		return "warning"
	case Severe:
		return "severe"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// ParseSeverity converts a string to a Severity.
func ParseSeverity(s string) (Severity, error) {
	switch s {
	case "info":
		return Info, nil
	case "warning":
		return Warning, nil
	case "severe":
		return Severe, nil
	default:
		return 0, fmt.Errorf("unknown severity: %q", s)
	}
}

// MarshalJSON encodes the severity by its symbolic name.
func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a symbolic severity name.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	parsed, err := ParseSeverity(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Finding is one pattern match in proposed content. Findings are data, never
// errors: the scanner records what it sees and leaves weighing to the
// classifier.
type Finding struct {
	PatternID string   `json:"pattern_id"`
	Severity  Severity `json:"severity"`
	Line      int      `json:"line"`
	Col       int      `json:"col"`
	Detail    string   `json:"detail,omitempty"`
}

// Config freezes the scanner's allowlists at construction time. A changed
// allowlist is a new Scanner, never an in-place mutation.
type Config struct {
	// AllowedLoads lists modules that load() may reference.
	AllowedLoads []string
	// AllowedDeleteRoots lists path prefixes under which literal delete
	// targets are downgraded from Severe to Warning.
	AllowedDeleteRoots []string
}

// Scanner inspects proposed Starlark content for denylisted constructs.
// It is stateless after construction and safe for concurrent use.
type Scanner struct {
	allowedLoads map[string]bool
	deleteRoots  []string
}

// New creates a Scanner from the given config.
func New(cfg Config) *Scanner {
	loads := make(map[string]bool, len(cfg.AllowedLoads))
	for _, m := range cfg.AllowedLoads {
		loads[m] = true
	}
	return &Scanner{
		allowedLoads: loads,
		deleteRoots:  append([]string(nil), cfg.AllowedDeleteRoots...),
	}
}

// CheckSyntax reports whether content parses as Starlark. It is the syntax
// stage of the validation pipeline; the returned error is stage data, not an
// infrastructure failure.
func CheckSyntax(content string) error {
	_, err := parserOptions().Parse("<proposed>", content, 0)
	return err
}

// Scan parses content and returns every pattern finding in source order.
// Scan is pure and deterministic, performs no I/O, and never returns an
// error: unparseable content yields a single Severe "unparseable" finding.
func (s *Scanner) Scan(content string) []Finding {
	f, err := parserOptions().Parse("<proposed>", content, 0)
	if err != nil {
		return []Finding{unparseableFinding(err)}
	}

	var findings []Finding
	syntax.Walk(f, func(n syntax.Node) bool {
		switch node := n.(type) {
		case *syntax.LoadStmt:
			if fd := s.checkLoad(node); fd != nil {
				findings = append(findings, *fd)
			}
		case *syntax.CallExpr:
			if fd := s.checkCall(node); fd != nil {
				findings = append(findings, *fd)
			}
		}
		return true
	})
	return findings
}

func unparseableFinding(err error) Finding {
	fd := Finding{
		PatternID: "unparseable",
		Severity:  Severe,
		Detail:    err.Error(),
	}
	if serr, ok := err.(syntax.Error); ok {
		fd.Line = int(serr.Pos.Line)
		fd.Col = int(serr.Pos.Col)
		fd.Detail = serr.Msg
	}
	return fd
}

// callName flattens the callee expression to a dotted name, or "" when the
// callee is not a plain identifier chain (e.g. a subscript or call result).
func callName(e syntax.Expr) string {
	switch node := e.(type) {
	case *syntax.Ident:
		return node.Name
	case *syntax.DotExpr:
		base := callName(node.X)
		if base == "" {
			return ""
		}
		return base + "." + node.Name.Name
	default:
		return ""
	}
}

// lastName returns the final component of a dotted call name.
func lastName(name string) string {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			return name[i+1:]
		}
	}
	return name
}

func parserOptions() *syntax.FileOptions {
	return &syntax.FileOptions{
		Set:             true,
		While:           true,
		TopLevelControl: true,
		GlobalReassign:  true,
		Recursion:       true,
	}
}

func position(n syntax.Node) (line, col int) {
	start, _ := n.Span()
	return int(start.Line), int(start.Col)
}
