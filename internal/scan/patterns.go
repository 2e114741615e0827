package scan

import (
	"fmt"
	"path"
	"strings"

	"go.starlark.net/syntax"
)

// Denylisted call names, grouped by pattern. Matching is by the final
// component of the dotted callee name, so both rmtree(...) and
// shutil.rmtree(...) match. High sensitivity is intentional: false positives
// are the classifier's problem, not the scanner's.
var (
	dynamicEvalNames = nameSet("eval", "exec", "execfile", "compile")

	fsDeleteNames = nameSet("rm", "rmdir", "rmtree", "remove", "remove_all", "unlink", "delete")

	subprocessNames = nameSet("system", "popen", "spawn", "subprocess", "fork", "run_command", "command")

	networkNames = nameSet("socket", "connect", "urlopen", "fetch", "request", "http_get", "http_post", "download")
)

func nameSet(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

// checkLoad flags load() of any module outside the allowlist.
func (s *Scanner) checkLoad(stmt *syntax.LoadStmt) *Finding {
	module, ok := stmt.Module.Value.(string)
	if !ok {
		module = stmt.Module.Raw
	}
	if s.allowedLoads[module] {
		return nil
	}
	line, col := position(stmt)
	return &Finding{
		PatternID: "load-denied",
		Severity:  Severe,
		Line:      line,
		Col:       col,
		Detail:    fmt.Sprintf("load of %q is not in the import allowlist", module),
	}
}

// checkCall runs the denylist checks against one call site.
func (s *Scanner) checkCall(call *syntax.CallExpr) *Finding {
	name := callName(call.Fn)
	if name == "" {
		return nil
	}
	line, col := position(call)
	last := lastName(name)

	switch {
	case dynamicEvalNames[last]:
		return &Finding{
			PatternID: "dynamic-eval",
			Severity:  Severe,
			Line:      line,
			Col:       col,
			Detail:    fmt.Sprintf("dynamic evaluation via %s()", name),
		}
	case fsDeleteNames[last]:
		return s.deleteFinding(call, name, line, col)
	case subprocessNames[last]:
		return &Finding{
			PatternID: "subprocess",
			Severity:  Severe,
			Line:      line,
			Col:       col,
			Detail:    fmt.Sprintf("subprocess invocation via %s()", name),
		}
	case networkNames[last]:
		return &Finding{
			PatternID: "network",
			Severity:  Severe,
			Line:      line,
			Col:       col,
			Detail:    fmt.Sprintf("network access via %s()", name),
		}
	case last == "print":
		return &Finding{
			PatternID: "print-call",
			Severity:  Info,
			Line:      line,
			Col:       col,
		}
	}
	return nil
}

// deleteFinding classifies a filesystem-deletion call. A literal target under
// an allowed root is a Warning; anything else (non-literal target, or a
// literal outside every allowed root) is Severe.
func (s *Scanner) deleteFinding(call *syntax.CallExpr, name string, line, col int) *Finding {
	fd := &Finding{
		PatternID: "fs-delete",
		Severity:  Severe,
		Line:      line,
		Col:       col,
		Detail:    fmt.Sprintf("filesystem deletion via %s()", name),
	}
	if target, ok := literalStringArg(call); ok && s.underAllowedRoot(target) {
		fd.Severity = Warning
		fd.Detail = fmt.Sprintf("scoped deletion of %q via %s()", target, name)
	}
	return fd
}

func (s *Scanner) underAllowedRoot(target string) bool {
	cleaned := path.Clean(target)
	for _, root := range s.deleteRoots {
		root = path.Clean(root)
		if cleaned == root || strings.HasPrefix(cleaned, root+"/") {
			return true
		}
	}
	return false
}

// literalStringArg returns the first positional argument if it is a string
// literal.
func literalStringArg(call *syntax.CallExpr) (string, bool) {
	if len(call.Args) == 0 {
		return "", false
	}
	lit, ok := call.Args[0].(*syntax.Literal)
	if !ok || lit.Token != syntax.STRING {
		return "", false
	}
	s, ok := lit.Value.(string)
	return s, ok
}
