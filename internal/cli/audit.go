package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/changegate/changegate/internal/audit"
)

// RunAudit handles the changegate audit subcommand.
func RunAudit(w io.Writer, logPath string, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(w, "usage: changegate audit <verify|tail [n]|history <id>>")
		return 1
	}

	switch args[0] {
	case "verify":
		if err := audit.Verify(logPath); err != nil {
			fmt.Fprintf(w, "audit verification FAILED: %v\n", err)
			return 1
		}
		fmt.Fprintln(w, "audit log integrity verified")
		return 0

	case "show", "tail":
		n := 20
		if len(args) > 1 {
			parsed, err := strconv.Atoi(args[1])
			if err != nil || parsed <= 0 {
				fmt.Fprintf(w, "changegate audit: bad count %q\n", args[1])
				return 1
			}
			n = parsed
		}
		entries, err := audit.Tail(logPath, n)
		if err != nil {
			fmt.Fprintf(w, "changegate audit: %v\n", err)
			return 1
		}
		return printEntries(w, entries)

	case "history":
		if len(args) < 2 {
			fmt.Fprintln(w, "usage: changegate audit history <id>")
			return 1
		}
		entries, err := audit.QueryLog(logPath, audit.Query{ModificationID: args[1]})
		if err != nil {
			fmt.Fprintf(w, "changegate audit: %v\n", err)
			return 1
		}
		return printEntries(w, entries)

	default:
		fmt.Fprintf(w, "changegate audit: unknown subcommand %q\n", args[0])
		return 1
	}
}

func printEntries(w io.Writer, entries []audit.Entry) int {
	if len(entries) == 0 {
		fmt.Fprintln(w, "no audit entries")
		return 0
	}
	for _, e := range entries {
		printJSON(w, e)
	}
	return 0
}
