package cli

import (
	"fmt"
	"io"
)

// RunHelp shows general usage.
func RunHelp(w io.Writer) int {
	printGeneralHelp(w)
	return 0
}

func printGeneralHelp(w io.Writer) {
	fmt.Fprintln(w, "changegate — safety and validation gate for self-proposed modifications")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "usage:")
	fmt.Fprintln(w, "  changegate propose <target> --content <file|->   validate and route a change")
	fmt.Fprintln(w, "      [--tests <file>] [--reason <text>]")
	fmt.Fprintln(w, "  changegate pending                               list changes awaiting review")
	fmt.Fprintln(w, "  changegate show <id>                             print one modification record")
	fmt.Fprintln(w, "  changegate review <approve|reject> <id>          submit a reviewer verdict")
	fmt.Fprintln(w, "      --reviewer <name> [--note <text>]")
	fmt.Fprintln(w, "  changegate rollback <id>                         restore the original content")
	fmt.Fprintln(w, "  changegate audit <verify|tail [n]|history <id>>  audit log operations")
	fmt.Fprintln(w, "  changegate mcp                                   serve the proposer API on stdio")
	fmt.Fprintln(w, "  changegate daemon                                run the review daemon")
	fmt.Fprintln(w, "  changegate version                               show version")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "safety levels: safe, low, medium, high, critical")
	fmt.Fprintln(w, "gate outcomes: auto-apply, require-approval, block")
}
