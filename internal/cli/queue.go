// Package cli implements the changegate command-line surface.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/changegate/changegate/internal/ledger"
)

// Queue is the review-queue surface the CLI drives. It is served either by
// the in-process engine or by a daemon connection.
type Queue interface {
	Get(ctx context.Context, id string) (ledger.Modification, error)
	ListPending(ctx context.Context) ([]ledger.Modification, error)
	SubmitReview(ctx context.Context, id string, approve bool, reviewer, note string) (ledger.Modification, error)
	Rollback(ctx context.Context, id string) (ledger.Modification, error)
}

// RunPending lists modifications awaiting review.
func RunPending(ctx context.Context, q Queue, w io.Writer) int {
	mods, err := q.ListPending(ctx)
	if err != nil {
		fmt.Fprintf(w, "changegate pending: %v\n", err)
		return 1
	}
	if len(mods) == 0 {
		fmt.Fprintln(w, "no modifications awaiting review")
		return 0
	}
	for _, m := range mods {
		fmt.Fprintf(w, "%-36s  %-24s  %s\n", m.ID, m.TargetPath, m.DecisionRationale)
	}
	return 0
}

// RunShow prints one modification record as JSON.
func RunShow(ctx context.Context, q Queue, w io.Writer, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(w, "usage: changegate show <id>")
		return 1
	}
	m, err := q.Get(ctx, args[0])
	if err != nil {
		fmt.Fprintf(w, "changegate show: %v\n", err)
		return 1
	}
	printJSON(w, m)
	return 0
}

// RunReview submits a reviewer verdict:
// changegate review <approve|reject> <id> --reviewer <name> [--note <text>]
func RunReview(ctx context.Context, q Queue, w io.Writer, args []string) int {
	if len(args) < 2 {
		fmt.Fprintln(w, "usage: changegate review <approve|reject> <id> --reviewer <name> [--note <text>]")
		return 1
	}

	var approve bool
	switch args[0] {
	case "approve":
		approve = true
	case "reject":
		approve = false
	default:
		fmt.Fprintf(w, "changegate review: unknown verdict %q\n", args[0])
		return 1
	}
	id := args[1]

	var reviewer, note string
	rest := args[2:]
	for i := 0; i < len(rest); i++ {
		switch rest[i] {
		case "--reviewer":
			if i+1 < len(rest) {
				reviewer = rest[i+1]
				i++
			}
		case "--note":
			if i+1 < len(rest) {
				note = rest[i+1]
				i++
			}
		default:
			fmt.Fprintf(w, "changegate review: unknown flag %q\n", rest[i])
			return 1
		}
	}
	if reviewer == "" {
		fmt.Fprintln(w, "changegate review: --reviewer is required")
		return 1
	}

	m, err := q.SubmitReview(ctx, id, approve, reviewer, note)
	if err != nil {
		fmt.Fprintf(w, "changegate review: %v\n", err)
		return 1
	}
	fmt.Fprintf(w, "%s: %s\n", m.ID, m.Status)
	return 0
}

// RunRollback restores a previously applied modification.
func RunRollback(ctx context.Context, q Queue, w io.Writer, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(w, "usage: changegate rollback <id>")
		return 1
	}
	m, err := q.Rollback(ctx, args[0])
	if err != nil {
		fmt.Fprintf(w, "changegate rollback: %v\n", err)
		return 1
	}
	fmt.Fprintf(w, "%s: %s (original content restored)\n", m.ID, m.Status)
	return 0
}

func printJSON(w io.Writer, v any) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Fprintf(w, "%s\n", data)
}
