package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/changegate/changegate/internal/engine"
	"github.com/changegate/changegate/internal/ledger"
)

// RunPropose submits a modification through the full validation flow:
// changegate propose <target> --content <file> [--tests <file>] [--reason <text>]
// A content file of "-" reads the proposed content from stdin.
func RunPropose(ctx context.Context, eng *engine.Engine, stdin io.Reader, w io.Writer, args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(w, "usage: changegate propose <target> --content <file|-> [--tests <file>] [--reason <text>]")
		return 1
	}
	target := args[0]

	var contentPath, testsPath, reason string
	rest := args[1:]
	for i := 0; i < len(rest); i++ {
		switch rest[i] {
		case "--content":
			if i+1 < len(rest) {
				contentPath = rest[i+1]
				i++
			}
		case "--tests":
			if i+1 < len(rest) {
				testsPath = rest[i+1]
				i++
			}
		case "--reason":
			if i+1 < len(rest) {
				reason = rest[i+1]
				i++
			}
		default:
			fmt.Fprintf(w, "changegate propose: unknown flag %q\n", rest[i])
			return 1
		}
	}
	if contentPath == "" {
		fmt.Fprintln(w, "changegate propose: --content is required")
		return 1
	}

	content, err := readInput(stdin, contentPath)
	if err != nil {
		fmt.Fprintf(w, "changegate propose: %v\n", err)
		return 1
	}

	var tests string
	if testsPath != "" {
		tests, err = readInput(stdin, testsPath)
		if err != nil {
			fmt.Fprintf(w, "changegate propose: %v\n", err)
			return 1
		}
	}

	res, err := eng.Propose(ctx, ledger.ProposeInput{
		TargetPath:      target,
		ProposedContent: content,
		TestSurface:     tests,
		Reason:          reason,
	})
	if err != nil {
		fmt.Fprintf(w, "changegate propose: %v\n", err)
		return 1
	}

	printJSON(w, res)
	if res.Modification.Status == ledger.StatusBlocked {
		return 1
	}
	return 0
}

func readInput(stdin io.Reader, path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
