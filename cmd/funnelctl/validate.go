package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ignite/funnel-studio/internal/transfer"
)

var errInvalidDocument = errors.New("document is invalid")

func validateCmd() *cobra.Command {
	var maxIssues int
	cmd := cobra.Command{
		Use:   "validate FILE",
		Short: "Check a funnel document without touching any store.",
		Long: `Check a funnel document without touching any store.

Reads FILE, or standard input when FILE is "-", and reports every parse or
validation problem. Exits non-zero when the document would be rejected by an
import.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			return reportDocument(cmd.OutOrStdout(), raw, maxIssues)
		},
	}
	cmd.Flags().IntVar(&maxIssues, "max", 20, "maximum number of issues to print, 0 for all")
	return &cmd
}

func readInput(stdin io.Reader, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(name)
}

// reportDocument prints the outcome of reading raw and returns
// errInvalidDocument when it has problems.
func reportDocument(w io.Writer, raw []byte, maxIssues int) error {
	doc, err := transfer.Read(raw)
	var (
		perr   *transfer.ParseError
		issues transfer.ValidationErrors
	)
	switch {
	case err == nil:
		fmt.Fprintf(w, "ok: %q, %d stages, version %s\n", doc.Name, len(doc.Stages), doc.Version)
		return nil
	case errors.As(err, &perr):
		fmt.Fprintf(w, "parse error at line %d, column %d: %s\n", perr.Line, perr.Column, perr.Message)
		return errInvalidDocument
	case errors.As(err, &issues):
		shown := issues
		if maxIssues > 0 && len(shown) > maxIssues {
			shown = shown[:maxIssues]
		}
		fmt.Fprintf(w, "%d issues:\n", len(issues))
		for _, is := range shown {
			path := is.Path
			if path == "" {
				path = "(document)"
			}
			fmt.Fprintf(w, "  %s: %s\n", path, is.Message)
		}
		if hidden := len(issues) - len(shown); hidden > 0 {
			fmt.Fprintf(w, "  ... and %d more\n", hidden)
		}
		return errInvalidDocument
	default:
		return err
	}
}
