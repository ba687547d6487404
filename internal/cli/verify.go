package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dendritehq/dendrite/internal/store"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	Database string
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify chain and invariant integrity",
		Long: `Verify the commit chain and the single-active invariants.

Walks the chain from the head to the root checking strictly decreasing
sequence numbers, single-parent linkage and full coverage, then checks
that no (project, key) has two active constraints and no ordered project
pair has two active dependency edges.

Exits 0 when the database is consistent, 1 when problems are found.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runVerify(opts *VerifyOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	report, err := st.VerifyChain(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "verification error", err)
	}

	formatter := &OutputFormatter{
		Format:  opts.Format,
		Writer:  cmd.OutOrStdout(),
		Verbose: opts.Verbose,
	}
	if opts.Format == "json" {
		if err := formatter.Success(report); err != nil {
			return err
		}
	} else {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "commits: %d  visited: %d  head seq: %d\n",
			report.TotalCommits, report.Visited, report.HeadSequence)
		if report.Valid() {
			fmt.Fprintln(out, "chain: ok")
		} else {
			for _, p := range report.Problems {
				fmt.Fprintf(out, "problem: %s\n", p)
			}
		}
	}

	if !report.Valid() {
		return NewExitError(ExitFailure, fmt.Sprintf("%d problem(s) found", len(report.Problems)))
	}
	return nil
}
