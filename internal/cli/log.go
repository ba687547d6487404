package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dendritehq/dendrite/internal/store"
	"github.com/dendritehq/dendrite/internal/truth"
)

// LogOptions holds flags for the log command.
type LogOptions struct {
	*RootOptions
	Database string
	Limit    int
}

// LogEntry is one commit with its conflict annotations.
type LogEntry struct {
	Commit    truth.Commit           `json:"commit"`
	Conflicts []truth.ConflictReport `json:"conflicts,omitempty"`
}

// LogResult holds the full log output.
type LogResult struct {
	Total   int        `json:"total_commits"`
	Entries []LogEntry `json:"entries"`
}

// NewLogCommand creates the log command.
func NewLogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Print the commit chain",
		Long: `Print the commit chain, newest first, with conflict annotations.

Examples:
  dendrite log --db ./dendrite.db
  dendrite log --db ./dendrite.db --limit 20 --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLog(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "maximum commits to show (0 for all)")

	return cmd
}

func runLog(opts *LogOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	total, err := st.CountCommits(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to count commits", err)
	}

	commits, err := st.Commits(ctx, opts.Limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read commits", err)
	}

	result := LogResult{Total: total, Entries: make([]LogEntry, 0, len(commits))}
	for _, commit := range commits {
		conflicts, err := st.ConflictsForCommit(ctx, commit.ID)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read conflicts", err)
		}
		result.Entries = append(result.Entries, LogEntry{Commit: commit, Conflicts: conflicts})
	}

	formatter := &OutputFormatter{
		Format:  opts.Format,
		Writer:  cmd.OutOrStdout(),
		Verbose: opts.Verbose,
	}
	if opts.Format == "json" {
		return formatter.Success(result)
	}

	out := cmd.OutOrStdout()
	if len(result.Entries) == 0 {
		fmt.Fprintln(out, "No commits.")
		return nil
	}
	for _, entry := range result.Entries {
		c := entry.Commit
		fmt.Fprintf(out, "#%d  %s  %s\n", c.SequenceNumber, c.CreatedAt.UTC().Format(time.RFC3339), c.ID)
		fmt.Fprintf(out, "    actor=%s project=%s event=%s\n", c.ActorID, c.ProjectID, c.SourceEventID)
		fmt.Fprintf(out, "    %s\n", c.Summary)
		for _, conflict := range entry.Conflicts {
			fmt.Fprintf(out, "    CONFLICT %s notified=%v\n", conflict.Kind, conflict.NotifiedUserIDs)
		}
	}
	if opts.Limit > 0 && total > len(result.Entries) {
		fmt.Fprintf(out, "(%d of %d commits; use --limit 0 for all)\n", len(result.Entries), total)
	}
	return nil
}
