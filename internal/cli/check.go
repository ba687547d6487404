package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dendritehq/dendrite/internal/config"
)

// CheckResult holds project-directory validation results.
type CheckResult struct {
	Valid    bool                     `json:"valid"`
	Projects int                      `json:"projects"`
	Errors   []config.ValidationError `json:"errors,omitempty"`
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check <projects-file>",
		Short: "Validate the bootstrap project directory",
		Long: `Validate a project directory YAML file against the config schema.

Checks structure, blank ids and names, missing owners, and duplicate
project ids. Reports all problems found, not just the first.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runCheck(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	bootstrap, errs := config.LoadBootstrap(path)
	if len(errs) > 0 {
		result := CheckResult{Valid: false}
		for _, err := range errs {
			var verr config.ValidationError
			if errors.As(err, &verr) {
				result.Errors = append(result.Errors, verr)
			} else {
				result.Errors = append(result.Errors, config.ValidationError{
					Field:   "config",
					Message: err.Error(),
					Code:    config.ErrConfigSchema,
				})
			}
		}

		if opts.Format == "json" {
			if err := formatter.Error(config.ErrConfigSchema, "project directory is invalid", result); err != nil {
				return err
			}
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: invalid (%d problem(s))\n", path, len(result.Errors))
			for _, verr := range result.Errors {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", verr.Error())
			}
		}
		return NewExitError(ExitFailure, "project directory is invalid")
	}

	formatter.VerboseLog("parsed %d project(s) from %s", len(bootstrap.Projects), path)

	if opts.Format == "json" {
		return formatter.Success(CheckResult{Valid: true, Projects: len(bootstrap.Projects)})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d projects)\n", path, len(bootstrap.Projects))
	return nil
}
