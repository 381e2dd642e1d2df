package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// CheckResult is the check command's payload.
type CheckResult struct {
	Path     string   `json:"path"`
	OK       bool     `json:"ok"`
	Problems []string `json:"problems,omitempty"`
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check [db-path]",
		Short: "Run SQLite's integrity check against a database file",
		Long: `Run PRAGMA integrity_check against a database file. This reads
the whole file and can take a while on large databases.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(rootOpts, rootOpts.dbPath(args), cmd)
		},
	}
}

func runCheck(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	db, err := openReadOnly(path)
	if err != nil {
		return reportExitError(formatter, err)
	}
	defer db.Close()

	formatter.VerboseLog("running integrity check on %s", path)
	result := CheckResult{Path: path, OK: true}
	rows, err := db.Query("PRAGMA integrity_check")
	if err != nil {
		wrapped := WrapExitError(ExitCommandError, "integrity check", err)
		return reportExitError(formatter, wrapped)
	}
	defer rows.Close()
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			wrapped := WrapExitError(ExitCommandError, "integrity check", err)
			return reportExitError(formatter, wrapped)
		}
		if line != "ok" {
			result.OK = false
			result.Problems = append(result.Problems, line)
		}
	}
	if err := rows.Err(); err != nil {
		wrapped := WrapExitError(ExitCommandError, "integrity check", err)
		return reportExitError(formatter, wrapped)
	}

	if !result.OK {
		if formatter.Format == "json" {
			_ = formatter.Success(result, nil)
		} else {
			fmt.Fprintf(formatter.Writer, "✗ %s failed integrity check\n", path)
			for _, p := range result.Problems {
				fmt.Fprintf(formatter.Writer, "  %s\n", p)
			}
		}
		return NewExitError(ExitFailure, fmt.Sprintf("integrity check failed with %d problem(s)", len(result.Problems)))
	}
	return formatter.Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "✓ %s passed integrity check\n", path)
	})
}
