package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// TableInfo is one table's statistics in the info output.
type TableInfo struct {
	Name string `json:"name"`
	Rows int64  `json:"rows"`
}

// InfoResult is the info command's payload.
type InfoResult struct {
	Path      string      `json:"path"`
	SizeBytes int64       `json:"size_bytes"`
	Version   string      `json:"version,omitempty"`
	LastID    string      `json:"last_id,omitempty"`
	Tables    []TableInfo `json:"tables"`
}

// NewInfoCommand creates the info command.
func NewInfoCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "info [db-path]",
		Short:         "Show version and table statistics for a database file",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfo(rootOpts, rootOpts.dbPath(args), cmd)
		},
	}
}

func runInfo(opts *RootOptions, path string, cmd *cobra.Command) error {
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

	result := InfoResult{Path: path}
	if fi, err := os.Stat(path); err == nil {
		result.SizeBytes = fi.Size()
	}
	if v, ok, err := readVariable(db, "schema_version"); err == nil && ok {
		result.Version = v
	}
	if v, ok, err := readVariable(db, "last_id"); err == nil && ok {
		result.LastID = v
	}
	tables, err := userTables(db)
	if err != nil {
		wrapped := WrapExitError(ExitCommandError, "list tables", err)
		return reportExitError(formatter, wrapped)
	}
	for _, name := range tables {
		var n int64
		if err := db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", name)).Scan(&n); err != nil {
			wrapped := WrapExitError(ExitCommandError, fmt.Sprintf("count %s", name), err)
			return reportExitError(formatter, wrapped)
		}
		result.Tables = append(result.Tables, TableInfo{Name: name, Rows: n})
	}

	return formatter.Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "%s (%d bytes)\n", result.Path, result.SizeBytes)
		if result.Version != "" {
			fmt.Fprintf(w, "  schema version: %s\n", result.Version)
		}
		if result.LastID != "" {
			fmt.Fprintf(w, "  last id:        %s\n", result.LastID)
		}
		for _, t := range result.Tables {
			fmt.Fprintf(w, "  %-24s %d rows\n", t.Name, t.Rows)
		}
	})
}

// reportExitError renders an ExitError through the formatter and
// passes it on so the process exits with the right code.
func reportExitError(formatter *OutputFormatter, err error) error {
	code := "E_COMMAND"
	if GetExitCode(err) == ExitFailure {
		code = "E_CHECK"
	}
	_ = formatter.Fail(code, err.Error(), nil)
	return err
}
