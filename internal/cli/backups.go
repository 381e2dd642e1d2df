package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/robelix/miro/internal/store"
)

// BackupInfo is one backup file in the backups output.
type BackupInfo struct {
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
}

// BackupsResult is the backups command's payload.
type BackupsResult struct {
	Database string       `json:"database"`
	Backups  []BackupInfo `json:"backups"`
}

// NewBackupsCommand creates the backups command.
func NewBackupsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "backups [db-path]",
		Short:         "List pre-upgrade backups kept for a database file",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackups(rootOpts, rootOpts.dbPath(args), cmd)
		},
	}
}

func runBackups(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	paths, err := store.ListBackups(path)
	if err != nil {
		wrapped := WrapExitError(ExitCommandError, "list backups", err)
		return reportExitError(formatter, wrapped)
	}
	result := BackupsResult{Database: path}
	for _, p := range paths {
		info := BackupInfo{Path: p}
		if fi, err := os.Stat(p); err == nil {
			info.SizeBytes = fi.Size()
		}
		result.Backups = append(result.Backups, info)
	}
	return formatter.Success(result, func(w io.Writer) {
		if len(result.Backups) == 0 {
			fmt.Fprintf(w, "no backups for %s\n", path)
			return
		}
		for _, b := range result.Backups {
			fmt.Fprintf(w, "%s (%d bytes)\n", b.Path, b.SizeBytes)
		}
	})
}
