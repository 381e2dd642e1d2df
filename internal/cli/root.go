// Package cli implements the mirodb maintenance commands.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/robelix/miro/internal/config"
)

// RootOptions holds global flags shared by all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string

	Config config.Config
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the mirodb CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "mirodb",
		Short: "Inspect and maintain object store database files",
		Long: `mirodb inspects and maintains the SQLite files written by the
object store: show version and table statistics, run integrity checks,
and list pre-upgrade backups.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if opts.ConfigPath != "" {
				cfg, err := config.Load(opts.ConfigPath)
				if err != nil {
					return err
				}
				opts.Config = cfg
			} else {
				opts.Config = config.Default()
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "configuration file")

	cmd.AddCommand(NewInfoCommand(opts))
	cmd.AddCommand(NewCheckCommand(opts))
	cmd.AddCommand(NewBackupsCommand(opts))

	return cmd
}

// dbPath resolves the database path: the positional argument wins,
// otherwise the configured path is used.
func (o *RootOptions) dbPath(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return o.Config.Path
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
