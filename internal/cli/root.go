package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Shauryam-singh/Advance-Attendance/internal/attendance"
	"github.com/Shauryam-singh/Advance-Attendance/internal/config"
	"github.com/Shauryam-singh/Advance-Attendance/internal/logging"
	"github.com/Shauryam-singh/Advance-Attendance/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose  bool
	Format   string // "json" | "text"
	Database string
	Config   config.App
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the attendctl root command. cfg supplies defaults
// for flags and the settings no flag covers.
func NewRootCommand(cfg config.App) *cobra.Command {
	opts := &RootOptions{Config: cfg}

	cmd := &cobra.Command{
		Use:   "attendctl",
		Short: "Manage rosters, timetables and QR attendance",
		Long: `attendctl manages batch rosters and timetables, issues QR attendance
tokens and reconciles scanned tokens into attendance records.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", cfg.DatabaseURL, "database URL (postgres:// or sqlite://path)")

	cmd.AddCommand(NewStudentsCommand(opts))
	cmd.AddCommand(NewTimetableCommand(opts))
	cmd.AddCommand(NewTokensCommand(opts))
	cmd.AddCommand(NewScanCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// logger writes to stderr so JSON output on stdout stays parseable.
func (o *RootOptions) logger(cmd *cobra.Command) *slog.Logger {
	level := o.Config.LogLevel
	if o.Verbose {
		level = "debug"
	}
	return logging.New(cmd.ErrOrStderr(), level, o.Config.LogFormat)
}

// openRepo opens the database and returns a repository plus its closer.
func (o *RootOptions) openRepo() (*attendance.Repository, func(), error) {
	db, err := store.NewDB(o.Database)
	if err != nil {
		if db != nil {
			_ = db.Close()
		}
		return nil, nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return attendance.NewRepository(db.Client, o.Config.LectureDuration), func() { _ = db.Close() }, nil
}
