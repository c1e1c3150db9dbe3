package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Shauryam-singh/Advance-Attendance/internal/timetable"
)

// TimetableOptions holds flags for timetable add.
type TimetableOptions struct {
	*RootOptions
	Batch string
	Day   string
	Code  string
	Name  string
	Start string
	End   string
}

// NewTimetableCommand creates the timetable command group.
func NewTimetableCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TimetableOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "timetable",
		Short: "Manage a batch timetable",
	}
	cmd.PersistentFlags().StringVarP(&opts.Batch, "batch", "b", "", "batch name (required)")
	_ = cmd.MarkPersistentFlagRequired("batch")

	add := &cobra.Command{
		Use:   "add",
		Short: "Schedule a lecture",
		Long: `Schedule a lecture for the batch. Times accept "09:00 AM" or "09:00".
Without --end the lecture runs for the configured lecture duration.

Example:
  attendctl timetable add -b CSE_CORE_H --day mon --code MA101 --name Math --start "09:00 AM"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return addTimetableEntry(opts, cmd)
		},
	}
	add.Flags().StringVar(&opts.Day, "day", "", "weekday; empty means every day")
	add.Flags().StringVar(&opts.Code, "code", "", "subject code (required)")
	add.Flags().StringVar(&opts.Name, "name", "", "subject name")
	add.Flags().StringVar(&opts.Start, "start", "", "start time (required)")
	add.Flags().StringVar(&opts.End, "end", "", "end time")
	_ = add.MarkFlagRequired("code")
	_ = add.MarkFlagRequired("start")
	cmd.AddCommand(add)

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the batch timetable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, closeDB, err := rootOpts.openRepo()
			if err != nil {
				return err
			}
			defer closeDB()

			entries, err := repo.Timetable(cmd.Context(), opts.Batch)
			if err != nil {
				return WrapExitError(ExitFailure, "load timetable", err)
			}
			return rootOpts.formatter(cmd).Success(entries, func(w io.Writer) {
				if len(entries) == 0 {
					fmt.Fprintf(w, "No lectures scheduled for %s\n", opts.Batch)
					return
				}
				for _, e := range entries {
					fmt.Fprintf(w, "%-10s %-8s %s - %s  %s\n", dayLabel(e.Day), e.SubjectCode, e.Start, e.End, e.SubjectName)
				}
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:     "rm <day> <subject-code>",
		Aliases: []string{"remove"},
		Short:   `Remove a lecture; use "daily" for entries without a weekday`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := timetable.ParseDay(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid day", err)
			}
			repo, closeDB, err := rootOpts.openRepo()
			if err != nil {
				return err
			}
			defer closeDB()

			if err := repo.DeleteTimetableEntry(cmd.Context(), opts.Batch, day, args[1]); err != nil {
				return notFoundOr(err, "remove lecture")
			}
			return rootOpts.formatter(cmd).Success(map[string]string{"removed": args[1]}, func(w io.Writer) {
				fmt.Fprintf(w, "Removed %s (%s) from %s\n", args[1], dayLabel(day), opts.Batch)
			})
		},
	})

	return cmd
}

func addTimetableEntry(opts *TimetableOptions, cmd *cobra.Command) error {
	day, err := timetable.ParseDay(opts.Day)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid day", err)
	}
	start, err := timetable.ParseTimeOfDay(opts.Start)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid start", err)
	}
	entry := timetable.Entry{Day: day, SubjectCode: opts.Code, SubjectName: opts.Name, Start: start}
	if opts.End != "" {
		if entry.End, err = timetable.ParseTimeOfDay(opts.End); err != nil {
			return WrapExitError(ExitCommandError, "invalid end", err)
		}
	}

	repo, closeDB, err := opts.openRepo()
	if err != nil {
		return err
	}
	defer closeDB()

	saved, err := repo.AddTimetableEntry(cmd.Context(), opts.Batch, entry)
	if err != nil {
		if errors.Is(err, timetable.ErrDuplicateSubject) || errors.Is(err, timetable.ErrInvalidWindow) {
			return WrapExitError(ExitCommandError, "add lecture", err)
		}
		return WrapExitError(ExitFailure, "add lecture", err)
	}
	return opts.formatter(cmd).Success(saved, func(w io.Writer) {
		fmt.Fprintf(w, "Scheduled %s on %s, %s - %s\n", saved.SubjectCode, dayLabel(saved.Day), saved.Start, saved.End)
	})
}

func dayLabel(d timetable.Day) string {
	if d == timetable.Daily {
		return "daily"
	}
	return string(d)
}
