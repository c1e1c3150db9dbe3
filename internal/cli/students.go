package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Shauryam-singh/Advance-Attendance/internal/attendance"
	"github.com/Shauryam-singh/Advance-Attendance/internal/roster"
)

// NewStudentsCommand creates the students command group.
func NewStudentsCommand(rootOpts *RootOptions) *cobra.Command {
	var batch string

	cmd := &cobra.Command{
		Use:   "students",
		Short: "Manage a batch roster",
	}
	cmd.PersistentFlags().StringVarP(&batch, "batch", "b", "", "batch name (required)")
	_ = cmd.MarkPersistentFlagRequired("batch")

	cmd.AddCommand(&cobra.Command{
		Use:   "add <student-id> <name>",
		Short: "Add a student to the batch",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, closeDB, err := rootOpts.openRepo()
			if err != nil {
				return err
			}
			defer closeDB()

			s := roster.Student{StudentID: args[0], Name: args[1], Batch: batch}
			if err := repo.AddStudent(cmd.Context(), s); err != nil {
				if errors.Is(err, attendance.ErrDuplicateStudent) {
					return WrapExitError(ExitCommandError, "student already exists", err)
				}
				return WrapExitError(ExitFailure, "add student", err)
			}
			return rootOpts.formatter(cmd).Success(s, func(w io.Writer) {
				fmt.Fprintf(w, "Added %s (%s) to %s\n", s.StudentID, s.Name, batch)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the batch roster",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, closeDB, err := rootOpts.openRepo()
			if err != nil {
				return err
			}
			defer closeDB()

			students, err := repo.Roster(cmd.Context(), batch)
			if err != nil {
				return WrapExitError(ExitFailure, "load roster", err)
			}
			return rootOpts.formatter(cmd).Success(students, func(w io.Writer) {
				if len(students) == 0 {
					fmt.Fprintf(w, "No students in %s\n", batch)
					return
				}
				for _, s := range students {
					fmt.Fprintf(w, "%s\t%s\n", s.StudentID, s.Name)
				}
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rename <student-id> <name>",
		Short: "Change a student's name",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, closeDB, err := rootOpts.openRepo()
			if err != nil {
				return err
			}
			defer closeDB()

			if err := repo.RenameStudent(cmd.Context(), batch, args[0], args[1]); err != nil {
				return notFoundOr(err, "rename student")
			}
			return rootOpts.formatter(cmd).Success(map[string]string{"student_id": args[0], "name": args[1]}, func(w io.Writer) {
				fmt.Fprintf(w, "Renamed %s to %s\n", args[0], args[1])
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:     "rm <student-id>",
		Aliases: []string{"remove"},
		Short:   "Remove a student from the batch",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, closeDB, err := rootOpts.openRepo()
			if err != nil {
				return err
			}
			defer closeDB()

			if err := repo.DeleteStudent(cmd.Context(), batch, args[0]); err != nil {
				return notFoundOr(err, "remove student")
			}
			return rootOpts.formatter(cmd).Success(map[string]string{"removed": args[0]}, func(w io.Writer) {
				fmt.Fprintf(w, "Removed %s from %s\n", args[0], batch)
			})
		},
	})

	return cmd
}

func notFoundOr(err error, msg string) error {
	if errors.Is(err, attendance.ErrStudentNotFound) || errors.Is(err, attendance.ErrEntryNotFound) {
		return WrapExitError(ExitCommandError, msg, err)
	}
	return WrapExitError(ExitFailure, msg, err)
}
