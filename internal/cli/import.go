package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Shauryam-singh/Advance-Attendance/internal/attendance"
	"github.com/Shauryam-singh/Advance-Attendance/internal/roster"
	"github.com/Shauryam-singh/Advance-Attendance/internal/timetable"
)

// Seed is the YAML layout accepted by import:
//
//	batches:
//	  - name: CSE_CORE_H
//	    students:
//	      - {student_id: "22BCS001", name: Asha}
//	    timetable:
//	      - {day: mon, subject_code: MA101, subject_name: Math, start: "09:00 AM"}
type Seed struct {
	Batches []SeedBatch `yaml:"batches"`
}

// SeedBatch is one batch in a seed file.
type SeedBatch struct {
	Name      string            `yaml:"name"`
	Students  []roster.Student  `yaml:"students"`
	Timetable []timetable.Entry `yaml:"timetable"`
}

// ImportResult counts what an import wrote and skipped.
type ImportResult struct {
	Students        int `json:"students"`
	Lectures        int `json:"lectures"`
	SkippedStudents int `json:"skipped_students"`
	SkippedLectures int `json:"skipped_lectures"`
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <seed.yaml>",
		Short: "Load rosters and timetables from a YAML seed file",
		Long: `Load rosters and timetables from a YAML seed file. Students and
lectures that already exist are skipped, so a seed can be re-applied.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "read seed", err)
			}
			var seed Seed
			if err := yaml.Unmarshal(raw, &seed); err != nil {
				return WrapExitError(ExitCommandError, "parse seed", err)
			}

			repo, closeDB, err := rootOpts.openRepo()
			if err != nil {
				return err
			}
			defer closeDB()

			res, err := ApplySeed(cmd.Context(), repo, seed)
			if err != nil {
				return WrapExitError(ExitFailure, "import", err)
			}
			return rootOpts.formatter(cmd).Success(res, func(w io.Writer) {
				fmt.Fprintf(w, "Imported %d students and %d lectures (skipped %d existing students, %d existing lectures)\n",
					res.Students, res.Lectures, res.SkippedStudents, res.SkippedLectures)
			})
		},
	}
}

// ApplySeed writes seed into repo, skipping duplicates.
func ApplySeed(ctx context.Context, repo *attendance.Repository, seed Seed) (ImportResult, error) {
	var res ImportResult
	for _, b := range seed.Batches {
		if b.Name == "" {
			return res, errors.New("seed batch without a name")
		}
		for _, s := range b.Students {
			s.Batch = b.Name
			err := repo.AddStudent(ctx, s)
			switch {
			case errors.Is(err, attendance.ErrDuplicateStudent):
				res.SkippedStudents++
			case err != nil:
				return res, fmt.Errorf("%s student %s: %w", b.Name, s.StudentID, err)
			default:
				res.Students++
			}
		}
		for _, e := range b.Timetable {
			_, err := repo.AddTimetableEntry(ctx, b.Name, e)
			switch {
			case errors.Is(err, timetable.ErrDuplicateSubject):
				res.SkippedLectures++
			case err != nil:
				return res, fmt.Errorf("%s lecture %s: %w", b.Name, e.SubjectCode, err)
			default:
				res.Lectures++
			}
		}
	}
	return res, nil
}
