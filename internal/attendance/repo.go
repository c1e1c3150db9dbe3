package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Shauryam-singh/Advance-Attendance/internal/roster"
	"github.com/Shauryam-singh/Advance-Attendance/internal/timetable"
)

// Repository persists rosters, timetables and attendance records. Queries
// use $n placeholders in ascending order, which both pgx and go-sqlite3 bind
// positionally.
type Repository struct {
	db              *sql.DB
	lectureDuration time.Duration
}

// NewRepository creates a repo. lectureDuration fills in missing end times.
func NewRepository(db *sql.DB, lectureDuration time.Duration) *Repository {
	if lectureDuration <= 0 {
		lectureDuration = timetable.DefaultLectureDuration
	}
	return &Repository{db: db, lectureDuration: lectureDuration}
}

// AddStudent inserts a roster row; ids are unique within a batch.
func (r *Repository) AddStudent(ctx context.Context, s roster.Student) error {
	if s.StudentID == "" || s.Batch == "" {
		return errors.New("student id and batch required")
	}
	var exists int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM students WHERE batch = $1 AND student_id = $2`, s.Batch, s.StudentID).Scan(&exists)
	if err == nil {
		return fmt.Errorf("%s in %s: %w", s.StudentID, s.Batch, ErrDuplicateStudent)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO students (batch, student_id, name) VALUES ($1, $2, $3)`, s.Batch, s.StudentID, s.Name)
	return err
}

// RenameStudent changes a student's display name.
func (r *Repository) RenameStudent(ctx context.Context, batch, studentID, name string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE students SET name = $1 WHERE batch = $2 AND student_id = $3`, name, batch, studentID)
	return affected(res, err, ErrStudentNotFound)
}

// DeleteStudent removes a roster row. Attendance already recorded stays.
func (r *Repository) DeleteStudent(ctx context.Context, batch, studentID string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM students WHERE batch = $1 AND student_id = $2`, batch, studentID)
	return affected(res, err, ErrStudentNotFound)
}

// Roster returns a batch's students in insertion order.
func (r *Repository) Roster(ctx context.Context, batch string) ([]roster.Student, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT student_id, name, batch FROM students WHERE batch = $1 ORDER BY id`, batch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []roster.Student
	for rows.Next() {
		var s roster.Student
		if err := rows.Scan(&s.StudentID, &s.Name, &s.Batch); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// AddTimetableEntry validates and stores an entry, filling in the default
// lecture length when End is unset.
func (r *Repository) AddTimetableEntry(ctx context.Context, batch string, e timetable.Entry) (timetable.Entry, error) {
	e = e.WithDefaultEnd(r.lectureDuration)
	existing, err := r.Timetable(ctx, batch)
	if err != nil {
		return timetable.Entry{}, err
	}
	if err := timetable.Validate(existing, e); err != nil {
		return timetable.Entry{}, err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO timetable_entries (batch, day, subject_code, subject_name, start_minute, end_minute)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, batch, string(e.Day), e.SubjectCode, e.SubjectName, int(e.Start), int(e.End))
	if err != nil {
		return timetable.Entry{}, err
	}
	return e, nil
}

// UpdateTimetableEntry changes the name and/or start of the entry keyed by
// (day, code). A new start recomputes the end with the default duration.
func (r *Repository) UpdateTimetableEntry(ctx context.Context, batch string, day timetable.Day, code string, name *string, start *timetable.TimeOfDay) error {
	if name != nil {
		res, err := r.db.ExecContext(ctx, `
			UPDATE timetable_entries SET subject_name = $1
			WHERE batch = $2 AND day = $3 AND subject_code = $4
		`, *name, batch, string(day), code)
		if err := affected(res, err, ErrEntryNotFound); err != nil {
			return err
		}
	}
	if start != nil {
		end := start.Add(r.lectureDuration)
		if err := timetable.Validate(nil, timetable.Entry{SubjectCode: code, Start: *start, End: end}); err != nil {
			return err
		}
		res, err := r.db.ExecContext(ctx, `
			UPDATE timetable_entries SET start_minute = $1, end_minute = $2
			WHERE batch = $3 AND day = $4 AND subject_code = $5
		`, int(*start), int(end), batch, string(day), code)
		if err := affected(res, err, ErrEntryNotFound); err != nil {
			return err
		}
	}
	return nil
}

// DeleteTimetableEntry removes the entry keyed by (day, code).
func (r *Repository) DeleteTimetableEntry(ctx context.Context, batch string, day timetable.Day, code string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM timetable_entries WHERE batch = $1 AND day = $2 AND subject_code = $3`, batch, string(day), code)
	return affected(res, err, ErrEntryNotFound)
}

// Timetable returns a batch's entries in stored order, which is also the
// resolver's tie-break order.
func (r *Repository) Timetable(ctx context.Context, batch string) ([]timetable.Entry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT day, subject_code, subject_name, start_minute, end_minute
		FROM timetable_entries WHERE batch = $1 ORDER BY id
	`, batch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []timetable.Entry
	for rows.Next() {
		var (
			e          timetable.Entry
			day        string
			start, end int
		)
		if err := rows.Scan(&day, &e.SubjectCode, &e.SubjectName, &start, &end); err != nil {
			return nil, err
		}
		e.Day, e.Start, e.End = timetable.Day(day), timetable.TimeOfDay(start), timetable.TimeOfDay(end)
		out = append(out, e)
	}
	return out, rows.Err()
}

// AppendAttendance writes one record. It implements Sink.
func (r *Repository) AppendAttendance(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_records (id, batch, student_id, name, subject, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.ID, rec.Batch, rec.StudentID, rec.Name, rec.Subject, rec.Timestamp.UTC())
	return err
}

// Attendance returns a batch's records at or after since, oldest first.
func (r *Repository) Attendance(ctx context.Context, batch string, since time.Time) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, student_id, name, recorded_at, subject, batch
		FROM attendance_records
		WHERE batch = $1 AND recorded_at >= $2
		ORDER BY recorded_at
	`, batch, since.UTC())
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

// ListAttendance returns a page of records, newest first.
func (r *Repository) ListAttendance(ctx context.Context, batch, studentID string, limit, offset int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT id, student_id, name, recorded_at, subject, batch FROM attendance_records`
	args := []any{}
	clauses := []string{}
	if batch != "" {
		clauses = append(clauses, "batch = $"+strconv.Itoa(len(args)+1))
		args = append(args, batch)
	}
	if studentID != "" {
		clauses = append(clauses, "student_id = $"+strconv.Itoa(len(args)+1))
		args = append(args, studentID)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY recorded_at DESC LIMIT $" + strconv.Itoa(len(args)+1) + " OFFSET $" + strconv.Itoa(len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	defer rows.Close()
	var res []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.StudentID, &rec.Name, &rec.Timestamp, &rec.Subject, &rec.Batch); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

func affected(res sql.Result, err error, notFound error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
