package attendance

import "errors"

var (
	// ErrSinkWrite wraps a failed attendance append. The ledger was left
	// untouched, so scanning the same token again may succeed.
	ErrSinkWrite = errors.New("attendance sink write failed")

	// ErrFrameSource wraps a decode-source failure. It ends the session.
	ErrFrameSource = errors.New("frame source failed")

	// ErrNoFrame means the source had nothing this iteration. Not a failure.
	ErrNoFrame = errors.New("no frame available")

	ErrEmptyRoster      = errors.New("no students found for batch")
	ErrEmptyTimetable   = errors.New("no timetable found for batch")
	ErrDuplicateStudent = errors.New("student id already exists in batch")
	ErrStudentNotFound  = errors.New("student not found in batch")
	ErrEntryNotFound    = errors.New("timetable entry not found")
)
