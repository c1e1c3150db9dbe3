package timetable

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultLectureDuration is applied when an entry has no explicit end.
const DefaultLectureDuration = 50 * time.Minute

const minutesPerDay = 24 * 60

var (
	ErrDuplicateSubject = errors.New("subject code already scheduled on this day")
	ErrInvalidWindow    = errors.New("lecture must end after it starts, on the same day")
	ErrInvalidTime      = errors.New("invalid time of day")
	ErrInvalidDay       = errors.New("invalid day")
)

// TimeOfDay is minutes since local midnight.
type TimeOfDay int

var timeLayouts = []string{"03:04 PM", "3:04 PM", "03:04PM", "3:04PM", "15:04"}

// ParseTimeOfDay accepts "09:00 AM" style values as well as 24h "09:00".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return TimeOfDay(t.Hour()*60 + t.Minute()), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidTime, s)
}

// Clock returns the time of day of t, truncated to the minute.
func Clock(t time.Time) TimeOfDay {
	return TimeOfDay(t.Hour()*60 + t.Minute())
}

func (t TimeOfDay) String() string {
	return time.Date(0, 1, 1, int(t)/60, int(t)%60, 0, 0, time.UTC).Format("03:04 PM")
}

func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// On anchors t to the calendar date of day, in day's location.
func (t TimeOfDay) On(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, int(t)/60, int(t)%60, 0, 0, day.Location())
}

// Add returns t shifted by d, truncated to whole minutes.
func (t TimeOfDay) Add(d time.Duration) TimeOfDay {
	return t + TimeOfDay(d/time.Minute)
}

// Day is a canonical weekday name ("Monday"), or empty for an entry that
// repeats every day.
type Day string

// Daily marks an entry without a weekday.
const Daily Day = ""

// ParseDay accepts full or three-letter weekday names in any case; an empty
// string or "daily" yields Daily.
func ParseDay(s string) (Day, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "daily" {
		return Daily, nil
	}
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		name := strings.ToLower(wd.String())
		if s == name || s == name[:3] {
			return Day(wd.String()), nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDay, s)
}

func (d *Day) UnmarshalText(b []byte) error {
	v, err := ParseDay(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// Matches reports whether the entry's day covers t.
func (d Day) Matches(t time.Time) bool {
	return d == Daily || string(d) == t.Weekday().String()
}

// Entry is one timetable row.
type Entry struct {
	Day         Day       `json:"day" yaml:"day"`
	SubjectCode string    `json:"subject_code" yaml:"subject_code"`
	SubjectName string    `json:"subject_name" yaml:"subject_name"`
	Start       TimeOfDay `json:"start" yaml:"start"`
	End         TimeOfDay `json:"end" yaml:"end"`
}

// WithDefaultEnd fills in End as Start+d when the row did not set one.
func (e Entry) WithDefaultEnd(d time.Duration) Entry {
	if e.End == 0 {
		if d <= 0 {
			d = DefaultLectureDuration
		}
		e.End = e.Start.Add(d)
	}
	return e
}

// Validate checks candidate against the batch's existing rows. Duplicate
// codes on one day are refused here, at creation time; the resolver itself
// tolerates whatever it is given.
func Validate(existing []Entry, candidate Entry) error {
	if candidate.Start < 0 || candidate.End <= candidate.Start || candidate.End > minutesPerDay {
		return fmt.Errorf("%s %s-%s: %w", candidate.SubjectCode, candidate.Start, candidate.End, ErrInvalidWindow)
	}
	for _, e := range existing {
		if e.SubjectCode == candidate.SubjectCode && e.Day == candidate.Day {
			return fmt.Errorf("%s on %s: %w", candidate.SubjectCode, dayLabel(candidate.Day), ErrDuplicateSubject)
		}
	}
	return nil
}

func dayLabel(d Day) string {
	if d == Daily {
		return "every day"
	}
	return string(d)
}

// Lecture is the occurrence active at a given instant. It is derived on
// demand and never stored; Start and End are absolute instants so the same
// subject on another date is a different occurrence.
type Lecture struct {
	Batch       string    `json:"batch"`
	SubjectCode string    `json:"subject_code"`
	SubjectName string    `json:"subject_name"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

// Subject is the label written to attendance records.
func (l Lecture) Subject() string {
	if l.SubjectName != "" {
		return l.SubjectName
	}
	return l.SubjectCode
}

// Contains reports whether ts falls inside the inclusive window.
func (l Lecture) Contains(ts time.Time) bool {
	return !ts.Before(l.Start) && !ts.After(l.End)
}

// Resolver answers "what is on right now" for a set of batches.
type Resolver struct {
	entries map[string][]Entry
}

// NewResolver snapshots the given timetables; order within a batch is kept.
func NewResolver(byBatch map[string][]Entry) *Resolver {
	r := &Resolver{entries: make(map[string][]Entry, len(byBatch))}
	for batch, list := range byBatch {
		r.entries[batch] = append([]Entry(nil), list...)
	}
	return r
}

// Entries returns the stored rows for batch.
func (r *Resolver) Entries(batch string) []Entry {
	return append([]Entry(nil), r.entries[batch]...)
}

// CurrentLecture returns the first entry, in stored order, whose window
// contains now. Overlapping rows are a data problem upstream; the earliest
// stored row wins and nothing smarter is attempted.
func (r *Resolver) CurrentLecture(batch string, now time.Time) (Lecture, bool) {
	for _, e := range r.entries[batch] {
		if !e.Day.Matches(now) {
			continue
		}
		lec := Lecture{
			Batch:       batch,
			SubjectCode: e.SubjectCode,
			SubjectName: e.SubjectName,
			Start:       e.Start.On(now),
			End:         e.End.On(now),
		}
		if lec.Contains(now) {
			return lec, true
		}
	}
	return Lecture{}, false
}
