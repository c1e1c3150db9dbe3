package attendance

import (
	"sort"
	"time"
)

type ledgerKey struct {
	studentID string
	subject   string
}

// Ledger remembers which (student, subject) pairs were recorded and when.
// It is owned by one Engine and is not safe for concurrent use.
type Ledger struct {
	marks map[ledgerKey][]time.Time
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{marks: make(map[ledgerKey][]time.Time)}
}

// Seed loads already persisted records, e.g. when a session resumes a batch
// that has been scanned earlier today.
func (l *Ledger) Seed(records []Record) {
	for _, r := range records {
		l.Record(r.StudentID, r.Subject, r.Timestamp)
	}
}

// AlreadyMarked reports whether a mark for (studentID, subject) falls inside
// the inclusive window [start, end].
func (l *Ledger) AlreadyMarked(studentID, subject string, start, end time.Time) bool {
	for _, ts := range l.marks[ledgerKey{studentID, subject}] {
		if !ts.Before(start) && !ts.After(end) {
			return true
		}
	}
	return false
}

// Record adds a mark. Callers record only after the sink accepted the row.
func (l *Ledger) Record(studentID, subject string, ts time.Time) {
	k := ledgerKey{studentID, subject}
	list := append(l.marks[k], ts)
	if n := len(list); n > 1 && list[n-1].Before(list[n-2]) {
		sort.Slice(list, func(i, j int) bool { return list[i].Before(list[j]) })
	}
	l.marks[k] = list
}

// Len returns the total number of marks held.
func (l *Ledger) Len() int {
	n := 0
	for _, list := range l.marks {
		n += len(list)
	}
	return n
}
