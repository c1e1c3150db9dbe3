package roster

import "errors"

// ErrNotFound is returned by Lookup for ids outside the roster.
var ErrNotFound = errors.New("student not found")

// Student is one roster row.
type Student struct {
	StudentID string `json:"student_id" yaml:"student_id"`
	Name      string `json:"name" yaml:"name"`
	Batch     string `json:"batch" yaml:"batch"`
}

// Index is a read-only snapshot of one batch's roster. It is safe to share
// between goroutines because nothing mutates it after NewIndex.
type Index struct {
	batch    string
	byID     map[string]Student
	students []Student
}

// NewIndex builds the snapshot for batch. Rows belonging to another batch are
// dropped; a repeated id keeps its first row.
func NewIndex(batch string, students []Student) *Index {
	idx := &Index{
		batch: batch,
		byID:  make(map[string]Student, len(students)),
	}
	for _, s := range students {
		if s.Batch != batch {
			continue
		}
		if _, dup := idx.byID[s.StudentID]; dup {
			continue
		}
		idx.byID[s.StudentID] = s
		idx.students = append(idx.students, s)
	}
	return idx
}

// Batch returns the batch this index was built for.
func (i *Index) Batch() string { return i.batch }

// Len returns the number of members.
func (i *Index) Len() int { return len(i.students) }

// Lookup returns the roster row for studentID.
func (i *Index) Lookup(studentID string) (Student, error) {
	s, ok := i.byID[studentID]
	if !ok {
		return Student{}, ErrNotFound
	}
	return s, nil
}

// IsValidMember is true when studentID is on the roster and the batch the
// token claims is the batch being reconciled. The second check stops a token
// minted for one batch from being replayed into another batch's session.
func (i *Index) IsValidMember(studentID, claimedBatch, expectedBatch string) bool {
	if claimedBatch != expectedBatch {
		return false
	}
	_, ok := i.byID[studentID]
	return ok
}

// Students returns the members in roster order.
func (i *Index) Students() []Student {
	out := make([]Student, len(i.students))
	copy(out, i.students)
	return out
}
