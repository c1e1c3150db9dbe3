package attendance

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shauryam-singh/Advance-Attendance/internal/roster"
	"github.com/Shauryam-singh/Advance-Attendance/internal/timetable"
)

func seededRepo(t *testing.T) *Repository {
	t.Helper()
	repo := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.AddStudent(ctx, roster.Student{StudentID: "S1", Name: "Alice", Batch: "B1"}))
	require.NoError(t, repo.AddStudent(ctx, roster.Student{StudentID: "S2", Name: "Bob", Batch: "B1"}))
	_, err := repo.AddTimetableEntry(ctx, "B1", timetable.Entry{SubjectCode: "MA101", SubjectName: "Math", Start: 9 * 60})
	require.NoError(t, err)
	return repo
}

func TestService_NewSession_Errors(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	svc := NewService(repo, 0, WithServiceLogger(discard))

	_, err := svc.NewSession(ctx, "B1")
	assert.ErrorIs(t, err, ErrEmptyRoster)

	require.NoError(t, repo.AddStudent(ctx, roster.Student{StudentID: "S1", Name: "Alice", Batch: "B1"}))
	_, err = svc.NewSession(ctx, "B1")
	assert.ErrorIs(t, err, ErrEmptyTimetable)
}

func TestService_RunFromLines(t *testing.T) {
	repo := seededRepo(t)
	now := at(9, 10, 0)
	svc := NewService(repo, 5*time.Minute, WithServiceClock(func() time.Time { return now }), WithServiceLogger(discard))

	s1 := issue(t, "S1", "Alice", "B1", now.Add(-10*time.Second))
	s2 := issue(t, "S2", "Bob", "B1", now.Add(-10*time.Minute))
	input := strings.Join([]string{s1, s1, s2, "not a token", ""}, "\n")

	require.NoError(t, svc.Run(context.Background(), "B1", NewLineSource(strings.NewReader(input))))

	recs, err := repo.Attendance(context.Background(), "B1", time.Time{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "S1", recs[0].StudentID)
	assert.Equal(t, "Math", recs[0].Subject)
}

func TestService_ResumedSessionDoesNotRemark(t *testing.T) {
	repo := seededRepo(t)
	ctx := context.Background()
	now := at(9, 10, 0)
	svc := NewService(repo, 0, WithServiceClock(func() time.Time { return now }), WithServiceLogger(discard))

	first, err := svc.NewSession(ctx, "B1")
	require.NoError(t, err)
	out, err := first.Process(ctx, issue(t, "S1", "Alice", "B1", now))
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, out.Status)

	now = now.Add(5 * time.Minute)
	second, err := svc.NewSession(ctx, "B1")
	require.NoError(t, err)
	out, err = second.Process(ctx, issue(t, "S1", "Alice", "B1", now))
	require.NoError(t, err)
	assert.Equal(t, ReasonDuplicateForLecture, out.Reason)
}

func TestService_CurrentLecture(t *testing.T) {
	repo := seededRepo(t)
	now := at(9, 30, 0)
	svc := NewService(repo, 0, WithServiceClock(func() time.Time { return now }))

	lec, ok, err := svc.CurrentLecture(context.Background(), "B1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Math", lec.Subject())

	now = at(13, 0, 0)
	_, ok, err = svc.CurrentLecture(context.Background(), "B1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestService_ServeRestartsAfterSourceFailure(t *testing.T) {
	repo := seededRepo(t)
	now := at(9, 10, 0)
	svc := NewService(repo, 0,
		WithServiceClock(func() time.Time { return now }),
		WithServiceLogger(discard),
		WithRestartBackoff(time.Millisecond, 5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	raw := issue(t, "S1", "Alice", "B1", now)
	attempts := 0
	newSource := func() FrameSource {
		attempts++
		switch attempts {
		case 1:
			return &scriptedSource{steps: []step{{err: errors.New("camera unplugged")}}}
		case 2:
			return &scriptedSource{steps: []step{{raw: raw}}}
		default:
			cancel()
			return &scriptedSource{}
		}
	}

	done := make(chan struct{})
	go func() {
		svc.Serve(ctx, "B1", newSource)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	assert.Equal(t, 3, attempts)
	recs, err := repo.Attendance(context.Background(), "B1", time.Time{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "S1", recs[0].StudentID)
}
