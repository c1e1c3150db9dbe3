package issuance

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shauryam-singh/Advance-Attendance/internal/roster"
	"github.com/Shauryam-singh/Advance-Attendance/internal/token"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type textRenderer struct{}

func (textRenderer) Render(payload string) ([]byte, error) { return []byte(payload), nil }

type memStore struct {
	mu     sync.Mutex
	tokens map[string][]byte
	writes int
	failOn string
}

func (m *memStore) StoreToken(_ context.Context, id string, img []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id == m.failOn {
		return errors.New("bucket unavailable")
	}
	if m.tokens == nil {
		m.tokens = map[string][]byte{}
	}
	m.tokens[id] = img
	m.writes++
	return nil
}

func (m *memStore) get(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return string(m.tokens[id])
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

type tally struct {
	issued, failed int
}

func (t *tally) TokensIssued(_ string, issued, failed int) {
	t.issued += issued
	t.failed += failed
}

func testIndex() *roster.Index {
	return roster.NewIndex("B1", []roster.Student{
		{StudentID: "S1", Name: "Alice", Batch: "B1"},
		{StudentID: "S2", Name: "Bob", Batch: "B1"},
	})
}

func TestIssueAll(t *testing.T) {
	now := time.Unix(1700000000, 0)
	st := &memStore{}
	obs := &tally{}
	s := New("B1", Static(testIndex()), textRenderer{}, st,
		WithClock(func() time.Time { return now }), WithLogger(discard), WithObserver(obs))

	n, err := s.IssueAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "S1;Alice;B1;1700000000", st.get("S1"))

	tok, err := token.Parse(st.get("S2"))
	require.NoError(t, err)
	assert.Equal(t, "Bob", tok.Name)
	assert.Equal(t, 2, obs.issued)
}

func TestIssueAll_PartialFailure(t *testing.T) {
	st := &memStore{failOn: "S1"}
	obs := &tally{}
	s := New("B1", Static(testIndex()), textRenderer{}, st, WithLogger(discard), WithObserver(obs))

	n, err := s.IssueAll(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, n)
	assert.NotEmpty(t, st.get("S2"), "other students still get tokens")
	assert.Equal(t, 1, obs.failed)
}

func TestIssueAll_RosterError(t *testing.T) {
	boom := errors.New("db down")
	src := RosterFunc(func(context.Context) ([]roster.Student, error) { return nil, boom })
	s := New("B1", src, textRenderer{}, &memStore{}, WithLogger(discard))

	_, err := s.IssueAll(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestIssueAll_RefusesUnencodableName(t *testing.T) {
	idx := roster.NewIndex("B1", []roster.Student{{StudentID: "S1", Name: "A;B", Batch: "B1"}})
	s := New("B1", Static(idx), textRenderer{}, &memStore{}, WithLogger(discard))

	_, err := s.IssueAll(context.Background())
	assert.ErrorIs(t, err, token.ErrDelimiterInField)
}

func TestScheduler_ReissuesOnEveryTick(t *testing.T) {
	var (
		mu    sync.Mutex
		clock = time.Unix(1700000000, 0)
	)
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Minute)
		return clock
	}
	st := &memStore{}
	s := New("B1", Static(testIndex()), textRenderer{}, st,
		WithInterval(10*time.Millisecond), WithClock(now), WithLogger(discard))

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyRunning)

	require.Eventually(t, func() bool { return st.count() >= 6 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()

	after := st.count()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, st.count(), "no writes after Stop")

	tok, err := token.Parse(st.get("S1"))
	require.NoError(t, err)
	assert.True(t, tok.IssuedAt.After(time.Unix(1700000000+60, 0)), "token was replaced by a later round")

	s.Stop()
	require.NoError(t, s.Start(context.Background()), "restartable after Stop")
	s.Stop()
}

func TestScheduler_StopsWithParentContext(t *testing.T) {
	st := &memStore{}
	s := New("B1", Static(testIndex()), textRenderer{}, st, WithInterval(time.Hour), WithLogger(discard))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	require.Eventually(t, func() bool { return st.count() == 2 }, time.Second, 5*time.Millisecond,
		"first round runs immediately")
	cancel()
	s.Stop()
}
