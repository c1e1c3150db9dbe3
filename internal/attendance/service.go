package attendance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Shauryam-singh/Advance-Attendance/internal/roster"
	"github.com/Shauryam-singh/Advance-Attendance/internal/timetable"
	"github.com/Shauryam-singh/Advance-Attendance/internal/token"
)

// Store is what a session needs from persistence. Repository implements it.
type Store interface {
	Sink
	Roster(ctx context.Context, batch string) ([]roster.Student, error)
	Timetable(ctx context.Context, batch string) ([]timetable.Entry, error)
	Attendance(ctx context.Context, batch string, since time.Time) ([]Record, error)
}

// Service opens reconciliation sessions.
type Service struct {
	store      Store
	window     time.Duration
	now        func() time.Time
	logger     *slog.Logger
	observer   Observer
	minBackoff time.Duration
	maxBackoff time.Duration
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

func WithServiceLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

func WithServiceObserver(o Observer) ServiceOption {
	return func(s *Service) { s.observer = o }
}

// WithRestartBackoff bounds the wait between session restarts in Serve.
func WithRestartBackoff(first, limit time.Duration) ServiceOption {
	return func(s *Service) {
		if first > 0 && limit >= first {
			s.minBackoff, s.maxBackoff = first, limit
		}
	}
}

// NewService creates a service backed by store. window is the token
// freshness window.
func NewService(store Store, window time.Duration, opts ...ServiceOption) *Service {
	if window <= 0 {
		window = token.DefaultWindow
	}
	s := &Service{
		store:      store,
		window:     window,
		now:        time.Now,
		logger:     slog.Default(),
		minBackoff: time.Second,
		maxBackoff: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewSession loads the batch's roster and timetable snapshots and seeds the
// dedup ledger with records already written today, so a restarted session
// does not mark anyone twice.
func (s *Service) NewSession(ctx context.Context, batch string) (*Engine, error) {
	students, err := s.store.Roster(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("load roster %s: %w", batch, err)
	}
	idx := roster.NewIndex(batch, students)
	if idx.Len() == 0 {
		return nil, fmt.Errorf("%s: %w", batch, ErrEmptyRoster)
	}

	entries, err := s.store.Timetable(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("load timetable %s: %w", batch, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%s: %w", batch, ErrEmptyTimetable)
	}
	resolver := timetable.NewResolver(map[string][]timetable.Entry{batch: entries})

	now := s.now()
	y, m, d := now.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	existing, err := s.store.Attendance(ctx, batch, midnight)
	if err != nil {
		return nil, fmt.Errorf("load attendance %s: %w", batch, err)
	}
	ledger := NewLedger()
	ledger.Seed(existing)

	opts := []Option{
		WithClock(s.now),
		WithFreshnessWindow(s.window),
		WithLedger(ledger),
		WithLogger(s.logger),
	}
	if s.observer != nil {
		opts = append(opts, WithObserver(s.observer))
	}
	return NewEngine(batch, idx, resolver, s.store, opts...), nil
}

// Run opens a session for batch and drives it from src until it ends.
func (s *Service) Run(ctx context.Context, batch string, src FrameSource) error {
	engine, err := s.NewSession(ctx, batch)
	if err != nil {
		return err
	}
	return engine.Run(ctx, src)
}

// Serve keeps a session for batch running until ctx ends. Each attempt gets
// a fresh source from newSource, so roster and timetable edits are picked up
// on restart. Failed or ended sessions are reopened after an exponential
// backoff; an empty roster or timetable waits the full backoff.
func (s *Service) Serve(ctx context.Context, batch string, newSource func() FrameSource) {
	backoff := s.minBackoff
	for ctx.Err() == nil {
		started := time.Now()
		err := s.Run(ctx, batch, newSource())
		if ctx.Err() != nil {
			return
		}

		switch {
		case errors.Is(err, ErrEmptyRoster), errors.Is(err, ErrEmptyTimetable):
			s.logger.Warn("session not started", "batch", batch, "error", err)
			backoff = s.maxBackoff
		case err != nil:
			s.logger.Error("session ended", "batch", batch, "error", err)
		default:
			s.logger.Warn("session source closed", "batch", batch)
		}
		if time.Since(started) > s.maxBackoff {
			backoff = s.minBackoff
		}

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
		backoff = min(backoff*2, s.maxBackoff)
	}
}

// CurrentLecture resolves the lecture running now for batch, if any.
func (s *Service) CurrentLecture(ctx context.Context, batch string) (timetable.Lecture, bool, error) {
	entries, err := s.store.Timetable(ctx, batch)
	if err != nil {
		return timetable.Lecture{}, false, err
	}
	lec, ok := timetable.NewResolver(map[string][]timetable.Entry{batch: entries}).CurrentLecture(batch, s.now())
	return lec, ok, nil
}
