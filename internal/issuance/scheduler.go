package issuance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Shauryam-singh/Advance-Attendance/internal/roster"
	"github.com/Shauryam-singh/Advance-Attendance/internal/token"
)

// DefaultInterval keeps outstanding tokens inside the default freshness window.
const DefaultInterval = 5 * time.Minute

// ErrAlreadyRunning is returned by Start on a running scheduler.
var ErrAlreadyRunning = errors.New("scheduler already running")

// RosterSource supplies the students to issue tokens for.
type RosterSource interface {
	Students(ctx context.Context) ([]roster.Student, error)
}

// RosterFunc adapts a loader function, e.g. a repository query, to RosterSource.
type RosterFunc func(ctx context.Context) ([]roster.Student, error)

func (f RosterFunc) Students(ctx context.Context) ([]roster.Student, error) { return f(ctx) }

type staticRoster struct{ idx *roster.Index }

func (s staticRoster) Students(context.Context) ([]roster.Student, error) { return s.idx.Students(), nil }

// Static issues for a fixed session snapshot.
func Static(idx *roster.Index) RosterSource { return staticRoster{idx: idx} }

// Renderer turns a payload into an image.
type Renderer interface {
	Render(payload string) ([]byte, error)
}

// Store keeps the latest token image per student, replacing the previous one.
type Store interface {
	StoreToken(ctx context.Context, studentID string, image []byte) error
}

// Observer is told how each round went.
type Observer interface {
	TokensIssued(batch string, issued, failed int)
}

// Scheduler re-issues tokens for a whole roster on a fixed interval, on its
// own goroutine, until stopped.
type Scheduler struct {
	batch    string
	roster   RosterSource
	renderer Renderer
	store    Store
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
	observer Observer

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

func WithObserver(o Observer) Option {
	return func(s *Scheduler) { s.observer = o }
}

// New creates a scheduler for batch.
func New(batch string, src RosterSource, renderer Renderer, store Store, opts ...Option) *Scheduler {
	s := &Scheduler{
		batch:    batch,
		roster:   src,
		renderer: renderer,
		store:    store,
		interval: DefaultInterval,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Batch returns the batch tokens are issued for.
func (s *Scheduler) Batch() string { return s.batch }

// IssueAll issues, renders and stores a fresh token for every student. A
// failure for one student does not stop the others; all failures are joined
// into the returned error.
func (s *Scheduler) IssueAll(ctx context.Context) (int, error) {
	students, err := s.roster.Students(ctx)
	if err != nil {
		return 0, fmt.Errorf("load roster %s: %w", s.batch, err)
	}

	now := s.now()
	issued := 0
	var errs []error
	for _, st := range students {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := s.issueOne(ctx, st, now); err != nil {
			s.logger.Warn("token issue failed", "batch", s.batch, "student_id", st.StudentID, "error", err)
			errs = append(errs, err)
			continue
		}
		issued++
	}

	if s.observer != nil {
		s.observer.TokensIssued(s.batch, issued, len(students)-issued)
	}
	s.logger.Info("tokens issued", "batch", s.batch, "issued", issued, "students", len(students))
	return issued, errors.Join(errs...)
}

func (s *Scheduler) issueOne(ctx context.Context, st roster.Student, now time.Time) error {
	payload, err := token.Issue(st.StudentID, st.Name, st.Batch, now)
	if err != nil {
		return err
	}
	img, err := s.renderer.Render(payload)
	if err != nil {
		return fmt.Errorf("render %s: %w", st.StudentID, err)
	}
	if err := s.store.StoreToken(ctx, st.StudentID, img); err != nil {
		return fmt.Errorf("store %s: %w", st.StudentID, err)
	}
	return nil
}

// Start issues once immediately and then every interval until ctx ends or
// Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
	return nil
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.IssueAll(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("token round incomplete", "batch", s.batch, "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Stop cancels the loop and waits for the current round to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
