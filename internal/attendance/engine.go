package attendance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Shauryam-singh/Advance-Attendance/internal/roster"
	"github.com/Shauryam-singh/Advance-Attendance/internal/timetable"
	"github.com/Shauryam-singh/Advance-Attendance/internal/token"
)

// State is the engine's position in the per-token state machine.
type State int32

const (
	StateIdle State = iota
	StateDecodingAvailable
	StateValidating
	StateAccepted
	StateRejected
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateDecodingAvailable:
		return "DECODING_AVAILABLE"
	case StateValidating:
		return "VALIDATING"
	case StateAccepted:
		return "ACCEPTED"
	case StateRejected:
		return "REJECTED"
	case StateStopped:
		return "STOPPED"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Reason explains a rejection.
type Reason string

const (
	ReasonMalformedPayload    Reason = "malformed_payload"
	ReasonExpired             Reason = "expired"
	ReasonUnknownOrWrongBatch Reason = "unknown_or_wrong_batch"
	ReasonNoActiveLecture     Reason = "no_active_lecture"
	ReasonDuplicateForLecture Reason = "duplicate_for_lecture"
)

// Status is the terminal result of one Process call.
type Status string

const (
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
	// StatusFailed means every check passed but the sink refused the row.
	StatusFailed Status = "failed"
)

// Record is one attendance row. Rows are append-only.
type Record struct {
	ID        string    `json:"id,omitempty"`
	StudentID string    `json:"student_id"`
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
	Subject   string    `json:"subject"`
	Batch     string    `json:"batch"`
}

// Outcome describes what happened to one decoded payload.
type Outcome struct {
	Status    Status
	Reason    Reason
	StudentID string
	Lecture   *timetable.Lecture
	Record    *Record
}

// Sink persists accepted records.
type Sink interface {
	AppendAttendance(ctx context.Context, rec Record) error
}

// FrameSource yields decoded payloads. Next blocks until a payload is ready,
// returns ErrNoFrame when an iteration produced nothing, and io.EOF when the
// stream has ended.
type FrameSource interface {
	Next(ctx context.Context) (string, error)
}

// Observer receives one notification per processed payload.
type Observer interface {
	ScanProcessed(batch, result string)
}

// Engine reconciles decoded payloads for a single batch. Process and Run
// must be driven from one goroutine; State and Stop are safe from any.
type Engine struct {
	batch    string
	roster   *roster.Index
	resolver *timetable.Resolver
	ledger   *Ledger
	sink     Sink

	window   time.Duration
	now      func() time.Time
	logger   *slog.Logger
	observer Observer

	state atomic.Int32
	stop  atomic.Bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithFreshnessWindow sets the maximum accepted token age.
func WithFreshnessWindow(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.window = d
		}
	}
}

// WithLedger starts the engine from an existing ledger.
func WithLedger(l *Ledger) Option {
	return func(e *Engine) { e.ledger = l }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// NewEngine builds an engine for batch over read-only roster and timetable
// snapshots.
func NewEngine(batch string, idx *roster.Index, resolver *timetable.Resolver, sink Sink, opts ...Option) *Engine {
	e := &Engine{
		batch:    batch,
		roster:   idx,
		resolver: resolver,
		sink:     sink,
		window:   token.DefaultWindow,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.ledger == nil {
		e.ledger = NewLedger()
	}
	return e
}

// Batch returns the batch being reconciled.
func (e *Engine) Batch() string { return e.batch }

// State returns the current state.
func (e *Engine) State() State { return State(e.state.Load()) }

// Stop asks Run to halt after the payload in flight, if any.
func (e *Engine) Stop() { e.stop.Store(true) }

func (e *Engine) setState(s State) { e.state.Store(int32(s)) }

// Process runs one payload through parse, freshness, roster, timetable and
// dedup checks. Rejections come back as an Outcome with a nil error. The
// only error is a sink failure, which matches ErrSinkWrite and leaves the
// ledger untouched.
func (e *Engine) Process(ctx context.Context, raw string) (Outcome, error) {
	e.setState(StateValidating)
	defer e.setState(StateIdle)

	now := e.now()

	tok, err := token.Parse(raw)
	if err != nil {
		e.logger.Warn("scan rejected", "batch", e.batch, "reason", ReasonMalformedPayload, "error", err)
		return e.reject(Outcome{Reason: ReasonMalformedPayload}), nil
	}

	if !token.IsFresh(tok, now, e.window) {
		e.logger.Info("scan rejected", "batch", e.batch, "student_id", tok.StudentID,
			"reason", ReasonExpired, "age", now.Sub(tok.IssuedAt).Truncate(time.Second))
		return e.reject(Outcome{Reason: ReasonExpired, StudentID: tok.StudentID}), nil
	}

	if !e.roster.IsValidMember(tok.StudentID, tok.Batch, e.batch) {
		e.logger.Warn("scan rejected", "batch", e.batch, "student_id", tok.StudentID,
			"claimed_batch", tok.Batch, "reason", ReasonUnknownOrWrongBatch)
		return e.reject(Outcome{Reason: ReasonUnknownOrWrongBatch, StudentID: tok.StudentID}), nil
	}

	lec, ok := e.resolver.CurrentLecture(e.batch, now)
	if !ok {
		e.logger.Debug("scan rejected", "batch", e.batch, "student_id", tok.StudentID, "reason", ReasonNoActiveLecture)
		return e.reject(Outcome{Reason: ReasonNoActiveLecture, StudentID: tok.StudentID}), nil
	}

	subject := lec.Subject()
	if e.ledger.AlreadyMarked(tok.StudentID, subject, lec.Start, lec.End) {
		e.logger.Debug("scan rejected", "batch", e.batch, "student_id", tok.StudentID,
			"subject", subject, "reason", ReasonDuplicateForLecture)
		return e.reject(Outcome{Reason: ReasonDuplicateForLecture, StudentID: tok.StudentID, Lecture: &lec}), nil
	}

	student, err := e.roster.Lookup(tok.StudentID)
	if err != nil {
		// IsValidMember already passed; the roster is immutable.
		return e.reject(Outcome{Reason: ReasonUnknownOrWrongBatch, StudentID: tok.StudentID}), nil
	}

	rec := Record{
		StudentID: student.StudentID,
		Name:      student.Name,
		Timestamp: now,
		Subject:   subject,
		Batch:     e.batch,
	}
	if err := e.sink.AppendAttendance(ctx, rec); err != nil {
		e.logger.Error("attendance append failed", "batch", e.batch, "student_id", rec.StudentID,
			"subject", subject, "error", err)
		e.notify(string(StatusFailed))
		return Outcome{Status: StatusFailed, StudentID: rec.StudentID, Lecture: &lec},
			fmt.Errorf("%w: %w", ErrSinkWrite, err)
	}
	e.ledger.Record(rec.StudentID, subject, now)

	e.setState(StateAccepted)
	e.logger.Info("attendance marked", "batch", e.batch, "student_id", rec.StudentID,
		"name", rec.Name, "subject", subject)
	e.notify(string(StatusAccepted))
	return Outcome{Status: StatusAccepted, StudentID: rec.StudentID, Lecture: &lec, Record: &rec}, nil
}

func (e *Engine) reject(o Outcome) Outcome {
	e.setState(StateRejected)
	o.Status = StatusRejected
	e.notify(string(o.Reason))
	return o
}

func (e *Engine) notify(result string) {
	if e.observer != nil {
		e.observer.ScanProcessed(e.batch, result)
	}
}

func (e *Engine) cancelRequested(ctx context.Context) bool {
	return e.stop.Load() || ctx.Err() != nil
}

// Run pulls payloads from src until the context is cancelled, Stop is
// called, or the stream ends. A payload already pulled is always processed
// to completion. Sink failures are logged and scanning continues; any source
// error other than ErrNoFrame and io.EOF is fatal and matches ErrFrameSource.
func (e *Engine) Run(ctx context.Context, src FrameSource) error {
	defer e.setState(StateStopped)
	e.setState(StateIdle)
	e.logger.Info("reconciliation session started", "batch", e.batch, "students", e.roster.Len())

	for {
		if e.cancelRequested(ctx) {
			e.logger.Info("reconciliation session stopped", "batch", e.batch)
			return nil
		}

		raw, err := src.Next(ctx)
		switch {
		case errors.Is(err, ErrNoFrame):
			continue
		case errors.Is(err, io.EOF):
			e.logger.Info("frame source exhausted", "batch", e.batch)
			return nil
		case err != nil:
			if ctx.Err() != nil {
				continue
			}
			e.logger.Error("frame source failed", "batch", e.batch, "error", err)
			return fmt.Errorf("%w: %w", ErrFrameSource, err)
		}

		e.setState(StateDecodingAvailable)
		// Cancellation must not cut a commit in half.
		if _, err := e.Process(context.WithoutCancel(ctx), raw); err != nil {
			e.logger.Warn("scan will need to be retried", "batch", e.batch, "error", err)
		}
	}
}
