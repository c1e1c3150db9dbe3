package attendance

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/Shauryam-singh/Advance-Attendance/internal/queue"
)

// QueueSource feeds an engine from a scan queue. Scanner clients publish the
// text they decoded; the engine pops one payload per iteration.
type QueueSource struct {
	q    queue.Queue
	poll time.Duration
}

// NewQueueSource waits up to poll for each payload.
func NewQueueSource(q queue.Queue, poll time.Duration) *QueueSource {
	if poll <= 0 {
		poll = 5 * time.Second
	}
	return &QueueSource{q: q, poll: poll}
}

// Next implements FrameSource.
func (s *QueueSource) Next(ctx context.Context) (string, error) {
	msg, err := s.q.Pop(ctx, s.poll)
	switch {
	case errors.Is(err, queue.ErrEmpty):
		return "", ErrNoFrame
	case errors.Is(err, queue.ErrClosed):
		return "", io.EOF
	case err != nil:
		return "", err
	}
	if msg.Type != queue.TypeScan {
		return "", ErrNoFrame
	}
	return string(msg.Body), nil
}

type lineResult struct {
	line string
	err  error
}

// LineSource reads one decoded payload per line, e.g. from a barcode
// scanner in keyboard mode or `zbarcam --raw`. Blank lines count as frames
// with nothing decoded.
type LineSource struct {
	lines chan lineResult
}

// NewLineSource starts reading r in the background.
func NewLineSource(r io.Reader) *LineSource {
	s := &LineSource{lines: make(chan lineResult)}
	go func() {
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			s.lines <- lineResult{line: sc.Text()}
		}
		err := sc.Err()
		if err == nil {
			err = io.EOF
		}
		s.lines <- lineResult{err: err}
		close(s.lines)
	}()
	return s
}

// Next implements FrameSource.
func (s *LineSource) Next(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res, ok := <-s.lines:
		if !ok {
			return "", io.EOF
		}
		if res.err != nil {
			return "", res.err
		}
		line := strings.TrimSpace(res.line)
		if line == "" {
			return "", ErrNoFrame
		}
		return line, nil
	}
}
