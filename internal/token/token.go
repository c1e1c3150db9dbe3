package token

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Delimiter separates the payload fields: StudentID;Name;Batch;IssuedAtEpochSeconds.
const Delimiter = ";"

// DefaultWindow is the maximum age of a token that is still accepted.
const DefaultWindow = 300 * time.Second

var (
	// ErrMalformedPayload is matched by every Parse failure.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrDelimiterInField is returned by Issue when a field would break the wire format.
	ErrDelimiterInField = errors.New("field contains payload delimiter")
)

// Token is the structured payload carried by a scanned code. Name and Batch
// are claims; the roster decides whether they hold.
type Token struct {
	StudentID string
	Name      string
	Batch     string
	IssuedAt  time.Time
}

// ParseError describes why a decoded payload was refused.
type ParseError struct {
	Detail string
}

func (e *ParseError) Error() string {
	return "malformed payload: " + e.Detail
}

// Is lets errors.Is(err, ErrMalformedPayload) match.
func (e *ParseError) Is(target error) bool {
	return target == ErrMalformedPayload
}

// Issue stamps a payload for the student with now as its issuance instant.
func Issue(studentID, name, batch string, now time.Time) (string, error) {
	for _, f := range []string{studentID, name, batch} {
		if strings.Contains(f, Delimiter) {
			return "", fmt.Errorf("issue token for %q: %w", studentID, ErrDelimiterInField)
		}
	}
	return strings.Join([]string{
		studentID,
		name,
		batch,
		strconv.FormatInt(now.Unix(), 10),
	}, Delimiter), nil
}

// Parse decodes raw scanner output. It never panics on hostile input.
func Parse(raw string) (Token, error) {
	parts := strings.Split(strings.TrimSpace(raw), Delimiter)
	if len(parts) != 4 {
		return Token{}, &ParseError{Detail: fmt.Sprintf("expected 4 fields, got %d", len(parts))}
	}
	if parts[0] == "" {
		return Token{}, &ParseError{Detail: "empty student id"}
	}
	if parts[2] == "" {
		return Token{}, &ParseError{Detail: "empty batch"}
	}
	secs, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return Token{}, &ParseError{Detail: fmt.Sprintf("issued-at %q is not an integer", parts[3])}
	}
	if secs < 0 {
		return Token{}, &ParseError{Detail: "negative issued-at"}
	}
	return Token{
		StudentID: parts[0],
		Name:      parts[1],
		Batch:     parts[2],
		IssuedAt:  time.Unix(secs, 0),
	}, nil
}

// IsFresh reports whether tok was issued no more than window before now.
// Tokens stamped in the future (clock skew) count as fresh.
func IsFresh(tok Token, now time.Time, window time.Duration) bool {
	return now.Sub(tok.IssuedAt) <= window
}
