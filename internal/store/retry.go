package store

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"github.com/pulseboard/adinsights/internal/pkg/logger"
)

// WithRetry runs fn, retrying transient failures up to attempts times with a
// fixed backoff between tries. Non-transient errors and context cancellation
// return immediately.
func WithRetry(ctx context.Context, attempts int, backoff time.Duration, fn func() error) error {
	if attempts <= 0 {
		attempts = 3
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		logger.Warn("transient store error, retrying",
			"attempt", attempt, "max_attempts", attempts, "error", lastErr.Error())

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return lastErr
}

// IsTransient reports whether an error looks like a recoverable
// network/connection failure rather than a query or data problem.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	msg := err.Error()
	for _, hint := range []string{
		"connection reset",
		"connection refused",
		"broken pipe",
		"i/o timeout",
		"bad connection",
		"server closed the connection",
	} {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

// Chunk splits rows into batches of at most size, preserving order. A final
// short batch is always emitted.
func Chunk[T any](rows []T, size int) [][]T {
	if size <= 0 {
		size = len(rows)
	}
	var out [][]T
	for start := 0; start < len(rows); start += size {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		out = append(out, rows[start:end])
	}
	return out
}
