// Package apierr classifies failures of the two external APIs (the X read
// API and the Telegram Bot API).
//
// A TransientError is retried on the next poll pass and is never fatal.
package apierr

import (
	"errors"
	"fmt"
	"time"
)

// TransientError marks a network, rate-limit, auth or server-side failure.
type TransientError struct {
	Op     string // e.g. "x.user_tweets", "telegram.send"
	Status int    // HTTP status, 0 for network errors
	// RetryAfter is a server hint (rate-limit reset); informational only.
	RetryAfter time.Duration
	Err        error
}

func (e *TransientError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: transient (http %d): %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: transient: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err. A nil err stays nil.
func Transient(op string, status int, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Status: status, Err: err}
}

// IsTransient reports whether err (or anything it wraps) is a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
