package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	twitter "github.com/g8rswimmer/go-twitter/v2"

	"tweetrelay/internal/apierr"
)

// classify maps a go-twitter error onto the relay's error kinds: not found
// (ErrAccountNotFound), transient (*apierr.TransientError) or permanent.
func classify(ctx context.Context, op, subject string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var er *twitter.ErrorResponse
	if errors.As(err, &er) {
		if er.StatusCode == http.StatusNotFound || er.Title == "Not Found Error" || hasNotFoundObj(er.Errors) {
			return fmt.Errorf("%w: %s", ErrAccountNotFound, subject)
		}
		return byStatus(op, er.StatusCode, er.RateLimit, fmt.Errorf("http %d: %s", er.StatusCode, summarize(er)))
	}

	var he *twitter.HTTPError
	if errors.As(err, &he) {
		if he.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %s", ErrAccountNotFound, subject)
		}
		return byStatus(op, he.StatusCode, he.RateLimit, fmt.Errorf("http %s", he.Status))
	}

	// Network failures and undecodable bodies.
	return transient(op, 0, 0, err)
}

func byStatus(op string, code int, rl *twitter.RateLimit, err error) error {
	switch {
	case code == http.StatusTooManyRequests:
		return transient(op, code, retryAfter(rl), err)
	case code == http.StatusUnauthorized, code == http.StatusForbidden, code >= 500:
		return transient(op, code, 0, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func transient(op string, code int, after time.Duration, err error) error {
	return &apierr.TransientError{Op: op, Status: code, RetryAfter: after, Err: err}
}

// retryAfter is the time left until the rate-limit window resets.
func retryAfter(rl *twitter.RateLimit) time.Duration {
	if rl == nil {
		return 0
	}
	if d := time.Until(rl.Reset.Time()); d > 0 {
		return d
	}
	return 0
}

func notFound(e twitter.ErrorObj) bool {
	return strings.HasSuffix(e.Type, "/resource-not-found") ||
		strings.EqualFold(e.Title, "Not Found Error")
}

func hasNotFound(errs []*twitter.ErrorObj) bool {
	for _, e := range errs {
		if e != nil && notFound(*e) {
			return true
		}
	}
	return false
}

func hasNotFoundObj(errs []twitter.ErrorObj) bool {
	for _, e := range errs {
		if notFound(e) {
			return true
		}
	}
	return false
}

func describe(e *twitter.ErrorObj) string {
	switch {
	case e.Detail != "":
		return e.Detail
	case e.Title != "":
		return e.Title
	}
	return e.Type
}

func summarize(er *twitter.ErrorResponse) string {
	s := strings.TrimSpace(er.Title + " " + er.Detail)
	if s == "" && len(er.Errors) > 0 {
		s = describe(&er.Errors[0])
	}
	return s
}

func (p *Post) String() string {
	if p == nil {
		return "<nil>"
	}
	return fmt.Sprintf("post %s by %s (%d media)", p.ID, p.AuthorID, len(p.MediaURLs))
}
