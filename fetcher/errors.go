package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// FetchError is returned by every Provider when a page could not be obtained.
// It terminates the crawl of the page's session.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ErrTimeout means the page source did not answer within Options.Timeout.
type ErrTimeout struct {
	Err error
}

func (e ErrTimeout) Error() string { return describe("listing page timed out", e.Err) }

func (e ErrTimeout) Unwrap() error { return e.Err }

// ErrConnection means the catalog host could not be reached at all.
type ErrConnection struct {
	Err error
}

func (e ErrConnection) Error() string { return describe("catalog host unreachable", e.Err) }

func (e ErrConnection) Unwrap() error { return e.Err }

// ErrForbidden is a 403 from the catalog; retrying the same page is pointless.
type ErrForbidden struct {
	Err error
}

func (e ErrForbidden) Error() string { return describe("listing access denied", e.Err) }

func (e ErrForbidden) Unwrap() error { return e.Err }

// ErrNotFound is a 404, usually a page number past the end of the category.
type ErrNotFound struct {
	Err error
}

func (e ErrNotFound) Error() string { return describe("listing page missing", e.Err) }

func (e ErrNotFound) Unwrap() error { return e.Err }

// ErrRateLimited is a 429; the session stops instead of hammering the host.
type ErrRateLimited struct {
	Err error
}

func (e ErrRateLimited) Error() string { return describe("catalog rate limit hit", e.Err) }

func (e ErrRateLimited) Unwrap() error { return e.Err }

func describe(what string, cause error) string {
	if cause == nil {
		return what
	}
	return what + ": " + cause.Error()
}

// ErrBlocked indicates the target served a bot-challenge page instead of content.
type ErrBlocked struct {
	Marker string
}

func (e ErrBlocked) Error() string {
	return fmt.Sprintf("blocked: challenge page detected (%s)", e.Marker)
}

// ErrStatus covers any other unsuccessful HTTP status.
type ErrStatus struct {
	StatusCode int
}

func (e ErrStatus) Error() string {
	return fmt.Sprintf("http status %d", e.StatusCode)
}

// ErrorType returns a stable label for err, used in logs and metrics.
func ErrorType(err error) string {
	if err == nil {
		return "unknown"
	}
	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return "timeout"
	}
	var conn ErrConnection
	if errors.As(err, &conn) {
		return "connection"
	}
	var forbidden ErrForbidden
	if errors.As(err, &forbidden) {
		return "forbidden"
	}
	var notFound ErrNotFound
	if errors.As(err, &notFound) {
		return "not_found"
	}
	var rateLimited ErrRateLimited
	if errors.As(err, &rateLimited) {
		return "rate_limited"
	}
	var blocked ErrBlocked
	if errors.As(err, &blocked) {
		return "blocked"
	}
	var status ErrStatus
	if errors.As(err, &status) {
		return "http_status"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return "other"
}

func classifyError(err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}

	if statusCode >= http.StatusBadRequest {
		wrapped := err
		if wrapped == nil {
			wrapped = ErrStatus{StatusCode: statusCode}
		}
		switch statusCode {
		case http.StatusForbidden:
			return ErrForbidden{Err: wrapped}
		case http.StatusNotFound:
			return ErrNotFound{Err: wrapped}
		case http.StatusTooManyRequests:
			return ErrRateLimited{Err: wrapped}
		}
		return wrapped
	}

	return err
}

// retryable reports whether another attempt could plausibly succeed.
func retryable(err error) bool {
	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return true
	}
	var conn ErrConnection
	if errors.As(err, &conn) {
		return true
	}
	var status ErrStatus
	if errors.As(err, &status) {
		return status.StatusCode >= http.StatusInternalServerError
	}
	return false
}
