// Package acqerr defines the error kinds returned by listing acquisition,
// extraction and sync.
package acqerr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidURL
	KindNotFound
	KindBlocked
	KindFetchFailed
	KindConfiguration
	KindInsufficientData
	KindUnsupportedMarketplace
)

func (k Kind) String() string {
	switch k {
	case KindInvalidURL:
		return "invalid_url"
	case KindNotFound:
		return "not_found"
	case KindBlocked:
		return "blocked"
	case KindFetchFailed:
		return "fetch_failed"
	case KindConfiguration:
		return "configuration"
	case KindInsufficientData:
		return "insufficient_data"
	case KindUnsupportedMarketplace:
		return "unsupported_marketplace"
	default:
		return "unknown"
	}
}

// Retryable reports whether retrying the same request may succeed.
func (k Kind) Retryable() bool {
	return k == KindBlocked || k == KindFetchFailed
}

// Sentinels for errors.Is. Any *Error of the same kind matches.
var (
	ErrInvalidURL             = &Error{Kind: KindInvalidURL}
	ErrNotFound               = &Error{Kind: KindNotFound}
	ErrBlocked                = &Error{Kind: KindBlocked}
	ErrFetchFailed            = &Error{Kind: KindFetchFailed}
	ErrConfiguration          = &Error{Kind: KindConfiguration}
	ErrInsufficientData       = &Error{Kind: KindInsufficientData}
	ErrUnsupportedMarketplace = &Error{Kind: KindUnsupportedMarketplace}
)

type Error struct {
	Kind       Kind
	Op         string
	URL        string
	StatusCode int
	Msg        string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.URL != "" {
		msg += " " + e.URL
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.URL == "" && t.Err == nil
}

func (e *Error) Retryable() bool {
	return e.Kind.Retryable()
}

func New(kind Kind, op, url, msg string) *Error {
	return &Error{Kind: kind, Op: op, URL: url, Msg: msg}
}

func Wrap(kind Kind, op, url string, err error) *Error {
	return &Error{Kind: kind, Op: op, URL: url, Err: err}
}

func InvalidURL(op, url, msg string) *Error {
	return New(KindInvalidURL, op, url, msg)
}

func NotFound(op, url string, status int) *Error {
	return &Error{Kind: KindNotFound, Op: op, URL: url, StatusCode: status}
}

func Blocked(op, url string, status int, msg string) *Error {
	return &Error{Kind: KindBlocked, Op: op, URL: url, StatusCode: status, Msg: msg}
}

func FetchFailed(op, url string, status int, err error) *Error {
	return &Error{Kind: KindFetchFailed, Op: op, URL: url, StatusCode: status, Err: err}
}

func Configuration(op, msg string) *Error {
	return New(KindConfiguration, op, "", msg)
}

func InsufficientData(op, url string) *Error {
	return New(KindInsufficientData, op, url, "no title, description or price")
}

func UnsupportedMarketplace(op, url string) *Error {
	return New(KindUnsupportedMarketplace, op, url, "")
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func IsRetryable(err error) bool {
	return KindOf(err).Retryable()
}

// FromStatus maps a non-2xx HTTP status onto a taxonomy error. It returns
// nil for 2xx and 3xx.
func FromStatus(op, url string, status int) *Error {
	switch {
	case status < 400:
		return nil
	case status == http.StatusNotFound || status == http.StatusGone:
		return NotFound(op, url, status)
	case status == http.StatusForbidden:
		return Blocked(op, url, status, "forbidden")
	case status == http.StatusUnauthorized:
		return &Error{Kind: KindConfiguration, Op: op, URL: url, StatusCode: status, Msg: "unauthorized"}
	default:
		return FetchFailed(op, url, status, nil)
	}
}

// FromTransport classifies an error returned by an HTTP round trip.
func FromTransport(op, url string, err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindFetchFailed, Op: op, URL: url, Msg: "timeout", Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindFetchFailed, Op: op, URL: url, Msg: "timeout", Err: err}
	}
	return FetchFailed(op, url, 0, err)
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode
	}
	return 0
}

// AttemptStatus is the status recorded for one acquisition attempt.
func AttemptStatus(err error) string {
	if err == nil {
		return "success"
	}
	switch KindOf(err) {
	case KindBlocked:
		return "blocked"
	case KindNotFound:
		return "not_found"
	default:
		return "error"
	}
}
