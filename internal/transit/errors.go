package transit

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an engine error. The kind is decided once, at the transport
// boundary (from the HTTP status) or at the precondition check that raised it,
// and never re-derived from message text downstream.
type Kind int

const (
	// KindNetwork covers timeouts, connection failures and 5xx responses.
	// The only retryable kind.
	KindNetwork Kind = iota
	// KindAuth covers 401/403. Never retried; surfaced immediately.
	KindAuth
	// KindValidation covers 400/404 and payloads whose shape is unusable.
	KindValidation
	// KindConfig means no agency is configured. A precondition failure.
	KindConfig
	// KindNoLocation means the rider position is unavailable.
	KindNoLocation
	// KindCache is an internal cache failure; degrades to miss behaviour.
	KindCache
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindAuth:
		return "authentication"
	case KindValidation:
		return "validation"
	case KindConfig:
		return "configuration"
	case KindNoLocation:
		return "no-location"
	case KindCache:
		return "cache"
	default:
		return "unknown"
	}
}

// Error is the engine's typed error. Status carries the HTTP status when the
// error originated at the transport boundary, 0 otherwise.
type Error struct {
	Kind   Kind
	Op     string // e.g. "fetch stations"
	Status int
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether a retry can possibly help.
func (e *Error) Retryable() bool { return e.Kind == KindNetwork }

// NewError builds a typed engine error.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// StatusError builds a typed error from an HTTP status: 401/403 are
// authentication, 400/404 validation, everything else network.
func StatusError(status int, op string) *Error {
	return &Error{Kind: ClassifyStatus(status), Op: op, Status: status}
}

// ClassifyStatus maps an HTTP status code onto an error kind.
func ClassifyStatus(status int) Kind {
	switch status {
	case 401, 403:
		return KindAuth
	case 400, 404:
		return KindValidation
	default:
		return KindNetwork
	}
}

// IsKind reports whether err carries the given engine error kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// CycleError aggregates the per-fetcher failures of one evaluation cycle into
// a single composite error instead of surfacing four separate ones.
type CycleError struct {
	Errs []*Error
}

func (c *CycleError) Error() string {
	if len(c.Errs) == 0 {
		return "evaluation cycle failed"
	}
	parts := make([]string, len(c.Errs))
	for i, e := range c.Errs {
		parts[i] = e.Error()
	}
	return "evaluation cycle: " + strings.Join(parts, "; ")
}

// Severity returns the dominant kind across the aggregated errors.
// Authentication always wins; otherwise configuration, then the first error.
func (c *CycleError) Severity() Kind {
	for _, e := range c.Errs {
		if e.Kind == KindAuth {
			return KindAuth
		}
	}
	for _, e := range c.Errs {
		if e.Kind == KindConfig {
			return KindConfig
		}
	}
	if len(c.Errs) > 0 {
		return c.Errs[0].Kind
	}
	return KindNetwork
}

// Unwrap exposes the aggregated errors to errors.Is / errors.As.
func (c *CycleError) Unwrap() []error {
	out := make([]error, len(c.Errs))
	for i, e := range c.Errs {
		out[i] = e
	}
	return out
}
