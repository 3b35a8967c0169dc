package adapter

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrNotFound is returned when a requested resource is not found.
	ErrNotFound = errors.New("resource not found")

	// ErrUnknownProvider is returned for a provider type with no registered implementation.
	ErrUnknownProvider = errors.New("unknown storage provider")
)

// Kind classifies a provider failure.
type Kind int

const (
	KindOther Kind = iota
	KindAuth
	KindPermission
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindPermission:
		return "permission"
	case KindNotFound:
		return "not_found"
	default:
		return "other"
	}
}

// Error is a provider failure carrying the upstream HTTP status.
type Error struct {
	Kind   Kind
	Status int
	Op     string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %d %s", e.Op, e.Status, http.StatusText(e.Status))
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrNotFound) match not-found provider errors.
func (e *Error) Is(target error) bool {
	return target == ErrNotFound && e.Kind == KindNotFound
}

// KindForStatus maps an HTTP status code to a Kind.
func KindForStatus(status int) Kind {
	switch status {
	case http.StatusUnauthorized:
		return KindAuth
	case http.StatusForbidden:
		return KindPermission
	case http.StatusNotFound:
		return KindNotFound
	default:
		return KindOther
	}
}

// NewError builds an *Error from a status code.
func NewError(op string, status int, err error) *Error {
	return &Error{Kind: KindForStatus(status), Status: status, Op: op, Err: err}
}

// Classify returns the Kind of err. Typed errors are matched first; untyped
// errors fall back to inspecting the message.
func Classify(err error) Kind {
	if err == nil {
		return KindOther
	}
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	if errors.Is(err, ErrNotFound) {
		return KindNotFound
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "401"), strings.Contains(msg, "Unauthorized"), strings.Contains(msg, "Invalid Credentials"):
		return KindAuth
	case strings.Contains(msg, "403"), strings.Contains(msg, "Forbidden"):
		return KindPermission
	case strings.Contains(msg, "404"):
		return KindNotFound
	default:
		return KindOther
	}
}

// Describe returns the user-facing message for err.
func Describe(err error) string {
	switch Classify(err) {
	case KindAuth:
		return "access token invalid or expired"
	case KindPermission:
		return "permission denied by storage provider"
	case KindNotFound:
		return "file or folder not found"
	default:
		return err.Error()
	}
}
