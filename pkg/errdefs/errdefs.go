// Package errdefs defines the error classes shared across Scuttle packages.
//
// Packages return errors wrapping these sentinels (fmt.Errorf with %w) so
// callers can branch with errors.Is without string matching. The API layer
// maps them onto HTTP status codes, and Kind renders the machine-stable
// string carried in error payloads and events.
package errdefs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate indicates a uniqueness conflict, such as submitting a URL
	// whose fingerprint is already owned by a live task.
	ErrDuplicate = errors.New("already exists")

	// ErrIllegalTransition indicates a status change the task state machine
	// does not permit from the entity's current state.
	ErrIllegalTransition = errors.New("illegal transition")

	// ErrHTMLNotAvailable indicates a parse-only restart was requested but the
	// downloaded body is no longer in the blob store.
	ErrHTMLNotAvailable = errors.New("html not available")

	// ErrNoProxyAvailable indicates every binding for the host is unhealthy,
	// inactive, or absent.
	ErrNoProxyAvailable = errors.New("no proxy available")

	// ErrQueueFull indicates the target stream is at its backpressure limit.
	ErrQueueFull = errors.New("queue full")

	// ErrBrokerUnavailable indicates the queue backend cannot be reached.
	ErrBrokerUnavailable = errors.New("broker unavailable")

	// ErrStoreUnavailable indicates the persistence layer cannot be reached.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrInvalidArgument indicates the caller supplied a value that fails
	// validation (bad URL, priority out of range, unknown sort key).
	ErrInvalidArgument = errors.New("invalid argument")
)

// NotFound wraps ErrNotFound with the entity kind and id.
func NotFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}

// Duplicate wraps ErrDuplicate with the conflicting value.
func Duplicate(kind, value string) error {
	return fmt.Errorf("%s %s: %w", kind, value, ErrDuplicate)
}

// InvalidArgument wraps ErrInvalidArgument with a formatted reason.
func InvalidArgument(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrInvalidArgument)...)
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsDuplicate reports whether err wraps ErrDuplicate.
func IsDuplicate(err error) bool { return errors.Is(err, ErrDuplicate) }

// IsIllegalTransition reports whether err wraps ErrIllegalTransition.
func IsIllegalTransition(err error) bool { return errors.Is(err, ErrIllegalTransition) }

// IsHTMLNotAvailable reports whether err wraps ErrHTMLNotAvailable.
func IsHTMLNotAvailable(err error) bool { return errors.Is(err, ErrHTMLNotAvailable) }

// IsNoProxyAvailable reports whether err wraps ErrNoProxyAvailable.
func IsNoProxyAvailable(err error) bool { return errors.Is(err, ErrNoProxyAvailable) }

// IsQueueFull reports whether err wraps ErrQueueFull.
func IsQueueFull(err error) bool { return errors.Is(err, ErrQueueFull) }

// IsBrokerUnavailable reports whether err wraps ErrBrokerUnavailable or ErrQueueFull.
func IsBrokerUnavailable(err error) bool {
	return errors.Is(err, ErrBrokerUnavailable) || errors.Is(err, ErrQueueFull)
}

// IsStoreUnavailable reports whether err wraps ErrStoreUnavailable.
func IsStoreUnavailable(err error) bool { return errors.Is(err, ErrStoreUnavailable) }

// IsInvalidArgument reports whether err wraps ErrInvalidArgument.
func IsInvalidArgument(err error) bool { return errors.Is(err, ErrInvalidArgument) }

// Kind returns the machine-stable class string for err, used in API error
// payloads and failure events. Unrecognized errors report as "internal".
// Queue-full folds into broker_unavailable: callers retry both the same way.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrDuplicate):
		return "duplicate"
	case errors.Is(err, ErrIllegalTransition):
		return "illegal_transition"
	case errors.Is(err, ErrHTMLNotAvailable):
		return "html_not_available"
	case errors.Is(err, ErrNoProxyAvailable):
		return "no_proxy_available"
	case errors.Is(err, ErrQueueFull), errors.Is(err, ErrBrokerUnavailable):
		return "broker_unavailable"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, ErrInvalidArgument):
		return "validation"
	default:
		return "internal"
	}
}
