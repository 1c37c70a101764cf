package errdefs

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrappedSentinelsMatch(t *testing.T) {
	err := fmt.Errorf("task abc123: %w", ErrNotFound)
	if !IsNotFound(err) {
		t.Error("Expected wrapped ErrNotFound to match IsNotFound")
	}
	if IsDuplicate(err) {
		t.Error("Expected wrapped ErrNotFound not to match IsDuplicate")
	}

	err = NotFound("task", "abc123")
	if !IsNotFound(err) {
		t.Error("Expected NotFound helper to match IsNotFound")
	}
	if err.Error() != "task abc123: not found" {
		t.Errorf("Unexpected message: %s", err.Error())
	}
}

func TestInvalidArgumentFormatting(t *testing.T) {
	err := InvalidArgument("priority %d out of range", 42)
	if !IsInvalidArgument(err) {
		t.Error("Expected InvalidArgument helper to match IsInvalidArgument")
	}
	if err.Error() != "priority 42 out of range: invalid argument" {
		t.Errorf("Unexpected message: %s", err.Error())
	}
}

func TestQueueFullCountsAsBrokerUnavailable(t *testing.T) {
	err := fmt.Errorf("publish crawl: %w", ErrQueueFull)
	if !IsQueueFull(err) {
		t.Error("Expected IsQueueFull to match")
	}
	if !IsBrokerUnavailable(err) {
		t.Error("Expected queue-full to satisfy IsBrokerUnavailable")
	}
}

func TestKind(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrNotFound, "not_found"},
		{ErrDuplicate, "duplicate"},
		{ErrIllegalTransition, "illegal_transition"},
		{ErrHTMLNotAvailable, "html_not_available"},
		{ErrNoProxyAvailable, "no_proxy_available"},
		{ErrQueueFull, "broker_unavailable"},
		{ErrBrokerUnavailable, "broker_unavailable"},
		{ErrStoreUnavailable, "store_unavailable"},
		{ErrInvalidArgument, "validation"},
		{errors.New("disk on fire"), "internal"},
		{fmt.Errorf("outer: %w", ErrIllegalTransition), "illegal_transition"},
	}

	for _, tc := range cases {
		if got := Kind(tc.err); got != tc.want {
			t.Errorf("Kind(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
