package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapPreservesTypeAndRetryability(t *testing.T) {
	cause := NewConflict("entry already exists: e1")
	wrapped := Wrap(cause, "store entry")

	assert.True(t, IsConflict(wrapped))
	assert.True(t, IsRetryable(wrapped), "conflicts stay retryable through wrapping")
	assert.Contains(t, wrapped.Error(), "store entry")
	assert.Contains(t, wrapped.Error(), "entry already exists")
}

func TestWrapForeignErrorBecomesInternal(t *testing.T) {
	wrapped := Wrap(errors.New("disk full"), "write snapshot")

	assert.Equal(t, ErrorTypeInternal, TypeOf(wrapped))
	assert.False(t, IsRetryable(wrapped))
	assert.ErrorContains(t, wrapped, "write snapshot")
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, "no-op"))
}

func TestRetryability(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"validation", NewValidation("bad input"), false},
		{"not found", NewNotFound("missing"), false},
		{"conflict", NewConflict("already there"), true},
		{"service", NewService("throttled", nil), true},
		{"unavailable", NewUnavailable("circuit open"), false},
		{"recursion", NewRecursion("too deep"), false},
		{"foreign", errors.New("plain"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestContextErrorsNeverRetryable(t *testing.T) {
	// A service error caused by cancellation must not be retried even though
	// its classification says it could be.
	err := NewService("attempt aborted", context.Canceled)
	assert.False(t, IsRetryable(err))

	err = NewService("attempt timed out", fmt.Errorf("query: %w", context.DeadlineExceeded))
	assert.False(t, IsRetryable(err))
}

func TestTypeChecksTraverseWrapping(t *testing.T) {
	cause := NewNotFound("fact not found: f1")
	wrapped := fmt.Errorf("query facts: %w", cause)

	assert.True(t, IsNotFound(wrapped))
	assert.Equal(t, ErrorTypeNotFound, TypeOf(wrapped))
}

func TestWithOperation(t *testing.T) {
	var appErr *AppError
	err := NewService("throttled", nil)
	require.True(t, errors.As(err, &appErr))

	tagged := appErr.WithOperation("EpisodicRepository.Put")
	assert.Equal(t, "EpisodicRepository.Put", tagged.Operation)
	assert.Contains(t, tagged.Error(), "EpisodicRepository.Put")
}
