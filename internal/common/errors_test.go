package common

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsRetryable(t *testing.T) {
	base := errors.New("connection reset")

	require.True(t, IsRetryable(NewRetryableError(base)))
	require.True(t, IsRetryable(fmt.Errorf("start job: %w", NewRetryableError(base))))
	require.False(t, IsRetryable(base))
	require.False(t, IsRetryable(nil))

	require.ErrorIs(t, NewRetryableError(base), base)
}

func TestAsConflict(t *testing.T) {
	err := fmt.Errorf("sync: %w", &ConflictError{Type: "cancellation", Server: []byte(`{}`)})

	ce, ok := AsConflict(err)
	require.True(t, ok)
	require.Equal(t, "cancellation", ce.Type)
	require.Equal(t, "sync conflict: cancellation", ce.Error())

	_, ok = AsConflict(errors.New("plain"))
	require.False(t, ok)
}

func TestLockedMessageIsSpecific(t *testing.T) {
	require.Equal(t, "Job is locked and cannot be modified", ErrLocked.Error())
	require.NotEqual(t, ErrLocked.Error(), ErrAlreadyLocked.Error())
}

func TestCanContinue(t *testing.T) {
	require.True(t, CanContinue(nil))
	require.True(t, CanContinue(NewRetryableError(errors.New("timeout"))))
	require.False(t, CanContinue(ErrUnknownMessageType))
	require.False(t, CanContinue(&ConflictError{Type: "data_mismatch"}))
}
