package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFieldErrors(t *testing.T) {
	fe := FieldErrors{
		"password": {"This password is too short."},
		"email":    {"Enter a valid email address.", "Already taken."},
		"empty":    {},
	}

	require.Equal(t, "validation failed: email: Enter a valid email address., password: This password is too short.", fe.Error())
	require.Equal(t, "Enter a valid email address.", fe.First("email"))
	require.Equal(t, "", fe.First("empty"))
	require.Equal(t, "", fe.First("missing"))

	var target FieldErrors
	wrapped := fmt.Errorf("register: %w", fe)
	require.True(t, errors.As(wrapped, &target), "wrapped field errors should be found")
	require.Len(t, target, 3)
}

func TestRateLimitError(t *testing.T) {
	err := fmt.Errorf("parts search: %w", &RateLimitError{})

	require.ErrorIs(t, err, ErrTooManyRequests)

	var rl *RateLimitError
	require.ErrorAs(t, err, &rl)
	require.Equal(t, "Too many requests. Please wait a moment before searching again.", rl.Error())
}
