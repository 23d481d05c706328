package apperrors

import (
	"errors"
	"sort"
	"strings"
	"time"
)

var (
	ErrSessionExpired  = errors.New("session expired")
	ErrUnauthenticated = errors.New("not authenticated")

	ErrVehicleNotFound = errors.New("vehicle not found")
	ErrVehicleLoading  = errors.New("vehicle details are still loading")

	ErrTooManyRequests = errors.New("too many requests")
	ErrNoPartInfo      = errors.New("no part information")
	ErrNoSearchSession = errors.New("no active search session")
	ErrNoCategoryLinks = errors.New("no links for category")
)

// FieldErrors are validation messages keyed by field name.
// Returned instead of a generic error when the failure can be shown next to form fields.
type FieldErrors map[string][]string

func (fe FieldErrors) Error() string {
	keys := make([]string, 0, len(fe))
	for k := range fe {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		if len(fe[k]) == 0 {
			continue
		}
		parts = append(parts, k+": "+fe[k][0])
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// First message for the field or empty string
func (fe FieldErrors) First(field string) string {
	if msgs := fe[field]; len(msgs) > 0 {
		return msgs[0]
	}
	return ""
}

// RateLimitError is returned when the backend throttles part searches
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return "Too many requests. Please wait a moment before searching again."
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrTooManyRequests
}
