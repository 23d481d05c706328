package apiclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nkiryanov/partsearch/internal/apperrors"
)

const fallbackMessage = "An unexpected error occurred"

// Error is a non 2xx answer from the backend
type Error struct {
	StatusCode int
	Method     string
	Path       string
	Body       []byte

	// Parsed from Retry-After header, zero if absent
	RetryAfter time.Duration
}

func newError(method string, path string, r response) *Error {
	e := &Error{
		StatusCode: r.statusCode,
		Method:     method,
		Path:       path,
		Body:       r.body,
	}

	if header := strings.TrimSpace(r.header.Get("Retry-After")); header != "" {
		if seconds, err := strconv.Atoi(header); err == nil {
			e.RetryAfter = time.Duration(seconds) * time.Second
		}
	}
	return e
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode))
}

// Data is the body decoded as JSON object; nil if it is not one
func (e *Error) Data() map[string]any {
	var data map[string]any
	if err := json.Unmarshal(e.Body, &data); err != nil {
		return nil
	}
	return data
}

// StatusCode of the first *Error in the chain, 0 if there is none
func StatusCode(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// ErrorMessage extracts the best human readable message from whatever failed
func ErrorMessage(err error) string {
	if err == nil {
		return fallbackMessage
	}

	var fe apperrors.FieldErrors
	if errors.As(err, &fe) {
		if msg := messageFromData(fieldData(fe)); msg != "" {
			return msg
		}
	}

	var apiErr *Error
	if errors.As(err, &apiErr) {
		if msg := messageFromData(apiErr.Data()); msg != "" {
			return msg
		}
		// transport details mean nothing to the user
		return fallbackMessage
	}

	if msg := err.Error(); msg != "" {
		return msg
	}
	return fallbackMessage
}

// FieldErrors returns messages keyed by field, empty map if there are none
func FieldErrors(err error) apperrors.FieldErrors {
	fields := apperrors.FieldErrors{}

	var fe apperrors.FieldErrors
	if errors.As(err, &fe) {
		for k, v := range fe {
			fields[k] = append([]string(nil), v...)
		}
		return fields
	}

	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return fields
	}

	for key, value := range apiErr.Data() {
		switch v := value.(type) {
		case []any:
			msgs := make([]string, 0, len(v))
			for _, m := range v {
				msgs = append(msgs, fmt.Sprint(m))
			}
			fields[key] = msgs
		case string:
			fields[key] = []string{v}
		}
	}
	return fields
}

func messageFromData(data map[string]any) string {
	if len(data) == 0 {
		return ""
	}

	// Known fields first, in the order a form shows them
	for _, key := range []string{"email", "password", "non_field_errors"} {
		if msg := firstOfList(data[key]); msg != "" {
			return msg
		}
	}
	for _, key := range []string{"detail", "message", "error"} {
		if msg, ok := data[key].(string); ok && msg != "" {
			return msg
		}
	}

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var messages []string
	for _, key := range keys {
		switch v := data[key].(type) {
		case []any:
			if len(v) > 0 {
				messages = append(messages, fmt.Sprintf("%s: %v", key, v[0]))
			}
		case string:
			messages = append(messages, v)
		}
	}
	return strings.Join(messages, ", ")
}

func firstOfList(value any) string {
	list, ok := value.([]any)
	if !ok || len(list) == 0 {
		return ""
	}
	return fmt.Sprint(list[0])
}

func fieldData(fe apperrors.FieldErrors) map[string]any {
	data := make(map[string]any, len(fe))
	for k, msgs := range fe {
		list := make([]any, 0, len(msgs))
		for _, m := range msgs {
			list = append(list, m)
		}
		data[k] = list
	}
	return data
}
