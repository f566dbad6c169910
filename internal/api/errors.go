package api

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

var (
	// ErrNoRefreshToken is returned when a refresh is attempted without a stored refresh token.
	ErrNoRefreshToken = errors.New("no refresh token")

	// ErrRefreshFailed wraps the underlying cause when a token refresh does not complete.
	ErrRefreshFailed = errors.New("token refresh failed")

	// ErrRequestSetup is returned when a request cannot be constructed before it is sent.
	ErrRequestSetup = errors.New("request setup failed")
)

// Fixed user-facing messages for transport-level failures.
const (
	msgNetworkError = "Network error: could not reach the server."
	msgSetupError   = "Error setting up the request."
	msgUnknownError = "An unknown error occurred"
)

// Error is a structured API error: an HTTP status plus the decoded JSON body.
// Body is either nil, a string, or a map[string]any (per-field validation messages).
type Error struct {
	Status int
	Body   any
}

func (e *Error) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.Status, bodyMessage(e.Body))
}

// StatusCode extracts the HTTP status carried by err, or 0 when err carries none.
func StatusCode(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// IsStatus reports whether err is an API error with the given HTTP status.
func IsStatus(err error, status int) bool {
	return StatusCode(err) == status
}

// Normalize converts any error from this layer into a single human-readable
// message. It is a closed match over the error shapes the client produces:
// structured API errors, transport errors, generic errors, and anything else.
// It never panics and never returns an empty string for a non-nil error.
func Normalize(err error) string {
	if err == nil {
		return ""
	}

	var apiErr *Error
	if errors.As(err, &apiErr) {
		return bodyMessage(apiErr.Body)
	}

	if errors.Is(err, ErrRequestSetup) {
		return msgSetupError
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		// A url.Error means the request was sent but no response came back.
		return msgNetworkError
	}

	if msg := err.Error(); msg != "" {
		return msg
	}
	return msgUnknownError
}

// bodyMessage extracts a readable message from a decoded error body.
// Priority: a string "detail" field, then joined "field: value" pairs,
// then a best-effort stringification.
func bodyMessage(body any) string {
	switch b := body.(type) {
	case nil:
		return msgUnknownError

	case string:
		if b == "" {
			return msgUnknownError
		}
		return b

	case map[string]any:
		if detail, ok := b["detail"].(string); ok && detail != "" {
			return detail
		}
		if msg := joinFieldErrors(b); msg != "" {
			return msg
		}
		return fmt.Sprintf("%v", b)

	default:
		return fmt.Sprintf("%v", b)
	}
}

// joinFieldErrors renders validation bodies like
// {"email": ["required"], "name": "too long"} as
// "email: required; name: too long". Keys are sorted for stable output.
func joinFieldErrors(fields map[string]any) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+fieldValue(fields[k]))
	}
	return strings.Join(parts, "; ")
}

func fieldValue(v any) string {
	if list, ok := v.([]any); ok {
		parts := make([]string, 0, len(list))
		for _, item := range list {
			parts = append(parts, fmt.Sprintf("%v", item))
		}
		return strings.Join(parts, ", ")
	}
	return fmt.Sprintf("%v", v)
}
