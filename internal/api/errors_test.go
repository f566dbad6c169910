package api

import (
	"errors"
	"fmt"
	"net/url"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "nil error",
			err:  nil,
			want: "",
		},
		{
			name: "detail field wins",
			err:  &Error{Status: 403, Body: map[string]any{"detail": "Forbidden.", "email": []any{"ignored"}}},
			want: "Forbidden.",
		},
		{
			name: "string body",
			err:  &Error{Status: 400, Body: "bad input"},
			want: "bad input",
		},
		{
			name: "field errors joined and sorted",
			err: &Error{Status: 400, Body: map[string]any{
				"email": []any{"required", "invalid format"},
				"code":  "expired",
			}},
			want: "code: expired; email: required, invalid format",
		},
		{
			name: "empty body",
			err:  &Error{Status: 500},
			want: "An unknown error occurred",
		},
		{
			name: "empty string body",
			err:  &Error{Status: 502, Body: ""},
			want: "An unknown error occurred",
		},
		{
			name: "wrapped api error",
			err:  fmt.Errorf("profile: %w", &Error{Status: 404, Body: map[string]any{"detail": "Not found."}}),
			want: "Not found.",
		},
		{
			name: "request setup",
			err:  fmt.Errorf("%w: bad method", ErrRequestSetup),
			want: "Error setting up the request.",
		},
		{
			name: "transport failure",
			err:  &url.Error{Op: "Post", URL: "http://127.0.0.1:1/api", Err: errors.New("connection refused")},
			want: "Network error: could not reach the server.",
		},
		{
			name: "wrapped transport failure",
			err:  fmt.Errorf("login: %w", &url.Error{Op: "Post", URL: "http://x", Err: errors.New("timeout")}),
			want: "Network error: could not reach the server.",
		},
		{
			name: "generic error",
			err:  errors.New("boom"),
			want: "boom",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Normalize(tc.err); got != tc.want {
				t.Fatalf("Normalize() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestStatusCode(t *testing.T) {
	if got := StatusCode(&Error{Status: 404}); got != 404 {
		t.Fatalf("StatusCode = %d, want 404", got)
	}
	if got := StatusCode(fmt.Errorf("wrapped: %w", &Error{Status: 401})); got != 401 {
		t.Fatalf("StatusCode (wrapped) = %d, want 401", got)
	}
	if got := StatusCode(errors.New("plain")); got != 0 {
		t.Fatalf("StatusCode (plain) = %d, want 0", got)
	}
	if !IsStatus(&Error{Status: 404}, 404) {
		t.Fatal("IsStatus(404, 404) = false")
	}
	if IsStatus(&Error{Status: 404}, 401) {
		t.Fatal("IsStatus(404, 401) = true")
	}
}

func TestErrorString(t *testing.T) {
	err := &Error{Status: 400, Body: map[string]any{"detail": "Invalid credentials."}}
	want := "api error (status 400): Invalid credentials."
	if got := err.Error(); got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}
