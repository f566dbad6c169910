package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Auth endpoint paths. Only the refresh call strips the bearer: a refresh
// must not carry the expiring access token it is about to replace. Login and
// register tolerate a leftover bearer; the backend ignores it.
const (
	pathLogin    = "/api/users/login/"
	pathRefresh  = "/api/users/login/refresh/"
	pathRegister = "/api/users/register/"
)

type ctxKey int

// ctxKeyRetried marks a request that has already been replayed once after a
// refresh. A 401 on such a request is terminal.
const ctxKeyRetried ctxKey = iota

func isRefreshPath(p string) bool {
	return strings.HasSuffix(p, pathRefresh) || p == pathRefresh
}

// bearerTransport is the per-request interceptor. It reads the token store
// on every call (never a cached value), attaches or strips the Authorization
// header, and coordinates 401 recovery with the refresh single-flight.
type bearerTransport struct {
	client *Client
	base   http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	c := t.client
	token := c.tokens.AccessToken()
	refreshCall := isRefreshPath(req.URL.Path)

	switch {
	case token != "" && !refreshCall:
		req.Header.Set("Authorization", "Bearer "+token)
	default:
		// Refresh calls must not bear an expiring token, and with no token
		// present no stale header may remain either.
		req.Header.Del("Authorization")
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	// 401 on the refresh endpoint itself: terminal for the refresher, which
	// owns the logout decision. Pass it through untouched.
	if refreshCall {
		return resp, nil
	}

	// 401 on a request that was already replayed once: no further refresh.
	if req.Context().Value(ctxKeyRetried) != nil {
		c.log.Warn("api.401.after_retry", "method", req.Method, "path", req.URL.Path)
		c.authFailure()
		return resp, nil
	}

	// Decode the triggering 401 before its body is discarded. When the
	// refresh fails, this is the error the caller sees: a wrong-password
	// login must surface "Invalid credentials.", not the refresh failure.
	origErr := decodeError(resp)
	_ = resp.Body.Close()

	// Join the single-flight refresh. Concurrent 401s block here and share
	// one refresh call; each replays its own request afterwards.
	newToken, refreshErr := c.refresher.refresh(req.Context())
	if refreshErr != nil {
		if !errors.Is(refreshErr, ErrRefreshFailed) {
			refreshErr = fmt.Errorf("%w: %w", ErrRefreshFailed, refreshErr)
		}
		return nil, fmt.Errorf("%w (%w)", origErr, refreshErr)
	}

	replay, err := cloneForReplay(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestSetup, err)
	}
	replay.Header.Set("Authorization", "Bearer "+newToken)

	if c.metrics != nil {
		c.metrics.ReplayTotal.Inc()
	}
	c.log.Debug("api.replay", "method", req.Method, "path", req.URL.Path)

	resp2, err := t.base.RoundTrip(replay)
	if err != nil {
		return nil, err
	}
	if resp2.StatusCode == http.StatusUnauthorized {
		c.log.Warn("api.401.after_retry", "method", req.Method, "path", req.URL.Path)
		c.authFailure()
	}
	return resp2, nil
}

// cloneForReplay rebuilds the request with a fresh body and the retried marker.
func cloneForReplay(req *http.Request) (*http.Request, error) {
	ctx := context.WithValue(req.Context(), ctxKeyRetried, struct{}{})
	replay := req.Clone(ctx)

	if req.Body == nil {
		return replay, nil
	}
	if req.GetBody == nil {
		return nil, fmt.Errorf("request body is not replayable")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	replay.Body = body
	return replay, nil
}
