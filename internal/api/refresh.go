package api

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

// refresher is the single-flight token-refresh coordinator.
//
// Exactly one refresh call may be in flight at any time; concurrent callers
// (requests that each saw a 401) share the in-flight result. On success every
// waiter receives the new access token and replays its own request. On
// failure the session is forced to log out, exactly once.
type refresher struct {
	client *Client
	group  singleflight.Group
}

func newRefresher(c *Client) *refresher {
	return &refresher{client: c}
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

// refresh exchanges the stored refresh token for a new access token and
// rotates the token store. The caller's context does not cancel the shared
// flight; a detached context keeps one aborted request from failing every
// queued waiter.
func (r *refresher) refresh(ctx context.Context) (string, error) {
	v, err, _ := r.group.Do("refresh", func() (any, error) {
		return r.doRefresh(context.WithoutCancel(ctx))
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (r *refresher) doRefresh(ctx context.Context) (string, error) {
	c := r.client

	refreshToken := c.tokens.RefreshToken()
	if refreshToken == "" {
		c.log.Warn("api.refresh.no_token")
		r.fail()
		return "", ErrNoRefreshToken
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	var pair TokenPair
	if err := c.post(ctx, pathRefresh, refreshRequest{Refresh: refreshToken}, &pair); err != nil {
		c.log.Warn("api.refresh.fail", "err", err)
		r.fail()
		return "", err
	}
	if pair.Access == "" {
		c.log.Warn("api.refresh.fail", "err", "access token missing in refresh response")
		r.fail()
		return "", ErrRefreshFailed
	}

	// The backend may rotate the refresh token; keep the old one otherwise.
	newRefresh := pair.Refresh
	if newRefresh == "" {
		newRefresh = refreshToken
	}
	if err := c.tokens.SetTokens(pair.Access, newRefresh); err != nil {
		r.fail()
		return "", err
	}

	if c.metrics != nil {
		c.metrics.RefreshTotal.WithLabelValues("ok").Inc()
	}
	c.log.Info("api.refresh.ok")
	return pair.Access, nil
}

// fail records the failed attempt and forces logout. Runs inside the flight,
// so it fires once no matter how many requests were queued behind the refresh.
func (r *refresher) fail() {
	if r.client.metrics != nil {
		r.client.metrics.RefreshTotal.WithLabelValues("fail").Inc()
	}
	r.client.authFailure()
}
