package auth

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"campus/internal/api"
)

// ErrNotAuthenticated is returned by operations that need a live session.
var ErrNotAuthenticated = errors.New("not authenticated")

// Status is the session lifecycle state.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusSucceeded
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Client routes. The guard and the session redirect between these two.
const (
	RouteHome  = "/"
	RouteLogin = "/auth/login"
)

// Navigator is the UI-layer collaborator the session drives on login/logout.
type Navigator interface {
	Replace(route string)
	Current() string
}

// ChannelController is the notification realtime channel as the session sees
// it: opened after a profile loads, closed before credentials are cleared.
type ChannelController interface {
	Connect()
	Disconnect()
}

// ActionState tracks one independent request/response action.
type ActionState struct {
	Loading bool
	Err     string
}

// Session is the login/logout/initialize state machine. It owns the
// authenticated-user identity; every other component reads it, never writes.
//
// It is constructed once at process start and injected by reference; there is
// no ambient global session.
type Session struct {
	log     *slog.Logger
	api     *api.Client
	tokens  *TokenStore
	nav     Navigator
	channel ChannelController

	mu          sync.Mutex
	status      Status
	user        *api.User
	errMsg      string
	initialized bool
	initCh      chan struct{}

	profileAction  ActionState
	passwordAction ActionState
	registerAction ActionState
}

// NewSession wires the session and registers itself as the client's terminal
// auth-failure handler, so a failed refresh forces logout from any request.
func NewSession(log *slog.Logger, client *api.Client, tokens *TokenStore, nav Navigator, channel ChannelController) *Session {
	s := &Session{
		log:     log,
		api:     client,
		tokens:  tokens,
		nav:     nav,
		channel: channel,
		initCh:  make(chan struct{}),
	}
	client.SetAuthFailureHook(s.Logout)
	return s
}

// Initialize hydrates the session from durable storage. It is idempotent:
// repeat calls after the first are no-ops. It always ends with the
// initialized latch set, whatever the outcome.
func (s *Session) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.initialized {
		s.mu.Unlock()
		return nil
	}
	s.status = StatusLoading
	s.mu.Unlock()

	defer s.markInitialized()

	ok, err := s.tokens.Load()
	if err != nil {
		s.setFailure(err)
		return err
	}
	if !ok {
		s.log.Info("session.init.no_tokens")
		s.mu.Lock()
		s.user = nil
		s.status = StatusIdle
		s.mu.Unlock()
		return nil
	}

	if err := s.FetchUserProfile(ctx); err != nil {
		// FetchUserProfile has already logged out.
		return err
	}

	s.channel.Connect()
	s.log.Info("session.init.ok", "user_id", s.currentUserID())
	return nil
}

// Login exchanges credentials for tokens, loads the profile, opens the
// notification channel, and navigates home. If the profile fetch fails the
// flow has already logged out and no navigation happens.
func (s *Session) Login(ctx context.Context, creds api.Credentials) error {
	s.mu.Lock()
	s.status = StatusLoading
	s.errMsg = ""
	s.mu.Unlock()

	pair, err := s.api.Login(ctx, creds)
	if err == nil && (pair.Access == "" || pair.Refresh == "") {
		err = errors.New("token pair missing in login response")
	}
	if err == nil {
		err = s.tokens.SetTokens(pair.Access, pair.Refresh)
	}
	if err != nil {
		s.log.Warn("session.login.fail", "err", err)
		_ = s.tokens.ClearTokens()
		s.mu.Lock()
		s.user = nil
		s.status = StatusFailed
		s.errMsg = api.Normalize(err)
		s.mu.Unlock()
		return err
	}

	if err := s.FetchUserProfile(ctx); err != nil {
		s.log.Warn("session.login.profile_fail", "err", err)
		return err
	}

	s.channel.Connect()
	s.nav.Replace(RouteHome)
	s.log.Info("session.login.ok", "user_id", s.currentUserID())
	return nil
}

// FetchUserProfile loads the current user. A 401 is recovered by the
// transport's single-flight refresh with exactly one retry; any error that
// survives that forces logout.
func (s *Session) FetchUserProfile(ctx context.Context) error {
	if s.tokens.AccessToken() == "" {
		s.log.Warn("session.profile.no_token")
		s.Logout()
		return ErrNotAuthenticated
	}

	s.mu.Lock()
	s.status = StatusLoading
	s.errMsg = ""
	s.mu.Unlock()

	user, err := s.api.Profile(ctx)
	if err != nil {
		s.setFailure(err)
		s.Logout()
		return err
	}

	s.mu.Lock()
	s.user = &user
	s.status = StatusSucceeded
	s.errMsg = ""
	s.mu.Unlock()
	return nil
}

// UpdateProfile patches the profile. It tracks its own status and never
// mutates tokens.
func (s *Session) UpdateProfile(ctx context.Context, patch api.ProfilePatch) error {
	s.mu.Lock()
	if s.user == nil {
		s.mu.Unlock()
		return ErrNotAuthenticated
	}
	s.profileAction = ActionState{Loading: true}
	s.mu.Unlock()

	user, err := s.api.UpdateProfile(ctx, patch)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.profileAction = ActionState{Err: api.Normalize(err)}
		return err
	}
	s.user = &user
	s.profileAction = ActionState{}
	return nil
}

// ChangePassword changes the password; independent status, no token changes.
func (s *Session) ChangePassword(ctx context.Context, change api.PasswordChange) error {
	s.mu.Lock()
	s.passwordAction = ActionState{Loading: true}
	s.mu.Unlock()

	err := s.api.ChangePassword(ctx, change)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.passwordAction = ActionState{Err: api.Normalize(err)}
		return err
	}
	s.passwordAction = ActionState{}
	return nil
}

// Register creates an account; independent status, no token changes.
func (s *Session) Register(ctx context.Context, reg api.Registration) error {
	s.mu.Lock()
	s.registerAction = ActionState{Loading: true}
	s.mu.Unlock()

	err := s.api.Register(ctx, reg)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.registerAction = ActionState{Err: api.Normalize(err)}
		return err
	}
	s.registerAction = ActionState{}
	return nil
}

// Logout tears the session down. Idempotent. The notification channel closes
// first so a stray reconnect cannot race the credential clear; the redirect
// is skipped when already on the login route to avoid a guard loop.
func (s *Session) Logout() {
	s.mu.Lock()
	alreadyOut := s.user == nil && s.status == StatusIdle && s.tokens.AccessToken() == ""
	s.mu.Unlock()
	if alreadyOut {
		return
	}

	s.log.Info("session.logout")
	s.channel.Disconnect()

	if err := s.tokens.ClearTokens(); err != nil {
		s.log.Warn("session.logout.clear_tokens", "err", err)
	}

	s.mu.Lock()
	s.user = nil
	s.status = StatusIdle
	s.errMsg = ""
	s.initialized = false
	s.initCh = make(chan struct{})
	s.mu.Unlock()

	if s.nav.Current() != RouteLogin {
		s.nav.Replace(RouteLogin)
	}
}

// WaitInitialized blocks until the initialized latch is set or ctx ends.
func (s *Session) WaitInitialized(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.initialized {
			s.mu.Unlock()
			return nil
		}
		ch := s.initCh
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// IsAuthenticated reports whether both an access token and a user are present.
func (s *Session) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user != nil && s.tokens.AccessToken() != ""
}

// Authenticated satisfies the realtime credential interface.
func (s *Session) Authenticated() bool { return s.IsAuthenticated() }

// AccessToken satisfies the realtime credential interface.
func (s *Session) AccessToken() string { return s.tokens.AccessToken() }

// User returns a copy of the current user, or nil when logged out.
func (s *Session) User() *api.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// Role returns the current user's role, or "" when logged out.
func (s *Session) Role() api.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return ""
	}
	return s.user.Role
}

// IsAdmin reports whether the current user holds the admin role.
func (s *Session) IsAdmin() bool { return s.Role() == api.RoleAdmin }

// Status returns the lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Err returns the normalized message of the last failure, or "".
func (s *Session) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMsg
}

// IsInitialized reports the one-time initialization latch.
func (s *Session) IsInitialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// ProfileAction returns the independent update-profile action state.
func (s *Session) ProfileAction() ActionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profileAction
}

// PasswordAction returns the independent change-password action state.
func (s *Session) PasswordAction() ActionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.passwordAction
}

// RegisterAction returns the independent registration action state.
func (s *Session) RegisterAction() ActionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registerAction
}

func (s *Session) markInitialized() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		s.initialized = true
		close(s.initCh)
	}
}

func (s *Session) setFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusFailed
	s.errMsg = api.Normalize(err)
}

func (s *Session) currentUserID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return 0
	}
	return s.user.ID
}
