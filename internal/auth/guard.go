package auth

import "context"

// Requirements describes what a navigation target demands.
type Requirements struct {
	Auth  bool // requires an authenticated session
	Guest bool // requires NO authenticated session (login/register pages)
	Admin bool // requires the admin role (implies Auth)
}

// Decision is the guard's verdict for one navigation.
type Decision int

const (
	Allow Decision = iota
	RedirectLogin
	RedirectHome
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case RedirectLogin:
		return "redirect-login"
	case RedirectHome:
		return "redirect-home"
	default:
		return "unknown"
	}
}

// Guard resolves navigation against the session. Every navigation blocks
// until the session has initialized, so a page refresh cannot race the
// storage hydration.
type Guard struct {
	session *Session
}

// NewGuard constructs a guard over the session.
func NewGuard(session *Session) *Guard {
	return &Guard{session: session}
}

// Decide blocks until the session is initialized, then applies the policy:
// authentication required and absent redirects to login; guest-only or
// admin-only violations redirect to the default route.
func (g *Guard) Decide(ctx context.Context, req Requirements) (Decision, error) {
	if err := g.session.WaitInitialized(ctx); err != nil {
		return RedirectLogin, err
	}

	authed := g.session.IsAuthenticated()

	switch {
	case (req.Auth || req.Admin) && !authed:
		return RedirectLogin, nil
	case req.Guest && authed:
		return RedirectHome, nil
	case req.Admin && !g.session.IsAdmin():
		return RedirectHome, nil
	default:
		return Allow, nil
	}
}
