// Package admin holds the admin-only user roster and invitation codes.
package admin

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"campus/internal/api"
)

// Store is the admin state container.
type Store struct {
	log *slog.Logger
	api *api.Client

	mu          sync.Mutex
	users       []api.User
	invitations []api.InvitationCode // valid first, then newest first
	loading     bool
	errMsg      string
}

// New wires the store.
func New(log *slog.Logger, client *api.Client) *Store {
	return &Store{log: log, api: client}
}

// FetchUsers loads the full user roster.
func (s *Store) FetchUsers(ctx context.Context) error {
	s.mu.Lock()
	if s.loading {
		s.mu.Unlock()
		return nil
	}
	s.loading = true
	s.errMsg = ""
	s.mu.Unlock()

	users, err := s.api.AdminUsers(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false
	if err != nil {
		s.errMsg = api.Normalize(err)
		return err
	}
	s.users = users
	return nil
}

// FetchInvitations loads all invitation codes.
func (s *Store) FetchInvitations(ctx context.Context) error {
	codes, err := s.api.AdminInvitations(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.errMsg = api.Normalize(err)
		return err
	}
	s.invitations = codes
	sortInvitations(s.invitations)
	s.errMsg = ""
	return nil
}

// CreateInvitation issues a code and inserts it into the listing.
func (s *Store) CreateInvitation(ctx context.Context, req api.InvitationCodeRequest) (api.InvitationCode, error) {
	code, err := s.api.AdminCreateInvitation(ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.errMsg = api.Normalize(err)
		return api.InvitationCode{}, err
	}
	s.invitations = append(s.invitations, code)
	sortInvitations(s.invitations)
	s.errMsg = ""
	return code, nil
}

// DeleteInvitation removes a code, optimistically.
func (s *Store) DeleteInvitation(ctx context.Context, id int64) error {
	s.mu.Lock()
	idx := -1
	for i := range s.invitations {
		if s.invitations[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return nil
	}
	removed := s.invitations[idx]
	s.invitations = append(s.invitations[:idx], s.invitations[idx+1:]...)
	s.mu.Unlock()

	if err := s.api.AdminDeleteInvitation(ctx, id); err != nil {
		s.mu.Lock()
		s.invitations = append(s.invitations, removed)
		sortInvitations(s.invitations)
		s.errMsg = api.Normalize(err)
		s.mu.Unlock()
		return err
	}
	return nil
}

// Users returns a copy of the roster.
func (s *Store) Users() []api.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]api.User, len(s.users))
	copy(out, s.users)
	return out
}

// Invitations returns a copy of the invitation list.
func (s *Store) Invitations() []api.InvitationCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]api.InvitationCode, len(s.invitations))
	copy(out, s.invitations)
	return out
}

// Err returns the last error message, or "".
func (s *Store) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMsg
}

// Reset drops all state; used on logout.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = nil
	s.invitations = nil
	s.errMsg = ""
}

// sortInvitations puts still-valid codes before spent ones, newest first
// within each group.
func sortInvitations(codes []api.InvitationCode) {
	sort.SliceStable(codes, func(i, j int) bool {
		if codes[i].IsValid != codes[j].IsValid {
			return codes[i].IsValid
		}
		return codes[i].CreatedAt.After(codes[j].CreatedAt)
	})
}
