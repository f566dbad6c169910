package api

import (
	"context"
	"fmt"
	"time"
)

// Role is the portal user role.
type Role string

const (
	RoleStudent Role = "STUDENT"
	RoleTeacher Role = "TEACHER"
	RoleParent  Role = "PARENT"
	RoleAdmin   Role = "ADMIN"
)

// User is the authenticated-user identity as served by the backend.
type User struct {
	ID              int64     `json:"id"`
	Email           string    `json:"email"`
	FirstName       string    `json:"first_name"`
	LastName        string    `json:"last_name"`
	Patronymic      string    `json:"patronymic,omitempty"`
	Role            Role      `json:"role"`
	IsActive        bool      `json:"is_active"`
	IsRoleConfirmed bool      `json:"is_role_confirmed"`
	DateJoined      time.Time `json:"date_joined"`
}

// Credentials is the login request body.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenPair is the login/refresh response: an access token plus, for login
// and rotated refreshes, a refresh token.
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
}

// Registration is the self-registration request body.
type Registration struct {
	Email          string `json:"email"`
	Password       string `json:"password"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	Patronymic     string `json:"patronymic,omitempty"`
	Role           Role   `json:"role"`
	InvitationCode string `json:"invitation_code,omitempty"`
}

// PasswordChange is the change-password request body.
type PasswordChange struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// ProfilePatch carries the updatable profile fields; nil fields are omitted.
type ProfilePatch struct {
	FirstName  *string `json:"first_name,omitempty"`
	LastName   *string `json:"last_name,omitempty"`
	Patronymic *string `json:"patronymic,omitempty"`
}

// Login exchanges credentials for a token pair.
func (c *Client) Login(ctx context.Context, creds Credentials) (TokenPair, error) {
	var pair TokenPair
	err := c.post(ctx, pathLogin, creds, &pair)
	return pair, err
}

// Register creates a new account. It issues no tokens.
func (c *Client) Register(ctx context.Context, reg Registration) error {
	return c.post(ctx, pathRegister, reg, nil)
}

// Profile fetches the current user.
func (c *Client) Profile(ctx context.Context) (User, error) {
	var u User
	err := c.get(ctx, "/api/users/profile/", nil, &u)
	return u, err
}

// UpdateProfile partially updates the current user and returns the result.
func (c *Client) UpdateProfile(ctx context.Context, patch ProfilePatch) (User, error) {
	var u User
	err := c.patch(ctx, "/api/users/profile/", patch, &u)
	return u, err
}

// ChangePassword changes the current user's password.
func (c *Client) ChangePassword(ctx context.Context, change PasswordChange) error {
	return c.put(ctx, "/api/users/change-password/", change, nil)
}

// InvitationCode is an admin-issued registration code.
type InvitationCode struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Role      Role      `json:"role"`
	IsValid   bool      `json:"is_valid"`
	UsedBy    *int64    `json:"used_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// InvitationCodeRequest is the create-invitation request body.
type InvitationCodeRequest struct {
	Role      Role      `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AdminUsers lists all portal users (admin only).
func (c *Client) AdminUsers(ctx context.Context) ([]User, error) {
	var users []User
	err := c.get(ctx, "/api/users/admin/users/", nil, &users)
	return users, err
}

// AdminInvitations lists all invitation codes (admin only).
func (c *Client) AdminInvitations(ctx context.Context) ([]InvitationCode, error) {
	var codes []InvitationCode
	err := c.get(ctx, "/api/users/admin/invitations/", nil, &codes)
	return codes, err
}

// AdminCreateInvitation creates an invitation code (admin only).
func (c *Client) AdminCreateInvitation(ctx context.Context, req InvitationCodeRequest) (InvitationCode, error) {
	var code InvitationCode
	err := c.post(ctx, "/api/users/admin/invitations/", req, &code)
	return code, err
}

// AdminDeleteInvitation deletes an invitation code (admin only).
func (c *Client) AdminDeleteInvitation(ctx context.Context, id int64) error {
	return c.delete(ctx, fmt.Sprintf("/api/users/admin/invitations/%d/", id))
}
