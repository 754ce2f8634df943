// Package auth verifies and issues the bearer tokens that carry a caller's identity,
// and validates Telegram Mini App launch data for sign-in.
package auth

import (
	"context"
	"strconv"
	"strings"
)

// Role is the database role a token asks for.
type Role string

const (
	// RoleAuthenticated is carried by tokens issued to signed-in Telegram users.
	RoleAuthenticated Role = "authenticated"
	// RoleService is carried by operator tokens used for maintenance operations.
	RoleService Role = "service_role"
)

// Identity is a verified caller. It only ever comes out of Verifier.Verify or
// a validated sign-in, and lives for a single request.
type Identity struct {
	UserID       int64  `json:"id"`
	FirstName    string `json:"first_name,omitempty"`
	LastName     string `json:"last_name,omitempty"`
	Username     string `json:"username,omitempty"`
	LanguageCode string `json:"language_code,omitempty"`
	Role         Role   `json:"role"`
}

// Subject is the identity's id as carried in the token "sub" claim.
func (i Identity) Subject() string {
	if i.Role == RoleService && i.UserID == 0 {
		return string(RoleService)
	}
	return strconv.FormatInt(i.UserID, 10)
}

// IsService reports whether the identity belongs to an operator.
func (i Identity) IsService() bool {
	return i.Role == RoleService
}

// DisplayName prefers the full name, then the username.
func (i Identity) DisplayName() string {
	name := strings.TrimSpace(i.FirstName + " " + i.LastName)
	if name != "" {
		return name
	}
	if i.Username != "" {
		return "@" + i.Username
	}
	return i.Subject()
}

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the identity stored by WithIdentity.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
