package identity

import (
	"context"
	"errors"
	"strings"
)

// Roles accepted from the authenticating proxy.
const (
	RoleStudent = "student"
	RoleAdmin   = "admin"
)

var ErrUnauthenticated = errors.New("unauthenticated")

// Identity is the caller principal resolved by the upstream auth layer and
// forwarded via trusted headers.
type Identity struct {
	UserID    string
	StudentID string
	Email     string
	Role      string
}

func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

func (i Identity) IsStudent() bool {
	return i.Role == RoleStudent
}

type contextKey struct{}

// WithIdentity stores the caller identity in the context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the caller identity, or ErrUnauthenticated.
func FromContext(ctx context.Context) (Identity, error) {
	if ctx == nil {
		return Identity{}, ErrUnauthenticated
	}
	id, ok := ctx.Value(contextKey{}).(Identity)
	if !ok || strings.TrimSpace(id.UserID) == "" {
		return Identity{}, ErrUnauthenticated
	}
	return id, nil
}

// FromHeaders builds an identity from trusted proxy headers.
func FromHeaders(userID, studentID, email, role string) Identity {
	role = strings.ToLower(strings.TrimSpace(role))
	if role != RoleAdmin {
		role = RoleStudent
	}
	return Identity{
		UserID:    strings.TrimSpace(userID),
		StudentID: strings.TrimSpace(studentID),
		Email:     strings.TrimSpace(email),
		Role:      role,
	}
}
