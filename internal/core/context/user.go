// Package context provides request-scoped values extraction.
package context

import (
	"context"
	"slices"
)

// Roles understood by the service.
const (
	RoleStaff    = "staff"
	RoleOperator = "operator"
)

// UserContext contains the authenticated staff member.
type UserContext struct {
	UserID string
	Name   string
	Email  string
	Roles  []string
}

// DisplayName is what gets written into CREATED_BY / CANCELLED_BY.
func (u *UserContext) DisplayName() string {
	if u == nil {
		return ""
	}
	if u.Name != "" {
		return u.Name
	}
	if u.Email != "" {
		return u.Email
	}
	return u.UserID
}

type userContextKey struct{}

// WithUser adds UserContext to context.
func WithUser(ctx context.Context, user *UserContext) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

// GetUser returns UserContext from context.
func GetUser(ctx context.Context) *UserContext {
	if v, ok := ctx.Value(userContextKey{}).(*UserContext); ok {
		return v
	}
	return nil
}

// GetUserID returns user ID from context or empty string.
func GetUserID(ctx context.Context) string {
	if u := GetUser(ctx); u != nil {
		return u.UserID
	}
	return ""
}

// HasRole checks if user has specific role.
func HasRole(ctx context.Context, role string) bool {
	u := GetUser(ctx)
	if u == nil {
		return false
	}
	return slices.Contains(u.Roles, role)
}
