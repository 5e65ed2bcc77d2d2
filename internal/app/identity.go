package app

import (
	"context"

	"fitstatus/internal/domain"
)

type userKey struct{}

// WithUser returns a context carrying the signed-in user.
func WithUser(ctx context.Context, u *domain.User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// UserFromContext returns the user stored by WithUser, or nil.
func UserFromContext(ctx context.Context) *domain.User {
	u, _ := ctx.Value(userKey{}).(*domain.User)
	return u
}

// ContextIdentity resolves the current user from the request context.
type ContextIdentity struct{}

var _ domain.IdentityProvider = ContextIdentity{}

// CurrentUserID implements domain.IdentityProvider.
func (ContextIdentity) CurrentUserID(ctx context.Context) (string, bool) {
	u := UserFromContext(ctx)
	if u == nil || u.ID == "" {
		return "", false
	}
	return u.ID, true
}
