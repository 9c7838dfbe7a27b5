package auth

import (
	"context"
	"net/http"
)

type ctxKey string

const (
	userContextKey    ctxKey = "fixpoint.auth.user"
	sessionContextKey ctxKey = "fixpoint.auth.session"
)

func withIdentity(ctx context.Context, u User, s Session) context.Context {
	ctx = context.WithValue(ctx, userContextKey, u)
	return context.WithValue(ctx, sessionContextKey, s)
}

func UserFromContext(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(userContextKey).(User)
	return u, ok
}

func SessionFromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionContextKey).(Session)
	return s, ok
}

// CurrentUser returns the user resolved by RequirePage or RequireAPI for r.
// It reports false when the request was not authenticated.
func CurrentUser(r *http.Request) (User, bool) {
	return UserFromContext(r.Context())
}
