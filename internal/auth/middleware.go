package auth

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-membership/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-membership/internal/user/entity"
)

type ctxKey int

const (
	claimsKey ctxKey = iota
	userKey
)

// UserLoader fetches the current state of an account.
type UserLoader interface {
	GetByID(ctx context.Context, id string) (*entity.User, error)
}

// Middleware guards handlers with bearer token checks.
type Middleware struct {
	codec  *Codec
	users  UserLoader
	logger *zap.SugaredLogger
}

func NewMiddleware(codec *Codec, users UserLoader, logger *zap.SugaredLogger) *Middleware {
	return &Middleware{codec: codec, users: users, logger: logger}
}

// Authenticated requires a valid bearer token and stores its claims in the
// request context.
func (m *Middleware) Authenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			apperr.Respond(w, apperr.Unauthenticated("Not authenticated"))
			return
		}
		claims, err := m.codec.Parse(token)
		if err != nil {
			m.logger.Debugw("token rejected", "err", err)
			apperr.Respond(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	})
}

// Admin requires an authenticated caller whose stored role is HEAD.
func (m *Middleware) Admin(next http.Handler) http.Handler {
	return m.Authenticated(m.withUser(func(u *entity.User) error {
		if !u.IsAdmin() {
			return apperr.Forbidden("Admin access required")
		}
		return nil
	}, next))
}

// Active requires an authenticated caller whose stored status is ACTIVE.
func (m *Middleware) Active(next http.Handler) http.Handler {
	return m.Authenticated(m.withUser(func(u *entity.User) error {
		if !u.IsActive() {
			return apperr.Forbidden("Active membership required")
		}
		return nil
	}, next))
}

// withUser loads the caller from the store, applies check, and stores the
// user in the request context.
func (m *Middleware) withUser(check func(*entity.User) error, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := SubjectFromContext(r.Context())
		u, err := m.users.GetByID(r.Context(), id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				apperr.Respond(w, apperr.NotFound("User not found"))
				return
			}
			m.logger.Errorw("load current user", "user_id", id, "err", err)
			apperr.Respond(w, apperr.Internal("Failed to load user", err))
			return
		}
		if err := check(u); err != nil {
			m.logger.Infow("access denied", "user_id", id, "role", u.Role, "status", u.Status)
			apperr.Respond(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u)))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if h == "" || !strings.HasPrefix(strings.ToLower(h), "bearer ") {
		return "", false
	}
	token := strings.TrimSpace(h[len("bearer "):])
	return token, token != ""
}

// ClaimsFromContext returns the verified token claims, if any.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*Claims)
	return c, ok
}

// SubjectFromContext returns the authenticated user ID or "".
func SubjectFromContext(ctx context.Context) string {
	if c, ok := ClaimsFromContext(ctx); ok {
		return c.Subject
	}
	return ""
}

// UserFromContext returns the user loaded by Admin or Active.
func UserFromContext(ctx context.Context) (*entity.User, bool) {
	u, ok := ctx.Value(userKey).(*entity.User)
	return u, ok
}

// WithClaims returns ctx carrying claims. Handlers read it through
// SubjectFromContext.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// WithUser returns ctx carrying the loaded user.
func WithUser(ctx context.Context, u *entity.User) context.Context {
	return context.WithValue(ctx, userKey, u)
}
