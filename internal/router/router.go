package router

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-membership/internal/auth"
	"github.com/ovaphlow/pitchfork/service-membership/internal/membership"
	"github.com/ovaphlow/pitchfork/service-membership/internal/sequence"
	"github.com/ovaphlow/pitchfork/service-membership/internal/user"
	"github.com/ovaphlow/pitchfork/service-membership/pkg/utilities"
)

const apiVersion = "1.0.0"

// Deps are the handlers and middleware mounted by RegisterRoutes.
type Deps struct {
	Auth      *auth.Middleware
	Users     *user.Handler
	Members   *membership.Handler
	Sequences *sequence.Handler

	CORSOrigins []string
	Environment string
}

// loggingResponseWriter wraps http.ResponseWriter to capture status and size.
type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.status = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lrw.status == 0 {
		lrw.status = http.StatusOK
	}
	n, err := lrw.ResponseWriter.Write(b)
	lrw.size += n
	return n, err
}

// LoggingMiddleware logs every request at debug level. Bodies and the
// Authorization header are never logged.
func LoggingMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lrw := &loggingResponseWriter{ResponseWriter: w}
			next.ServeHTTP(lrw, r)
			status := lrw.status
			if status == 0 {
				status = http.StatusOK
			}
			logger.Debugw("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
				"status", status,
				"duration_ms", float64(time.Since(start).Microseconds())/1000.0,
				"size", lrw.size,
			)
		})
	}
}

// SecurityHeadersMiddleware sets conservative security headers on every
// response. HSTS is only sent over TLS.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			h.Set("Cache-Control", "no-store")
			if r.TLS != nil {
				h.Set("Strict-Transport-Security", "max-age=2592000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CORSMiddleware allows credentialed browser requests from the listed
// origins and answers preflight requests itself. A "*" entry opens the API
// to any origin but never with credentials.
func CORSMiddleware(origins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(origins))
	wildcard := false
	for _, o := range origins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			wildcard = true
			continue
		}
		if o != "" {
			allowed[o] = struct{}{}
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			h := w.Header()
			h.Add("Vary", "Origin")
			_, ok := allowed[origin]
			if !ok && !wildcard {
				if r.Method == http.MethodOptions {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			if ok {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Credentials", "true")
			} else {
				h.Set("Access-Control-Allow-Origin", "*")
			}
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
				h.Set("Access-Control-Max-Age", "600")
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RegisterRoutes mounts every endpoint on a method-pattern http.ServeMux and
// wraps it with CORS, security header and logging middleware.
func RegisterRoutes(logger *zap.SugaredLogger, d Deps) http.Handler {
	mux := http.NewServeMux()
	authed := func(h http.HandlerFunc) http.Handler { return d.Auth.Authenticated(h) }
	admin := func(h http.HandlerFunc) http.Handler { return d.Auth.Admin(h) }
	active := func(h http.HandlerFunc) http.Handler { return d.Auth.Active(h) }

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		utilities.WriteJSON(w, http.StatusOK, map[string]string{
			"message": "Membership API",
			"version": apiVersion,
			"status":  "running",
		})
	})
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		utilities.WriteJSON(w, http.StatusOK, map[string]string{
			"status":      "healthy",
			"environment": d.Environment,
		})
	})

	// auth
	mux.HandleFunc("POST /auth/register", d.Users.Register)
	mux.HandleFunc("POST /auth/login", d.Users.Login)
	mux.HandleFunc("POST /auth/verify-pin", d.Users.VerifyPIN)
	mux.Handle("POST /auth/set-pin", authed(d.Users.SetPIN))
	mux.Handle("GET /auth/me", authed(d.Users.Me))
	mux.Handle("POST /auth/unlock-account", admin(d.Users.Unlock))

	// members
	mux.Handle("POST /members/apply", authed(d.Members.Apply))
	mux.Handle("GET /members/status", authed(d.Members.Status))
	mux.Handle("GET /members/card", active(d.Members.Card))

	// admin
	mux.Handle("GET /admin/pending-requests", admin(d.Members.PendingRequests))
	mux.Handle("POST /admin/approve-request", admin(d.Members.ApproveRequest))
	mux.Handle("POST /admin/members", admin(d.Members.CreateMember))
	mux.Handle("GET /admin/member-sequences", admin(d.Sequences.List))

	return LoggingMiddleware(logger)(SecurityHeadersMiddleware()(CORSMiddleware(d.CORSOrigins)(mux)))
}
