package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/MrEthical07/authflow"
)

// Authenticator resolves an access token. *authflow.Engine implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*authflow.Session, error)
}

type sessionContextKey struct{}

// SessionFromContext returns the session stored by a guard.
func SessionFromContext(ctx context.Context) (*authflow.Session, bool) {
	s, ok := ctx.Value(sessionContextKey{}).(*authflow.Session)
	return s, ok && s != nil
}

// PrincipalFromContext returns the principal of the session stored by a
// guard.
func PrincipalFromContext(ctx context.Context) (authflow.Principal, bool) {
	s, ok := SessionFromContext(ctx)
	if !ok {
		return authflow.Principal{}, false
	}
	return s.Principal, true
}

// WithSession stores s in ctx. Guards call it; tests and custom guards may
// too.
func WithSession(ctx context.Context, s *authflow.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, s)
}

// Guard authenticates the bearer token and passes the request on with the
// session in its context. MFA-pending sessions are let through.
func Guard(auth Authenticator) func(http.Handler) http.Handler {
	return guard(auth, false)
}

// RequireVerified is Guard that also rejects MFA-pending sessions with 403.
func RequireVerified(auth Authenticator) func(http.Handler) http.Handler {
	return guard(auth, true)
}

func guard(auth Authenticator, verified bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth == nil {
				writeStatus(w, http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeStatus(w, http.StatusUnauthorized)
				return
			}

			ctx := withRemoteIP(r)
			session, err := auth.Authenticate(ctx, token)
			if err != nil {
				writeStatus(w, authflow.HTTPStatus(err))
				return
			}
			if verified && session.MFAPending {
				writeStatus(w, http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithSession(ctx, session)))
		})
	}
}

// RequirePermission rejects requests whose session lacks perm. It must be
// mounted inside Guard or RequireVerified.
func RequirePermission(perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s, ok := SessionFromContext(r.Context())
			if !ok {
				writeStatus(w, http.StatusUnauthorized)
				return
			}
			if !s.HasPermission(perm) {
				writeStatus(w, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP records the remote address on the request context so engine
// audit events carry it.
func ClientIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(withRemoteIP(r)))
	})
}

func withRemoteIP(r *http.Request) context.Context {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		return r.Context()
	}
	return authflow.WithClientIP(r.Context(), host)
}

func writeStatus(w http.ResponseWriter, code int) {
	http.Error(w, http.StatusText(code), code)
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
