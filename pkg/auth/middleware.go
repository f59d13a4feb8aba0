package auth

import (
	"net"
	"net/http"
	"strings"

	"chatwire/pkg/chaterr"
	"chatwire/pkg/logger"
	"chatwire/pkg/telemetry"
	"chatwire/pkg/utils"
)

// SecConfig mirrors the security-related configuration used to drive
// authentication, CORS and rate limiting behavior. Put here so limiter.go
// can reference the shared type.
type SecConfig struct {
	AllowedOrigins []string
	RPS            float64
	Burst          int
}

// AuthenticateRequestMiddleware verifies the caller token, injects the
// resolved identity into the request context and applies per-user rate
// limits. Probe, metrics and docs paths pass through unauthenticated.
func AuthenticateRequestMiddleware(cfg SecConfig) func(http.Handler) http.Handler {
	// rate limiters keyed by user id
	limiters := &limiterPool{cfg: cfg}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// log request (redacts sensitive headers)
			logger.LogRequest(r)

			// cors preflight
			origin := r.Header.Get("Origin")
			if origin != "" && OriginAllowed(origin, cfg.AllowedOrigins) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
				w.Header().Set("Access-Control-Max-Age", "600")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization,Content-Type")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			// allow unauthenticated probes, scrapes and docs
			if publicPath(r) {
				next.ServeHTTP(w, r)
				return
			}

			// resolve and verify the caller token
			authSpan := telemetry.StartSpan(r.Context(), "auth.authenticate")
			tok := BearerToken(r)
			if tok == "" {
				authSpan()
				logger.Warn("request_unauthorized", "reason", "missing_token", "path", r.URL.Path, "remote", clientIP(r))
				utils.JSONDomainError(w, chaterr.Unauthorized("missing token"))
				return
			}
			id, err := Verify(tok)
			authSpan()
			if err != nil {
				logger.Warn("request_unauthorized", "reason", chaterr.MessageOf(err), "path", r.URL.Path, "remote", clientIP(r))
				utils.JSONDomainError(w, err)
				return
			}
			logger.Debug("auth_check", "user", id.ID, "role", id.Role)

			// rate limiting
			rlSpan := telemetry.StartSpan(r.Context(), "auth.rate_limit")
			if !limiters.Allow(id.ID) {
				rlSpan()
				utils.JSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
				logger.Warn("rate_limited", "user", id.ID, "path", r.URL.Path)
				return
			}
			rlSpan()

			// log that request passed middleware checks
			logger.Info("request_allowed", "method", r.Method, "path", r.URL.Path, "user", id.ID, "role", id.Role)

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// RequireAction guards a handler with a role permission check. The auth
// middleware must have run first.
func RequireAction(action string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFromContext(r.Context())
		if !ok {
			utils.JSONDomainError(w, chaterr.Unauthorized("unauthorized"))
			return
		}
		if !Can(id.Role, action) {
			logger.Warn("request_forbidden", "user", id.ID, "role", id.Role, "action", action, "path", r.URL.Path)
			utils.JSONDomainError(w, chaterr.Forbidden("insufficient role"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// BearerToken extracts the caller token from the Authorization header or,
// for browser websocket dials that cannot set headers, from the token
// query parameter.
func BearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		if tok := strings.TrimSpace(auth[7:]); tok != "" {
			return tok
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func publicPath(r *http.Request) bool {
	if r.Method == http.MethodPost {
		// dev token mint has nothing to authenticate with yet
		return r.URL.Path == "/v1/auth/token"
	}
	if r.Method != http.MethodGet {
		return false
	}
	switch r.URL.Path {
	case "/healthz", "/readyz", "/metrics", "/openapi.yaml":
		return true
	}
	return strings.HasPrefix(r.URL.Path, "/docs/")
}

// OriginAllowed reports whether origin matches the configured allowlist.
// An empty allowlist matches nothing; "*" matches everything.
func OriginAllowed(origin string, allowed []string) bool {
	if len(allowed) == 0 {
		return false
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

func clientIP(r *http.Request) string {
	// get client ip from remoteaddr
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
