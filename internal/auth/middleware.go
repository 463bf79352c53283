// ABOUTME: HTTP middleware extracting bearer tokens and attaching the owner identity
// ABOUTME: Verification is optional; anonymous requests pass through with no owner

package auth

import (
	"log/slog"
	"net/http"
	"strings"
)

// Middleware verifies a Bearer token when one is presented and attaches
// the resulting owner ID to the request context. Requests without an
// Authorization header proceed anonymously; requests with an invalid
// token are rejected with 401.
//
// A nil verifier disables authentication entirely.
func Middleware(verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "auth")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if verifier == nil {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				http.Error(w, `{"detail":"Authorization header must use Bearer scheme"}`, http.StatusUnauthorized)
				return
			}

			ownerID, err := verifier.Verify(token)
			if err != nil {
				logger.Warn("token rejected", "error", err, "path", r.URL.Path)
				http.Error(w, `{"detail":"invalid or expired token"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithOwner(r.Context(), ownerID)))
		})
	}
}
