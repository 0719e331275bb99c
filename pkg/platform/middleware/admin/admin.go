package admin

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"enrolld/pkg/requestcontext"
)

// RequireAdminToken guards operator routes with a shared X-Admin-Token.
// The optional X-Operator header labels who performed the action.
func RequireAdminToken(expectedToken string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token := r.Header.Get("X-Admin-Token")
			// Use constant-time comparison to prevent timing attacks
			if expectedToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
				logger.WarnContext(ctx, "admin token mismatch",
					"request_id", requestcontext.RequestID(ctx),
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"admin token required"}`))
				return
			}

			operator := strings.TrimSpace(r.Header.Get("X-Operator"))
			if operator == "" {
				operator = "admin"
			}
			next.ServeHTTP(w, r.WithContext(requestcontext.WithOperator(ctx, operator)))
		})
	}
}
