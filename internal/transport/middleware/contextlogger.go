package middleware

import (
	"log/slog"
	"net/http"

	"github.com/frahmantamala/partner-payout/pkg/logger"
)

// ContextLogger seeds every request context with lg. RequestID and
// Authenticate add their fields on top of it, and handlers read it back
// through BaseHandler.Log.
func ContextLogger(lg *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if lg == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(logger.NewContext(r.Context(), lg)))
		})
	}
}
