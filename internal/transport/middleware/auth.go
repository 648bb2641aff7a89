package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	errs "github.com/frahmantamala/partner-payout/internal"
	"github.com/frahmantamala/partner-payout/internal/auth"
	"github.com/frahmantamala/partner-payout/internal/transport"
	"github.com/frahmantamala/partner-payout/pkg/logger"
)

// Authenticate verifies the bearer token and puts the admin on the context.
func Authenticate(validator auth.TokenValidator, lg *slog.Logger) func(http.Handler) http.Handler {
	base := transport.NewBaseHandler(lg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				base.HandleError(w, errs.NewUnauthorizedError("missing bearer token", errs.ErrCodeInvalidToken))
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				if errors.Is(err, auth.ErrTokenExpired) {
					base.HandleError(w, errs.ErrTokenExpired)
					return
				}
				base.HandleError(w, errs.ErrInvalidToken)
				return
			}

			admin := claims.Admin()
			ctx := auth.ContextWithAdmin(r.Context(), admin)
			ctx = errs.ContextWithAdminID(ctx, admin.ID)
			ctx = logger.With(ctx, "admin_id", admin.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
