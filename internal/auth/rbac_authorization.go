package auth

import (
	"context"
	"log/slog"
	"net/http"

	errs "github.com/frahmantamala/partner-payout/internal"
	"github.com/frahmantamala/partner-payout/internal/transport"
)

type PermissionAuthorizer interface {
	HasPermission(ctx context.Context, permissions []string, permission string) (bool, error)
}

type RBACAuthorization struct {
	*transport.BaseHandler
	authorizer PermissionAuthorizer
}

func NewRBACAuthorization(authorizer PermissionAuthorizer, logger *slog.Logger) *RBACAuthorization {
	return &RBACAuthorization{
		BaseHandler: transport.NewBaseHandler(logger),
		authorizer:  authorizer,
	}
}

func (ra *RBACAuthorization) Check(next http.HandlerFunc, permission string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		admin, ok := AdminFromContext(r.Context())
		if !ok {
			ra.Log(r.Context()).Warn("authorization check failed: admin not found in context")
			ra.HandleError(w, errs.NewUnauthorizedError("authentication required", errs.ErrCodeInvalidToken))
			return
		}

		allowed, err := ra.authorizer.HasPermission(r.Context(), admin.Permissions, permission)
		if err != nil {
			ra.Log(r.Context()).Error("authorization check failed", "error", err, "permission", permission)
			ra.HandleError(w, errs.NewInternalError("authorization check failed", err))
			return
		}

		if !allowed {
			ra.Log(r.Context()).Warn("access denied: insufficient permissions",
				"required_permission", permission,
				"admin_permissions", admin.Permissions)
			ra.HandleError(w, errs.ErrUnauthorizedAccess)
			return
		}

		next.ServeHTTP(w, r)
	}
}

func (ra *RBACAuthorization) Middleware(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return ra.Check(next.ServeHTTP, permission)
	}
}

func (ra *RBACAuthorization) RequireViewPayouts() func(http.Handler) http.Handler {
	return ra.Middleware(PermissionViewPayouts)
}

func (ra *RBACAuthorization) RequireManagePayouts() func(http.Handler) http.Handler {
	return ra.Middleware(PermissionManagePayouts)
}

// Allowed is for handlers that branch on a permission rather than reject.
func (ra *RBACAuthorization) Allowed(ctx context.Context, permission string) bool {
	admin, ok := AdminFromContext(ctx)
	if !ok {
		return false
	}
	allowed, err := ra.authorizer.HasPermission(ctx, admin.Permissions, permission)
	if err != nil {
		ra.Log(ctx).Error("authorization check failed", "error", err, "permission", permission)
		return false
	}
	return allowed
}
