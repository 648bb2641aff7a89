package auth

import (
	"context"
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

const (
	PermissionViewPayouts   = "view_payouts"
	PermissionManagePayouts = "manage_payouts"
	PermissionViewPayoutPII = "view_payout_pii"
	PermissionAdmin         = "admin"
)

// Admin is the authenticated caller of the admin API.
type Admin struct {
	ID          string   `json:"id"`
	Permissions []string `json:"permissions,omitempty"`
}

// Claims represents JWT token claims
type Claims struct {
	AdminID     string   `json:"admin_id"`
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

func (c *Claims) Admin() *Admin {
	return &Admin{ID: c.AdminID, Permissions: c.Permissions}
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
	ErrMissingToken = errors.New("missing bearer token")
)

type ctxKey string

const ContextAdminKey ctxKey = "admin"

func AdminFromContext(ctx context.Context) (*Admin, bool) {
	a, ok := ctx.Value(ContextAdminKey).(*Admin)
	return a, ok && a != nil
}

func ContextWithAdmin(ctx context.Context, admin *Admin) context.Context {
	return context.WithValue(ctx, ContextAdminKey, admin)
}
