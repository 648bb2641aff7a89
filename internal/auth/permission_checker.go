package auth

import "context"

type PermissionChecker interface {
	CanViewPayouts(permissions []string) bool
	CanManagePayouts(permissions []string) bool
	CanViewPayoutPII(permissions []string) bool
	HasAnyPermission(permissions []string, required []string) bool
	IsAdmin(permissions []string) bool
}

type DefaultPermissionChecker struct{}

func NewPermissionChecker() *DefaultPermissionChecker {
	return &DefaultPermissionChecker{}
}

func (c *DefaultPermissionChecker) HasPermission(_ context.Context, permissions []string, permission string) (bool, error) {
	switch permission {
	case PermissionViewPayouts:
		return c.CanViewPayouts(permissions), nil
	case PermissionManagePayouts:
		return c.CanManagePayouts(permissions), nil
	case PermissionViewPayoutPII:
		return c.CanViewPayoutPII(permissions), nil
	default:
		return c.HasAnyPermission(permissions, []string{permission, PermissionAdmin}), nil
	}
}

func (c *DefaultPermissionChecker) CanViewPayouts(permissions []string) bool {
	return c.HasAnyPermission(permissions, []string{PermissionViewPayouts, PermissionManagePayouts, PermissionAdmin})
}

func (c *DefaultPermissionChecker) CanManagePayouts(permissions []string) bool {
	return c.HasAnyPermission(permissions, []string{PermissionManagePayouts, PermissionAdmin})
}

func (c *DefaultPermissionChecker) CanViewPayoutPII(permissions []string) bool {
	return c.HasAnyPermission(permissions, []string{PermissionViewPayoutPII, PermissionAdmin})
}

func (c *DefaultPermissionChecker) HasAnyPermission(permissions []string, required []string) bool {
	for _, have := range permissions {
		for _, want := range required {
			if have == want {
				return true
			}
		}
	}
	return false
}

func (c *DefaultPermissionChecker) IsAdmin(permissions []string) bool {
	return c.HasAnyPermission(permissions, []string{PermissionAdmin})
}
