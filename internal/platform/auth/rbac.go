package auth

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	RoleClient = "client"
	RoleAdmin  = "admin"
)

// RequireRole returns middleware that checks if the user has at least one of
// the specified roles. Admins pass every check.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userRoles := RolesFromContext(c.Request().Context())
			if slices.Contains(userRoles, RoleAdmin) {
				return next(c)
			}
			for _, required := range roles {
				if slices.Contains(userRoles, required) {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

// IsAdmin reports whether the authenticated user holds the admin role.
func IsAdmin(ctx context.Context) bool {
	return slices.Contains(RolesFromContext(ctx), RoleAdmin)
}
