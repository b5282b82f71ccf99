package middleware

import (
	"net/http"
	"slices"

	"github.com/labstack/echo/v4"
)

// RBAC restricts a route to tokens whose role claim is one of roles. It must
// run after Auth. Role names match exactly, so "admin" does not pass for
// "Admin".
func RBAC(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			role, _ := c.Get("role").(string)
			if role == "" || !slices.Contains(roles, role) {
				return echo.NewHTTPError(http.StatusForbidden, "your role does not grant access to this resource")
			}
			return next(c)
		}
	}
}
