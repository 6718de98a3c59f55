package middleware

import (
    "net/http"

    "github.com/labstack/echo/v4"
)

// Roles carried in the access token's role claim.
const (
    RoleCustomer  = "CUSTOMER"
    RolePublisher = "PUBLISHER"
)

// RequireRole returns a middleware that lets the request through only when
// the role stored by JWTAuth is one of roles.  Other callers get 403.
func RequireRole(roles ...string) echo.MiddlewareFunc {
    allowed := make(map[string]bool, len(roles))
    for _, r := range roles {
        allowed[r] = true
    }
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            role, ok := c.Get(ContextRole).(string)
            if !ok || !allowed[role] {
                return c.JSON(http.StatusForbidden, echo.Map{"error": "FORBIDDEN", "message": "role not allowed"})
            }
            return next(c)
        }
    }
}
