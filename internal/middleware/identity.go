package middleware

import (
    "strconv"

    "github.com/labstack/echo/v4"
)

// UserID returns the caller id stored by JWTAuth.
func UserID(c echo.Context) (uint64, bool) {
    id, ok := c.Get(ContextUserID).(uint64)
    return id, ok && id != 0
}

// currentUserID renders the caller for rate limit keys; unauthenticated
// requests share the "anon" bucket of their IP.
func currentUserID(c echo.Context) string {
    if id, ok := UserID(c); ok {
        return strconv.FormatUint(id, 10)
    }
    return "anon"
}
