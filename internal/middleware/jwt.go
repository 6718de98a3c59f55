package middleware // middleware holds the echo middleware shared by the booking routes

import (
    "fmt"
    "net/http"
    "strconv"
    "strings"

    "github.com/golang-jwt/jwt/v5"
    "github.com/labstack/echo/v4"
)

// AuthCookie is the cookie browsers send the access token in when they
// cannot set an Authorization header.
const AuthCookie = "auth_token"

// Context keys set by JWTAuth.
const (
    ContextUserID = "user_id" // uint64
    ContextRole   = "role"    // string
)

// JWTAuth returns an Echo middleware that validates an HS256 access token
// and stores the caller's id and role in the request context.  The token
// is read from the Authorization header ("Bearer <jwt>") or, failing that,
// from the auth_token cookie.  Requests without a valid token are
// rejected with 401 UNAUTHENTICATED.
func JWTAuth(secret string) echo.MiddlewareFunc {
    parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
    keyFunc := func(*jwt.Token) (interface{}, error) { return []byte(secret), nil }

    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            raw := bearerToken(c)
            if raw == "" {
                return unauthenticated(c, "missing access token")
            }
            claims := jwt.MapClaims{}
            tok, err := parser.ParseWithClaims(raw, claims, keyFunc)
            if err != nil || !tok.Valid {
                return unauthenticated(c, "invalid access token")
            }
            uid, err := subject(claims)
            if err != nil {
                return unauthenticated(c, "invalid access token")
            }
            c.Set(ContextUserID, uid)
            if role, ok := claims["role"].(string); ok {
                c.Set(ContextRole, role)
            }
            return next(c)
        }
    }
}

func bearerToken(c echo.Context) string {
    if auth := c.Request().Header.Get(echo.HeaderAuthorization); strings.HasPrefix(auth, "Bearer ") {
        return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
    }
    if ck, err := c.Cookie(AuthCookie); err == nil {
        return ck.Value
    }
    return ""
}

// subject reads the numeric user id from the sub claim.  Tokens issued by
// the account service encode it as a JSON number; string ids are
// accepted as well.
func subject(claims jwt.MapClaims) (uint64, error) {
    switch v := claims["sub"].(type) {
    case float64:
        if v <= 0 || v != float64(uint64(v)) {
            return 0, fmt.Errorf("sub %v is not a user id", v)
        }
        return uint64(v), nil
    case string:
        return strconv.ParseUint(v, 10, 64)
    default:
        return 0, fmt.Errorf("sub claim missing")
    }
}

func unauthenticated(c echo.Context, msg string) error {
    return c.JSON(http.StatusUnauthorized, echo.Map{"error": "UNAUTHENTICATED", "message": msg})
}
