package middleware

import (
    "time"

    "github.com/google/uuid"
    "github.com/labstack/echo/v4"
    "go.uber.org/zap"
)

// RequestID propagates X-Request-ID, generating one when the client did
// not send it.
func RequestID() echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            id := c.Request().Header.Get(echo.HeaderXRequestID)
            if id == "" {
                id = uuid.NewString()
            }
            c.Set(echo.HeaderXRequestID, id)
            c.Response().Header().Set(echo.HeaderXRequestID, id)
            return next(c)
        }
    }
}

// GetRequestID returns the id stored by RequestID.
func GetRequestID(c echo.Context) string {
    id, _ := c.Get(echo.HeaderXRequestID).(string)
    return id
}

// RequestLogger logs one line per request, at error level for 5xx and
// warn level for 4xx responses.
func RequestLogger(log *zap.Logger) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            start := time.Now()
            err := next(c)
            if err != nil {
                // let the HTTP error handler write the response first
                c.Error(err)
            }

            req := c.Request()
            status := c.Response().Status
            fields := []zap.Field{
                zap.String("request_id", GetRequestID(c)),
                zap.Int("status", status),
                zap.String("method", req.Method),
                zap.String("path", req.URL.Path),
                zap.String("route", c.Path()),
                zap.String("ip", c.RealIP()),
                zap.Duration("latency", time.Since(start)),
                zap.Int64("bytes_out", c.Response().Size),
            }
            if uid, ok := UserID(c); ok {
                fields = append(fields, zap.Uint64("user_id", uid))
            }
            if err != nil {
                fields = append(fields, zap.Error(err))
            }
            switch {
            case status >= 500:
                log.Error("request failed", fields...)
            case status >= 400:
                log.Warn("request rejected", fields...)
            default:
                log.Info("request completed", fields...)
            }
            return nil
        }
    }
}
