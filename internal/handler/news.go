package handler

import (
    "context"
    "errors"
    "net/http"
    "strconv"
    "strings"
    "time"

    "github.com/labstack/echo/v4"
    "go.uber.org/zap"

    "github.com/iliyamo/concert-booking/internal/model"
    "github.com/iliyamo/concert-booking/internal/news"
)

const (
    // SubscriberCookie carries the subscriber id issued at signup.
    SubscriberCookie = "subscriber_id"
    // LastSeenCookie optionally carries the last sequence number a
    // client has processed.
    LastSeenCookie = "last_seen"
)

// NewsHandler serves the long-poll news subscription.
type NewsHandler struct {
    Broker  *news.Broker
    Timeout time.Duration // how long a subscription request stays parked
    Log     *zap.Logger
}

// NewNewsHandler constructs a NewsHandler.  A non-positive timeout
// defaults to 30 seconds.
func NewNewsHandler(b *news.Broker, timeout time.Duration, log *zap.Logger) *NewsHandler {
    if b == nil {
        panic("nil broker passed to NewNewsHandler")
    }
    if timeout <= 0 {
        timeout = 30 * time.Second
    }
    if log == nil {
        log = zap.NewNop()
    }
    return &NewsHandler{Broker: b, Timeout: timeout, Log: log}
}

// Signup handles POST /v1/news/subscriptions.  The new id is returned in
// the body and set as the subscriber_id cookie.
func (h *NewsHandler) Signup(c echo.Context) error {
    id := h.Broker.Signup()
    c.SetCookie(&http.Cookie{
        Name:     SubscriberCookie,
        Value:    id,
        Path:     "/",
        HttpOnly: true,
        SameSite: http.SameSiteLaxMode,
    })
    return c.JSON(http.StatusOK, echo.Map{"subscriber_id": id})
}

// queryOrCookie reads name from the query string, falling back to the
// cookie of the same name.
func queryOrCookie(c echo.Context, name string) string {
    if v := strings.TrimSpace(c.QueryParam(name)); v != "" {
        return v
    }
    if ck, err := c.Cookie(name); err == nil {
        return strings.TrimSpace(ck.Value)
    }
    return ""
}

// Subscribe handles GET /v1/news/subscribe.  The request is parked until
// news newer than the subscriber's cursor exists, the subscription is
// replaced or cancelled, or the timeout elapses; the body is then the
// list of new items, possibly empty.  An optional last_seen query
// parameter or cookie resumes from that sequence number.
func (h *NewsHandler) Subscribe(c echo.Context) error {
    id := queryOrCookie(c, SubscriberCookie)
    if id == "" {
        return badRequest(c, "subscriber_id is required")
    }
    var lastSeen *int64
    if v := queryOrCookie(c, LastSeenCookie); v != "" {
        n, err := strconv.ParseInt(v, 10, 64)
        if err != nil || n < 0 {
            return badRequest(c, "last_seen must be a non-negative integer")
        }
        lastSeen = &n
    }

    w := h.Broker.Register(id, lastSeen)
    timer := time.NewTimer(h.Timeout)
    defer timer.Stop()

    select {
    case items := <-w.C():
        return c.JSON(http.StatusOK, nonNil(items))
    case <-timer.C:
        return c.JSON(http.StatusOK, nonNil(h.Broker.Withdraw(id, w)))
    case <-c.Request().Context().Done():
        h.Broker.Rewind(id, w)
        h.Log.Debug("news subscriber disconnected", zap.String("subscriber_id", id))
        return nil
    }
}

func nonNil(items []model.NewsItem) []model.NewsItem {
    if items == nil {
        return []model.NewsItem{}
    }
    return items
}

// Unsubscribe handles DELETE /v1/news/subscribe/:id.  A parked request
// of the subscriber completes with an empty list.  Unknown ids are not
// an error.
func (h *NewsHandler) Unsubscribe(c echo.Context) error {
    id := c.Param("id")
    if err := h.Broker.Unsubscribe(id); err != nil && !errors.Is(err, news.ErrUnknownSubscriber) {
        return writeError(c, h.Log, err)
    }
    return c.NoContent(http.StatusNoContent)
}

// Publish handles POST /v1/news.  The item is stored before parked
// subscribers are answered; a storage failure is a 500 and nothing is
// delivered.
func (h *NewsHandler) Publish(c echo.Context) error {
    var body struct {
        Content string `json:"content"`
    }
    if err := c.Bind(&body); err != nil {
        return badRequest(c, "invalid request body")
    }
    // a cancelled insert may still commit, so let it finish
    ctx := context.WithoutCancel(c.Request().Context())
    _, err := h.Broker.Publish(ctx, strings.TrimSpace(body.Content))
    if errors.Is(err, news.ErrEmptyContent) {
        return badRequest(c, err.Error())
    }
    if err != nil {
        return writeError(c, h.Log, err)
    }
    return c.NoContent(http.StatusNoContent)
}
