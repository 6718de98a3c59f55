// Package queue contains the background consumer that listens to the
// booking.confirmed queue and appends one line per confirmed booking to
// the booking log.
package queue

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "os"
    "path/filepath"
    "strings"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    "go.uber.org/zap"
)

// BookingConsumer drains booking.confirmed into a log file.
type BookingConsumer struct {
    URL     string
    LogPath string
    Log     *zap.Logger
}

// NewBookingConsumer returns a consumer for the broker at url writing to
// logPath.
func NewBookingConsumer(url, logPath string, log *zap.Logger) *BookingConsumer {
    if log == nil {
        log = zap.NewNop()
    }
    return &BookingConsumer{URL: url, LogPath: logPath, Log: log.Named("booking-consumer")}
}

// Run connects to RabbitMQ, declares the booking.confirmed queue (durable)
// and consumes messages until ctx is cancelled.  Lost connections are
// retried with exponential backoff capped at 30s.  Messages that cannot be
// handled are rejected without requeue so the loop keeps going.
func (bc *BookingConsumer) Run(ctx context.Context) error {
    backoff := time.Second
    for {
        conn, err := amqp.Dial(bc.URL)
        if err != nil {
            bc.Log.Warn("dial broker failed", zap.Error(err), zap.Duration("retry_in", backoff))
            if !sleep(ctx, backoff) {
                return ctx.Err()
            }
            if backoff < 30*time.Second {
                backoff *= 2
            }
            continue
        }
        backoff = time.Second // reset after successful connect

        err = bc.consumeLoop(ctx, conn)
        _ = conn.Close()
        if ctx.Err() != nil {
            return ctx.Err()
        }
        bc.Log.Warn("consume loop ended; reconnecting", zap.Error(err))
        if !sleep(ctx, 2*time.Second) {
            return ctx.Err()
        }
    }
}

func sleep(ctx context.Context, d time.Duration) bool {
    t := time.NewTimer(d)
    defer t.Stop()
    select {
    case <-ctx.Done():
        return false
    case <-t.C:
        return true
    }
}

func (bc *BookingConsumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
    ch, err := conn.Channel()
    if err != nil {
        return fmt.Errorf("channel open: %w", err)
    }
    defer func() { _ = ch.Close() }()

    if err := ch.Qos(50, 0, false); err != nil {
        bc.Log.Warn("set QoS failed", zap.Error(err))
    }
    if _, err := ch.QueueDeclare(BookingConfirmedQueue, true, false, false, false, nil); err != nil {
        return fmt.Errorf("queue declare: %w", err)
    }
    msgs, err := ch.ConsumeWithContext(ctx, BookingConfirmedQueue, "", false, false, false, false, nil)
    if err != nil {
        return fmt.Errorf("queue consume: %w", err)
    }

    for d := range msgs {
        if err := bc.handle(d.Body); err != nil {
            bc.Log.Error("handle message failed", zap.Error(err))
            _ = d.Nack(false, false) // reject, do not requeue to avoid tight loops
            continue
        }
        _ = d.Ack(false)
    }
    return errors.New("deliveries channel closed")
}

func (bc *BookingConsumer) handle(body []byte) error {
    var ev BookingConfirmedEvent
    if err := json.Unmarshal(body, &ev); err != nil {
        return fmt.Errorf("unmarshal: %w", err)
    }
    if err := os.MkdirAll(filepath.Dir(bc.LogPath), 0o755); err != nil {
        return fmt.Errorf("mkdir logs: %w", err)
    }
    f, err := os.OpenFile(bc.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
    if err != nil {
        return fmt.Errorf("open log file: %w", err)
    }
    defer f.Close()
    return writeLine(f, ev)
}

// writeLine renders ev as a single human-friendly log line.
func writeLine(w io.Writer, ev BookingConfirmedEvent) error {
    line := fmt.Sprintf("[%s] Booking confirmed | booking_id=%d | hold_id=%s | user_id=%d | concert_id=%d | performance=%s | band=%s | seats=[%s]\n",
        ev.ConfirmedAt, ev.BookingID, ev.HoldID, ev.UserID, ev.ConcertID, ev.PerformanceAt, ev.PriceBand, strings.Join(ev.SeatLabels, ","))
    if _, err := io.WriteString(w, line); err != nil {
        return fmt.Errorf("write log: %w", err)
    }
    return nil
}
