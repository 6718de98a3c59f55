// Package service publishes domain events to RabbitMQ.  Errors are logged
// and returned so callers can ignore failures without interrupting the
// main request flow.
package service

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    "go.uber.org/zap"

    "github.com/iliyamo/concert-booking/internal/model"
    q "github.com/iliyamo/concert-booking/internal/queue"
)

// ErrPublishBacklog is returned when events arrive faster than the
// broker accepts them.
var ErrPublishBacklog = errors.New("booking event backlog is full")

const (
    dialTimeout = 3 * time.Second
    backlogSize = 256
)

// amqpChannel is the part of *amqp.Channel the publisher uses.
type amqpChannel interface {
    QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
    PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
    Close() error
}

// QueuePublisher sends booking.confirmed events.  PublishBookingConfirmed
// only queues the event; Run delivers the backlog over one long-lived
// connection.
type QueuePublisher struct {
    url     string
    timeout time.Duration
    log     *zap.Logger
    dial    func(url string) (amqpChannel, func() error, error)
    events  chan model.Booking

    // owned by the goroutine running Run
    ch        amqpChannel
    closeConn func() error
}

// NewQueuePublisher returns a publisher for the broker at url.
func NewQueuePublisher(url string, log *zap.Logger) *QueuePublisher {
    if log == nil {
        log = zap.NewNop()
    }
    return &QueuePublisher{
        url:     url,
        timeout: 5 * time.Second,
        log:     log.Named("rabbitmq"),
        dial:    dialChannel,
        events:  make(chan model.Booking, backlogSize),
    }
}

func dialChannel(url string) (amqpChannel, func() error, error) {
    conn, err := amqp.DialConfig(url, amqp.Config{
        Heartbeat: 10 * time.Second,
        Locale:    "en_US",
        Dial:      amqp.DefaultDial(dialTimeout),
    })
    if err != nil {
        return nil, nil, fmt.Errorf("dial: %w", err)
    }
    ch, err := conn.Channel()
    if err != nil {
        _ = conn.Close()
        return nil, nil, fmt.Errorf("channel open: %w", err)
    }
    return ch, conn.Close, nil
}

// PublishBookingConfirmed queues b for delivery and returns at once.
func (p *QueuePublisher) PublishBookingConfirmed(_ context.Context, b model.Booking) error {
    select {
    case p.events <- b:
        return nil
    default:
        p.log.Warn("event dropped", zap.String("hold_id", b.HoldID), zap.Int("backlog", len(p.events)))
        return ErrPublishBacklog
    }
}

// Run delivers queued events until ctx is cancelled.  An event that
// cannot be delivered is logged and dropped.
func (p *QueuePublisher) Run(ctx context.Context) {
    defer p.disconnect()
    for {
        select {
        case <-ctx.Done():
            if n := len(p.events); n > 0 {
                p.log.Warn("events not delivered before shutdown", zap.Int("count", n))
            }
            return
        case b := <-p.events:
            if err := p.send(ctx, b); err != nil {
                p.log.Warn("publish failed", zap.String("hold_id", b.HoldID), zap.Error(err))
            }
        }
    }
}

// send publishes b to the booking.confirmed queue as a persistent
// message.  A failure on a reused connection is retried once on a
// fresh one.
func (p *QueuePublisher) send(ctx context.Context, b model.Booking) error {
    body, err := json.Marshal(q.NewBookingConfirmedEvent(b))
    if err != nil {
        return fmt.Errorf("marshal event: %w", err)
    }
    pub := amqp.Publishing{
        ContentType:  "application/json",
        DeliveryMode: amqp.Persistent, // store on disk
        Timestamp:    time.Now().UTC(),
        MessageId:    b.HoldID,
        Body:         body,
    }
    for {
        fresh := p.ch == nil
        if err := p.connect(); err != nil {
            return err
        }
        pctx, cancel := context.WithTimeout(ctx, p.timeout)
        err := p.ch.PublishWithContext(pctx, "", q.BookingConfirmedQueue, false, false, pub)
        cancel()
        if err == nil {
            return nil
        }
        p.disconnect()
        if fresh {
            return fmt.Errorf("publish: %w", err)
        }
    }
}

func (p *QueuePublisher) connect() error {
    if p.ch != nil {
        return nil
    }
    ch, closeConn, err := p.dial(p.url)
    if err != nil {
        p.log.Warn("connect failed", zap.Error(err))
        return err
    }
    // Ensure the queue exists (idempotent). Durable so messages survive broker restarts.
    if _, err := ch.QueueDeclare(q.BookingConfirmedQueue, true, false, false, false, nil); err != nil {
        _ = ch.Close()
        _ = closeConn()
        return fmt.Errorf("queue declare: %w", err)
    }
    p.ch, p.closeConn = ch, closeConn
    return nil
}

func (p *QueuePublisher) disconnect() {
    if p.ch == nil {
        return
    }
    _ = p.ch.Close()
    _ = p.closeConn()
    p.ch, p.closeConn = nil, nil
}
