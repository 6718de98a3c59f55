package main // Entry point package

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/concert-booking/internal/config"
	"github.com/iliyamo/concert-booking/internal/database"
	"github.com/iliyamo/concert-booking/internal/handler"
	"github.com/iliyamo/concert-booking/internal/middleware"
	"github.com/iliyamo/concert-booking/internal/news"
	"github.com/iliyamo/concert-booking/internal/queue"
	"github.com/iliyamo/concert-booking/internal/repository"
	"github.com/iliyamo/concert-booking/internal/reservation"
	"github.com/iliyamo/concert-booking/internal/router"
	"github.com/iliyamo/concert-booking/internal/seatmap"
	"github.com/iliyamo/concert-booking/internal/service"
)

func newLogger(cfg config.Config) *zap.Logger {
	build := zap.NewDevelopment
	if cfg.IsProduction() {
		build = zap.NewProduction
	}
	log, err := build()
	if err != nil {
		return zap.NewExample()
	}
	return log
}

func main() {
	config.LoadDotEnv()
	cfg := config.Load() // Load environment config
	log := newLogger(cfg)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, cfg)
	if err != nil {
		log.Fatal("open database", zap.Error(err))
	}
	defer db.Close()
	if err := database.EnsureSchema(ctx, db); err != nil {
		log.Fatal("ensure schema", zap.Error(err))
	}

	// Redis is optional: without it the limiter and cache pass through.
	rdb, err := config.NewRedisClient(ctx)
	if err != nil {
		log.Warn("redis unavailable; rate limiting and caching disabled", zap.Error(err))
	} else {
		defer rdb.Close()
	}

	concerts := repository.NewConcertRepo(db)
	payments := repository.NewPaymentRepo(db)
	bookings := repository.NewBookingRepo(db)
	newsRepo := repository.NewNewsRepo(db)

	ledger := reservation.NewLedger(cfg.HoldTTL,
		reservation.WithLockWait(cfg.LockWait),
		reservation.WithLedgerLogger(log.Named("ledger")))
	scheduler := reservation.NewExpiryScheduler(ledger, log.Named("expiry"))
	defer scheduler.Stop()
	events := service.NewQueuePublisher(cfg.RabbitURL, log)
	svc := reservation.NewService(seatmap.DefaultLayout(), ledger, scheduler, concerts, payments,
		reservation.WithBookingStore(bookings),
		reservation.WithEventPublisher(events),
		reservation.WithServiceLogger(log.Named("reservation")))
	broker := news.NewBroker(news.WithStore(newsRepo), news.WithLogger(log.Named("news")))

	if err := restore(ctx, ledger, bookings, broker, newsRepo, log); err != nil {
		log.Fatal("restore state", zap.Error(err))
	}

	// background workers outlive ctx until the HTTP server has drained
	bg, stopBg := context.WithCancel(context.Background())
	defer stopBg()
	go events.Run(bg)
	go svc.RunRetries(bg, cfg.SaveRetry)
	go broker.RunEviction(bg, cfg.SubscriberIdle)

	if cfg.ConsumerEnabled {
		consumer := queue.NewBookingConsumer(cfg.RabbitURL, cfg.BookingLogPath, log)
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("booking consumer stopped", zap.Error(err))
			}
		}()
	}

	e := echo.New() // Create Echo instance
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.RequestID(), middleware.RequestLogger(log.Named("http")))

	rh := handler.NewReservationHandler(svc, log)
	nh := handler.NewNewsHandler(broker, cfg.LongPollTimeout, log)
	limiter := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, log)
	cache := middleware.NewRedisCache(config.LoadCacheConfig(), rdb, log)

	router.RegisterRoutes(e, db, handler.Stats(svc, broker))
	router.RegisterPublic(e, rh, nh, cache)
	router.RegisterCustomer(e, rh, cfg.JWTSecret, limiter)
	router.RegisterPublisher(e, nh, cfg.JWTSecret)

	addr := ":" + cfg.Port
	go func() {
		log.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.LongPollTimeout+5*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", zap.Error(err))
	}
	stopBg()

	flushCtx, cancelFlush := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelFlush()
	for _, b := range svc.RetryUnsaved(flushCtx) {
		log.Error("booking not persisted",
			zap.String("hold_id", b.HoldID),
			zap.Uint64("user_id", b.Owner),
			zap.String("partition", b.Key.String()),
			zap.Any("seats", b.Seats))
	}
}
