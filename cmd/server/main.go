package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/event-seat-booking/internal/clock"
	"github.com/iliyamo/event-seat-booking/internal/config"
	"github.com/iliyamo/event-seat-booking/internal/database"
	"github.com/iliyamo/event-seat-booking/internal/handler"
	"github.com/iliyamo/event-seat-booking/internal/logger"
	"github.com/iliyamo/event-seat-booking/internal/payment"
	"github.com/iliyamo/event-seat-booking/internal/queue"
	"github.com/iliyamo/event-seat-booking/internal/repository"
	"github.com/iliyamo/event-seat-booking/internal/repository/memory"
	"github.com/iliyamo/event-seat-booking/internal/router"
	"github.com/iliyamo/event-seat-booking/internal/service"
	"github.com/iliyamo/event-seat-booking/internal/tracing"
	"github.com/iliyamo/event-seat-booking/internal/worker"
)

// txAttempts bounds retries of ledger transactions that hit a deadlock or
// lock wait timeout.
const txAttempts = 5

type stores struct {
	ledger    service.SeatLedger
	events    service.EventStore
	bookings  service.BookingStore
	checkouts service.CheckoutStore
	db        *sql.DB
}

func main() {
	os.Exit(serve())
}

// serve starts the process and returns its exit code once every deferred
// cleanup has run.
func serve() int {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	log, err := logger.New(cfg.Env)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer func() { _ = log.Sync() }()

	shutdownTracing, err := tracing.Configure(router.ServiceName, cfg.JaegerEndpoint)
	if err != nil {
		log.Error("configure tracing", zap.Error(err))
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(ctx)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped", zap.Error(err))
		return 1
	}
	log.Info("server stopped")
	return 0
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	clk := clock.NewSystem()

	st, err := openStores(ctx, cfg, clk, log)
	if err != nil {
		return err
	}
	if st.db != nil {
		defer st.db.Close()
	}

	rdb := config.NewRedisClient(ctx, config.LoadRedisConfig())
	if rdb == nil {
		log.Warn("redis unavailable: rate limiting disabled, reminder claims are process local")
	} else {
		defer rdb.Close()
	}

	g, ctx := errgroup.WithContext(ctx)

	var notifier service.Notifier
	switch cfg.NotifyBackend {
	case config.NotifyAMQP:
		pub := queue.NewPublisher(cfg.RabbitMQURL, cfg.NotifyQueue, log)
		defer pub.Close()
		notifier = pub
		if cfg.RunConsumer {
			consumer := queue.NewConsumer(cfg.RabbitMQURL, cfg.NotifyQueue, cfg.OutboxPath, log)
			g.Go(func() error { return consumer.Run(ctx) })
		}
	default:
		notifier = queue.NewLogNotifier(log)
	}

	gateway := payment.NewRazorpay(cfg.RazorpayKeyID, cfg.RazorpayKeySecret, payment.WithBaseURL(cfg.RazorpayBaseURL))

	flow := service.NewBookingWorkflow(service.WorkflowDeps{
		Ledger:    st.ledger,
		Events:    st.events,
		Bookings:  st.bookings,
		Checkouts: st.checkouts,
		Gateway:   gateway,
		Notifier:  notifier,
	}, service.WithHoldTTL(cfg.HoldTTL), service.WithClock(clk), service.WithLogger(log))
	catalog := service.NewCatalog(st.events, st.ledger, st.bookings, clk, log, cfg.Currency)

	var claimer worker.Claimer = worker.NewLocalClaimer()
	if rdb != nil {
		claimer = worker.NewRedisClaimer(rdb, "")
	}

	scanner := worker.NewExpiryScanner(flow, worker.ExpiryConfig{
		ScanInterval: cfg.ExpiryScanInterval,
		BatchSize:    cfg.ExpiryBatchSize,
	}, log)
	reminders := worker.NewReminderScheduler(st.bookings, st.events, notifier, claimer, clk, worker.ReminderConfig{
		Interval:  cfg.ReminderInterval,
		Lookahead: cfg.ReminderLookahead,
	}, log)
	if err := scanner.Start(ctx); err != nil {
		return err
	}
	defer scanner.Stop()
	if err := reminders.Start(ctx); err != nil {
		return err
	}
	defer reminders.Stop()

	e := router.New(router.Deps{
		Bookings:  handler.NewBookingHandler(flow, catalog),
		Events:    handler.NewEventHandler(catalog),
		JWTSecret: cfg.JWTSecret,
		RateLimit: config.LoadRateLimitConfig(),
		Redis:     rdb,
		Log:       log,
	})

	g.Go(func() error {
		addr := ":" + cfg.Port
		log.Info("listening", zap.String("addr", addr), zap.String("storage", cfg.Storage))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStores(ctx context.Context, cfg config.Config, clk clock.Clock, log *zap.Logger) (stores, error) {
	if cfg.Storage == config.StorageMemory {
		log.Warn("using in-memory storage; state is lost on restart")
		ledger := memory.NewLedger(clk)
		return stores{
			ledger:    ledger,
			events:    ledger,
			bookings:  memory.NewBookings(ledger),
			checkouts: memory.NewCheckouts(),
		}, nil
	}

	db, err := database.Open(ctx, database.DSN(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName))
	if err != nil {
		return stores{}, fmt.Errorf("open database: %w", err)
	}
	if err := database.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return stores{}, fmt.Errorf("migrate: %w", err)
	}
	return stores{
		ledger:    repository.NewSeatLedgerRepo(db, clk, txAttempts),
		events:    repository.NewEventRepo(db),
		bookings:  repository.NewBookingRepo(db),
		checkouts: repository.NewCheckoutRepo(db),
		db:        db,
	}, nil
}
