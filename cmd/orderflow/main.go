package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/resilient-commerce/orderflow/internal/bus"
	"github.com/resilient-commerce/orderflow/internal/config"
	"github.com/resilient-commerce/orderflow/internal/consumer"
	"github.com/resilient-commerce/orderflow/internal/httpx"
	"github.com/resilient-commerce/orderflow/internal/inventory"
	"github.com/resilient-commerce/orderflow/internal/order"
	"github.com/resilient-commerce/orderflow/internal/order/app"
	"github.com/resilient-commerce/orderflow/internal/order/domain"
	"github.com/resilient-commerce/orderflow/internal/outbox"
	outboxsqlite "github.com/resilient-commerce/orderflow/internal/outbox/sqlite"
	"github.com/resilient-commerce/orderflow/internal/pkg/cache"
	"github.com/resilient-commerce/orderflow/internal/pkg/resilience"
	"github.com/resilient-commerce/orderflow/internal/pkg/telemetry"
)

func main() {
	telemetry.InitLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.SetupTracer(ctx, getEnv("OTEL_SERVICE_NAME", "orderflow"))
	if err != nil {
		slog.Error("failed to initialise tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			slog.Error("tracer shutdown error", "error", err)
		}
	}()

	cfg := config.Load()

	var store cache.Cache
	if cfg.RedisAddr != "" {
		store = cache.NewRedisCache(cfg.RedisAddr, "orderflow")
	} else {
		slog.Warn("REDIS_ADDR not set, dedupe marks are process-local")
		store = cache.NewMemoryCache("orderflow")
	}

	var outboxRepo outbox.Repository
	if cfg.OutboxPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.OutboxPath), 0o755); err != nil {
			slog.Error("failed to create outbox directory", "error", err)
			os.Exit(1)
		}
		repo, err := outboxsqlite.Open(cfg.OutboxPath)
		if err != nil {
			slog.Error("failed to open outbox store", "path", cfg.OutboxPath, "error", err)
			os.Exit(1)
		}
		defer repo.Close()
		outboxRepo = repo
	} else {
		slog.Warn("OUTBOX_DB_PATH not set, outbox is process-local")
		outboxRepo = outbox.NewMemoryRepository()
	}

	retry := resilience.RetryPolicy{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		Factor:      cfg.RetryFactor,
		MaxDelay:    cfg.RetryMaxDelay,
		Jitter:      true,
	}

	breaker := resilience.NewBreaker("inventory",
		resilience.WithFailureThreshold(cfg.BreakerFailureThreshold),
		resilience.WithResetTimeout(cfg.BreakerResetTimeout),
		resilience.WithIsFailure(func(err error) bool {
			return resilience.IsTransient(err) || errors.Is(err, context.DeadlineExceeded)
		}),
		resilience.OnStateChange(func(name string, from, to resilience.State) {
			slog.Info("circuit state change", "circuit", name, "from", from.String(), "to", to.String())
		}),
	)

	stock := inventory.NewStockService(map[string]int{
		"prod_1": 15,
		"prod_2": 10,
		"prod_3": 0,
	})
	checker := inventory.NewGuardedChecker(stock, breaker, retry, func(ctx context.Context) (context.Context, context.CancelFunc) {
		return context.WithTimeout(ctx, cfg.InventoryTimeout)
	})

	orders := order.NewMemoryRepository()
	svc := app.NewService(orders, outboxRepo, checker, store, cfg.DedupeTTL)

	broker := bus.New(cfg.MaxDeliveries, cfg.RedeliveryDelay)
	history := consumer.NewHistory()
	historyConsumer := consumer.New("history", store, cfg.DedupeTTL, history.Apply)
	for _, topic := range []string{
		domain.EventOrderCreated,
		domain.EventOrderConfirmed,
		domain.EventOrderProcessing,
		domain.EventOrderShipped,
		domain.EventOrderDelivered,
		domain.EventOrderCancelled,
	} {
		broker.Subscribe(ctx, topic, "history", historyConsumer.Handle)
	}

	relay := outbox.NewRelay(outboxRepo, broker, retry, cfg.OutboxPollInterval, cfg.OutboxBatchSize)
	relay.Start(ctx)

	handler := httpx.NewHandler(svc, breaker, history)
	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: httpx.NewRouter(handler),
	}

	go func() {
		slog.Info("orderflow HTTP server running", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	slog.Info("orderflow stopped")
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
