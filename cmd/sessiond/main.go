// Package main is the entry point for the session daemon: it bootstraps a
// student session against the CosmicDS portal and keeps it synchronized
// until shutdown.
//
// The daemon wires the layers together:
//   - Domain: the observable session state and pluggable story state
//   - Application: the session controller orchestrating bootstrap and writes
//   - Infrastructure: the portal API client, event bus, scheduler, and the
//     optional Redis cache
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cosmicds/story-session-hub/config"
	appsession "github.com/cosmicds/story-session-hub/internal/application/session"
	sessionstate "github.com/cosmicds/story-session-hub/internal/domain/session"
	"github.com/cosmicds/story-session-hub/internal/domain/story"
	"github.com/cosmicds/story-session-hub/internal/infrastructure/external/cds"
	"github.com/cosmicds/story-session-hub/internal/infrastructure/messaging"
	"github.com/cosmicds/story-session-hub/internal/infrastructure/persistence/redis"
	"github.com/cosmicds/story-session-hub/internal/infrastructure/scheduler"
	"github.com/cosmicds/story-session-hub/pkg/circuitbreaker"
	"github.com/cosmicds/story-session-hub/pkg/logger"
	"github.com/cosmicds/story-session-hub/pkg/retry"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "sessiond: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.Setup(logger.Config{
		Level:     cfg.Observability.LogLevel,
		Format:    cfg.Observability.LogFormat,
		AddSource: cfg.App.Debug,
	})
	log.Info("starting sessiond",
		"version", cfg.App.Version,
		"environment", cfg.App.Environment,
		"story", cfg.Session.Story,
	)

	// ── Portal API client ────────────────────────────────────────────────

	// The client's hooks feed the controller's status surface; the
	// controller is built further down, so the hooks capture the variable.
	var controller *appsession.Controller

	breaker := circuitbreaker.New("portal-api",
		circuitbreaker.WithFailureThreshold(cfg.API.CircuitBreakerThreshold),
		circuitbreaker.WithSuccessThreshold(2),
		circuitbreaker.WithTimeout(cfg.API.CircuitBreakerTimeout),
		circuitbreaker.WithMaxHalfOpenRequests(cfg.API.CircuitBreakerHalfOpenMax),
		circuitbreaker.WithOnStateChange(func(name string, from, to circuitbreaker.State) {
			log.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		}),
	)
	retrier := retry.New(
		retry.WithMaxAttempts(cfg.API.MaxRetries),
		retry.WithInitialDelay(cfg.API.RetryBaseDelay),
		retry.WithMaxDelay(cfg.API.RetryMaxDelay),
	)

	client := cds.NewClient(cds.ClientConfig{
		BaseURL: cfg.API.BaseURL,
		APIKey:  cfg.API.APIKey,
		Timeout: cfg.API.RequestTimeout,
		RateLimiterConfig: cds.RateLimiterConfig{
			RequestsPerSecond: float64(cfg.API.RateLimit) / 60.0,
			BurstSize:         cfg.API.RateLimitBurst,
			MinInterval:       50 * time.Millisecond,
		},
		Breaker: breaker,
		Retrier: retrier,
		OnRequest: func(method, path string) {
			if controller != nil {
				controller.SetStatus(fmt.Sprintf("Requesting %s %s", method, path))
			}
		},
		OnResponse: func(method, path string, statusCode int, elapsed time.Duration) {
			log.Debug("portal response", "method", method, "path", path, "status", statusCode, "elapsed", elapsed)
			if controller != nil {
				controller.SetStatus(fmt.Sprintf("Received response (%d)", statusCode))
			}
		},
		Logger: log,
		Debug:  cfg.App.Debug,
	})

	// ── Event bus and story registry ─────────────────────────────────────

	bus := messaging.NewInMemoryEventBus(messaging.DefaultInMemoryEventBusConfig())
	defer bus.Close()

	registry := story.NewRegistry()
	registry.Register(cfg.Session.Story, func(_ *sessionstate.State) (story.State, error) {
		return story.NewBaseState(cfg.Session.Story), nil
	})

	// ── Optional Redis session cache ─────────────────────────────────────

	var sessionCache *redis.SessionCache
	if !cfg.Redis.Disabled {
		cache, err := redis.NewCache(redis.Config{
			Host:         cfg.Redis.Host,
			Port:         cfg.Redis.Port,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			log.Warn("redis unavailable, continuing without session cache", "error", err)
		} else {
			defer cache.Close()
			sessionCache = redis.NewSessionCache(cache)
			log.Info("session cache connected", "addr", cfg.Redis.Host)
		}
	}

	// ── Controller ───────────────────────────────────────────────────────

	controller, err = appsession.NewController(appsession.ControllerConfig{
		Story:             cfg.Session.Story,
		FallbackUsername:  cfg.Session.FallbackUsername,
		FallbackStudentID: cfg.Session.FallbackStudentID,
		OptionDebounce:    cfg.Session.OptionDebounce,
		RequestTimeout:    cfg.API.RequestTimeout,
		Client:            client,
		Bus:               bus,
		Registry:          registry,
		Cache:             sessionCache,
		Flags:             cfg.Features,
		Logger:            log,
	})
	if err != nil {
		return fmt.Errorf("create controller: %w", err)
	}

	bootstrapCtx, bootstrapCancel := context.WithTimeout(ctx, 2*time.Minute)
	defer bootstrapCancel()
	if err := controller.Bootstrap(bootstrapCtx); err != nil {
		return fmt.Errorf("bootstrap session: %w", err)
	}

	// ── Periodic maintenance ─────────────────────────────────────────────

	sched := scheduler.NewIntervalScheduler(log)
	if err := sched.Register(
		&statusReportJob{client: client, controller: controller, bus: bus, logger: log},
		scheduler.NewIntervalSchedule(time.Minute),
	); err != nil {
		return fmt.Errorf("register status job: %w", err)
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	// ── Wait for shutdown ────────────────────────────────────────────────

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		log.Info("context cancelled")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer shutdownCancel()

	if err := sched.Stop(); err != nil {
		log.Warn("scheduler stop", "error", err)
	}
	if err := controller.Close(shutdownCtx); err != nil {
		log.Error("session close", "error", err)
	}

	log.Info("sessiond stopped")
	return nil
}

// statusReportJob periodically logs the health of the session's moving
// parts: breaker and rate limiter state, event bus throughput, readiness.
type statusReportJob struct {
	client     *cds.Client
	controller *appsession.Controller
	bus        *messaging.InMemoryEventBus
	logger     *slog.Logger
}

func (j *statusReportJob) Name() string { return "status-report" }

func (j *statusReportJob) Description() string {
	return "logs portal client and event bus health"
}

func (j *statusReportJob) Run(_ context.Context) error {
	status := j.client.Status()

	attrs := []any{
		"ready", j.controller.Ready(),
		"breaker_state", status.CircuitBreaker.String(),
		"rate_tokens", status.RateLimiter.AvailableTokens,
	}
	if metrics := j.bus.Metrics(); metrics != nil {
		snap := metrics.Snapshot()
		attrs = append(attrs,
			"events_published", snap.TotalPublished,
			"handler_success_rate", snap.HandlerSuccessRate,
		)
	}

	j.logger.Info("session status", attrs...)
	return nil
}
