package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"github.com/teich/bank4/allowance"
	"github.com/teich/bank4/api"
	"github.com/teich/bank4/config"
	"github.com/teich/bank4/events"
	"github.com/teich/bank4/lock"
	"github.com/teich/bank4/store/sqlite"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, accrual scheduler and outbox relay",
	RunE:  runServe,
}

var accrueCmd = &cobra.Command{
	Use:   "accrue",
	Short: "Run one accrual batch and print the report",
	Long: `Run one accrual batch against the configured database and print the
report as JSON. Safe to run alongside a server: users paid less than
accrual.min_time_between_runs ago are skipped.`,
	RunE: runAccrue,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := sqlite.New(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer store.Close()
		log.Printf("Database ready at %s", cfg.Database.Path)
		return nil
	},
}

// =============================================================================
// WIRING
// =============================================================================

// app holds the long-lived dependencies shared by the commands.
type app struct {
	cfg    *config.Config
	store  *sqlite.Store
	engine *allowance.Engine
	redis  *redis.Client
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	engine := allowance.NewEngine(store, allowance.Config{
		MinTimeBetweenRuns:    cfg.Accrual.MinTimeBetweenRuns,
		CarryForwardRemainder: cfg.Accrual.CarryForwardRemainder,
		Concurrency:           cfg.Accrual.Concurrency,
		LockTTL:               cfg.Accrual.LockTTL,
	})
	engine.Recorder = store

	a := &app{cfg: cfg, store: store, engine: engine}
	if cfg.Redis.Addr != "" {
		client, err := lock.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			store.Close()
			return nil, err
		}
		a.redis = client
		engine.Locker = lock.NewRedisLocker(client)
		log.Printf("[Accrual] Using Redis locks at %s", cfg.Redis.Addr)
	} else {
		engine.Locker = allowance.NewMemoryLocker()
	}
	return a, nil
}

func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			log.Printf("Error closing redis: %v", err)
		}
	}
	if err := a.store.Close(); err != nil {
		log.Printf("Error closing database: %v", err)
	}
}

func (a *app) publisher() (events.Publisher, error) {
	if len(a.cfg.Kafka.Brokers) == 0 {
		return events.LogPublisher{}, nil
	}
	pub, err := events.NewKafkaPublisher(a.cfg.Kafka.Brokers)
	if err != nil {
		return nil, err
	}
	log.Printf("[Outbox] Publishing to Kafka brokers %v", a.cfg.Kafka.Brokers)
	return pub, nil
}

// =============================================================================
// COMMANDS
// =============================================================================

func runAccrue(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.engine.Run(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.cfg

	if cfg.IsProduction() && cfg.Auth.CronSecret == "" {
		log.Println("Warning: auth.cron_secret is empty; every trigger call will be rejected")
	}

	// Outbox relay
	var sender *events.Sender
	if cfg.Outbox.Enabled {
		pub, err := a.publisher()
		if err != nil {
			return err
		}
		defer pub.Close()
		sender = events.NewSender(a.store, pub)
		sender.Interval = cfg.Outbox.Interval
		sender.BatchSize = cfg.Outbox.BatchSize
		sender.MaxRetries = cfg.Outbox.MaxRetries
		sender.Start(ctx)
	}

	// Scheduler
	scheduler := api.NewAccrualScheduler(a.engine)
	scheduler.CheckInterval = cfg.Accrual.SchedulerInterval
	scheduler.Enabled = cfg.Accrual.SchedulerEnabled
	scheduler.Start()

	handler := api.NewHandler(a.store, a.engine, cfg.IsDevelopment())
	router := api.NewRouter(handler, api.RouterOptions{
		Production:     cfg.IsProduction(),
		CronSecret:     cfg.Auth.CronSecret,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server starting on http://localhost:%d (%s)", cfg.Server.Port, cfg.Environment)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		scheduler.Stop()
		if sender != nil {
			sender.Stop()
		}
		return fmt.Errorf("server failed: %w", err)
	}

	log.Println("Shutting down server...")
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	if sender != nil {
		sender.Stop()
	}

	log.Println("Server stopped")
	return nil
}
