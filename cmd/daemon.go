package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/zjrosen/taskcore/internal/infrastructure/postgres"
	"github.com/zjrosen/taskcore/internal/log"
	"github.com/zjrosen/taskcore/internal/metrics"
	"github.com/zjrosen/taskcore/internal/notify"
	"github.com/zjrosen/taskcore/internal/taskcore/assigner"
	"github.com/zjrosen/taskcore/internal/taskcore/cache"
	"github.com/zjrosen/taskcore/internal/taskcore/deadline"
	"github.com/zjrosen/taskcore/internal/taskcore/events"
	"github.com/zjrosen/taskcore/internal/taskcore/gateway"
	"github.com/zjrosen/taskcore/internal/taskcore/intake"
	"github.com/zjrosen/taskcore/internal/taskcore/store"
	"github.com/zjrosen/taskcore/internal/tracing"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the task dispatch core: intake, assigner, deadline monitor, and reviewer gateway",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cleanupLog, err := log.Init(log.Config{JSON: true, MinLevel: log.LevelInfo})
	if err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	defer cleanupLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		ServiceName:  cfg.OTel.ServiceName,
		OTLPEndpoint: cfg.OTel.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}

	pool, err := postgres.NewPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	taskStore := store.New(pool)

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	}
	bus := events.New(rdb)

	var warningLock cache.WarningLock
	if rdb != nil {
		warningLock = cache.NewRedisWarningLock(rdb)
	} else {
		warningLock = cache.NewInProcessWarningLock()
	}

	metricsReg, promReg := metrics.NewRegistry()

	forwarder := intake.NewHTTPForwarder(cfg.HTTP.AutoApplyEndpoint)
	intakeServer := intake.New(taskStore, bus, forwarder, intake.Config{ScoreThreshold: cfg.ScoreThreshold})
	gatewayHub := gateway.NewHub(taskStore, bus, gateway.Config{PresenceTTL: cfg.PresenceTTL})
	presenceCache := cache.NewPresenceCache()
	assign := assigner.New(taskStore, bus, assigner.Config{Tick: cfg.AssignTick, SLA: cfg.SLA, MaxRetries: cfg.MaxRetries}, metricsReg, presenceCache)
	monitor := deadline.New(taskStore, bus, warningLock, deadline.Config{Tick: cfg.DeadlineTick, WarningMarks: cfg.WarningMarks}, metricsReg)

	var slackNotifier *notify.SlackNotifier
	if cfg.Slack.Token != "" {
		slackNotifier = notify.NewSlackNotifier(cfg.Slack.Token, cfg.Slack.Channel)
	}

	readiness := map[string]metrics.ReadinessCheck{
		"postgres": func(ctx context.Context) error { return pool.Ping(ctx) },
	}
	if rdb != nil {
		readiness["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	intakeSrv := &http.Server{Addr: cfg.HTTP.IntakeAddr, Handler: intakeServer.Router(cfg.HTTP.CORSOrigins)}
	gatewayMux := http.NewServeMux()
	gatewayMux.HandleFunc("/v1/gateway/{reviewer_id}", func(w http.ResponseWriter, r *http.Request) {
		gatewayHub.ServeWS(w, r, r.PathValue("reviewer_id"))
	})
	gatewaySrv := &http.Server{Addr: cfg.HTTP.GatewayAddr, Handler: gatewayMux}
	metricsSrv := &http.Server{Addr: cfg.HTTP.MetricsAddr, Handler: metrics.Handler(promReg, readiness)}

	errCh := make(chan error, 4)
	go func() { errCh <- listenAndServe(intakeSrv, "intake") }()
	go func() { errCh <- listenAndServe(gatewaySrv, "gateway") }()
	go func() { errCh <- listenAndServe(metricsSrv, "metrics") }()
	go func() {
		if err := bus.Relay(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("event bus relay stopped: %w", err)
			return
		}
		errCh <- nil
	}()
	go assign.Run(ctx)
	go monitor.Run(ctx)
	go reportBusDrops(ctx, bus, metricsReg)
	if slackNotifier != nil {
		go slackNotifier.Run(ctx, bus)
	}

	log.Info(log.CatConfig, "taskcore serve started",
		"intake_addr", cfg.HTTP.IntakeAddr, "gateway_addr", cfg.HTTP.GatewayAddr, "metrics_addr", cfg.HTTP.MetricsAddr)

	select {
	case <-ctx.Done():
		log.Info(log.CatConfig, "shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.ErrorErr(log.CatConfig, "component failed, shutting down", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = intakeSrv.Shutdown(shutdownCtx)
	_ = gatewaySrv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
	gatewayHub.Close()
	bus.Close()
	_ = taskStore.Close()
	if rdb != nil {
		_ = rdb.Close()
	}
	_ = shutdownTracing(shutdownCtx)

	log.Info(log.CatConfig, "taskcore serve stopped cleanly")
	return nil
}

// reportBusDrops periodically syncs the event bus's cumulative drop
// count into the Prometheus counter, which can only move forward.
func reportBusDrops(ctx context.Context, bus *events.Bus, m *metrics.Registry) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	var last int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current := bus.DroppedCount()
			if delta := current - last; delta > 0 {
				m.EventBusDroppedTotal.Add(float64(delta))
			}
			last = current
		}
	}
}

func listenAndServe(srv *http.Server, name string) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}
