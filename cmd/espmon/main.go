package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nicktill/espmon/pkg/aggregate"
	"github.com/nicktill/espmon/pkg/audit"
	"github.com/nicktill/espmon/pkg/bot"
	"github.com/nicktill/espmon/pkg/chart"
	"github.com/nicktill/espmon/pkg/config"
	"github.com/nicktill/espmon/pkg/live"
	"github.com/nicktill/espmon/pkg/logging"
	"github.com/nicktill/espmon/pkg/mqtt"
	"github.com/nicktill/espmon/pkg/poller"
	"github.com/nicktill/espmon/pkg/sensor"
	"github.com/nicktill/espmon/pkg/server"
	"github.com/nicktill/espmon/pkg/server/monitor"
	"github.com/nicktill/espmon/pkg/storage"
)

const appName = "espmon"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	serverReadTimeout  = 10 * time.Second
	serverWriteTimeout = 60 * time.Second
	shutdownTimeout    = 30 * time.Second
	taskStopTimeout    = 5 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg, version, appName)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("espmon stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("espmon exited cleanly")
}

// app is every long-lived component of the process.
type app struct {
	store   storage.Store
	hub     *live.Hub
	mqtt    *mqtt.Publisher
	poller  *poller.Poller
	bot     *bot.Runner
	disk    *monitor.StorageMonitor
	handler http.Handler
}

// newApp opens the store and wires the components around it. Nothing is
// started and no network connection is made.
func newApp(cfg config.Config, log *slog.Logger) (*app, error) {
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	log.Info("output directory ready", "dir", cfg.OutputDir)

	store, err := server.OpenStore(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	agg := aggregate.New(store, aggregate.WithLocation(cfg.Location), aggregate.WithLogger(log))
	renderer := chart.NewRenderer(config.BotChartRenderWidth, config.BotChartRenderHeight)
	hub := live.NewHub(log)
	pollMonitor := monitor.NewPollMonitor(cfg.PollInterval)
	disk := server.NewStorageMonitor(cfg)
	client := sensor.NewClient(cfg.SensorURL, cfg.PublicIPURL, cfg.SensorTimeout)

	a := &app{store: store, hub: hub, disk: disk}

	sinks := []poller.Sink{hub}
	if cfg.MQTT.Enabled() {
		a.mqtt = mqtt.NewPublisher(cfg.MQTT, log)
		sinks = append(sinks, a.mqtt)
	} else {
		log.Info("mqtt disabled, set ESPMON_MQTT_BROKER to publish readings")
	}

	a.poller = poller.New(poller.Config{
		Fetcher:  client,
		Store:    store,
		Sinks:    sinks,
		Recorder: pollMonitor,
		Interval: cfg.PollInterval,
		Location: cfg.Location,
		Logger:   log.With("component", "poller"),
	})

	if cfg.BotEnabled() {
		b := bot.New(bot.Config{
			Live:       client,
			Store:      store,
			Aggregator: agg,
			Renderer:   renderer,
			Audit:      audit.New(cfg.OutputDir, cfg.AuditPrefix, cfg.Location),
			FilePrefix: cfg.FilePrefix,
			AdminIDs:   cfg.AdminIDs,
			Location:   cfg.Location,
			Logger:     log.With("component", "bot"),
		})
		a.bot = bot.NewRunner(b, cfg.BotToken, cfg.BotRetry, bot.DialTelegram, log.With("component", "bot"))
	} else {
		log.Info("telegram bot disabled, set ESPMON_BOT_TOKEN to enable it")
	}

	srv := server.New(server.Options{
		Version:        version,
		Addr:           cfg.HTTPAddr,
		Store:          store,
		Aggregator:     agg,
		Renderer:       renderer,
		Hub:            hub,
		StorageMonitor: disk,
		PollMonitor:    pollMonitor,
		Location:       cfg.Location,
		Logger:         log.With("component", "http"),
	})
	a.handler = srv.Router(cfg.HTTPAddr)

	return a, nil
}

// start launches the background loops on wg.
func (a *app) start(ctx context.Context, wg *sync.WaitGroup, log *slog.Logger) {
	if a.mqtt != nil {
		connectCtx, cancel := context.WithTimeout(ctx, config.MQTTConnectTimeout)
		if err := a.mqtt.Connect(connectCtx); err != nil {
			log.Warn("mqtt connect failed, continuing and retrying in background", "error", err)
		}
		cancel()
	}

	server.Go(ctx, wg, log, "websocket hub", a.hub.Run)
	server.Go(ctx, wg, log, "poller", a.poller.Run)
	server.Go(ctx, wg, log, "storage check", func(ctx context.Context) {
		server.RunStorageCheck(ctx, a.disk, log)
	})
	server.Go(ctx, wg, log, "badger gc", func(ctx context.Context) {
		server.RunBadgerGC(ctx, a.store, log)
	})
	if a.bot != nil {
		server.Go(ctx, wg, log, "telegram bot", a.bot.Run)
	}
}

// close releases the broker connection and the store.
func (a *app) close(log *slog.Logger) {
	if a.mqtt != nil {
		a.mqtt.Disconnect()
	}
	if err := a.store.Close(); err != nil {
		log.Warn("store close failed", "error", err)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	log.Info("starting espmon",
		"sensor", cfg.SensorURL,
		"interval", cfg.PollInterval,
		"store", cfg.Store,
		"storage_limit_gb", cfg.MaxStorageGB,
		"timezone", cfg.Location.String(),
	)

	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.close(log)

	tasksCtx, cancelTasks := context.WithCancel(ctx)
	defer cancelTasks()

	var wg sync.WaitGroup
	a.start(tasksCtx, &wg, log)

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      a.handler,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			serveErr = fmt.Errorf("http server: %w", err)
		}
	}

	// Background loops stop before the server drains, so wg.Wait cannot block on them.
	log.Info("stopping background tasks")
	cancelTasks()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown", "error", err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info("all background tasks stopped")
	case <-time.After(taskStopTimeout):
		log.Warn("some background tasks did not stop in time")
	}

	return serveErr
}
