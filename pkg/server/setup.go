package server

import (
	"fmt"
	"log/slog"
	"net"
	"path/filepath"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nicktill/espmon/pkg/aggregate"
	"github.com/nicktill/espmon/pkg/chart"
	"github.com/nicktill/espmon/pkg/config"
	"github.com/nicktill/espmon/pkg/export"
	"github.com/nicktill/espmon/pkg/instrument"
	"github.com/nicktill/espmon/pkg/live"
	"github.com/nicktill/espmon/pkg/server/monitor"
	"github.com/nicktill/espmon/pkg/storage"
	"github.com/nicktill/espmon/pkg/storage/badger"
	"github.com/nicktill/espmon/pkg/storage/memory"
	"github.com/nicktill/espmon/pkg/storage/xlsx"
)

// badgerDir is the badger data directory under the output directory.
const badgerDir = "badger"

// OpenStore opens the partition backend selected by cfg.Store.
func OpenStore(cfg config.Config, log *slog.Logger) (storage.Store, error) {
	switch cfg.Store {
	case "xlsx":
		log.Info("initializing spreadsheet storage", "dir", cfg.OutputDir, "prefix", cfg.FilePrefix)
		return xlsx.New(xlsx.Config{
			Dir:      cfg.OutputDir,
			Prefix:   cfg.FilePrefix,
			Location: cfg.Location,
			Logger:   log,
		})
	case "badger":
		path := filepath.Join(cfg.OutputDir, badgerDir)
		log.Info("initializing BadgerDB storage with Snappy compression", "path", path, "max_memory_mb", cfg.MaxMemoryMB)
		return badger.New(badger.Config{
			Path:        path,
			MaxMemoryMB: cfg.MaxMemoryMB,
			Location:    cfg.Location,
		})
	case "memory":
		log.Warn("using in-memory storage, readings are lost on restart")
		return memory.New(cfg.Location), nil
	}
	return nil, fmt.Errorf("unknown store %q", cfg.Store)
}

// NewStorageMonitor watches the files the configured backend writes.
func NewStorageMonitor(cfg config.Config) *monitor.StorageMonitor {
	limit := cfg.MaxStorageGB * 1024 * 1024 * 1024
	if cfg.Store == "badger" {
		return monitor.NewStorageMonitor(filepath.Join(cfg.OutputDir, badgerDir), limit)
	}
	return monitor.NewStorageMonitor(cfg.OutputDir, limit, cfg.FilePrefix, cfg.AuditPrefix)
}

// Options wires the HTTP API.
type Options struct {
	Version        string
	Addr           string
	Store          storage.Store
	Aggregator     *aggregate.Aggregator
	Renderer       *chart.Renderer
	Hub            *live.Hub
	StorageMonitor *monitor.StorageMonitor
	PollMonitor    *monitor.PollMonitor
	Location       *time.Location
	Logger         *slog.Logger
}

// Server holds the API handlers and what they read from.
type Server struct {
	version  string
	store    storage.Store
	agg      *aggregate.Aggregator
	renderer *chart.Renderer
	hub      *live.Hub
	exports  *export.Handler
	disk     *monitor.StorageMonitor
	poll     *monitor.PollMonitor
	loc      *time.Location
	log      *slog.Logger
	now      func() time.Time
	started  time.Time
}

func New(opts Options) *Server {
	s := &Server{
		version:  opts.Version,
		store:    opts.Store,
		agg:      opts.Aggregator,
		renderer: opts.Renderer,
		hub:      opts.Hub,
		disk:     opts.StorageMonitor,
		poll:     opts.PollMonitor,
		loc:      opts.Location,
		log:      opts.Logger,
		now:      time.Now,
		started:  time.Now(),
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.agg == nil {
		s.agg = aggregate.New(s.store, aggregate.WithLocation(s.loc), aggregate.WithLogger(s.log))
	}
	if s.renderer == nil {
		s.renderer = chart.NewRenderer(0, 0)
	}
	s.exports = export.NewHandler(s.store, s.loc, s.log)
	return s
}

// Router builds the gorilla/mux router serving every route.
func (s *Server) Router(addr string) *mux.Router {
	router := mux.NewRouter()
	s.SetupRoutes(router, addr)
	return router
}

// SetupRoutes configures all HTTP routes for the server.
func (s *Server) SetupRoutes(router *mux.Router, addr string) {
	router.Use(instrument.Middleware)
	router.Use(logRequests(s.log))
	router.Use(corsMiddleware(portOf(addr)))

	api := router.PathPrefix("/v1").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/storage", s.handleStorage).Methods("GET")

	// Readings and partitions
	api.HandleFunc("/latest", s.handleLatest).Methods("GET")
	api.HandleFunc("/partitions", s.handlePartitions).Methods("GET")
	api.HandleFunc("/partitions/{date}", s.handlePartition).Methods("GET")

	// Window aggregation
	api.HandleFunc("/series", s.handleSeries).Methods("GET")
	api.HandleFunc("/chart", s.handleChart).Methods("GET")

	// Live readings
	if s.hub != nil {
		api.HandleFunc("/ws", s.hub.HandleWebSocket).Methods("GET")
	}

	// Export/import
	api.HandleFunc("/export", s.exports.HandleExport).Methods("GET")
	api.HandleFunc("/import", s.exports.HandleImport).Methods("POST")

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
}

func portOf(addr string) string {
	_, port, err := net.SplitHostPort(addr)
	if err != nil || port == "" {
		return "8080"
	}
	return port
}
