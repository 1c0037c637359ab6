package server

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/nicktill/espmon/pkg/config"
	"github.com/nicktill/espmon/pkg/server/monitor"
	"github.com/nicktill/espmon/pkg/storage"
	"github.com/nicktill/espmon/pkg/storage/badger"
)

// storageWarnPercent is the disk usage that triggers a warning.
const storageWarnPercent = 90

// Go runs fn in a goroutine tracked by wg, logging when it returns. A panic
// in fn is logged and ends only that task.
func Go(ctx context.Context, wg *sync.WaitGroup, log *slog.Logger, name string, fn func(context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Error("background task panicked", "task", name, "panic", r, "stack", string(debug.Stack()))
			}
		}()
		fn(ctx)
		log.Debug("background task stopped", "task", name)
	}()
}

// RunBadgerGC runs BadgerDB garbage collection periodically to reclaim disk space.
// BadgerDB uses LSM trees which accumulate deleted data in value log.
func RunBadgerGC(ctx context.Context, store storage.Store, log *slog.Logger) {
	badgerStore, ok := store.(*badger.Storage)
	if !ok {
		log.Debug("storage is not BadgerDB, skipping GC")
		return
	}

	ticker := time.NewTicker(config.BadgerGCInterval)
	defer ticker.Stop()

	log.Info("BadgerDB GC scheduler started", "interval", config.BadgerGCInterval)

	for {
		select {
		case <-ticker.C:
			start := time.Now()

			// Run GC with 0.5 discard ratio (reclaim space if 50% of file is garbage)
			if err := badgerStore.RunGC(0.5); err != nil {
				// Not an error if no GC was needed
				log.Debug("GC completed, no rewrite needed", "took", time.Since(start).Round(time.Millisecond))
			} else {
				log.Info("GC completed, disk space reclaimed", "took", time.Since(start).Round(time.Millisecond))
			}
		case <-ctx.Done():
			log.Info("stopping BadgerDB GC scheduler")
			return
		}
	}
}

// RunStorageCheck periodically warns when disk usage nears the limit.
// Repeated warnings are suppressed until usage drops below the threshold.
func RunStorageCheck(ctx context.Context, sm *monitor.StorageMonitor, log *slog.Logger) {
	ticker := time.NewTicker(config.StorageCheckInterval)
	defer ticker.Stop()

	warned := false
	check := func() {
		status, err := sm.Status()
		if err != nil {
			log.Warn("storage check failed", "error", err)
			return
		}
		switch {
		case status.UsedPercent >= storageWarnPercent && !warned:
			log.Warn("storage nearly full",
				"used_bytes", status.UsedBytes,
				"limit_bytes", status.LimitBytes,
				"used_percent", status.UsedPercent,
			)
			warned = true
		case status.UsedPercent < storageWarnPercent && warned:
			log.Info("storage usage back under threshold", "used_percent", status.UsedPercent)
			warned = false
		}
	}

	check()
	for {
		select {
		case <-ticker.C:
			check()
		case <-ctx.Done():
			return
		}
	}
}
