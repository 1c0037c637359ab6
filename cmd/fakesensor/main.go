// Command fakesensor serves a simulated ESP32 /data endpoint so espmon can be
// run without the board.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
)

func main() {
	addr := flag.String("addr", ":8090", "listen address")
	seed := flag.Int64("seed", time.Now().UnixNano(), "random walk seed")
	failEvery := flag.Int("fail-every", 20, "report a failed ping every n requests (0 disables)")
	flag.Parse()

	log := slog.New(tint.NewHandler(os.Stdout, &tint.Options{TimeFormat: time.Kitchen}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:         *addr,
		Handler:      newMux(newDevice(*seed, *failEvery), log),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("fake sensor listening", "addr", *addr, "endpoint", "/data")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown", "error", err)
	}
	log.Info("fake sensor stopped")
}

func newMux(d *device, log *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/data", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		snap := d.snapshot()
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(snap); err != nil {
			log.Warn("failed to write reading", "error", err)
			return
		}
		log.Debug("served reading", "time", snap["time"], "ping", snap["ping"])
	})
	return mux
}
