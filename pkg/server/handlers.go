package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/nicktill/espmon/pkg/aggregate"
	"github.com/nicktill/espmon/pkg/chart"
	"github.com/nicktill/espmon/pkg/config"
	"github.com/nicktill/espmon/pkg/httpx"
	"github.com/nicktill/espmon/pkg/reading"
	"github.com/nicktill/espmon/pkg/server/monitor"
	"github.com/nicktill/espmon/pkg/storage"
)

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string              `json:"status"`
	Version string              `json:"version"`
	Uptime  string              `json:"uptime"`
	Poller  *monitor.PollStatus `json:"poller,omitempty"`
}

// handleHealth reports degraded while the poller is unhealthy.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:  "healthy",
		Version: s.version,
		Uptime:  time.Since(s.started).Round(time.Second).String(),
	}
	statusCode := http.StatusOK

	if s.poll != nil {
		status := s.poll.Status()
		response.Poller = &status
		if !status.Healthy {
			response.Status = "degraded"
			statusCode = http.StatusServiceUnavailable
		}
	}

	httpx.RespondJSON(w, statusCode, response)
}

// StorageResponse combines backend statistics with disk usage.
type StorageResponse struct {
	Store *storage.Stats         `json:"store"`
	Disk  *monitor.StorageStatus `json:"disk,omitempty"`
}

func (s *Server) handleStorage(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.APIStatsTimeout)
	defer cancel()

	stats, err := s.store.Stats(ctx)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, fmt.Errorf("storage stats: %w", err))
		return
	}
	response := StorageResponse{Store: stats}

	if s.disk != nil {
		disk, err := s.disk.Status()
		if err != nil {
			s.log.Warn("failed to measure disk usage", "error", err)
		} else {
			response.Disk = &disk
		}
	}

	httpx.RespondJSON(w, http.StatusOK, response)
}

// LatestResponse is the newest reading stored today.
type LatestResponse struct {
	Reading    reading.Reading `json:"reading"`
	PingStatus string          `json:"ping_status"`
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.APIQueryTimeout)
	defer cancel()

	latest, err := storage.Latest(ctx, s.store, s.now().In(s.loc))
	if errors.Is(err, storage.ErrPartitionNotFound) {
		httpx.RespondErrorString(w, http.StatusNotFound, "no reading stored today")
		return
	}
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	httpx.RespondJSON(w, http.StatusOK, LatestResponse{Reading: latest, PingStatus: latest.PingStatus()})
}

// PartitionsResponse lists the stored days.
type PartitionsResponse struct {
	Dates []string `json:"dates"`
	Count int      `json:"count"`
}

func (s *Server) handlePartitions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.APIQueryTimeout)
	defer cancel()

	dates, err := s.store.Dates(ctx)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	response := PartitionsResponse{Dates: make([]string, 0, len(dates))}
	for _, d := range dates {
		response.Dates = append(response.Dates, storage.DateKey(d))
	}
	response.Count = len(response.Dates)
	httpx.RespondJSON(w, http.StatusOK, response)
}

// PartitionResponse is one day of readings.
type PartitionResponse struct {
	Date     string            `json:"date"`
	Count    int               `json:"count"`
	Readings []reading.Reading `json:"readings"`
}

func (s *Server) handlePartition(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["date"]
	day, err := storage.ParseDateKey(key, s.loc)
	if err != nil {
		httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("invalid date %q (use YYYY-MM-DD)", key))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.APIQueryTimeout)
	defer cancel()

	p, err := s.store.Load(ctx, day)
	if errors.Is(err, storage.ErrPartitionNotFound) {
		httpx.RespondErrorString(w, http.StatusNotFound, "no partition for "+key)
		return
	}
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	httpx.RespondJSON(w, http.StatusOK, PartitionResponse{Date: key, Count: len(p.Rows), Readings: p.Rows})
}

// SeriesResponse is one field over a window, optimized for charting.
type SeriesResponse struct {
	Window  string            `json:"window"`
	Field   string            `json:"field"`
	Loaded  []string          `json:"loaded"`
	Missing []string          `json:"missing,omitempty"`
	Dropped int               `json:"dropped"`
	Step    string            `json:"step,omitempty"`
	Points  []aggregate.Point `json:"points"`
}

// handleSeries returns ?field= over ?window= (default 1d). ?step= buckets
// the points into fixed-width averages and ?maxPoints= bounds the output.
func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	window, err := aggregate.ParseWindow(valueOr(query.Get("window"), string(aggregate.Day)))
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	field, ok := reading.ParseField(query.Get("field"))
	if !ok {
		httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("field parameter required (one of %v)", reading.Fields))
		return
	}

	var step time.Duration
	if raw := query.Get("step"); raw != "" {
		step, err = time.ParseDuration(raw)
		if err != nil || step <= 0 {
			httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("invalid step %q", raw))
			return
		}
	}

	maxPoints := config.APIDefaultMaxPoints
	if mp := query.Get("maxPoints"); mp != "" {
		parsed, err := strconv.Atoi(mp)
		if err != nil {
			httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid maxPoints: %q is not an integer", mp))
			return
		}
		if parsed <= 0 || parsed > config.APIMaxPointsLimit {
			httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("maxPoints must be between 1 and %d", config.APIMaxPointsLimit))
			return
		}
		maxPoints = parsed
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.APIQueryTimeout)
	defer cancel()

	frame, err := s.agg.Aggregate(ctx, window)
	if err != nil {
		s.respondAggregateError(w, err)
		return
	}

	points := frame.Series(field)
	if step > 0 {
		points = aggregate.FromBuckets(aggregate.Buckets(points, step))
	}
	points = aggregate.Downsample(points, maxPoints)

	response := SeriesResponse{
		Window:  string(window),
		Field:   string(field),
		Loaded:  dateKeys(frame.Loaded),
		Missing: dateKeys(frame.Missing),
		Dropped: frame.Dropped,
		Points:  points,
	}
	if step > 0 {
		response.Step = step.String()
	}

	w.Header().Set("Cache-Control", "no-cache")
	httpx.RespondJSON(w, http.StatusOK, response)
}

// handleChart renders ?kind= (default weather) over ?window= (default 1d)
// as a PNG. The ETag is the xxhash of the image.
func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	kind, err := chart.ParseKind(valueOr(query.Get("kind"), string(chart.Weather)))
	if err != nil {
		httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("invalid kind %q (allowed: %v)", query.Get("kind"), chart.Kinds))
		return
	}
	window, err := aggregate.ParseWindow(valueOr(query.Get("window"), string(aggregate.Day)))
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.APIQueryTimeout)
	defer cancel()

	frame, err := s.agg.Aggregate(ctx, window)
	if err != nil {
		s.respondAggregateError(w, err)
		return
	}
	png, err := s.renderer.RenderBytes(frame, kind)
	if err != nil {
		s.respondAggregateError(w, err)
		return
	}

	if err := httpx.RespondCached(w, r, "image/png", png); err != nil {
		s.log.Warn("failed to write chart", "error", err)
	}
}

// respondAggregateError maps aggregation and rendering failures to a status:
// bad parameters are 400, a missing day is 404, too little data is 422.
func (s *Server) respondAggregateError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, aggregate.ErrInvalidWindow), errors.Is(err, aggregate.ErrUnknownField),
		errors.Is(err, chart.ErrInvalidKind):
		status = http.StatusBadRequest
	case errors.Is(err, aggregate.ErrSourceMissing):
		status = http.StatusNotFound
	case errors.Is(err, aggregate.ErrInsufficientCoverage), errors.Is(err, aggregate.ErrNoTimestampableRows),
		errors.Is(err, chart.ErrNotEnoughPoints):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	if status == http.StatusInternalServerError {
		s.log.Error("aggregation failed", "error", err)
	}
	httpx.RespondError(w, status, err)
}

func dateKeys(days []time.Time) []string {
	keys := make([]string, 0, len(days))
	for _, d := range days {
		keys = append(keys, storage.DateKey(d))
	}
	return keys
}

func valueOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
