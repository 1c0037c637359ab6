package export

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nicktill/espmon/pkg/config"
	"github.com/nicktill/espmon/pkg/httpx"
	"github.com/nicktill/espmon/pkg/storage"
)

// Handler handles export/import HTTP endpoints
type Handler struct {
	exporter *Exporter
	importer *Importer
	loc      *time.Location
	now      func() time.Time
	log      *slog.Logger
}

// NewHandler creates a new export/import handler
func NewHandler(store storage.Store, loc *time.Location, log *slog.Logger) *Handler {
	if loc == nil {
		loc = time.Local
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		exporter: NewExporter(store),
		importer: NewImporter(store, loc),
		loc:      loc,
		now:      time.Now,
		log:      log,
	}
}

// Exporter exposes the underlying exporter for other transports.
func (h *Handler) Exporter() *Exporter { return h.exporter }

// HandleExport handles GET /v1/export
// Query params:
//   - format: "json", "csv" or "xlsx" (default: json)
//   - from: YYYY-MM-DD (default: yesterday)
//   - to: YYYY-MM-DD (default: today)
//   - date: YYYY-MM-DD, the single day exported as xlsx (default: today)
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	format := strings.ToLower(query.Get("format"))
	if format == "" {
		format = "json"
	}

	today := storage.Day(h.now().In(h.loc))
	stamp := h.now().Format("20060102-150405")

	if format == "xlsx" {
		day, ok := h.parseDate(query.Get("date"), today)
		if !ok {
			httpx.RespondErrorString(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		data, err := h.exporter.ExportPartitionXLSX(r.Context(), day)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, storage.ErrPartitionNotFound) {
				status = http.StatusNotFound
			}
			httpx.RespondError(w, status, err)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=espmon-%s.xlsx", storage.DateKey(day)))
		w.Write(data)
		return
	}

	if format != "json" && format != "csv" {
		httpx.RespondErrorString(w, http.StatusBadRequest, "Invalid format. Must be 'json', 'csv' or 'xlsx'")
		return
	}

	to, ok := h.parseDate(query.Get("to"), today)
	if !ok {
		httpx.RespondErrorString(w, http.StatusBadRequest, "to must be YYYY-MM-DD")
		return
	}
	from, ok := h.parseDate(query.Get("from"), to.Add(-config.DefaultExportWindow))
	if !ok {
		httpx.RespondErrorString(w, http.StatusBadRequest, "from must be YYYY-MM-DD")
		return
	}
	if from.After(to) {
		httpx.RespondErrorString(w, http.StatusBadRequest, "from must not be after to")
		return
	}
	if to.Sub(from) > config.MaxExportWindow {
		httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("Date range too large. Maximum is %v", config.MaxExportWindow))
		return
	}

	opts := ExportOptions{From: from, To: to, Format: format}

	var (
		result *ExportResult
		err    error
	)
	if format == "json" {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=espmon-export-%s.json", stamp))
		result, err = h.exporter.ExportToJSON(r.Context(), w, opts)
	} else {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=espmon-export-%s.csv", stamp))
		result, err = h.exporter.ExportToCSV(r.Context(), w, opts)
	}
	if err != nil {
		h.log.Error("export failed", "format", format, "error", err)
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	h.log.Info("export complete",
		"format", format,
		"partitions", result.PartitionsExported,
		"readings", result.ReadingsExported,
		"range", result.DateRange)
}

// HandleImport handles POST /v1/import
// Accepts JSON exports and appends their readings to storage
func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		httpx.RespondErrorString(w, http.StatusBadRequest, "Content-Type must be application/json")
		return
	}

	body := http.MaxBytesReader(w, r.Body, config.MaxImportBytes)
	result, err := h.importer.ImportFromJSON(r.Context(), body)
	if err != nil {
		h.log.Error("import failed", "error", err)
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	if len(result.Errors) > 0 {
		shown := result.Errors
		if len(shown) > 10 {
			shown = shown[:10]
		}
		h.log.Warn("import completed with validation errors", "count", len(result.Errors), "first", shown)
	}
	h.log.Info("import complete",
		"readings", result.ReadingsImported,
		"partitions", result.PartitionsImported,
		"range", result.DateRange)

	httpx.RespondJSON(w, http.StatusOK, result)
}

// parseDate parses a YYYY-MM-DD parameter or returns def when empty.
func (h *Handler) parseDate(param string, def time.Time) (time.Time, bool) {
	if param == "" {
		return storage.Day(def), true
	}
	t, err := storage.ParseDateKey(param, h.loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
