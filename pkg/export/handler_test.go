package export

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T) *Handler {
	h := NewHandler(seeded(t), time.UTC, nil)
	h.now = func() time.Time { return day2.Add(15 * time.Hour) }
	return h
}

func TestHandleExport(t *testing.T) {
	h := newTestHandler(t)

	tests := []struct {
		name        string
		query       string
		wantStatus  int
		contentType string
	}{
		{"default json covers yesterday and today", "", http.StatusOK, "application/json"},
		{"csv", "?format=csv&from=2024-03-01&to=2024-03-05", http.StatusOK, "text/csv"},
		{"xlsx for a stored day", "?format=xlsx&date=2024-03-01", http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"},
		{"xlsx for a missing day", "?format=xlsx&date=2023-01-01", http.StatusNotFound, "application/json"},
		{"bad format", "?format=parquet", http.StatusBadRequest, "application/json"},
		{"bad date", "?from=03/01/2024", http.StatusBadRequest, "application/json"},
		{"reversed range", "?from=2024-03-05&to=2024-03-01", http.StatusBadRequest, "application/json"},
		{"range too large", "?from=2023-01-01&to=2024-03-01", http.StatusBadRequest, "application/json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.HandleExport(rec, httptest.NewRequest(http.MethodGet, "/v1/export"+tt.query, nil))

			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Equal(t, tt.contentType, rec.Header().Get("Content-Type"))
		})
	}
}

func TestHandleExport_DefaultRange(t *testing.T) {
	h := newTestHandler(t)
	rec := httptest.NewRecorder()
	h.HandleExport(rec, httptest.NewRequest(http.MethodGet, "/v1/export", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"partition_count": 2`)
	assert.NotContains(t, rec.Body.String(), "2024-03-05")
}

func TestHandleImport(t *testing.T) {
	h := newTestHandler(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/import", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "text/plain")
	h.HandleImport(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/v1/import",
		strings.NewReader(`{"partitions":[{"date":"2024-03-03","readings":[{"date":"2024-03-03","time":"09:00:00","ping":"Fail"}]}]}`))
	req.Header.Set("Content-Type", "application/json")
	h.HandleImport(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"readings_imported":1`)
}
