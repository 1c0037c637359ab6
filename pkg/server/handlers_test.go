package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/espmon/pkg/aggregate"
	"github.com/nicktill/espmon/pkg/chart"
	"github.com/nicktill/espmon/pkg/reading"
	"github.com/nicktill/espmon/pkg/server/monitor"
	"github.com/nicktill/espmon/pkg/storage/memory"
)

var now = time.Date(2024, 3, 30, 18, 0, 0, 0, time.UTC)

type testServer struct {
	router *mux.Router
	store  *memory.Storage
	poll   *monitor.PollMonitor
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := memory.New(time.UTC)
	poll := monitor.NewPollMonitor(time.Minute)
	clock := func() time.Time { return now }

	s := New(Options{
		Version:        "test",
		Store:          store,
		Aggregator:     aggregate.New(store, aggregate.WithClock(clock), aggregate.WithLocation(time.UTC)),
		Renderer:       chart.NewRenderer(400, 200),
		StorageMonitor: monitor.NewStorageMonitor(t.TempDir(), 1<<30),
		PollMonitor:    poll,
		Location:       time.UTC,
	})
	s.now = clock
	return &testServer{router: s.Router(":8080"), store: store, poll: poll}
}

// seed stores one reading every 10 minutes over the last hours of daysAgo.
func (ts *testServer) seed(t *testing.T, daysAgo int, count int) {
	t.Helper()
	day := now.AddDate(0, 0, -daysAgo)
	for i := 0; i < count; i++ {
		at := day.Add(-time.Duration(count-1-i) * 10 * time.Minute)
		r := reading.Reading{
			Date: at.Format("2006-01-02"),
			Time: at.Format("15:04:05"),
			Values: map[reading.Field]string{
				reading.LocalTemperature: fmt.Sprint(20 + i%5),
				reading.LocalHumidity:    "40",
				reading.GoldPrice:        fmt.Sprint(1000 + i),
				reading.Ping:             "12",
			},
		}
		require.NoError(t, ts.store.Append(context.Background(), at, r))
	}
}

func (ts *testServer) get(t *testing.T, target string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.get(t, "/v1/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var health HealthResponse
	decode(t, rec, &health)
	assert.Equal(t, "degraded", health.Status)

	ts.poll.RecordSuccess("2024-03-30 18:00:00")
	rec = ts.get(t, "/v1/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &health)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "test", health.Version)
	require.NotNil(t, health.Poller)
	assert.Equal(t, "2024-03-30 18:00:00", health.Poller.LastReading)
}

func TestLatest(t *testing.T) {
	ts := newTestServer(t)
	assert.Equal(t, http.StatusNotFound, ts.get(t, "/v1/latest").Code)

	ts.seed(t, 0, 3)
	rec := ts.get(t, "/v1/latest")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Reading    map[string]string `json:"reading"`
		PingStatus string            `json:"ping_status"`
	}
	decode(t, rec, &body)
	assert.Equal(t, "18:00:00", body.Reading["time"])
	assert.Equal(t, "Success", body.PingStatus)
}

func TestPartitions(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, 1, 2)
	ts.seed(t, 0, 3)

	var list PartitionsResponse
	rec := ts.get(t, "/v1/partitions")
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &list)
	assert.Equal(t, []string{"2024-03-29", "2024-03-30"}, list.Dates)
	assert.Equal(t, 2, list.Count)

	var part PartitionResponse
	rec = ts.get(t, "/v1/partitions/2024-03-29")
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &part)
	assert.Equal(t, 2, part.Count)

	assert.Equal(t, http.StatusNotFound, ts.get(t, "/v1/partitions/2024-01-01").Code)
	assert.Equal(t, http.StatusBadRequest, ts.get(t, "/v1/partitions/30-03-2024").Code)
}

func TestSeries(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, 0, 12)

	rec := ts.get(t, "/v1/series?window=1d&field=gold_price")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var series SeriesResponse
	decode(t, rec, &series)
	assert.Equal(t, "1d", series.Window)
	assert.Equal(t, "gold_price", series.Field)
	assert.Equal(t, []string{"2024-03-30"}, series.Loaded)
	require.Len(t, series.Points, 12)
	assert.Equal(t, 1000.0, series.Points[0].Value)
	assert.Equal(t, now.UnixMilli(), series.Points[11].Timestamp)
}

func TestSeries_HourWindowAndStep(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, 0, 12)

	var series SeriesResponse
	rec := ts.get(t, "/v1/series?window=hour&field=gold_price")
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &series)
	assert.Len(t, series.Points, 7, "rows from 17:00 to 18:00 inclusive")

	rec = ts.get(t, "/v1/series?window=1d&field=gold_price&step=30m")
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &series)
	assert.Equal(t, "30m0s", series.Step)
	assert.Len(t, series.Points, 4)
	assert.Equal(t, 1001.0, series.Points[0].Value, "average of the first three readings")

	rec = ts.get(t, "/v1/series?window=1d&field=gold_price&maxPoints=3")
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &series)
	assert.LessOrEqual(t, len(series.Points), 3)
}

func TestSeries_Errors(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, 0, 3)

	tests := []struct {
		name   string
		target string
		want   int
	}{
		{"invalid window", "/v1/series?window=2y&field=ping", http.StatusBadRequest},
		{"missing field", "/v1/series?window=1d", http.StatusBadRequest},
		{"unknown field", "/v1/series?window=1d&field=pressure", http.StatusBadRequest},
		{"bad step", "/v1/series?window=1d&field=ping&step=soon", http.StatusBadRequest},
		{"bad maxPoints", "/v1/series?window=1d&field=ping&maxPoints=0", http.StatusBadRequest},
		{"insufficient coverage", "/v1/series?window=1w&field=ping", http.StatusUnprocessableEntity},
		{"insufficient month", "/v1/series?window=month&field=ping", http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.get(t, tt.target)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestSeries_SourceMissing(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, 1, 3)

	rec := ts.get(t, "/v1/series?window=1d&field=ping")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "2024-03-30")
}

func TestChart(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, 0, 12)

	rec := ts.get(t, "/v1/chart?kind=gold&window=1d")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, []byte("\x89PNG"), rec.Body.Bytes()[:4])

	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)

	rec = ts.get(t, "/v1/chart?kind=gold&window=1d", "If-None-Match", etag)
	assert.Equal(t, http.StatusNotModified, rec.Code)
	assert.Empty(t, rec.Body.Bytes())

	assert.Equal(t, http.StatusBadRequest, ts.get(t, "/v1/chart?kind=silver").Code)
	assert.Equal(t, http.StatusUnprocessableEntity, ts.get(t, "/v1/chart?kind=dollar&window=1d").Code,
		"no dollar prices were stored")
}

func TestStorage(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, 0, 3)

	rec := ts.get(t, "/v1/storage")
	require.Equal(t, http.StatusOK, rec.Code)

	var body StorageResponse
	decode(t, rec, &body)
	require.NotNil(t, body.Store)
	assert.Equal(t, 1, body.Store.Partitions)
	assert.Equal(t, uint64(3), body.Store.TotalReadings)
	require.NotNil(t, body.Disk)
	assert.Equal(t, int64(1<<30), body.Disk.LimitBytes)
}

func TestExportRoute(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, 0, 3)

	rec := ts.get(t, "/v1/export?format=csv&from=2024-03-30&to=2024-03-30")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "Local Temperature")
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.get(t, "/v1/partitions")

	rec := ts.get(t, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `http_requests_total{method="GET",route="/v1/partitions",status="200"}`)
}

func TestCORS(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.get(t, "/v1/partitions", "Origin", "http://localhost:8080")
	assert.Equal(t, "http://localhost:8080", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = ts.get(t, "/v1/partitions", "Origin", "http://evil.example")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
