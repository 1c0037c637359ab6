package sensor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nicktill/espmon/pkg/reading"
)

const payload = `{"time":"10:00:00","date":"2024-03-01","localTemperature":22.5,
"localHumidity":41,"internetTemperature":18,"internetHumidity":60,"buy_price":1,
"sell_price":2,"gold_price":3,"ping":14,"devices":5}`

func TestClient_Fetch(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantErr     bool
		wantMissing bool
	}{
		{name: "valid payload", status: http.StatusOK, body: payload},
		{name: "server error", status: http.StatusInternalServerError, body: "boom", wantErr: true},
		{name: "not json", status: http.StatusOK, body: "<html>", wantErr: true},
		{name: "missing keys", status: http.StatusOK, body: `{"time":"10:00:00"}`, wantErr: true, wantMissing: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodGet {
					t.Errorf("Expected GET, got %s", r.Method)
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c := NewClient(server.URL, "", time.Second)
			r, err := c.Fetch(context.Background())

			if (err != nil) != tt.wantErr {
				t.Fatalf("Fetch() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantMissing && !errors.Is(err, reading.ErrMissingKey) {
				t.Errorf("Expected ErrMissingKey, got %v", err)
			}
			if err == nil && r.Value(reading.LocalTemperature) != "22.5" {
				t.Errorf("Expected local temperature 22.5, got %q", r.Value(reading.LocalTemperature))
			}
		})
	}
}

func TestClient_FetchTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(payload))
	}))
	defer server.Close()

	c := NewClient(server.URL, "", 50*time.Millisecond)
	if _, err := c.Fetch(context.Background()); err == nil {
		t.Fatal("Expected timeout error")
	}
}

func TestClient_PublicIP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ip":"203.0.113.7"}`))
	}))
	defer server.Close()

	c := NewClient("", server.URL, time.Second)
	if ip := c.PublicIP(context.Background()); ip != "203.0.113.7" {
		t.Errorf("Expected 203.0.113.7, got %q", ip)
	}

	down := NewClient("", "http://127.0.0.1:1", time.Second)
	if ip := down.PublicIP(context.Background()); ip != "N/A" {
		t.Errorf("Expected N/A when lookup fails, got %q", ip)
	}
}
