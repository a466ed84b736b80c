package health

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/jamesprial/netio-mcp/internal/poller"
)

// Compile-time interface satisfaction check.
var _ StatsSource = (*poller.Poller)(nil)

type mockStats struct {
	stats poller.Stats
}

func (m *mockStats) Stats() poller.Stats { return m.stats }

type mockConn bool

func (m mockConn) IsConnected() bool { return bool(m) }

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestChecker(stats poller.Stats, maxAge time.Duration) *Checker {
	c := NewChecker(&mockStats{stats: stats}, maxAge, zerolog.Nop())
	c.now = func() time.Time { return fixedNow }
	return c
}

func Test_Checker_Ready_Cases(t *testing.T) {
	tests := []struct {
		name   string
		stats  poller.Stats
		maxAge time.Duration
		want   bool
	}{
		{
			name:  "never polled",
			stats: poller.Stats{State: poller.StateRunning},
			want:  false,
		},
		{
			name:  "recent success",
			stats: poller.Stats{State: poller.StateRunning, Total: 3, LastSuccess: fixedNow.Add(-time.Second)},
			want:  true,
		},
		{
			name: "last cycle failed",
			stats: poller.Stats{
				State: poller.StateRunning, Total: 4, Failed: 1,
				LastSuccess: fixedNow.Add(-2 * time.Second), LastFailed: true,
				LastError: errors.New("netio: connect failed"),
			},
			want: false,
		},
		{
			name:   "stale success",
			stats:  poller.Stats{State: poller.StateRunning, LastSuccess: fixedNow.Add(-time.Minute)},
			maxAge: 10 * time.Second,
			want:   false,
		},
		{
			name:  "stale success without age limit",
			stats: poller.Stats{State: poller.StateRunning, LastSuccess: fixedNow.Add(-time.Hour)},
			want:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestChecker(tt.stats, tt.maxAge)
			if got := c.Ready(); got != tt.want {
				t.Errorf("Ready() = %v, want %v", got, tt.want)
			}

			rec := httptest.NewRecorder()
			c.ReadyHandler(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
			wantCode := http.StatusOK
			if !tt.want {
				wantCode = http.StatusServiceUnavailable
			}
			if rec.Code != wantCode {
				t.Errorf("ReadyHandler status = %d, want %d", rec.Code, wantCode)
			}
		})
	}
}

func Test_Checker_LiveHandler(t *testing.T) {
	c := newTestChecker(poller.Stats{}, 0)
	rec := httptest.NewRecorder()
	c.LiveHandler(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

func Test_Checker_HealthHandler_Cases(t *testing.T) {
	healthy := poller.Stats{State: poller.StateRunning, Total: 10, Failed: 2, LastSuccess: fixedNow}

	tests := []struct {
		name       string
		stats      poller.Stats
		components map[string]Connectivity
		wantCode   int
		wantStatus string
		wantMQTT   string
	}{
		{
			name:       "all healthy",
			stats:      healthy,
			components: map[string]Connectivity{"mqtt": mockConn(true)},
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
			wantMQTT:   "healthy",
		},
		{
			name:       "mqtt down is degraded",
			stats:      healthy,
			components: map[string]Connectivity{"mqtt": mockConn(false)},
			wantCode:   http.StatusOK,
			wantStatus: "degraded",
			wantMQTT:   "unhealthy",
		},
		{
			name:       "device down is unhealthy",
			stats:      poller.Stats{State: poller.StateRunning, LastFailed: true, LastError: errors.New("timeout")},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "unhealthy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestChecker(tt.stats, 0)
			for name, comp := range tt.components {
				c.AddComponent(name, comp)
			}

			mux := http.NewServeMux()
			c.Register(mux)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			var resp Response
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("unmarshal response: %v", err)
			}
			if resp.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", resp.Status, tt.wantStatus)
			}
			if resp.Poller != "running" {
				t.Errorf("Poller = %q, want running", resp.Poller)
			}
			if tt.wantMQTT != "" && resp.Components["mqtt"] != tt.wantMQTT {
				t.Errorf("Components[mqtt] = %q, want %q", resp.Components["mqtt"], tt.wantMQTT)
			}
			if tt.stats.LastError != nil && resp.LastError != tt.stats.LastError.Error() {
				t.Errorf("LastError = %q, want %q", resp.LastError, tt.stats.LastError.Error())
			}
		})
	}
}
