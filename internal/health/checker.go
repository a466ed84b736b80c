// Package health serves liveness and readiness endpoints driven by the poller.
package health

import (
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/jamesprial/netio-mcp/internal/poller"
)

// StatsSource reports poller statistics.
type StatsSource interface {
	Stats() poller.Stats
}

// Connectivity is implemented by optional components such as the MQTT bridge.
type Connectivity interface {
	IsConnected() bool
}

// Checker provides health check endpoints.
type Checker struct {
	poller     StatsSource
	components map[string]Connectivity
	maxAge     time.Duration
	logger     zerolog.Logger
	now        func() time.Time
}

// NewChecker creates a health checker. maxAge is how old the last successful
// poll may be before the service is reported not ready; zero disables the
// age check.
func NewChecker(p StatsSource, maxAge time.Duration, logger zerolog.Logger) *Checker {
	return &Checker{
		poller:     p,
		components: make(map[string]Connectivity),
		maxAge:     maxAge,
		logger:     logger.With().Str("component", "health-checker").Logger(),
		now:        time.Now,
	}
}

// AddComponent includes an optional component in the /health summary. It does
// not affect readiness.
func (c *Checker) AddComponent(name string, comp Connectivity) {
	c.components[name] = comp
}

// Response is the body of the /health endpoint.
type Response struct {
	Status      string            `json:"status"`
	Timestamp   string            `json:"timestamp"`
	Poller      string            `json:"poller"`
	Polls       uint64            `json:"polls"`
	Failed      uint64            `json:"failed_polls"`
	LastSuccess string            `json:"last_success,omitempty"`
	LastError   string            `json:"last_error,omitempty"`
	Components  map[string]string `json:"components"`
}

// Ready reports whether a poll has succeeded, the last cycle did not fail and
// the last success is recent enough.
func (c *Checker) Ready() bool {
	s := c.poller.Stats()
	if s.LastSuccess.IsZero() || s.LastFailed {
		return false
	}
	if c.maxAge > 0 && c.now().Sub(s.LastSuccess) > c.maxAge {
		return false
	}
	return true
}

// HealthHandler returns the overall health summary.
func (c *Checker) HealthHandler(w http.ResponseWriter, r *http.Request) {
	s := c.poller.Stats()

	resp := Response{
		Status:     "healthy",
		Timestamp:  c.now().UTC().Format(time.RFC3339),
		Poller:     s.State.String(),
		Polls:      s.Total,
		Failed:     s.Failed,
		Components: make(map[string]string, len(c.components)+1),
	}
	if !s.LastSuccess.IsZero() {
		resp.LastSuccess = s.LastSuccess.UTC().Format(time.RFC3339)
	}
	if s.LastError != nil {
		resp.LastError = s.LastError.Error()
	}

	resp.Components["device"] = "healthy"
	if !c.Ready() {
		resp.Components["device"] = "unhealthy"
		resp.Status = "unhealthy"
	}
	for name, comp := range c.components {
		status := "healthy"
		if !comp.IsConnected() {
			status = "unhealthy"
			if resp.Status == "healthy" {
				resp.Status = "degraded"
			}
		}
		resp.Components[name] = status
	}

	code := http.StatusOK
	if resp.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	c.write(w, code, resp)
}

// LiveHandler returns 200 while the process is running.
func (c *Checker) LiveHandler(w http.ResponseWriter, r *http.Request) {
	c.write(w, http.StatusOK, map[string]string{
		"status":    "alive",
		"timestamp": c.now().UTC().Format(time.RFC3339),
	})
}

// ReadyHandler returns 200 once the device has been read successfully.
func (c *Checker) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	status, code := "ready", http.StatusOK
	if !c.Ready() {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	c.write(w, code, map[string]string{
		"status":    status,
		"timestamp": c.now().UTC().Format(time.RFC3339),
	})
}

// Register mounts the three endpoints on mux.
func (c *Checker) Register(mux *http.ServeMux) {
	mux.HandleFunc("/health", c.HealthHandler)
	mux.HandleFunc("/health/live", c.LiveHandler)
	mux.HandleFunc("/health/ready", c.ReadyHandler)
}

func (c *Checker) write(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to write health response")
	}
}
