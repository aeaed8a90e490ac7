package observability

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"
)

// ComponentStatus represents the health status of a component
type ComponentStatus string

const (
	StatusHealthy   ComponentStatus = "healthy"
	StatusUnhealthy ComponentStatus = "unhealthy"
	StatusUnknown   ComponentStatus = "unknown"
)

// Component names registered by the server.
const (
	ComponentStore     = "store"
	ComponentTransport = "transport"
	ComponentAgents    = "agents"
	ComponentWatcher   = "watcher"
)

// ComponentHealth represents the health of a single component
type ComponentHealth struct {
	Status    ComponentStatus `json:"status"`
	Message   string          `json:"message,omitempty"`
	LastCheck time.Time       `json:"last_check"`
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status     ComponentStatus            `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  time.Time                  `json:"timestamp"`
}

// HealthCheckFunc is a function that checks the health of a component
type HealthCheckFunc func(ctx context.Context) error

// HealthChecker tracks component health. Components report either by
// pushing updates or through registered check functions.
type HealthChecker struct {
	mu         sync.RWMutex
	components map[string]ComponentHealth
	checks     map[string]HealthCheckFunc
	logger     *slog.Logger
}

func NewHealthChecker(logger *slog.Logger) *HealthChecker {
	return &HealthChecker{
		components: make(map[string]ComponentHealth),
		checks:     make(map[string]HealthCheckFunc),
		logger:     logger,
	}
}

// RegisterComponent registers a component in unknown state
func (h *HealthChecker) RegisterComponent(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.components[name] = ComponentHealth{
		Status:    StatusUnknown,
		LastCheck: time.Now().UTC(),
	}
}

// RegisterCheck registers a component together with its check function.
func (h *HealthChecker) RegisterCheck(name string, check HealthCheckFunc) {
	h.RegisterComponent(name)
	h.mu.Lock()
	h.checks[name] = check
	h.mu.Unlock()
}

// UpdateComponentHealth updates the health status of a component
func (h *HealthChecker) UpdateComponentHealth(name string, status ComponentStatus, message string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.components[name] = ComponentHealth{
		Status:    status,
		Message:   message,
		LastCheck: time.Now().UTC(),
	}
}

// GetHealth returns a snapshot; overall status is healthy only when every
// component is.
func (h *HealthChecker) GetHealth() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	components := make(map[string]ComponentHealth, len(h.components))
	status := StatusHealthy
	for name, health := range h.components {
		components[name] = health
		if health.Status != StatusHealthy {
			status = StatusUnhealthy
		}
	}

	return HealthStatus{
		Status:     status,
		Components: components,
		Timestamp:  time.Now().UTC(),
	}
}

// CheckComponent runs a health check function and updates the component status
func (h *HealthChecker) CheckComponent(ctx context.Context, name string, checkFunc HealthCheckFunc) {
	if err := checkFunc(ctx); err != nil {
		h.UpdateComponentHealth(name, StatusUnhealthy, err.Error())
		h.logger.Warn("component health check failed",
			"component", name,
			"error", err)
		return
	}
	h.UpdateComponentHealth(name, StatusHealthy, "")
}

// RunChecks runs every registered check once, in name order.
func (h *HealthChecker) RunChecks(ctx context.Context) {
	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	checks := make(map[string]HealthCheckFunc, len(h.checks))
	for name, fn := range h.checks {
		names = append(names, name)
		checks[name] = fn
	}
	h.mu.RUnlock()

	sort.Strings(names)
	for _, name := range names {
		h.CheckComponent(ctx, name, checks[name])
	}
}

// StartPeriodicChecks runs registered checks immediately and then on every
// tick until ctx is cancelled.
func (h *HealthChecker) StartPeriodicChecks(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	h.RunChecks(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.RunChecks(ctx)
		}
	}
}

// HealthHandler serves the full health snapshot, 503 when unhealthy.
func (h *HealthChecker) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := h.GetHealth()
		code := http.StatusOK
		if health.Status != StatusHealthy {
			code = http.StatusServiceUnavailable
		}
		h.writeJSON(w, code, health)
	}
}

// ReadyHandler serves {"status":"ready"} once all components are healthy.
func (h *HealthChecker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.GetHealth().Status == StatusHealthy {
			h.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
			return
		}
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
	}
}

func (h *HealthChecker) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode health response", "error", err)
	}
}
