// Package health reports whether a run is making progress: a database is
// open on the device and no descriptor pool is close to running dry.
//
// Liveness only says the process answers. Readiness requires an open
// database. The detailed report looks like:
//
//	{
//	  "status": "degraded",
//	  "checks": {
//	    "device": "healthy",
//	    "pools": "degraded"
//	  }
//	}
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/piwi3910/kvbench/internal/pool"
)

// Status is the outcome of a check or of the whole report.
type Status string

const (
	// StatusHealthy means every check passed.
	StatusHealthy Status = "healthy"
	// StatusDegraded indicates some checks failed but the run can continue.
	StatusDegraded Status = "degraded"
	// StatusUnhealthy means the run cannot make progress.
	StatusUnhealthy Status = "unhealthy"
)

// pressureRatio is the share of a pool in use above which it is degraded.
const pressureRatio = 0.9

// Check is the result of one named check.
type Check struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthStatus is a full report, cached for the checker's TTL.
type HealthStatus struct {
	Timestamp time.Time        `json:"timestamp"`
	Checks    map[string]Check `json:"checks"`
	Status    Status           `json:"status"`
}

// Database is the view of an open database the checker needs.
type Database interface {
	ID() int
	PoolStats() []pool.Stats
}

// Source lists the databases currently open.
type Source func() []Database

// Checker evaluates the open databases.
type Checker struct {
	cacheExpiry  time.Time
	source       Source
	cachedStatus *HealthStatus
	cacheTTL     time.Duration
	mu           sync.RWMutex
}

// NewChecker returns a checker reading databases from source.
func NewChecker(source Source) *Checker {
	return &Checker{
		source:   source,
		cacheTTL: time.Second,
	}
}

// Check runs the device and pool checks, or returns the cached report.
func (c *Checker) Check(ctx context.Context) *HealthStatus {
	c.mu.RLock()

	if c.cachedStatus != nil && time.Now().Before(c.cacheExpiry) {
		status := c.cachedStatus
		c.mu.RUnlock()

		return status
	}

	c.mu.RUnlock()

	dbs := c.databases()
	checks := map[string]Check{
		"device": c.CheckDevice(ctx, dbs),
		"pools":  c.CheckPools(ctx, dbs),
	}

	healthStatus := &HealthStatus{
		Status:    c.determineOverallStatus(checks),
		Checks:    checks,
		Timestamp: time.Now(),
	}

	c.mu.Lock()
	c.cachedStatus = healthStatus
	c.cacheExpiry = time.Now().Add(c.cacheTTL)
	c.mu.Unlock()

	return healthStatus
}

func (c *Checker) databases() []Database {
	if c.source == nil {
		return nil
	}
	return c.source()
}

// CheckDevice reports whether any database is open on the device.
func (c *Checker) CheckDevice(ctx context.Context, dbs []Database) Check {
	if c.source == nil {
		return Check{
			Status:  StatusUnhealthy,
			Message: "device environment not initialized",
		}
	}

	if len(dbs) == 0 {
		return Check{
			Status:  StatusDegraded,
			Message: "no database open",
		}
	}

	return Check{
		Status:  StatusHealthy,
		Message: fmt.Sprintf("%d database(s) open", len(dbs)),
	}
}

// CheckPools reports exhausted or nearly exhausted pools. An exhausted
// pool is degraded rather than unhealthy: outstanding items are expected
// while the workload keeps the device busy.
func (c *Checker) CheckPools(ctx context.Context, dbs []Database) Check {
	var pressured []string

	for _, db := range dbs {
		for _, s := range db.PoolStats() {
			if s.Capacity == 0 {
				continue
			}
			if float64(s.Outstanding)/float64(s.Capacity) >= pressureRatio {
				pressured = append(pressured, fmt.Sprintf("db%d/%s %d/%d", db.ID(), s.Name, s.Outstanding, s.Capacity))
			}
		}
	}

	if len(pressured) > 0 {
		return Check{
			Status:  StatusDegraded,
			Message: "pools under pressure: " + strings.Join(pressured, ", "),
		}
	}

	return Check{
		Status:  StatusHealthy,
		Message: "pools have free items",
	}
}

// IsReady reports whether a database is open.
func (c *Checker) IsReady(ctx context.Context) bool {
	return len(c.databases()) > 0
}

// IsLive always reports true once the process serves requests.
func (c *Checker) IsLive(ctx context.Context) bool {
	return true
}

var severity = map[Status]int{StatusHealthy: 0, StatusDegraded: 1, StatusUnhealthy: 2}

// determineOverallStatus returns the worst status among checks.
func (c *Checker) determineOverallStatus(checks map[string]Check) Status {
	worst := StatusHealthy
	for _, check := range checks {
		if severity[check.Status] > severity[worst] {
			worst = check.Status
		}
	}
	return worst
}

// Handler serves the probe endpoints.
type Handler struct {
	checker *Checker
}

// NewHandler wraps checker.
func NewHandler(checker *Checker) *Handler {
	return &Handler{checker: checker}
}

// HealthHandler returns the overall status only.
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	status := h.checker.Check(r.Context())
	writeStatus(w, status.Status != StatusUnhealthy, map[string]string{"status": string(status.Status)})
}

// LivenessHandler answers the liveness probe.
func (h *Handler) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	if h.checker.IsLive(r.Context()) {
		writeStatus(w, true, map[string]string{"status": "ok"})
		return
	}
	writeStatus(w, false, map[string]string{"status": "not ok"})
}

// ReadinessHandler answers 503 until a database is open.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if h.checker.IsReady(r.Context()) {
		writeStatus(w, true, map[string]string{"status": "ready"})
		return
	}
	writeStatus(w, false, map[string]string{"status": "not ready"})
}

// DetailedHandler returns every check with its message.
func (h *Handler) DetailedHandler(w http.ResponseWriter, r *http.Request) {
	status := h.checker.Check(r.Context())
	writeStatus(w, status.Status != StatusUnhealthy, status)
}

func writeStatus(w http.ResponseWriter, ok bool, body any) {
	w.Header().Set("Content-Type", "application/json")
	if ok {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(body)
}
