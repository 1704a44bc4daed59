package api

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ignite/funnel-studio/internal/pkg/httputil"
	"github.com/redis/go-redis/v9"
)

// HealthStatus is the body of GET /health.
type HealthStatus struct {
	Status       string                    `json:"status"` // healthy, degraded or unhealthy
	Version      string                    `json:"version"`
	Uptime       string                    `json:"uptime"`
	OpenSessions int                       `json:"open_sessions"`
	Checks       map[string]ComponentCheck `json:"checks"`
}

// ComponentCheck is the outcome of one dependency probe.
type ComponentCheck struct {
	Status   string `json:"status"` // up, down or degraded
	Critical bool   `json:"critical"`
	Latency  string `json:"latency,omitempty"`
	Message  string `json:"message,omitempty"`
}

type probe struct {
	name     string
	critical bool
	timeout  time.Duration
	slow     time.Duration
	ping     func(ctx context.Context) error
}

// HealthChecker probes the relational store and the Redis instance behind
// drafts and save locks. Unconfigured dependencies are left out.
type HealthChecker struct {
	probes    []probe
	sessions  func() int
	startTime time.Time
}

// NewHealthChecker registers a probe for each non-nil dependency. Only the
// database is critical: without Redis, drafts are off and saves fall back
// to advisory locks.
func NewHealthChecker(db *sql.DB, redisClient *redis.Client) *HealthChecker {
	hc := &HealthChecker{startTime: time.Now()}
	if db != nil {
		hc.probes = append(hc.probes, probe{
			name: "database", critical: true, timeout: 3 * time.Second, slow: time.Second,
			ping: db.PingContext,
		})
	}
	if redisClient != nil {
		hc.probes = append(hc.probes, probe{
			name: "redis", timeout: 2 * time.Second, slow: 500 * time.Millisecond,
			ping: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	}
	return hc
}

const healthVersion = "1.0.0"

// HandleHealth always answers 200; the body carries the status.
//
//	GET /health
func (hc *HealthChecker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	checks := hc.run(r.Context())
	status := HealthStatus{
		Status:  overallStatus(checks),
		Version: healthVersion,
		Uptime:  time.Since(hc.startTime).Round(time.Second).String(),
		Checks:  checks,
	}
	if hc.sessions != nil {
		status.OpenSessions = hc.sessions()
	}
	httputil.OK(w, status)
}

// HandleLiveness answers 200 while the process runs.
//
//	GET /health/live
func (hc *HealthChecker) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]any{
		"status": "alive",
		"uptime": time.Since(hc.startTime).Round(time.Second).String(),
	})
}

// HandleReadiness answers 503 when a critical dependency is down.
//
//	GET /health/ready
func (hc *HealthChecker) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	checks := hc.run(r.Context())
	overall := overallStatus(checks)
	ready := overall != "unhealthy"
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	httputil.JSON(w, code, map[string]any{"ready": ready, "status": overall, "checks": checks})
}

// run probes every dependency concurrently.
func (hc *HealthChecker) run(ctx context.Context) map[string]ComponentCheck {
	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		checks = make(map[string]ComponentCheck, len(hc.probes))
	)
	for _, p := range hc.probes {
		wg.Add(1)
		go func(p probe) {
			defer wg.Done()
			c := p.check(ctx)
			mu.Lock()
			checks[p.name] = c
			mu.Unlock()
		}(p)
	}
	wg.Wait()
	return checks
}

func (p probe) check(ctx context.Context) ComponentCheck {
	pingCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	start := time.Now()
	err := p.ping(pingCtx)
	latency := time.Since(start)

	c := ComponentCheck{Status: "up", Critical: p.critical, Latency: latency.String(), Message: "connected"}
	switch {
	case err != nil:
		c.Status, c.Message = "down", fmt.Sprintf("ping failed: %v", err)
	case latency > p.slow:
		c.Status, c.Message = "degraded", fmt.Sprintf("slow response (%s)", latency)
	}
	return c
}

// overallStatus is unhealthy when a critical check is down, degraded when
// any other check is not up, healthy otherwise.
func overallStatus(checks map[string]ComponentCheck) string {
	status := "healthy"
	for _, c := range checks {
		if c.Status == "down" && c.Critical {
			return "unhealthy"
		}
		if c.Status != "up" {
			status = "degraded"
		}
	}
	return status
}
