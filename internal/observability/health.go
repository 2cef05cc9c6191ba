package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Build-time variables injected via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

// HealthResponse is the liveness body.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// ReadinessResponse is the readiness body. Open circuit breakers are
// reported but do not make the process unready.
type ReadinessResponse struct {
	Status       string                 `json:"status"`
	Checks       map[string]CheckResult `json:"checks"`
	OpenBreakers []string               `json:"open_breakers,omitempty"`
}

// CheckResult is the outcome of one readiness check.
type CheckResult struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// HealthChecker can verify its own health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ReadinessChecks holds what the readiness endpoint consults.
type ReadinessChecks struct {
	// DefinitionsLoaded reports whether a definition load has succeeded.
	DefinitionsLoaded func() bool
	// Cache and RunStore are checked when set.
	Cache    HealthChecker
	RunStore HealthChecker
	// Breakers returns connector id → breaker state.
	Breakers func() map[string]string
}

const checkTimeout = 2 * time.Second

var errNoDefinitions = errors.New("no definitions loaded")

type checkFunc func(ctx context.Context) error

// named returns the checks to run keyed by the name reported to clients.
func (c ReadinessChecks) named() map[string]checkFunc {
	checks := map[string]checkFunc{
		"definitions": func(context.Context) error {
			if c.DefinitionsLoaded == nil || !c.DefinitionsLoaded() {
				return errNoDefinitions
			}
			return nil
		},
	}
	if c.Cache != nil {
		checks["cache"] = c.Cache.HealthCheck
	}
	if c.RunStore != nil {
		checks["run_store"] = c.RunStore.HealthCheck
	}
	return checks
}

func (c ReadinessChecks) openBreakers() []string {
	if c.Breakers == nil {
		return nil
	}
	var open []string
	for id, state := range c.Breakers() {
		if state != "closed" {
			open = append(open, id)
		}
	}
	sort.Strings(open)
	return open
}

// HandleHealth returns the liveness handler.
func HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeHealth(w, http.StatusOK, HealthResponse{Status: "ok", Version: Version, Commit: Commit})
	}
}

// HandleReady returns the readiness handler. Checks run concurrently, each
// bounded by its own timeout.
func HandleReady(checks ReadinessChecks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		named := checks.named()
		results := make(map[string]CheckResult, len(named))
		var mu sync.Mutex
		var wg sync.WaitGroup
		for name, check := range named {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res := runCheck(r.Context(), check)
				mu.Lock()
				results[name] = res
				mu.Unlock()
			}()
		}
		wg.Wait()

		resp := ReadinessResponse{Status: "ready", Checks: results, OpenBreakers: checks.openBreakers()}
		status := http.StatusOK
		for _, res := range results {
			if res.Status != "ok" {
				resp.Status = "not_ready"
				status = http.StatusServiceUnavailable
				break
			}
		}
		writeHealth(w, status, resp)
	}
}

func runCheck(parent context.Context, check checkFunc) CheckResult {
	ctx, cancel := context.WithTimeout(parent, checkTimeout)
	defer cancel()

	start := time.Now()
	err := check(ctx)
	res := CheckResult{Status: "ok", LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		res.Status = "error"
		res.Error = err.Error()
	}
	return res
}

func writeHealth(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
