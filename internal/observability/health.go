package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"
)

// Build-time variables injected via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

// HealthResponse is the JSON response for the liveness endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// ReadinessResponse is the JSON response for the readiness endpoint.
type ReadinessResponse struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// CheckResult is the result of a single readiness check.
type CheckResult struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// HealthChecker can verify its own health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthCheckFunc adapts a function to HealthChecker.
type HealthCheckFunc func(ctx context.Context) error

// HealthCheck implements HealthChecker.
func (f HealthCheckFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// ReadinessChecks holds the dependency checkers for the readiness endpoint.
type ReadinessChecks struct {
	// Required: always reported.
	DefinitionsLoaded func() bool
	CatalogIndexed    func() bool

	// Optional: reported only when set.
	Catalog          HealthChecker
	Journal          HealthChecker
	IdempotencyStore HealthChecker
}

const checkTimeout = 2 * time.Second

var (
	errNoDefinitions = errors.New("no board definitions loaded")
	errNoCatalogSpec = errors.New("catalog operations not indexed")
)

// probes lists the checks to run, keyed by their name in the response.
func (c ReadinessChecks) probes() map[string]HealthChecker {
	probes := map[string]HealthChecker{
		"definitions":   flagCheck(c.DefinitionsLoaded, errNoDefinitions),
		"catalog_index": flagCheck(c.CatalogIndexed, errNoCatalogSpec),
	}
	if c.Catalog != nil {
		probes["catalog"] = c.Catalog
	}
	if c.Journal != nil {
		probes["journal"] = c.Journal
	}
	if c.IdempotencyStore != nil {
		probes["idempotency_store"] = c.IdempotencyStore
	}
	return probes
}

func flagCheck(ok func() bool, failure error) HealthChecker {
	return HealthCheckFunc(func(context.Context) error {
		if ok != nil && ok() {
			return nil
		}
		return failure
	})
}

// HandleHealth returns an HTTP handler for the liveness endpoint.
func HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeHealthJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: Version,
			Commit:  Commit,
		})
	}
}

// HandleReady returns an HTTP handler for the readiness endpoint. Checks run
// concurrently, each bounded by its own timeout.
func HandleReady(checks ReadinessChecks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		probes := checks.probes()
		results := make(map[string]CheckResult, len(probes))
		var mu sync.Mutex
		var wg sync.WaitGroup

		for name, probe := range probes {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res := runCheck(r.Context(), probe)
				mu.Lock()
				results[name] = res
				mu.Unlock()
			}()
		}
		wg.Wait()

		resp := ReadinessResponse{Status: "ready", Checks: results}
		status := http.StatusOK
		for _, result := range results {
			if result.Status != "ok" {
				resp.Status = "not_ready"
				status = http.StatusServiceUnavailable
				break
			}
		}
		writeHealthJSON(w, status, resp)
	}
}

// runCheck executes a health check with a per-check timeout.
func runCheck(parent context.Context, checker HealthChecker) CheckResult {
	ctx, cancel := context.WithTimeout(parent, checkTimeout)
	defer cancel()

	start := time.Now()
	err := checker.HealthCheck(ctx)
	res := CheckResult{Status: "ok", LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		res.Status = "error"
		res.Error = err.Error()
	}
	return res
}

func writeHealthJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
