package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type checkerFunc func(ctx context.Context) error

func (f checkerFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

func healthy() HealthChecker { return checkerFunc(func(context.Context) error { return nil }) }

func failing(msg string) HealthChecker {
	return checkerFunc(func(context.Context) error { return errors.New(msg) })
}

func loaded(v bool) func() bool { return func() bool { return v } }

func serveReady(t *testing.T, checks ReadinessChecks) (int, ReadinessResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	HandleReady(checks).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	var resp ReadinessResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return rec.Code, resp
}

func TestHandleHealth(t *testing.T) {
	prevVersion, prevCommit := Version, Commit
	Version, Commit = "0.4.0", "9f1c2e7"
	t.Cleanup(func() { Version, Commit = prevVersion, prevCommit })

	rec := httptest.NewRecorder()
	HandleHealth().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, HealthResponse{Status: "ok", Version: "0.4.0", Commit: "9f1c2e7"}, resp)
}

func TestHandleReady(t *testing.T) {
	tests := []struct {
		name       string
		checks     ReadinessChecks
		wantStatus int
		wantChecks map[string]string
	}{
		{
			name:       "definitions loaded",
			checks:     ReadinessChecks{DefinitionsLoaded: loaded(true)},
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{"definitions": "ok"},
		},
		{
			name:       "no definition load has succeeded",
			checks:     ReadinessChecks{DefinitionsLoaded: loaded(false)},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"definitions": "error"},
		},
		{
			name:       "definitions check unset",
			checks:     ReadinessChecks{},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"definitions": "error"},
		},
		{
			name:       "redis cache and postgres run store healthy",
			checks:     ReadinessChecks{DefinitionsLoaded: loaded(true), Cache: healthy(), RunStore: healthy()},
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{"definitions": "ok", "cache": "ok", "run_store": "ok"},
		},
		{
			name:       "cache unreachable",
			checks:     ReadinessChecks{DefinitionsLoaded: loaded(true), Cache: failing("dial tcp: connection refused")},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"definitions": "ok", "cache": "error"},
		},
		{
			name:       "run store unreachable",
			checks:     ReadinessChecks{DefinitionsLoaded: loaded(true), RunStore: failing("pool closed")},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"definitions": "ok", "run_store": "error"},
		},
		{
			name:       "everything down",
			checks:     ReadinessChecks{Cache: failing("a"), RunStore: failing("b")},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"definitions": "error", "cache": "error", "run_store": "error"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := serveReady(t, tt.checks)

			assert.Equal(t, tt.wantStatus, code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, "ready", resp.Status)
			} else {
				assert.Equal(t, "not_ready", resp.Status)
			}
			require.Len(t, resp.Checks, len(tt.wantChecks))
			for name, want := range tt.wantChecks {
				got := resp.Checks[name]
				assert.Equal(t, want, got.Status, name)
				assert.Equal(t, want == "error", got.Error != "", "%s error message", name)
				assert.GreaterOrEqual(t, got.LatencyMs, int64(0))
			}
		})
	}
}

func TestHandleReady_reportsCheckError(t *testing.T) {
	_, resp := serveReady(t, ReadinessChecks{DefinitionsLoaded: loaded(true), Cache: failing("redis: connection refused")})
	assert.Equal(t, "redis: connection refused", resp.Checks["cache"].Error)
}

func TestHandleReady_boundsSlowChecks(t *testing.T) {
	var sawDeadline bool
	slow := checkerFunc(func(ctx context.Context) error {
		_, sawDeadline = ctx.Deadline()
		return nil
	})

	start := time.Now()
	code, _ := serveReady(t, ReadinessChecks{DefinitionsLoaded: loaded(true), RunStore: slow})

	assert.Equal(t, http.StatusOK, code)
	assert.True(t, sawDeadline, "checks should run under a deadline")
	assert.Less(t, time.Since(start), checkTimeout)
}

func TestHandleReady_openBreakersReportedNotFatal(t *testing.T) {
	code, resp := serveReady(t, ReadinessChecks{
		DefinitionsLoaded: loaded(true),
		Breakers: func() map[string]string {
			return map[string]string{"tickets": "open", "git": "closed", "deploy": "half-open"}
		},
	})

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{"deploy", "tickets"}, resp.OpenBreakers)
}
