// Package integration provides a reusable test harness for end-to-end
// integration testing of the switchboard server. It starts the full HTTP
// stack over a real engine with a mock upstream service, in-memory stores
// and a test JWT issuer.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pitabwire/switchboard/internal/config"
	"github.com/pitabwire/switchboard/internal/engine"
	"github.com/pitabwire/switchboard/internal/observability"
	"github.com/pitabwire/switchboard/internal/transport"
)

const (
	authSecretEnv = "SWITCHBOARD_IT_AUTH_SECRET"
	ticketsToken  = "tok-from-secrets"
	hookSecret    = "hook-secret"
)

// TestHarness encapsulates a fully wired server with a mock upstream for
// integration testing.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer

	// Engine is exposed for scenarios that need to inspect state directly.
	Engine *engine.Engine
	// Backend plays the tickets API, the deploy webhook receiver and the
	// slow endpoint.
	Backend *MockBackend
	// Workspace is the workspace root file connectors resolve against.
	Workspace string
	// Metrics is the registry the engine and router record into.
	Metrics *prometheus.Registry

	cfg *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	definitionDirs  []string
	approvalMode    string
	approvalTimeout time.Duration
	handlerTimeout  time.Duration
	breaker         *config.CircuitBreakerConfig
	redis           bool
	authDisabled    bool
}

// WithDefinitions sets the definition template directories to load.
// Relative paths are resolved from the testdata directory.
func WithDefinitions(dirs ...string) HarnessOption {
	return func(c *harnessConfig) {
		c.definitionDirs = dirs
	}
}

// WithPendingApprovals makes user steps wait for a decision through the API.
func WithPendingApprovals(timeout time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.approvalMode = "pending"
		c.approvalTimeout = timeout
	}
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.handlerTimeout = d
	}
}

// WithCircuitBreaker overrides the circuit breaker configuration.
func WithCircuitBreaker(cfg config.CircuitBreakerConfig) HarnessOption {
	return func(c *harnessConfig) {
		c.breaker = &cfg
	}
}

// WithRedisCache backs the response cache with an in-process Redis.
func WithRedisCache() HarnessOption {
	return func(c *harnessConfig) {
		c.redis = true
	}
}

// WithoutAuth leaves the API unauthenticated.
func WithoutAuth() HarnessOption {
	return func(c *harnessConfig) {
		c.authDisabled = true
	}
}

// NewTestHarness creates and starts a full server instance. Everything is
// cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		approvalMode:    "auto",
		approvalTimeout: 5 * time.Second,
		handlerTimeout:  10 * time.Second,
	}
	for _, opt := range opts {
		opt(hc)
	}

	testdata := testdataDir()
	if len(hc.definitionDirs) == 0 {
		hc.definitionDirs = []string{"definitions"}
	}

	h := &TestHarness{
		t:         t,
		Workspace: t.TempDir(),
		Metrics:   prometheus.NewRegistry(),
	}

	// Step 1: Start the mock upstream.
	h.Backend = newMockBackend(t, DefaultRoutes())

	// Step 2: Render definition templates with the backend URL.
	defsDir := t.TempDir()
	replacer := strings.NewReplacer(
		"{{BACKEND_URL}}", h.Backend.URL(),
		"{{SPEC_PATH}}", filepath.Join(testdata, "tickets-api.yaml"),
	)
	for _, dir := range hc.definitionDirs {
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(testdata, dir)
		}
		renderDefinitions(t, dir, defsDir, replacer)
	}

	secrets := filepath.Join(t.TempDir(), "secrets.env")
	secretsBody := fmt.Sprintf("TICKETS_TOKEN=%s\nHOOK_SECRET=%s\n", ticketsToken, hookSecret)
	if err := os.WriteFile(secrets, []byte(secretsBody), 0o600); err != nil {
		t.Fatalf("write secrets: %v", err)
	}

	// Step 3: Create JWT issuer.
	h.issuer = newTokenIssuer(t)
	if hc.authDisabled {
		t.Setenv(authSecretEnv, "")
	} else {
		t.Setenv(authSecretEnv, h.issuer.secret)
	}

	// Step 4: Build config.
	cfg := config.Defaults()
	cfg.Server.HandlerTimeout = hc.handlerTimeout
	cfg.Server.CORS.AllowedOrigins = []string{"http://localhost:3000"}
	cfg.Server.Auth = config.AuthConfig{
		SecretEnv:  authSecretEnv,
		Issuer:     h.issuer.issuer,
		Audience:   h.issuer.audience,
		Algorithms: []string{"HS256"},
	}
	cfg.Workspace.Root = h.Workspace
	cfg.Definitions = config.DefinitionsConfig{
		Directories:  []string{defsDir},
		SecretsFiles: []string{secrets},
	}
	cfg.Connectors.Retry = config.RetryConfig{
		BackoffInitial:    5 * time.Millisecond,
		BackoffMultiplier: 2,
		BackoffMax:        20 * time.Millisecond,
	}
	if hc.breaker != nil {
		cfg.Connectors.CircuitBreaker = *hc.breaker
	}
	cfg.Workflow.Approval = config.ApprovalConfig{Mode: hc.approvalMode, Timeout: hc.approvalTimeout}
	cfg.AI.APIKeyEnv = "SWITCHBOARD_IT_NO_AI_KEY"
	cfg.Cache.Redis.AddrEnv = ""
	if hc.redis {
		mr := miniredis.RunT(t)
		cfg.Cache.Backend = "redis"
		cfg.Cache.Redis.Addr = mr.Addr()
	}
	h.cfg = cfg

	// Step 5: Build the engine and load definitions.
	ctx := context.Background()
	eng, err := engine.New(ctx, cfg, engine.Options{
		Logger:     zap.NewNop(),
		Registerer: h.Metrics,
	})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	t.Cleanup(eng.Close)
	if _, err := eng.Reload(ctx); err != nil {
		t.Fatalf("load definitions: %v", err)
	}
	h.Engine = eng

	// Step 6: Build router with full middleware chain.
	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Service:      eng,
		Logger:       zap.NewNop(),
		Metrics:      eng.Metrics(),
		Gatherer:     h.Metrics,
		Readiness:    eng.Readiness(),
		Authenticate: transport.JWTAuthenticator(cfg.Server.Auth),
	})

	// Step 7: Start test server.
	h.server = httptest.NewServer(observability.TracingMiddleware(router))
	t.Cleanup(h.server.Close)

	return h
}

// renderDefinitions copies every definition file in src into dst with the
// placeholders replaced.
func renderDefinitions(t *testing.T, src, dst string, r *strings.Replacer) {
	t.Helper()
	entries, err := os.ReadDir(src)
	if err != nil {
		t.Fatalf("read definitions %s: %v", src, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(src, e.Name()))
		if err != nil {
			t.Fatalf("read %s: %v", e.Name(), err)
		}
		name := filepath.Base(src) + "-" + e.Name()
		if err := os.WriteFile(filepath.Join(dst, name), []byte(r.Replace(string(data))), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// GenerateToken creates a valid JWT for the subject.
func (h *TestHarness) GenerateToken(subject string) string {
	return h.issuer.GenerateToken(subject)
}

// GenerateExpiredToken creates a JWT that has already expired.
func (h *TestHarness) GenerateExpiredToken(subject string) string {
	return h.issuer.GenerateExpiredToken(subject)
}

// --- HTTP client helpers ---

// GET performs an authenticated GET request.
func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("GET", path, nil, token, nil)
}

// POST performs an authenticated POST request with a JSON body.
func (h *TestHarness) POST(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, token, nil)
}

// Do performs a request with additional headers.
func (h *TestHarness) Do(method, path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest(method, path, body, token, headers)
}

func (h *TestHarness) doRequest(method, path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, h.server.URL+path, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// Execute invokes a connector action through the API and returns the HTTP
// status and the decoded envelope.
func (h *TestHarness) Execute(token, connectorID, action string, params map[string]any) (int, Envelope) {
	h.t.Helper()
	resp := h.POST("/api/connectors/"+connectorID+"/execute", map[string]any{
		"action": action,
		"params": params,
	}, token)
	var env Envelope
	h.ParseJSON(resp, &env)
	return resp.StatusCode, env
}

// Envelope is the decoded form of an execution response.
type Envelope struct {
	Success  bool           `json:"success"`
	Data     any            `json:"data"`
	Error    string         `json:"error"`
	Code     string         `json:"code"`
	Metadata map[string]any `json:"metadata"`
	Cached   bool           `json:"cached"`
	Duration int64          `json:"duration"`
}

// DataMap returns the envelope data as a map, or nil.
func (e Envelope) DataMap() map[string]any {
	m, _ := e.Data.(map[string]any)
	return m
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// ReadBody reads and returns the response body as bytes.
func (h *TestHarness) ReadBody(resp *http.Response) []byte {
	h.t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	return data
}

// AssertStatus checks that the response has the expected status code.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks that the response has the expected status and parses the body.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// --- Fixtures ---

// TicketFixture returns a ticket as the upstream would send it.
func TicketFixture(id, title, status string) map[string]any {
	return map[string]any{
		"id":     id,
		"title":  title,
		"status": status,
	}
}

// testdataDir returns the absolute path to the testdata directory.
func testdataDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "testdata")
}

// FormatJSON converts a value to indented JSON for test output.
func FormatJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
