package integration

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// MockBackend is a configurable HTTP test server that plays the upstream
// systems connectors talk to. It serves scripted per-route responses and
// records all received requests for later assertion.
type MockBackend struct {
	t      *testing.T
	server *httptest.Server

	mu         sync.RWMutex
	routes     map[string]*routeConfig
	received   map[string][]*RecordedRequest
	routeNames []string
}

// RecordedRequest captures the details of a request received by the mock backend.
type RecordedRequest struct {
	Method      string
	Path        string
	QueryParams map[string]string
	Headers     http.Header
	Body        map[string]any
	RawBody     []byte
	ReceivedAt  time.Time
}

type routeConfig struct {
	mu        sync.Mutex
	responses []*mockResponse
	current   int
}

type mockResponse struct {
	status int
	body   any
	delay  time.Duration
}

// RouteMock is a builder for configuring responses for one route.
type RouteMock struct {
	backend *MockBackend
	name    string
}

// newMockBackend starts a mock upstream serving the given routes, keyed by
// route name with "METHOD /pattern" values.
func newMockBackend(t *testing.T, routes map[string]string) *MockBackend {
	t.Helper()

	mb := &MockBackend{
		t:        t,
		routes:   make(map[string]*routeConfig),
		received: make(map[string][]*RecordedRequest),
	}

	mux := http.NewServeMux()
	for name, pattern := range routes {
		mux.HandleFunc(pattern, mb.handleRoute(name))
		mb.routeNames = append(mb.routeNames, name)
	}

	mb.server = httptest.NewServer(mux)
	t.Cleanup(mb.server.Close)
	return mb
}

// DefaultRoutes returns the routes of the tickets API, the deploy hook and
// the slow endpoint.
func DefaultRoutes() map[string]string {
	return map[string]string{
		"listTickets":  "GET /tickets",
		"createTicket": "POST /tickets",
		"getTicket":    "GET /tickets/{ticketId}",
		"closeTicket":  "POST /tickets/{ticketId}/close",
		"deployHook":   "POST /hooks/deploy",
		"slow":         "GET /slow",
	}
}

// URL returns the base URL of the mock backend server.
func (mb *MockBackend) URL() string {
	return mb.server.URL
}

// On returns a builder for configuring responses for the named route.
func (mb *MockBackend) On(route string) *RouteMock {
	return &RouteMock{backend: mb, name: route}
}

// RespondWith queues a response. The last queued response repeats.
func (rm *RouteMock) RespondWith(status int, body any) *RouteMock {
	rm.backend.addResponse(rm.name, &mockResponse{status: status, body: body})
	return rm
}

// RespondWithDelay queues a response sent after delay, or never when the
// client gives up first.
func (rm *RouteMock) RespondWithDelay(delay time.Duration, status int, body any) *RouteMock {
	rm.backend.addResponse(rm.name, &mockResponse{status: status, body: body, delay: delay})
	return rm
}

func (mb *MockBackend) addResponse(route string, resp *mockResponse) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	cfg, ok := mb.routes[route]
	if !ok {
		cfg = &routeConfig{}
		mb.routes[route] = cfg
	}
	cfg.responses = append(cfg.responses, resp)
}

func (mb *MockBackend) handleRoute(route string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &RecordedRequest{
			Method:      r.Method,
			Path:        r.URL.Path,
			QueryParams: make(map[string]string),
			Headers:     r.Header.Clone(),
			ReceivedAt:  time.Now(),
		}
		for key, values := range r.URL.Query() {
			if len(values) > 0 {
				rec.QueryParams[key] = values[0]
			}
		}
		if r.Body != nil {
			body, _ := io.ReadAll(r.Body)
			rec.RawBody = body
			if len(body) > 0 {
				var parsed map[string]any
				if err := json.Unmarshal(body, &parsed); err == nil {
					rec.Body = parsed
				}
			}
		}

		mb.mu.Lock()
		mb.received[route] = append(mb.received[route], rec)
		mb.mu.Unlock()

		resp := mb.nextResponse(route)
		if resp == nil {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
			return
		}

		if resp.delay > 0 {
			select {
			case <-time.After(resp.delay):
			case <-r.Context().Done():
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.status)
		if resp.body != nil {
			json.NewEncoder(w).Encode(resp.body)
		}
	}
}

func (mb *MockBackend) nextResponse(route string) *mockResponse {
	mb.mu.RLock()
	cfg, ok := mb.routes[route]
	mb.mu.RUnlock()
	if !ok {
		return nil
	}

	cfg.mu.Lock()
	defer cfg.mu.Unlock()
	if len(cfg.responses) == 0 {
		return nil
	}
	idx := cfg.current
	if idx >= len(cfg.responses) {
		idx = len(cfg.responses) - 1
	} else {
		cfg.current++
	}
	return cfg.responses[idx]
}

// Calls returns how many requests the route received.
func (mb *MockBackend) Calls(route string) int {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	return len(mb.received[route])
}

// AssertCalled verifies that the route was called the expected number of times.
func (mb *MockBackend) AssertCalled(t *testing.T, route string, expected int) {
	t.Helper()
	if actual := mb.Calls(route); actual != expected {
		t.Errorf("mock: route %q called %d times, want %d", route, actual, expected)
	}
}

// AssertNotCalled verifies that the route was never called.
func (mb *MockBackend) AssertNotCalled(t *testing.T, route string) {
	t.Helper()
	mb.AssertCalled(t, route, 0)
}

// LastRequest returns the last request received for the route, or nil.
func (mb *MockBackend) LastRequest(route string) *RecordedRequest {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	reqs := mb.received[route]
	if len(reqs) == 0 {
		return nil
	}
	return reqs[len(reqs)-1]
}

// Reset clears all recorded requests and configured responses.
func (mb *MockBackend) Reset() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.routes = make(map[string]*routeConfig)
	mb.received = make(map[string][]*RecordedRequest)
}
