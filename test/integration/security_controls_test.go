package integration

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// --- Authentication ---

func TestSecurity_AuthenticationRequired(t *testing.T) {
	h := NewTestHarness(t)

	tests := []struct {
		name  string
		token func() string
	}{
		{"no token", func() string { return "" }},
		{"expired token", func() string { return h.GenerateExpiredToken("alice") }},
		{"malformed token", func() string { return "invalid-token" }},
		{"wrong signing key", func() string { return h.issuer.GenerateForeignToken("alice") }},
		{"wrong audience", func() string {
			now := time.Now()
			return h.issuer.GenerateWithClaims(jwt.MapClaims{
				"iss": h.issuer.issuer,
				"aud": "someone-else",
				"sub": "alice",
				"exp": jwt.NewNumericDate(now.Add(time.Hour)),
			}, jwt.SigningMethodHS256)
		}},
		{"disallowed algorithm", func() string {
			now := time.Now()
			return h.issuer.GenerateWithClaims(jwt.MapClaims{
				"iss": h.issuer.issuer,
				"aud": h.issuer.audience,
				"sub": "alice",
				"exp": jwt.NewNumericDate(now.Add(time.Hour)),
			}, jwt.SigningMethodHS512)
		}},
		{"no expiry", func() string {
			return h.issuer.GenerateWithClaims(jwt.MapClaims{
				"iss": h.issuer.issuer,
				"aud": h.issuer.audience,
				"sub": "alice",
			}, jwt.SigningMethodHS256)
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := h.GET("/api/connectors", tc.token())
			h.AssertStatus(t, resp, http.StatusUnauthorized)
		})
	}
}

func TestSecurity_ValidTokenAccepted(t *testing.T) {
	h := NewTestHarness(t)
	resp := h.GET("/api/connectors", h.GenerateToken("alice"))
	h.AssertStatus(t, resp, http.StatusOK)
}

func TestSecurity_HealthEndpointsBypassAuth(t *testing.T) {
	h := NewTestHarness(t)
	for _, path := range []string{"/health", "/ready", "/metrics"} {
		resp := h.GET(path, "")
		h.AssertStatus(t, resp, http.StatusOK)
	}
}

func TestSecurity_OpenWithoutSecret(t *testing.T) {
	h := NewTestHarness(t, WithoutAuth())
	resp := h.GET("/api/connectors", "")
	h.AssertStatus(t, resp, http.StatusOK)
}

// --- Credential redaction ---

func TestSecurity_ConnectorListingRedactsCredentials(t *testing.T) {
	h := NewTestHarness(t)
	body := string(h.ReadBody(h.GET("/api/connectors", h.GenerateToken("alice"))))

	for _, secret := range []string{ticketsToken, hookSecret} {
		if strings.Contains(body, secret) {
			t.Errorf("connector listing leaks %q", secret)
		}
	}
	if !strings.Contains(body, "[REDACTED]") {
		t.Error("connector listing has no redacted fields")
	}
}

func TestSecurity_ErrorsDoNotEchoCredentials(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken("alice")

	h.Backend.On("listTickets").RespondWith(http.StatusForbidden, map[string]any{"message": "denied"})
	resp := h.POST("/api/connectors/tickets/execute", map[string]any{"action": "listTickets"}, token)
	body := string(h.ReadBody(resp))
	if strings.Contains(body, ticketsToken) {
		t.Error("failure envelope leaks the bearer token")
	}
}

// --- Response headers ---

func TestSecurity_Headers(t *testing.T) {
	h := NewTestHarness(t)
	resp := h.GET("/health", "")
	defer resp.Body.Close()

	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
	} {
		if got := resp.Header.Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
	if resp.Header.Get("X-Correlation-Id") == "" {
		t.Error("X-Correlation-Id not set")
	}
}

func TestSecurity_CORS(t *testing.T) {
	h := NewTestHarness(t)

	t.Run("allowed origin", func(t *testing.T) {
		resp := h.Do(http.MethodOptions, "/api/connectors", nil, "", map[string]string{
			"Origin":                        "http://localhost:3000",
			"Access-Control-Request-Method": "POST",
		})
		defer resp.Body.Close()
		if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
			t.Errorf("Access-Control-Allow-Origin = %q", got)
		}
	})

	t.Run("foreign origin", func(t *testing.T) {
		resp := h.Do(http.MethodOptions, "/api/connectors", nil, "", map[string]string{
			"Origin":                        "https://evil.example.com",
			"Access-Control-Request-Method": "POST",
		})
		defer resp.Body.Close()
		if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("Access-Control-Allow-Origin = %q, want empty", got)
		}
	})
}
