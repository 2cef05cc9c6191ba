package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pitabwire/switchboard/internal/config"
	"github.com/pitabwire/switchboard/model"
)

const testSecret = "test-signing-secret"

// --- test helpers ---

func testAuthCfg(t *testing.T) config.AuthConfig {
	t.Helper()
	t.Setenv("SB_TRANSPORT_TEST_SECRET", testSecret)
	return config.AuthConfig{
		SecretEnv:  "SB_TRANSPORT_TEST_SECRET",
		Issuer:     "https://auth.example.com",
		Audience:   "switchboard",
		Algorithms: []string{"HS256"},
	}
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub": "user-1",
		"iss": "https://auth.example.com",
		"aud": "switchboard",
		"exp": jwt.NewNumericDate(time.Now().Add(1 * time.Hour)),
		"iat": jwt.NewNumericDate(time.Now()),
	}
}

func signJWT(t *testing.T, secret string, method jwt.SigningMethod, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return s
}

func authRequest(t *testing.T, mw func(http.Handler) http.Handler, header string) (*httptest.ResponseRecorder, string) {
	t.Helper()
	var subject string
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject = Subject(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w, subject
}

func errorMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Error model.ErrorEnvelope `json:"error"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return resp.Error.Message
}

// --- JWTAuthenticator ---

func TestJWTAuthenticator_disabled_without_secret(t *testing.T) {
	if mw := JWTAuthenticator(config.AuthConfig{SecretEnv: "SB_TRANSPORT_UNSET"}); mw != nil {
		t.Error("JWTAuthenticator() should be nil when no secret is set")
	}
}

func TestJWTAuthenticator_valid(t *testing.T) {
	mw := JWTAuthenticator(testAuthCfg(t))
	token := signJWT(t, testSecret, jwt.SigningMethodHS256, validClaims())

	w, subject := authRequest(t, mw, "Bearer "+token)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204; body = %s", w.Code, w.Body.String())
	}
	if subject != "user-1" {
		t.Errorf("Subject = %q, want user-1", subject)
	}
}

func TestJWTAuthenticator_rejections(t *testing.T) {
	cfg := testAuthCfg(t)
	mw := JWTAuthenticator(cfg)

	expired := validClaims()
	expired["exp"] = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	wrongIssuer := validClaims()
	wrongIssuer["iss"] = "https://evil.example.com"
	wrongAudience := validClaims()
	wrongAudience["aud"] = "someone-else"
	noExpiry := validClaims()
	delete(noExpiry, "exp")

	tests := []struct {
		name    string
		header  string
		message string
	}{
		{"missing header", "", "Missing authorization header"},
		{"wrong scheme", "Basic dXNlcjpwYXNz", "Invalid authorization header format"},
		{"garbage", "Bearer not-a-token", "Invalid token"},
		{"wrong secret", "Bearer " + signJWT(t, "other-secret", jwt.SigningMethodHS256, validClaims()), "Invalid token signature"},
		{"disallowed algorithm", "Bearer " + signJWT(t, testSecret, jwt.SigningMethodHS512, validClaims()), "Disallowed signing algorithm"},
		{"expired", "Bearer " + signJWT(t, testSecret, jwt.SigningMethodHS256, expired), "Token expired"},
		{"wrong issuer", "Bearer " + signJWT(t, testSecret, jwt.SigningMethodHS256, wrongIssuer), "Invalid token issuer"},
		{"wrong audience", "Bearer " + signJWT(t, testSecret, jwt.SigningMethodHS256, wrongAudience), "Invalid token audience"},
		{"no expiry", "Bearer " + signJWT(t, testSecret, jwt.SigningMethodHS256, noExpiry), "Token has no expiry"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, _ := authRequest(t, mw, tt.header)
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", w.Code)
			}
			if msg := errorMessage(t, w); msg != tt.message {
				t.Errorf("message = %q, want %q", msg, tt.message)
			}
		})
	}
}

func TestSubject_without_claims(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if s := Subject(req.Context()); s != "" {
		t.Errorf("Subject = %q, want empty", s)
	}
}
