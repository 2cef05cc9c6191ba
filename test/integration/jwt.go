package integration

import (
	"crypto/rand"
	"encoding/hex"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenIssuer signs HMAC JWTs with a per-test secret.
type tokenIssuer struct {
	secret   string
	issuer   string
	audience string
}

// newTokenIssuer creates a token issuer with a fresh random secret.
func newTokenIssuer(t *testing.T) *tokenIssuer {
	t.Helper()

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		t.Fatalf("generate secret: %v", err)
	}
	return &tokenIssuer{
		secret:   hex.EncodeToString(buf),
		issuer:   "https://auth.test.switchboard.dev",
		audience: "switchboard-test",
	}
}

func (ti *tokenIssuer) claims(subject string, issuedAt, expiresAt time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"iss": ti.issuer,
		"aud": ti.audience,
		"sub": subject,
		"iat": jwt.NewNumericDate(issuedAt),
		"exp": jwt.NewNumericDate(expiresAt),
	}
}

func sign(claims jwt.MapClaims, method jwt.SigningMethod, secret string) string {
	signed, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	if err != nil {
		panic("sign JWT: " + err.Error())
	}
	return signed
}

// GenerateToken creates a valid token for subject.
func (ti *tokenIssuer) GenerateToken(subject string) string {
	now := time.Now()
	return sign(ti.claims(subject, now, now.Add(time.Hour)), jwt.SigningMethodHS256, ti.secret)
}

// GenerateExpiredToken creates a token that expired an hour ago.
func (ti *tokenIssuer) GenerateExpiredToken(subject string) string {
	now := time.Now()
	return sign(ti.claims(subject, now.Add(-2*time.Hour), now.Add(-time.Hour)), jwt.SigningMethodHS256, ti.secret)
}

// GenerateForeignToken creates an otherwise valid token signed with a
// different secret.
func (ti *tokenIssuer) GenerateForeignToken(subject string) string {
	now := time.Now()
	return sign(ti.claims(subject, now, now.Add(time.Hour)), jwt.SigningMethodHS256, "not-the-server-secret")
}

// GenerateWithClaims signs arbitrary claims with the server secret.
func (ti *tokenIssuer) GenerateWithClaims(claims jwt.MapClaims, method jwt.SigningMethod) string {
	return sign(claims, method, ti.secret)
}
