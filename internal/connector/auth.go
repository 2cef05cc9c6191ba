package connector

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pitabwire/switchboard/model"
)

// Defaults for api connector authentication.
const (
	defaultAPIKeyHeader = "X-API-Key"
	defaultJWTTTL       = 5 * time.Minute
)

// applyAuth sets the credentials described by auth on h. A nil auth or an
// empty type leaves h untouched.
func applyAuth(h http.Header, auth *model.AuthConfig, now time.Time) error {
	if auth == nil || auth.Type == "" {
		return nil
	}

	switch strings.ToLower(auth.Type) {
	case model.AuthBearer:
		h.Set("Authorization", "Bearer "+sanitizeHeader(auth.Token))
	case model.AuthBasic:
		cred := base64.StdEncoding.EncodeToString([]byte(auth.Username + ":" + auth.Password))
		h.Set("Authorization", "Basic "+cred)
	case model.AuthAPIKey:
		header := auth.Header
		if header == "" {
			header = defaultAPIKeyHeader
		}
		h.Set(sanitizeHeader(header), sanitizeHeader(auth.Key))
	case model.AuthJWT:
		token, err := signJWT(auth, now)
		if err != nil {
			return err
		}
		h.Set("Authorization", "Bearer "+token)
	default:
		return fmt.Errorf("unsupported auth type %q", auth.Type)
	}
	return nil
}

// signJWT mints a short-lived HS256 token from the connector's jwt settings.
func signJWT(auth *model.AuthConfig, now time.Time) (string, error) {
	if auth.Secret == "" {
		return "", fmt.Errorf("jwt auth requires a secret")
	}
	ttl := auth.TTL
	if ttl <= 0 {
		ttl = defaultJWTTTL
	}

	claims := jwt.RegisteredClaims{
		Issuer:    auth.Issuer,
		Subject:   auth.Subject,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if auth.Audience != "" {
		claims.Audience = jwt.ClaimStrings{auth.Audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(auth.Secret))
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}
	return signed, nil
}
