package transport

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pitabwire/switchboard/internal/config"
	"github.com/pitabwire/switchboard/model"
)

type claimsKey struct{}

// WithClaims stores JWT claims in the context. Used by the auth middleware.
func WithClaims(ctx context.Context, claims map[string]any) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// ClaimsFrom extracts JWT claims from the context.
func ClaimsFrom(ctx context.Context) map[string]any {
	claims, _ := ctx.Value(claimsKey{}).(map[string]any)
	return claims
}

// Subject returns the "sub" claim of the authenticated caller, or "".
func Subject(ctx context.Context) string {
	sub, _ := ClaimsFrom(ctx)["sub"].(string)
	return sub
}

// JWTAuthenticator returns middleware that verifies HMAC-signed bearer
// tokens and stores verified claims in the request context. It returns nil
// when no secret is configured, leaving the API open.
func JWTAuthenticator(cfg config.AuthConfig) func(http.Handler) http.Handler {
	secret := cfg.Secret()
	if secret == "" {
		return nil
	}
	algorithms := cfg.Algorithms
	if len(algorithms) == 0 {
		algorithms = []string{jwt.SigningMethodHS256.Alg()}
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(algorithms),
		jwt.WithLeeway(30 * time.Second),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	parser := jwt.NewParser(opts...)
	keyFunc := func(*jwt.Token) (any, error) { return []byte(secret), nil }

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if auth == "" {
				WriteError(w, model.NewUnauthorizedError("Missing authorization header"))
				return
			}
			tokenStr, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok {
				WriteError(w, model.NewUnauthorizedError("Invalid authorization header format"))
				return
			}

			claims := jwt.MapClaims{}
			token, err := parser.ParseWithClaims(tokenStr, claims, keyFunc)
			if err != nil {
				WriteError(w, model.NewUnauthorizedError(classifyJWTError(err)))
				return
			}
			if !token.Valid {
				WriteError(w, model.NewUnauthorizedError("Invalid token"))
				return
			}

			ctx := WithClaims(r.Context(), map[string]any(claims))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func classifyJWTError(err error) string {
	s := err.Error()
	switch {
	case strings.Contains(s, "expired"):
		return "Token expired"
	case strings.Contains(s, "issuer"):
		return "Invalid token issuer"
	case strings.Contains(s, "audience"):
		return "Invalid token audience"
	case strings.Contains(s, "signing method"):
		return "Disallowed signing algorithm"
	case strings.Contains(s, "signature"):
		return "Invalid token signature"
	case strings.Contains(s, "exp claim"):
		return "Token has no expiry"
	default:
		return "Invalid token"
	}
}
