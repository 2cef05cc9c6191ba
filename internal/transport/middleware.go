package transport

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/switchboard/internal/config"
	"github.com/pitabwire/switchboard/internal/observability"
	"github.com/pitabwire/switchboard/model"
)

// CorrelationHeader carries the id tying a client request to its log lines.
const CorrelationHeader = "X-Correlation-Id"

type correlationKey struct{}

// CorrelationID returns the id assigned by Correlate, or "".
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// Correlate echoes the caller's correlation id, minting a UUID when absent.
func Correlate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(CorrelationHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(CorrelationHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), correlationKey{}, id)))
	})
}

// Recovery turns a handler panic into an INTERNAL envelope.
func Recovery(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error("handler panicked",
					zap.Any("panic", rec),
					zap.String("route", r.Method+" "+r.URL.Path),
					zap.Stack("stack"),
				)
				WriteError(w, model.NewInternalError())
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// CORS answers preflight requests and tags responses for allowed origins.
// A "*" entry allows every origin.
func CORS(cfg config.CORSConfig) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		allowed[o] = struct{}{}
	}
	_, anyOrigin := allowed["*"]
	preflight := map[string]string{
		"Access-Control-Allow-Methods":  strings.Join(cfg.AllowedMethods, ", "),
		"Access-Control-Allow-Headers":  strings.Join(cfg.AllowedHeaders, ", "),
		"Access-Control-Max-Age":        strconv.Itoa(cfg.MaxAge),
		"Access-Control-Expose-Headers": CorrelationHeader,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok || anyOrigin {
					h := w.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
					for k, v := range preflight {
						h.Set(k, v)
					}
				}
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// secureHeaders stamps every response with browser hardening headers.
func secureHeaders() []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		middleware.SetHeader("X-Content-Type-Options", "nosniff"),
		middleware.SetHeader("X-Frame-Options", "DENY"),
		middleware.SetHeader("Cache-Control", "no-store"),
		middleware.SetHeader("Referrer-Policy", "no-referrer"),
	}
}

// Deadline bounds every request context by d. Workflow runs blocked on an
// approval end as cancelled once it passes.
func Deadline(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AccessLog stores a request-scoped logger in the context and writes one
// line per request. Server errors log at error level.
func AccessLog(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			l := logger.With(zap.String("correlation_id", CorrelationID(r.Context())))
			if sub := Subject(r.Context()); sub != "" {
				l = l.With(zap.String("subject", sub))
			}

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(observability.WithLogger(r.Context(), l)))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			log := l.Info
			if status >= http.StatusInternalServerError {
				log = l.Error
			}
			log("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}
