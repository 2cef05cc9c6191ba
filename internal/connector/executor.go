// Package connector executes connector actions. The Executor looks up the
// connector, consults the response cache, and dispatches to the strategy for
// the connector's config variant, always returning a well-formed envelope.
package connector

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/switchboard/internal/cache"
	"github.com/pitabwire/switchboard/internal/config"
	"github.com/pitabwire/switchboard/internal/observability"
	"github.com/pitabwire/switchboard/internal/openapi"
	"github.com/pitabwire/switchboard/model"
)

// fallbackTimeout applies when neither the connector nor config sets one.
const fallbackTimeout = 30 * time.Second

// Lookup resolves connector ids. *registry.Registry satisfies it.
type Lookup interface {
	Connector(id string) (model.Connector, bool)
}

// Options configures an Executor. Only Lookup is required.
type Options struct {
	Lookup Lookup
	// Cache stores successful responses. Nil disables caching.
	Cache          cache.Cache
	Timeouts       config.TimeoutsConfig
	Retry          config.RetryConfig
	CircuitBreaker config.CircuitBreakerConfig
	// HTTPClient is used by api and webhook connectors. Per-call deadlines
	// come from the context, so it should not set a Timeout.
	HTTPClient *http.Client
	// OpenDB opens database connectors. Defaults to OpenPostgres.
	OpenDB DBOpener
	// Specs indexes OpenAPI documents of api connectors. Defaults to a new
	// empty index.
	Specs   *openapi.Index
	Logger  *zap.Logger
	Metrics *observability.Metrics
	// Now is the clock used for webhook timestamps and JWT claims.
	Now func() time.Time
}

// call is one invocation handed to a strategy.
type call struct {
	action string
	params map[string]any
	ictx   model.InvocationContext
}

// Executor runs connector actions. It is safe for concurrent use.
type Executor struct {
	lookup   Lookup
	cache    cache.Cache
	timeouts config.TimeoutsConfig
	logger   *zap.Logger
	metrics  *observability.Metrics
	breakers *breakerSet

	api      *apiStrategy
	cli      *cliStrategy
	file     *fileStrategy
	database *databaseStrategy
	webhook  *webhookStrategy
}

// NewExecutor creates an Executor from opts.
func NewExecutor(opts Options) *Executor {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxConnsPerHost:     50,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}
	specs := opts.Specs
	if specs == nil {
		specs = openapi.NewIndex()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	breakers := newBreakerSet(opts.CircuitBreaker)
	caller := &httpCaller{
		client:   client,
		retry:    opts.Retry,
		breakers: breakers,
		metrics:  opts.Metrics,
		logger:   logger,
	}

	return &Executor{
		lookup:   opts.Lookup,
		cache:    opts.Cache,
		timeouts: opts.Timeouts,
		logger:   logger,
		metrics:  opts.Metrics,
		breakers: breakers,
		api:      &apiStrategy{http: caller, specs: specs, now: now},
		cli:      &cliStrategy{},
		file:     &fileStrategy{},
		database: newDatabaseStrategy(opts.OpenDB),
		webhook:  &webhookStrategy{http: caller, now: now},
	}
}

// Execute runs action on the connector and returns its envelope. It never
// panics and never returns without a result: lookup failures, disabled
// connectors, dispatch errors and timeouts all become failed envelopes.
func (e *Executor) Execute(ctx context.Context, connectorID, action string, params map[string]any, ictx model.InvocationContext) model.Response {
	ctx = model.WithInvocationContext(ctx, ictx)
	ctx, span := observability.StartSpan(ctx, "connector.execute",
		observability.AttrConnectorID.String(connectorID),
		observability.AttrAction.String(action),
	)
	logger := observability.InvocationLogger(ctx, e.logger).With(
		zap.String("connector_id", connectorID),
		zap.String("action", action),
	)

	resp, connType, dispatched := e.execute(ctx, logger, connectorID, action, params, ictx)

	span.SetAttributes(
		observability.AttrConnectorType.String(string(connType)),
		observability.AttrCacheHit.Bool(resp.Cached),
	)
	observability.EndSpanWithCode(span, resp.Code, resp.Error)

	code := "ok"
	if !resp.Success {
		code = resp.Code
		logger.Warn("connector execution failed",
			zap.String("code", resp.Code),
			zap.String("error", resp.Error),
			zap.Int64("duration_ms", resp.Duration),
		)
	}
	e.metrics.RecordExecution(connectorID, string(connType), code, time.Duration(resp.Duration)*time.Millisecond, dispatched)
	return resp
}

func (e *Executor) execute(ctx context.Context, logger *zap.Logger, connectorID, action string, params map[string]any, ictx model.InvocationContext) (model.Response, model.ConnectorType, bool) {
	conn, ok := e.lookup.Connector(connectorID)
	if !ok {
		return model.Fail(model.ErrNotFound, fmt.Sprintf("connector %q not found", connectorID)), "", false
	}
	if !conn.Enabled {
		return model.Fail(model.ErrDisabled, fmt.Sprintf("connector %q is disabled", connectorID)), conn.Type, false
	}

	key := cache.Key(connectorID, action, params)
	if e.cache != nil {
		cached, hit, err := e.cache.Get(ctx, key)
		if err != nil {
			logger.Warn("cache lookup failed", zap.Error(err))
		}
		e.metrics.RecordCacheLookup(connectorID, hit)
		if hit {
			logger.Debug("serving cached response")
			return cached, conn.Type, false
		}
	}

	logger.Debug("dispatching connector",
		zap.String("type", string(conn.Type)),
		zap.Any("params", observability.RedactParams(params, nil)),
	)

	start := time.Now()
	resp := e.dispatch(ctx, conn, call{action: action, params: params, ictx: ictx})
	resp.Duration = time.Since(start).Milliseconds()
	resp.Cached = false

	if resp.Success && e.cache != nil {
		if err := e.cache.Put(ctx, key, resp); err != nil {
			logger.Warn("cache store failed", zap.Error(err))
		}
	}
	return resp, conn.Type, true
}

// dispatch selects the strategy for the connector's config variant under the
// connector's deadline. Panics become DISPATCH_FAILURE envelopes.
func (e *Executor) dispatch(ctx context.Context, conn model.Connector, c call) (resp model.Response) {
	ctx, cancel := context.WithTimeout(ctx, conn.Timeout(e.defaultTimeout(conn.Type)))
	defer cancel()

	ctx, span := observability.StartSpan(ctx, "connector.dispatch",
		observability.AttrConnectorType.String(string(conn.Type)),
	)
	defer func() { observability.EndSpanWithCode(span, resp.Code, resp.Error) }()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("connector panicked",
				zap.String("connector_id", conn.ID),
				zap.Any("panic", r),
			)
			resp = model.Fail(model.ErrDispatchFailure, fmt.Sprintf("connector %s panicked: %v", conn.ID, r))
		}
	}()

	switch cfg := conn.Config.(type) {
	case *model.APIConfig:
		return e.api.execute(ctx, conn, cfg, c)
	case *model.CLIConfig:
		return e.cli.execute(ctx, conn, cfg, c)
	case *model.FileConfig:
		return e.file.execute(ctx, conn, cfg, c)
	case *model.DatabaseConfig:
		return e.database.execute(ctx, conn, cfg, c)
	case *model.WebhookConfig:
		return e.webhook.execute(ctx, conn, cfg, c)
	case nil:
		return model.Fail(model.ErrDispatchFailure, fmt.Sprintf("connector %s has no config", conn.ID))
	default:
		return model.Fail(model.ErrDispatchFailure, fmt.Sprintf("connector %s has unsupported config %T", conn.ID, cfg))
	}
}

func (e *Executor) defaultTimeout(t model.ConnectorType) time.Duration {
	var d time.Duration
	switch t {
	case model.ConnectorAPI:
		d = e.timeouts.API
	case model.ConnectorCLI:
		d = e.timeouts.CLI
	case model.ConnectorFile:
		d = e.timeouts.File
	case model.ConnectorDatabase:
		d = e.timeouts.Database
	case model.ConnectorWebhook:
		d = e.timeouts.Webhook
	}
	if d <= 0 {
		d = fallbackTimeout
	}
	return d
}

// BreakerStates returns the circuit breaker state of every network connector
// that has been called, keyed by connector id.
func (e *Executor) BreakerStates() map[string]string {
	states := e.breakers.states()
	out := make(map[string]string, len(states))
	for id, s := range states {
		out[id] = s.String()
	}
	return out
}

// Close releases database pools.
func (e *Executor) Close() {
	e.database.close()
}
