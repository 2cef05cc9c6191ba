// Package engine wires the registry, cache, connector executor, workflow
// engine, definition loader and scheduler into one owned value. Hosts (the
// HTTP server, the MCP server and the CLI) talk only to *Engine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/switchboard/internal/cache"
	"github.com/pitabwire/switchboard/internal/config"
	"github.com/pitabwire/switchboard/internal/connector"
	"github.com/pitabwire/switchboard/internal/definition"
	"github.com/pitabwire/switchboard/internal/idempotency"
	"github.com/pitabwire/switchboard/internal/llm"
	"github.com/pitabwire/switchboard/internal/observability"
	"github.com/pitabwire/switchboard/internal/openapi"
	"github.com/pitabwire/switchboard/internal/registry"
	"github.com/pitabwire/switchboard/internal/trigger"
	"github.com/pitabwire/switchboard/internal/workflow"
	"github.com/pitabwire/switchboard/model"
)

// Options supplies collaborators that are normally built from config.
// Every field is optional.
type Options struct {
	Logger *zap.Logger
	// Registerer receives the engine's Prometheus metrics. Nil disables
	// metrics.
	Registerer prometheus.Registerer
	// Chat overrides the Anthropic client used by ai steps.
	Chat workflow.ChatClient
	// Store overrides the run store selected by config.
	Store      workflow.RunStore
	HTTPClient *http.Client
	OpenDB     connector.DBOpener
	Now        func() time.Time
}

// Engine is the connector and workflow engine.
type Engine struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *observability.Metrics

	registry  *registry.Registry
	cache     cache.Cache
	idem      idempotency.Store
	specs     *openapi.Index
	executor  *connector.Executor
	workflows *workflow.Engine
	pending   *workflow.PendingApprover
	store     workflow.RunStore
	loader    *definition.Loader
	validator *definition.Validator
	scheduler *trigger.Scheduler

	reloadMu sync.Mutex
	loaded   atomic.Bool
	warnings atomic.Pointer[[]string]

	stopSweep context.CancelFunc
	closers   []func()
	closeOnce sync.Once
}

// New builds an Engine from cfg. Definitions are not loaded until Reload is
// called; until then only the built-in connectors are registered.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		cfg:       cfg,
		logger:    logger,
		registry:  registry.New(),
		specs:     openapi.NewIndex(),
		validator: definition.NewValidator(),
	}
	if opts.Registerer != nil {
		e.metrics = observability.InitMetrics(opts.Registerer)
	}
	e.registry.LoadBuiltins()

	loader, err := definition.NewLoader(cfg.Definitions.SecretsFiles)
	if err != nil {
		return nil, err
	}
	e.loader = loader

	if err := e.buildCache(ctx); err != nil {
		e.Close()
		return nil, err
	}

	e.executor = connector.NewExecutor(connector.Options{
		Lookup:         e.registry,
		Cache:          e.cache,
		Timeouts:       cfg.Connectors.Timeouts,
		Retry:          cfg.Connectors.Retry,
		CircuitBreaker: cfg.Connectors.CircuitBreaker,
		HTTPClient:     opts.HTTPClient,
		OpenDB:         opts.OpenDB,
		Specs:          e.specs,
		Logger:         logger,
		Metrics:        e.metrics,
		Now:            opts.Now,
	})
	e.closers = append(e.closers, e.executor.Close)

	e.store = opts.Store
	if e.store == nil {
		if e.store, err = e.buildStore(ctx); err != nil {
			e.Close()
			return nil, err
		}
	}

	var approver workflow.Approver = workflow.AutoApprover{}
	if cfg.Workflow.Approval.Mode == "pending" {
		e.pending = workflow.NewPendingApprover(e.metrics)
		approver = e.pending
	}

	chat := opts.Chat
	if chat == nil {
		client, err := llm.New(cfg.AI)
		switch {
		case errors.Is(err, llm.ErrNoAPIKey):
			logger.Info("ai steps disabled", zap.String("api_key_env", cfg.AI.APIKeyEnv))
		case err != nil:
			e.Close()
			return nil, err
		default:
			chat = client
		}
	}

	e.workflows = workflow.NewEngine(workflow.Options{
		Lookup:          e.registry,
		Executor:        e.executor,
		Chat:            chat,
		Approver:        approver,
		Store:           e.store,
		StepLimit:       cfg.Workflow.StepLimit,
		ApprovalTimeout: cfg.Workflow.Approval.Timeout,
		AITimeout:       cfg.AI.Timeout,
		Logger:          logger,
		Metrics:         e.metrics,
		Now:             opts.Now,
	})

	if cfg.Workflow.Scheduler.Enabled {
		e.scheduler = trigger.New(func(ctx context.Context, workflowID string) model.Response {
			ictx := model.NewInvocationContext(e.cfg.Workspace.Root, "scheduled run")
			return e.workflows.RunWorkflow(ctx, workflowID, ictx)
		}, logger)
		e.scheduler.Start()
		e.closers = append(e.closers, e.scheduler.Stop)
	}

	return e, nil
}

func (e *Engine) buildCache(ctx context.Context) error {
	opts := cache.Options{TTL: e.cfg.Cache.TTL, MaxAge: e.cfg.Cache.MaxAge}

	switch e.cfg.Cache.Backend {
	case "redis":
		rc := e.cfg.Cache.Redis
		client := redis.NewClient(&redis.Options{
			Addr:     rc.RedisAddr(),
			Password: os.Getenv(rc.PasswordEnv),
			DB:       rc.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return fmt.Errorf("cache: connect redis %s: %w", rc.RedisAddr(), err)
		}
		e.closers = append(e.closers, func() { client.Close() })
		e.cache = cache.NewRedisCache(client, opts)
		e.idem = idempotency.NewRedisStore(client)
		e.logger.Info("using redis response cache", zap.String("addr", rc.RedisAddr()))
	default:
		e.cache = cache.NewMemoryCache(opts)
		e.idem = idempotency.NewMemoryStore()
	}

	sweepCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.stopSweep = cancel
	go cache.RunSweeper(sweepCtx, e.cache, e.cfg.Cache.SweepInterval, e.logger, e.metrics)
	return nil
}

func (e *Engine) buildStore(ctx context.Context) (workflow.RunStore, error) {
	sc := e.cfg.Workflow.Store
	if sc.Driver != "postgres" {
		return workflow.NewMemoryRunStore(workflow.DefaultMaxRuns), nil
	}

	dsn := os.Getenv(sc.DSNEnv)
	if dsn == "" {
		return nil, fmt.Errorf("workflow store: %s environment variable not set", sc.DSNEnv)
	}
	store, err := workflow.OpenPgRunStore(ctx, dsn, sc.MaxConns)
	if err != nil {
		return nil, fmt.Errorf("workflow store: %w", err)
	}
	e.closers = append(e.closers, store.Close)
	e.logger.Info("using postgres workflow store")
	return store, nil
}

// Close stops background work and releases connections. It is safe to call
// more than once.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		if e.stopSweep != nil {
			e.stopSweep()
		}
		for i := len(e.closers) - 1; i >= 0; i-- {
			e.closers[i]()
		}
	})
}

// --- Execution ---

// Execute runs action on a connector. It always returns an envelope.
func (e *Engine) Execute(ctx context.Context, connectorID, action string, params map[string]any, ictx model.InvocationContext) model.Response {
	return e.executor.Execute(ctx, connectorID, action, params, ictx)
}

// RunWorkflow runs a workflow with its declared variables.
func (e *Engine) RunWorkflow(ctx context.Context, workflowID string, ictx model.InvocationContext) model.Response {
	return e.workflows.RunWorkflow(ctx, workflowID, ictx)
}

// RunWorkflowWith runs a workflow with vars overlaid on its declared
// variables.
func (e *Engine) RunWorkflowWith(ctx context.Context, workflowID string, vars map[string]any, ictx model.InvocationContext) model.Response {
	return e.workflows.RunWorkflowWith(ctx, workflowID, vars, ictx)
}

// RunWorkflowOnce runs a workflow at most once per idempotency key. A repeat
// with the same key and input replays the recorded envelope with
// metadata.replayed set; the same key with different input is a CONFLICT.
// Cancelled runs are not recorded. An empty key always runs.
func (e *Engine) RunWorkflowOnce(ctx context.Context, key, workflowID string, vars map[string]any, ictx model.InvocationContext) model.Response {
	if key == "" {
		return e.RunWorkflowWith(ctx, workflowID, vars, ictx)
	}

	storeKey := idempotency.Key(workflowID, key)
	hash := idempotency.HashInput(map[string]any{"workflowId": workflowID, "variables": vars})
	prev, found, err := e.idem.Check(ctx, storeKey, hash)
	var ee *model.ErrorEnvelope
	switch {
	case errors.As(err, &ee):
		return model.Fail(ee.Code, ee.Message)
	case err != nil:
		e.logger.Warn("idempotency lookup failed", zap.String("workflow_id", workflowID), zap.Error(err))
	case found:
		e.logger.Debug("replaying keyed workflow run", zap.String("workflow_id", workflowID))
		return prev.WithMetadata("replayed", true)
	}

	resp := e.RunWorkflowWith(ctx, workflowID, vars, ictx)
	if resp.Code == model.ErrCancelled {
		return resp
	}
	if err := e.idem.Put(context.WithoutCancel(ctx), storeKey, hash, resp, e.cfg.Workflow.IdempotencyTTL); err != nil {
		e.logger.Warn("recording keyed workflow run failed", zap.String("workflow_id", workflowID), zap.Error(err))
	}
	return resp
}

// InvocationContext returns a context rooted at the configured workspace.
func (e *Engine) InvocationContext(userRequest string) model.InvocationContext {
	return model.NewInvocationContext(e.cfg.Workspace.Root, userRequest)
}

// Run returns a recorded workflow run.
func (e *Engine) Run(ctx context.Context, runID string) (model.WorkflowRun, error) {
	return e.workflows.Run(ctx, runID)
}

// Runs lists recorded workflow runs, newest first.
func (e *Engine) Runs(ctx context.Context, filters workflow.RunFilters) ([]model.WorkflowRun, error) {
	return e.store.List(ctx, filters)
}

// --- Registry ---

// Connectors lists connectors by priority with credentials masked.
func (e *Engine) Connectors() []model.Connector {
	list := e.registry.List()
	for i := range list {
		list[i] = list[i].Redacted()
	}
	return list
}

// Workflows lists the registered workflows.
func (e *Engine) Workflows() []model.Workflow {
	return e.registry.Workflows()
}

// ToggleConnector flips a connector's enablement and returns the new state.
func (e *Engine) ToggleConnector(id string) (bool, error) {
	enabled, ok := e.registry.Toggle(id)
	if !ok {
		return false, model.NewNotFoundError(fmt.Sprintf("connector %q not found", id))
	}
	e.logger.Info("connector toggled", zap.String("connector_id", id), zap.Bool("enabled", enabled))
	return enabled, nil
}

// ToggleWorkflow flips a workflow's enablement and returns the new state.
// Schedules follow the new state.
func (e *Engine) ToggleWorkflow(id string) (bool, error) {
	enabled, ok := e.registry.ToggleWorkflow(id)
	if !ok {
		return false, model.NewNotFoundError(fmt.Sprintf("workflow %q not found", id))
	}
	e.logger.Info("workflow toggled", zap.String("workflow_id", id), zap.Bool("enabled", enabled))
	e.syncSchedules()
	return enabled, nil
}

// --- Approvals ---

// PendingApprovals lists user steps waiting for a decision. It is empty when
// approvals are automatic.
func (e *Engine) PendingApprovals() []workflow.ApprovalRequest {
	if e.pending == nil {
		return []workflow.ApprovalRequest{}
	}
	return e.pending.Pending()
}

// ResolveApproval delivers a decision to a waiting user step.
func (e *Engine) ResolveApproval(runID, stepID string, d workflow.Decision) error {
	if e.pending == nil {
		return model.NewBadRequestError("approvals are automatic; nothing to resolve")
	}
	if err := e.pending.Resolve(runID, stepID, d); err != nil {
		if errors.Is(err, workflow.ErrNoPendingApproval) {
			return model.NewNotFoundError(fmt.Sprintf("no pending approval for run %q step %q", runID, stepID))
		}
		return err
	}
	return nil
}

// --- Stats and health ---

// Stats summarises the engine state.
type Stats struct {
	Connectors       registry.ConnectorStats `json:"connectors"`
	Workflows        registry.WorkflowStats  `json:"workflows"`
	Breakers         map[string]string       `json:"breakers"`
	Operations       int                     `json:"openapiOperations"`
	Schedules        []trigger.Entry         `json:"schedules"`
	PendingApprovals int                     `json:"pendingApprovals"`
	Checksum         string                  `json:"checksum"`
	Warnings         []string                `json:"warnings,omitempty"`
}

// Stats returns connector counts by type, workflow counts by trigger and the
// state of the surrounding machinery.
func (e *Engine) Stats() Stats {
	s := Stats{
		Connectors:       e.registry.Stats(),
		Workflows:        e.registry.WorkflowStats(),
		Breakers:         e.executor.BreakerStates(),
		Operations:       e.specs.Count(),
		Schedules:        []trigger.Entry{},
		PendingApprovals: len(e.PendingApprovals()),
		Checksum:         e.registry.Checksum(),
	}
	if e.scheduler != nil {
		s.Schedules = e.scheduler.Entries()
	}
	if w := e.warnings.Load(); w != nil {
		s.Warnings = *w
	}
	return s
}

// Readiness returns the checks used by the readiness endpoint.
func (e *Engine) Readiness() observability.ReadinessChecks {
	checks := observability.ReadinessChecks{
		DefinitionsLoaded: e.loaded.Load,
		Breakers:          e.executor.BreakerStates,
	}
	if hc, ok := e.cache.(observability.HealthChecker); ok {
		checks.Cache = hc
	}
	if hc, ok := e.store.(observability.HealthChecker); ok {
		checks.RunStore = hc
	}
	return checks
}

// Metrics returns the engine's metrics, or nil when disabled.
func (e *Engine) Metrics() *observability.Metrics {
	return e.metrics
}
