package transport

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pitabwire/switchboard/internal/config"
	"github.com/pitabwire/switchboard/internal/engine"
	"github.com/pitabwire/switchboard/internal/observability"
	"github.com/pitabwire/switchboard/internal/workflow"
	"github.com/pitabwire/switchboard/model"
)

// Service is the engine surface exposed over HTTP. *engine.Engine
// satisfies it.
type Service interface {
	Execute(ctx context.Context, connectorID, action string, params map[string]any, ictx model.InvocationContext) model.Response
	RunWorkflowOnce(ctx context.Context, key, workflowID string, vars map[string]any, ictx model.InvocationContext) model.Response
	InvocationContext(userRequest string) model.InvocationContext
	Run(ctx context.Context, runID string) (model.WorkflowRun, error)
	Runs(ctx context.Context, filters workflow.RunFilters) ([]model.WorkflowRun, error)
	Connectors() []model.Connector
	Workflows() []model.Workflow
	ToggleConnector(id string) (bool, error)
	ToggleWorkflow(id string) (bool, error)
	PendingApprovals() []workflow.ApprovalRequest
	ResolveApproval(runID, stepID string, d workflow.Decision) error
	Stats() engine.Stats
	Reload(ctx context.Context) (engine.ReloadResult, error)
}

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config  *config.Config
	Service Service
	Logger  *zap.Logger
	// Metrics records HTTP metrics when set.
	Metrics *observability.Metrics
	// Gatherer backs /metrics. Nil serves the default registry.
	Gatherer  prometheus.Gatherer
	Readiness observability.ReadinessChecks
	// Authenticate guards /api routes. Nil leaves them open.
	Authenticate func(http.Handler) http.Handler
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass
// authentication.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(Recovery(logger))
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(Correlate)
	r.Use(secureHeaders()...)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.MetricsMiddleware)
	}

	r.Get("/health", observability.HandleHealth())
	r.Get("/ready", observability.HandleReady(deps.Readiness))
	if deps.Config.Observability.Metrics.Enabled {
		path := deps.Config.Observability.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, observability.Handler(deps.Gatherer))
	}

	svc := deps.Service
	r.Route("/api", func(r chi.Router) {
		if deps.Authenticate != nil {
			r.Use(deps.Authenticate)
		}
		r.Use(Deadline(deps.Config.Server.HandlerTimeout))
		r.Use(AccessLog(logger))

		r.Get("/connectors", handleListConnectors(svc))
		r.Post("/connectors/{connectorId}/toggle", handleToggleConnector(svc))
		r.Post("/connectors/{connectorId}/execute", handleExecuteConnector(svc))

		r.Get("/workflows", handleListWorkflows(svc))
		r.Post("/workflows/{workflowId}/toggle", handleToggleWorkflow(svc))
		r.Post("/workflows/{workflowId}/run", handleRunWorkflow(svc))

		r.Get("/runs", handleListRuns(svc))
		r.Get("/runs/{runId}", handleGetRun(svc))

		r.Get("/approvals", handleListApprovals(svc))
		r.Post("/approvals/{runId}/{stepId}", handleResolveApproval(svc))

		r.Get("/stats", handleStats(svc))
		r.Post("/reload", handleReload(svc))
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteNotFound(w, "no route for "+r.Method+" "+r.URL.Path)
	})

	return r
}
