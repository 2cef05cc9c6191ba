// Package mcpserver exposes the engine to MCP hosts as a set of tools.
package mcpserver

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/pitabwire/switchboard/internal/engine"
	"github.com/pitabwire/switchboard/model"
)

// Service is the engine surface the tools call. *engine.Engine satisfies it.
type Service interface {
	Execute(ctx context.Context, connectorID, action string, params map[string]any, ictx model.InvocationContext) model.Response
	RunWorkflowWith(ctx context.Context, workflowID string, vars map[string]any, ictx model.InvocationContext) model.Response
	InvocationContext(userRequest string) model.InvocationContext
	Run(ctx context.Context, runID string) (model.WorkflowRun, error)
	Connectors() []model.Connector
	Workflows() []model.Workflow
	Stats() engine.Stats
	Reload(ctx context.Context) (engine.ReloadResult, error)
}

// Compile-time check.
var _ Service = (*engine.Engine)(nil)

// NewServer builds an MCP server with every engine tool registered.
func NewServer(svc Service, version string, logger *zap.Logger) *mcpsdk.Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	server := mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "switchboard",
			Version: version,
		},
		nil,
	)
	registerTools(server, &tools{svc: svc, logger: logger})
	return server
}

// RunServer serves the engine tools over stdio until ctx is done or the
// host closes the stream.
func RunServer(ctx context.Context, svc Service, version string, logger *zap.Logger) error {
	return NewServer(svc, version, logger).Run(ctx, &mcpsdk.StdioTransport{})
}
