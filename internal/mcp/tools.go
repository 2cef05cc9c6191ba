package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/pitabwire/switchboard/model"
)

const timeFormat = time.RFC3339

type tools struct {
	svc    Service
	logger *zap.Logger
}

// invocationContext builds the context for a call from the optional editor
// state a host attaches to it.
func (t *tools) invocationContext(activeFile, selection, language, userRequest string) model.InvocationContext {
	ictx := t.svc.InvocationContext(userRequest)
	ictx.ActiveFile = activeFile
	ictx.Selection = selection
	ictx.Language = language
	return ictx
}

// responseResult marks failed envelopes as tool errors while still returning
// the envelope as structured content.
func responseResult(resp model.Response) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{IsError: !resp.Success}
}

// -- execute_connector --

type executeInput struct {
	ConnectorID string         `json:"connector_id" jsonschema:"Connector to invoke"`
	Action      string         `json:"action" jsonschema:"Action name, for example get, run, read, query or trigger"`
	Params      map[string]any `json:"params,omitempty" jsonschema:"Action parameters"`
	ActiveFile  string         `json:"active_file,omitempty" jsonschema:"Path of the file open in the editor"`
	Selection   string         `json:"selection,omitempty" jsonschema:"Currently selected text"`
	Language    string         `json:"language,omitempty" jsonschema:"Language of the active file"`
	UserRequest string         `json:"user_request,omitempty" jsonschema:"Natural-language request that prompted the call"`
}

func (t *tools) execute(ctx context.Context, _ *mcpsdk.CallToolRequest, in executeInput) (*mcpsdk.CallToolResult, model.Response, error) {
	if in.ConnectorID == "" || in.Action == "" {
		return nil, model.Response{}, fmt.Errorf("connector_id and action are required")
	}
	resp := t.svc.Execute(ctx, in.ConnectorID, in.Action, in.Params, t.invocationContext(in.ActiveFile, in.Selection, in.Language, in.UserRequest))
	t.logger.Debug("mcp execute",
		zap.String("connector_id", in.ConnectorID),
		zap.String("action", in.Action),
		zap.Bool("success", resp.Success),
	)
	return responseResult(resp), resp, nil
}

// -- run_workflow --

type runWorkflowInput struct {
	WorkflowID  string         `json:"workflow_id" jsonschema:"Workflow to run"`
	Variables   map[string]any `json:"variables,omitempty" jsonschema:"Variables merged over the workflow defaults"`
	ActiveFile  string         `json:"active_file,omitempty" jsonschema:"Path of the file open in the editor"`
	Selection   string         `json:"selection,omitempty" jsonschema:"Currently selected text"`
	Language    string         `json:"language,omitempty" jsonschema:"Language of the active file"`
	UserRequest string         `json:"user_request,omitempty" jsonschema:"Natural-language request that prompted the call"`
}

func (t *tools) runWorkflow(ctx context.Context, _ *mcpsdk.CallToolRequest, in runWorkflowInput) (*mcpsdk.CallToolResult, model.Response, error) {
	if in.WorkflowID == "" {
		return nil, model.Response{}, fmt.Errorf("workflow_id is required")
	}
	resp := t.svc.RunWorkflowWith(ctx, in.WorkflowID, in.Variables, t.invocationContext(in.ActiveFile, in.Selection, in.Language, in.UserRequest))
	t.logger.Debug("mcp run workflow",
		zap.String("workflow_id", in.WorkflowID),
		zap.Bool("success", resp.Success),
	)
	return responseResult(resp), resp, nil
}

// -- get_run --

type getRunInput struct {
	RunID string `json:"run_id" jsonschema:"Run identifier returned by run_workflow"`
}

type runStep struct {
	StepID   string `json:"step_id"`
	StepName string `json:"step_name"`
	Status   string `json:"status"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

type getRunOutput struct {
	ID         string    `json:"id"`
	WorkflowID string    `json:"workflow_id"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	StartedAt  string    `json:"started_at"`
	FinishedAt string    `json:"finished_at,omitempty"`
	Steps      []runStep `json:"steps"`
}

func (t *tools) getRun(ctx context.Context, _ *mcpsdk.CallToolRequest, in getRunInput) (*mcpsdk.CallToolResult, getRunOutput, error) {
	if in.RunID == "" {
		return nil, getRunOutput{}, fmt.Errorf("run_id is required")
	}
	run, err := t.svc.Run(ctx, in.RunID)
	if err != nil {
		return nil, getRunOutput{}, err
	}

	out := getRunOutput{
		ID:         run.ID,
		WorkflowID: run.WorkflowID,
		Status:     run.Status,
		Error:      run.Error,
		StartedAt:  run.StartedAt.Format(timeFormat),
		Steps:      make([]runStep, 0, len(run.Results)),
	}
	if run.FinishedAt != nil {
		out.FinishedAt = run.FinishedAt.Format(timeFormat)
	}
	for _, r := range run.Results {
		out.Steps = append(out.Steps, runStep{
			StepID:   r.StepID,
			StepName: r.StepName,
			Status:   r.Status,
			Success:  r.Result.Success,
			Error:    r.Result.Error,
		})
	}
	return nil, out, nil
}

// -- list_connectors --

type listInput struct{}

type connectorSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type"`
	Enabled     bool   `json:"enabled"`
	Priority    int    `json:"priority"`
}

type listConnectorsOutput struct {
	Connectors []connectorSummary `json:"connectors"`
}

func (t *tools) listConnectors(_ context.Context, _ *mcpsdk.CallToolRequest, _ listInput) (*mcpsdk.CallToolResult, listConnectorsOutput, error) {
	connectors := t.svc.Connectors()
	out := listConnectorsOutput{Connectors: make([]connectorSummary, 0, len(connectors))}
	for _, c := range connectors {
		out.Connectors = append(out.Connectors, connectorSummary{
			ID:          c.ID,
			Name:        c.Name,
			Description: c.Description,
			Type:        string(c.Type),
			Enabled:     c.Enabled,
			Priority:    c.Priority,
		})
	}
	return nil, out, nil
}

// -- list_workflows --

type workflowSummary struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Triggers    []string `json:"triggers"`
	Steps       int      `json:"steps"`
	Enabled     bool     `json:"enabled"`
}

type listWorkflowsOutput struct {
	Workflows []workflowSummary `json:"workflows"`
}

func (t *tools) listWorkflows(_ context.Context, _ *mcpsdk.CallToolRequest, _ listInput) (*mcpsdk.CallToolResult, listWorkflowsOutput, error) {
	workflows := t.svc.Workflows()
	out := listWorkflowsOutput{Workflows: make([]workflowSummary, 0, len(workflows))}
	for _, w := range workflows {
		triggers := w.Triggers
		if triggers == nil {
			triggers = []string{}
		}
		out.Workflows = append(out.Workflows, workflowSummary{
			ID:          w.ID,
			Name:        w.Name,
			Description: w.Description,
			Triggers:    triggers,
			Steps:       len(w.Steps),
			Enabled:     w.IsEnabled(),
		})
	}
	return nil, out, nil
}

// -- engine_stats --

type statsOutput struct {
	Connectors         int            `json:"connectors"`
	EnabledConnectors  int            `json:"enabled_connectors"`
	ConnectorsByType   map[string]int `json:"connectors_by_type"`
	Workflows          int            `json:"workflows"`
	EnabledWorkflows   int            `json:"enabled_workflows"`
	WorkflowsByTrigger map[string]int `json:"workflows_by_trigger"`
	OpenBreakers       []string       `json:"open_breakers"`
	Schedules          int            `json:"schedules"`
	PendingApprovals   int            `json:"pending_approvals"`
	Checksum           string         `json:"checksum"`
	Warnings           []string       `json:"warnings"`
}

func (t *tools) stats(_ context.Context, _ *mcpsdk.CallToolRequest, _ listInput) (*mcpsdk.CallToolResult, statsOutput, error) {
	s := t.svc.Stats()
	out := statsOutput{
		Connectors:         s.Connectors.Total,
		EnabledConnectors:  s.Connectors.Enabled,
		ConnectorsByType:   make(map[string]int, len(s.Connectors.ByType)),
		Workflows:          s.Workflows.Total,
		EnabledWorkflows:   s.Workflows.Enabled,
		WorkflowsByTrigger: make(map[string]int, len(s.Workflows.ByTrigger)),
		OpenBreakers:       []string{},
		Schedules:          len(s.Schedules),
		PendingApprovals:   s.PendingApprovals,
		Checksum:           s.Checksum,
		Warnings:           []string{},
	}
	for typ, n := range s.Connectors.ByType {
		out.ConnectorsByType[string(typ)] = n
	}
	for trig, n := range s.Workflows.ByTrigger {
		out.WorkflowsByTrigger[trig] = n
	}
	for id, state := range s.Breakers {
		if state != "closed" {
			out.OpenBreakers = append(out.OpenBreakers, id)
		}
	}
	sort.Strings(out.OpenBreakers)
	out.Warnings = append(out.Warnings, s.Warnings...)
	return nil, out, nil
}

// -- reload_definitions --

type reloadOutput struct {
	Connectors int      `json:"connectors"`
	Workflows  int      `json:"workflows"`
	Checksum   string   `json:"checksum"`
	Changed    bool     `json:"changed"`
	Warnings   []string `json:"warnings"`
}

func (t *tools) reload(ctx context.Context, _ *mcpsdk.CallToolRequest, _ listInput) (*mcpsdk.CallToolResult, reloadOutput, error) {
	res, err := t.svc.Reload(ctx)
	if err != nil {
		return nil, reloadOutput{}, describe(err)
	}
	return nil, reloadOutput{
		Connectors: res.Connectors,
		Workflows:  res.Workflows,
		Checksum:   res.Checksum,
		Changed:    res.Changed,
		Warnings:   append([]string{}, res.Warnings...),
	}, nil
}

// describe flattens validation details into the error text so hosts see
// every offending field.
func describe(err error) error {
	var ee *model.ErrorEnvelope
	if !errors.As(err, &ee) || len(ee.Details) == 0 {
		return err
	}
	msg := ee.Message
	for _, d := range ee.Details {
		msg += fmt.Sprintf("; %s: %s", d.Field, d.Message)
	}
	return errors.New(msg)
}

func registerTools(server *mcpsdk.Server, t *tools) {
	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        "execute_connector",
		Description: "Invoke one action on a configured connector and return its response envelope",
	}, t.execute)

	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        "run_workflow",
		Description: "Run a workflow to completion and return the per-step results",
	}, t.runWorkflow)

	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        "get_run",
		Description: "Fetch a recorded workflow run by id",
	}, t.getRun)

	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        "list_connectors",
		Description: "List registered connectors by priority",
	}, t.listConnectors)

	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        "list_workflows",
		Description: "List loaded workflows with their triggers",
	}, t.listWorkflows)

	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        "engine_stats",
		Description: "Summarize connectors, workflows, schedules and circuit breakers",
	}, t.stats)

	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        "reload_definitions",
		Description: "Reload connector and workflow definitions from disk",
	}, t.reload)
}
