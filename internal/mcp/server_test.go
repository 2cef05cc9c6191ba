package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/pitabwire/switchboard/internal/engine"
	"github.com/pitabwire/switchboard/internal/registry"
	"github.com/pitabwire/switchboard/model"
)

// --- test helpers ---

type fakeService struct {
	lastConnector string
	lastAction    string
	lastParams    map[string]any
	lastVars      map[string]any
	lastIctx      model.InvocationContext
	reloadErr     error
}

func (s *fakeService) Execute(_ context.Context, connectorID, action string, params map[string]any, ictx model.InvocationContext) model.Response {
	s.lastConnector, s.lastAction, s.lastParams, s.lastIctx = connectorID, action, params, ictx
	if connectorID == "missing" {
		return model.Fail(model.ErrNotFound, "connector missing not found")
	}
	return model.OK(map[string]any{"pong": true})
}

func (s *fakeService) RunWorkflowWith(_ context.Context, workflowID string, vars map[string]any, ictx model.InvocationContext) model.Response {
	s.lastVars, s.lastIctx = vars, ictx
	return model.OK(map[string]any{"workflowId": workflowID, "runId": "run-1", "status": model.RunStatusCompleted})
}

func (s *fakeService) InvocationContext(userRequest string) model.InvocationContext {
	return model.InvocationContext{WorkspaceRoot: "/workspace", UserRequest: userRequest}
}

func (s *fakeService) Run(_ context.Context, runID string) (model.WorkflowRun, error) {
	if runID != "run-1" {
		return model.WorkflowRun{}, model.NewNotFoundError("run " + runID + " not found")
	}
	finished := time.Date(2026, 1, 2, 3, 4, 6, 0, time.UTC)
	return model.WorkflowRun{
		ID:         "run-1",
		WorkflowID: "release",
		Status:     model.RunStatusFailed,
		Error:      "step fetch failed",
		StartedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		FinishedAt: &finished,
		Results: []model.StepResult{
			{StepID: "fetch", StepName: "Fetch", Status: model.StepStatusFailed, Result: model.Fail(model.ErrTimeout, "timed out")},
		},
	}, nil
}

func (s *fakeService) Connectors() []model.Connector {
	return []model.Connector{
		{ID: "github", Name: "GitHub", Type: model.ConnectorAPI, Enabled: true, Priority: 10},
		{ID: "make", Name: "Make", Type: model.ConnectorCLI, Enabled: false},
	}
}

func (s *fakeService) Workflows() []model.Workflow {
	return []model.Workflow{{
		ID:       "release",
		Name:     "Release",
		Triggers: []string{"manual"},
		Steps:    []model.Step{{ID: "fetch"}, {ID: "check"}},
	}}
}

func (s *fakeService) Stats() engine.Stats {
	return engine.Stats{
		Connectors: registry.ConnectorStats{Total: 2, Enabled: 1, Disabled: 1,
			ByType: map[model.ConnectorType]int{model.ConnectorAPI: 1, model.ConnectorCLI: 1}},
		Workflows: registry.WorkflowStats{Total: 1, Enabled: 1, ByTrigger: map[string]int{"manual": 1}},
		Breakers:  map[string]string{"github": "open", "hooks": "closed"},
		Checksum:  "abc123",
	}
}

func (s *fakeService) Reload(context.Context) (engine.ReloadResult, error) {
	if s.reloadErr != nil {
		return engine.ReloadResult{}, s.reloadErr
	}
	return engine.ReloadResult{Connectors: 7, Workflows: 1, Checksum: "def456", Changed: true}, nil
}

// setupTestServer connects a client to the tool server over in-memory
// transports.
func setupTestServer(t *testing.T, svc Service) *mcpsdk.ClientSession {
	t.Helper()

	server := NewServer(svc, "0.0.1-test", nil)
	ct, st := mcpsdk.NewInMemoryTransports()

	ctx := context.Background()
	ss, err := server.Connect(ctx, st, nil)
	if err != nil {
		t.Fatalf("server.Connect: %v", err)
	}
	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test-client", Version: "0.0.1"}, nil)
	cs, err := client.Connect(ctx, ct, nil)
	if err != nil {
		t.Fatalf("client.Connect: %v", err)
	}
	t.Cleanup(func() {
		cs.Close()
		ss.Close()
	})
	return cs
}

// callTool calls a tool and decodes the JSON text of its first content
// block.
func callTool(t *testing.T, cs *mcpsdk.ClientSession, name string, args any) (map[string]any, bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := cs.CallTool(ctx, &mcpsdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if len(result.Content) == 0 {
		t.Fatalf("CallTool(%s): empty content", name)
	}
	tc, ok := result.Content[0].(*mcpsdk.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): content is %T, want *TextContent", name, result.Content[0])
	}
	if result.IsError {
		return map[string]any{"text": tc.Text}, true
	}

	var m map[string]any
	if err := json.Unmarshal([]byte(tc.Text), &m); err != nil {
		t.Fatalf("CallTool(%s): unmarshal response: %v\nraw: %s", name, err, tc.Text)
	}
	return m, false
}

// --- tools ---

func TestServer_listsTools(t *testing.T) {
	cs := setupTestServer(t, &fakeService{})

	res, err := cs.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	got := make(map[string]bool)
	for _, tool := range res.Tools {
		got[tool.Name] = true
	}
	for _, name := range []string{
		"execute_connector", "run_workflow", "get_run", "list_connectors",
		"list_workflows", "engine_stats", "reload_definitions",
	} {
		if !got[name] {
			t.Errorf("tool %s not registered", name)
		}
	}
}

func TestExecuteConnector(t *testing.T) {
	svc := &fakeService{}
	cs := setupTestServer(t, svc)

	resp, isErr := callTool(t, cs, "execute_connector", map[string]any{
		"connector_id": "github",
		"action":       "get",
		"params":       map[string]any{"path": "/issues"},
		"active_file":  "main.go",
		"user_request": "list issues",
	})
	if isErr {
		t.Fatalf("unexpected tool error: %v", resp)
	}
	if resp["success"] != true {
		t.Errorf("success = %v, want true", resp["success"])
	}
	if svc.lastConnector != "github" || svc.lastAction != "get" {
		t.Errorf("call = %s/%s", svc.lastConnector, svc.lastAction)
	}
	if svc.lastParams["path"] != "/issues" {
		t.Errorf("params = %v", svc.lastParams)
	}
	if svc.lastIctx.ActiveFile != "main.go" || svc.lastIctx.UserRequest != "list issues" || svc.lastIctx.WorkspaceRoot != "/workspace" {
		t.Errorf("ictx = %+v", svc.lastIctx)
	}
}

func TestExecuteConnector_failureIsToolError(t *testing.T) {
	cs := setupTestServer(t, &fakeService{})

	_, isErr := callTool(t, cs, "execute_connector", map[string]any{
		"connector_id": "missing",
		"action":       "get",
	})
	if !isErr {
		t.Error("a failed envelope should be reported as a tool error")
	}
}

func TestRunWorkflow(t *testing.T) {
	svc := &fakeService{}
	cs := setupTestServer(t, svc)

	resp, isErr := callTool(t, cs, "run_workflow", map[string]any{
		"workflow_id": "release",
		"variables":   map[string]any{"branch": "hotfix"},
	})
	if isErr {
		t.Fatalf("unexpected tool error: %v", resp)
	}
	data, _ := resp["data"].(map[string]any)
	if data["runId"] != "run-1" {
		t.Errorf("data = %v", data)
	}
	if svc.lastVars["branch"] != "hotfix" {
		t.Errorf("vars = %v", svc.lastVars)
	}
}

func TestGetRun(t *testing.T) {
	cs := setupTestServer(t, &fakeService{})

	resp, isErr := callTool(t, cs, "get_run", map[string]any{"run_id": "run-1"})
	if isErr {
		t.Fatalf("unexpected tool error: %v", resp)
	}
	if resp["status"] != model.RunStatusFailed || resp["finished_at"] != "2026-01-02T03:04:06Z" {
		t.Errorf("resp = %v", resp)
	}
	steps, _ := resp["steps"].([]any)
	if len(steps) != 1 {
		t.Fatalf("steps = %d, want 1", len(steps))
	}
	if step := steps[0].(map[string]any); step["error"] != "timed out" || step["success"] != false {
		t.Errorf("step = %v", step)
	}

	if _, isErr := callTool(t, cs, "get_run", map[string]any{"run_id": "nope"}); !isErr {
		t.Error("unknown run should be a tool error")
	}
}

func TestListConnectors(t *testing.T) {
	cs := setupTestServer(t, &fakeService{})

	resp, _ := callTool(t, cs, "list_connectors", map[string]any{})
	list, _ := resp["connectors"].([]any)
	if len(list) != 2 {
		t.Fatalf("connectors = %d, want 2", len(list))
	}
	first := list[0].(map[string]any)
	if first["id"] != "github" || first["type"] != "api" || first["priority"] != float64(10) {
		t.Errorf("first = %v", first)
	}
}

func TestListWorkflows(t *testing.T) {
	cs := setupTestServer(t, &fakeService{})

	resp, _ := callTool(t, cs, "list_workflows", map[string]any{})
	list, _ := resp["workflows"].([]any)
	if len(list) != 1 {
		t.Fatalf("workflows = %d, want 1", len(list))
	}
	wf := list[0].(map[string]any)
	if wf["steps"] != float64(2) || wf["enabled"] != true {
		t.Errorf("workflow = %v", wf)
	}
}

func TestEngineStats(t *testing.T) {
	cs := setupTestServer(t, &fakeService{})

	resp, _ := callTool(t, cs, "engine_stats", map[string]any{})
	if resp["connectors"] != float64(2) || resp["checksum"] != "abc123" {
		t.Errorf("resp = %v", resp)
	}
	open, _ := resp["open_breakers"].([]any)
	if len(open) != 1 || open[0] != "github" {
		t.Errorf("open_breakers = %v, want [github]", open)
	}
	byType, _ := resp["connectors_by_type"].(map[string]any)
	if byType["cli"] != float64(1) {
		t.Errorf("connectors_by_type = %v", byType)
	}
}

func TestReloadDefinitions(t *testing.T) {
	svc := &fakeService{}
	cs := setupTestServer(t, svc)

	resp, isErr := callTool(t, cs, "reload_definitions", map[string]any{})
	if isErr || resp["changed"] != true || resp["connectors"] != float64(7) {
		t.Errorf("resp = %v", resp)
	}

	svc.reloadErr = model.NewValidationError([]model.FieldError{
		{Field: "workflows[0].steps[0].connector_id", Code: "REF_NOT_FOUND", Message: "unknown connector"},
	})
	resp, isErr = callTool(t, cs, "reload_definitions", map[string]any{})
	if !isErr {
		t.Fatal("a failed reload should be a tool error")
	}
	if text, _ := resp["text"].(string); !containsAll(text, "workflows[0].steps[0].connector_id", "unknown connector") {
		t.Errorf("error text = %q", text)
	}
}

func TestDescribe_plainError(t *testing.T) {
	err := errors.New("disk gone")
	if got := describe(err); got != err {
		t.Errorf("describe should pass plain errors through, got %v", got)
	}
}

func containsAll(s string, parts ...string) bool {
	for _, p := range parts {
		if !strings.Contains(s, p) {
			return false
		}
	}
	return true
}
