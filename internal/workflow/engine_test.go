package workflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pitabwire/switchboard/model"
)

// --- Test helpers ---

type execCall struct {
	ConnectorID string
	Action      string
	Params      map[string]any
}

// fakeExecutor records calls and answers through respond. The default
// answer succeeds with {"connector": id}.
type fakeExecutor struct {
	mu      sync.Mutex
	calls   []execCall
	respond func(ctx context.Context, c execCall) model.Response
}

func (f *fakeExecutor) Execute(ctx context.Context, connectorID, action string, params map[string]any, _ model.InvocationContext) model.Response {
	c := execCall{ConnectorID: connectorID, Action: action, Params: params}
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
	if f.respond != nil {
		return f.respond(ctx, c)
	}
	return model.OK(map[string]any{"connector": connectorID})
}

func (f *fakeExecutor) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, len(f.calls))
	for i, c := range f.calls {
		ids[i] = c.ConnectorID
	}
	return ids
}

// failing answers DISPATCH_FAILURE for the given connector ids.
func failing(ids ...string) func(context.Context, execCall) model.Response {
	return func(_ context.Context, c execCall) model.Response {
		for _, id := range ids {
			if c.ConnectorID == id {
				return model.Fail(model.ErrDispatchFailure, id+" exploded")
			}
		}
		return model.OK(map[string]any{"connector": c.ConnectorID})
	}
}

type fakeLookup struct {
	workflows  map[string]model.Workflow
	connectors map[string]model.Connector
}

func (l *fakeLookup) Workflow(id string) (model.Workflow, bool) {
	wf, ok := l.workflows[id]
	return wf, ok
}

func (l *fakeLookup) Connector(id string) (model.Connector, bool) {
	c, ok := l.connectors[id]
	return c, ok
}

type fakeChat struct {
	prompts []string
	reply   string
	err     error
	panics  bool
}

func (c *fakeChat) Complete(_ context.Context, prompt string) (string, error) {
	if c.panics {
		panic("model exploded")
	}
	c.prompts = append(c.prompts, prompt)
	return c.reply, c.err
}

func newTestEngine(t *testing.T, opts Options, wfs ...model.Workflow) (*Engine, *fakeExecutor) {
	t.Helper()
	lookup := &fakeLookup{
		workflows: make(map[string]model.Workflow),
		connectors: map[string]model.Connector{
			"files": {ID: "files", Type: model.ConnectorFile, Enabled: true},
			"api":   {ID: "api", Type: model.ConnectorAPI, Enabled: true},
		},
	}
	for _, wf := range wfs {
		lookup.workflows[wf.ID] = wf
	}
	exec := &fakeExecutor{}
	opts.Lookup = lookup
	if opts.Executor == nil {
		opts.Executor = exec
	}
	return NewEngine(opts), exec
}

func connStep(id string, required bool) model.Step {
	return model.Step{ID: id, Name: strings.ToUpper(id), Type: model.StepConnector, ConnectorID: id, Required: required}
}

func condStep(id, cond, onSuccess, onFailure string) model.Step {
	return model.Step{ID: id, Type: model.StepCondition, Condition: cond, OnSuccess: onSuccess, OnFailure: onFailure}
}

func ictx() model.InvocationContext {
	return model.NewInvocationContext("/workspace", "do it")
}

func runData(t *testing.T, resp model.Response) (string, []model.StepResult) {
	t.Helper()
	data, ok := resp.Data.(map[string]any)
	if !ok {
		t.Fatalf("Data = %#v, want run map", resp.Data)
	}
	results, ok := data["workflowResults"].([]model.StepResult)
	if !ok {
		t.Fatalf("workflowResults = %#v", data["workflowResults"])
	}
	return data["status"].(string), results
}

func stepIDs(results []model.StepResult) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.StepID
	}
	return ids
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// --- Lookup ---

func TestRunWorkflow_unknown(t *testing.T) {
	eng, _ := newTestEngine(t, Options{})
	resp := eng.RunWorkflow(context.Background(), "nope", ictx())
	if resp.Success || resp.Code != model.ErrNotFound {
		t.Errorf("resp = %+v, want NOT_FOUND", resp)
	}
}

func TestRunWorkflow_disabled(t *testing.T) {
	off := false
	eng, exec := newTestEngine(t, Options{}, model.Workflow{ID: "wf", Enabled: &off, Steps: []model.Step{connStep("a", true)}})
	resp := eng.RunWorkflow(context.Background(), "wf", ictx())
	if resp.Success || resp.Code != model.ErrDisabled {
		t.Errorf("resp = %+v, want DISABLED", resp)
	}
	if len(exec.called()) != 0 {
		t.Error("disabled workflow should not execute steps")
	}
}

// --- Positional execution and halting ---

func TestRunWorkflow_completesAllSteps(t *testing.T) {
	wf := model.Workflow{ID: "wf", Steps: []model.Step{connStep("a", true), connStep("b", false), connStep("c", true)}}
	eng, exec := newTestEngine(t, Options{}, wf)

	resp := eng.RunWorkflow(context.Background(), "wf", ictx())
	if !resp.Success {
		t.Fatalf("resp = %+v", resp)
	}
	status, results := runData(t, resp)
	if status != model.RunStatusCompleted {
		t.Errorf("status = %q", status)
	}
	if got := stepIDs(results); !equalStrings(got, []string{"a", "b", "c"}) {
		t.Errorf("results = %v", got)
	}
	if results[0].StepName != "A" || results[0].Status != model.StepStatusCompleted {
		t.Errorf("first result = %+v", results[0])
	}
	if got := exec.called(); !equalStrings(got, []string{"a", "b", "c"}) {
		t.Errorf("executed = %v", got)
	}
}

func TestRunWorkflow_requiredFailureHalts(t *testing.T) {
	wf := model.Workflow{ID: "wf", Steps: []model.Step{connStep("a", true), connStep("b", false)}}
	eng, exec := newTestEngine(t, Options{}, wf)
	exec.respond = failing("a")

	resp := eng.RunWorkflow(context.Background(), "wf", ictx())
	if resp.Success || resp.Code != model.ErrDispatchFailure {
		t.Fatalf("resp = %+v, want DISPATCH_FAILURE", resp)
	}
	if !strings.Contains(resp.Error, `"a"`) {
		t.Errorf("Error = %q, want failing step named", resp.Error)
	}
	status, results := runData(t, resp)
	if status != model.RunStatusFailed {
		t.Errorf("status = %q", status)
	}
	if len(results) != 1 || results[0].StepID != "a" || results[0].Status != model.StepStatusFailed {
		t.Errorf("results = %+v, want only failed a", results)
	}
	if got := exec.called(); !equalStrings(got, []string{"a"}) {
		t.Errorf("executed = %v, b must never run", got)
	}
}

func TestRunWorkflow_optionalFailureContinues(t *testing.T) {
	wf := model.Workflow{ID: "wf", Steps: []model.Step{connStep("a", false), connStep("b", true)}}
	eng, exec := newTestEngine(t, Options{}, wf)
	exec.respond = failing("a")

	resp := eng.RunWorkflow(context.Background(), "wf", ictx())
	if !resp.Success {
		t.Fatalf("resp = %+v", resp)
	}
	_, results := runData(t, resp)
	if len(results) != 2 || results[0].Status != model.StepStatusFailed || results[1].Status != model.StepStatusCompleted {
		t.Errorf("results = %+v", results)
	}
}

// --- Conditions ---

func TestRunWorkflow_conditionTrueJumpsToOnSuccess(t *testing.T) {
	wf := model.Workflow{ID: "wf", Steps: []model.Step{
		condStep("check", "1 + 1 == 2", "c", "b"),
		connStep("b", false),
		connStep("c", false),
	}}
	eng, exec := newTestEngine(t, Options{}, wf)

	resp := eng.RunWorkflow(context.Background(), "wf", ictx())
	_, results := runData(t, resp)
	if got := stepIDs(results); !equalStrings(got, []string{"check", "c"}) {
		t.Errorf("results = %v, want [check c]", got)
	}
	if got := exec.called(); !equalStrings(got, []string{"c"}) {
		t.Errorf("executed = %v, b must be skipped", got)
	}
}

func TestRunWorkflow_conditionErrorTreatedAsFalse(t *testing.T) {
	for _, cond := range []string{"1 +", "variables.missing.deep > 1", `"not a bool"`} {
		t.Run(cond, func(t *testing.T) {
			wf := model.Workflow{ID: "wf", Steps: []model.Step{
				condStep("check", cond, "yes", "no"),
				connStep("yes", false),
				connStep("no", false),
			}}
			eng, exec := newTestEngine(t, Options{}, wf)

			resp := eng.RunWorkflow(context.Background(), "wf", ictx())
			if !resp.Success {
				t.Fatalf("resp = %+v, condition errors must not fail the run", resp)
			}
			_, results := runData(t, resp)
			if results[0].Result.Code != model.ErrConditionEvaluation {
				t.Errorf("condition result = %+v, want CONDITION_EVALUATION_ERROR", results[0].Result)
			}
			if got := exec.called(); !equalStrings(got, []string{"no"}) {
				t.Errorf("executed = %v, want [no]", got)
			}
		})
	}
}

func TestRunWorkflow_conditionSeesResultsLastAndVariables(t *testing.T) {
	wf := model.Workflow{
		ID:        "wf",
		Variables: map[string]any{"threshold": 2},
		Steps: []model.Step{
			connStep("fetch", true),
			condStep("check", `last.success && results.fetch.data.count > variables.threshold && context.userRequest == "do it"`, "big", "small"),
			connStep("small", false),
			connStep("big", false),
		},
	}
	eng, exec := newTestEngine(t, Options{}, wf)
	exec.respond = func(_ context.Context, c execCall) model.Response {
		return model.OK(map[string]any{"count": 5})
	}

	eng.RunWorkflow(context.Background(), "wf", ictx())
	if got := exec.called(); !equalStrings(got, []string{"fetch", "big"}) {
		t.Errorf("executed = %v, want [fetch big]", got)
	}
}

func TestRunWorkflow_conditionEmptyPointerEndsRun(t *testing.T) {
	wf := model.Workflow{ID: "wf", Steps: []model.Step{
		condStep("check", "false", "b", ""),
		connStep("b", true),
	}}
	eng, exec := newTestEngine(t, Options{}, wf)

	resp := eng.RunWorkflow(context.Background(), "wf", ictx())
	status, results := runData(t, resp)
	if !resp.Success || status != model.RunStatusCompleted || len(results) != 1 {
		t.Errorf("resp = %+v", resp)
	}
	if len(exec.called()) != 0 {
		t.Error("no connector should run")
	}
}

func TestRunWorkflow_conditionUnknownPointerFails(t *testing.T) {
	wf := model.Workflow{ID: "wf", Steps: []model.Step{condStep("check", "true", "ghost", "")}}
	eng, _ := newTestEngine(t, Options{}, wf)

	resp := eng.RunWorkflow(context.Background(), "wf", ictx())
	if resp.Success || resp.Code != model.ErrNotFound {
		t.Errorf("resp = %+v, want NOT_FOUND", resp)
	}
}

func TestRunWorkflow_conditionNeverHaltsWhenRequired(t *testing.T) {
	step := condStep("check", "1 +", "", "after")
	step.Required = true
	wf := model.Workflow{ID: "wf", Steps: []model.Step{step, connStep("after", false)}}
	eng, exec := newTestEngine(t, Options{}, wf)

	resp := eng.RunWorkflow(context.Background(), "wf", ictx())
	if !resp.Success {
		t.Errorf("resp = %+v", resp)
	}
	if got := exec.called(); !equalStrings(got, []string{"after"}) {
		t.Errorf("executed = %v", got)
	}
}

func TestRunWorkflow_stepLimit(t *testing.T) {
	wf := model.Workflow{ID: "wf", Steps: []model.Step{
		connStep("poll", false),
		condStep("again", "true", "poll", ""),
	}}
	eng, exec := newTestEngine(t, Options{StepLimit: 5}, wf)

	resp := eng.RunWorkflow(context.Background(), "wf", ictx())
	if resp.Success || resp.Code != model.ErrStepLimitExceeded {
		t.Fatalf("resp = %+v, want STEP_LIMIT_EXCEEDED", resp)
	}
	_, results := runData(t, resp)
	if len(results) != 5 {
		t.Errorf("results = %d, want 5", len(results))
	}
	if len(exec.called()) != 3 {
		t.Errorf("executed %d times, want 3", len(exec.called()))
	}
}

// --- Params and variables ---

func TestRunWorkflow_paramsMergeAndDefaultAction(t *testing.T) {
	step := connStep("files", true)
	step.Params = map[string]any{"path": "step.txt", "mode": "fast"}
	wf := model.Workflow{ID: "wf", Variables: map[string]any{"path": "var.txt", "owner": "ops"}, Steps: []model.Step{step}}
	eng, exec := newTestEngine(t, Options{}, wf)

	eng.RunWorkflowWith(context.Background(), "wf", map[string]any{"owner": "override"}, ictx())

	c := exec.calls[0]
	if c.Action != "read" {
		t.Errorf("action = %q, want file default read", c.Action)
	}
	if c.Params["path"] != "step.txt" || c.Params["mode"] != "fast" || c.Params["owner"] != "override" {
		t.Errorf("params = %v", c.Params)
	}
	if wf.Variables["owner"] != "ops" {
		t.Error("workflow variables must not be mutated")
	}
}

func TestRunWorkflow_outputFeedsLaterSteps(t *testing.T) {
	first := connStep("api", true)
	first.Action = "get"
	first.Output = "user"
	wf := model.Workflow{ID: "wf", Steps: []model.Step{first, connStep("files", true)}}
	eng, exec := newTestEngine(t, Options{}, wf)
	exec.respond = func(_ context.Context, c execCall) model.Response {
		if c.ConnectorID == "api" {
			return model.OK(map[string]any{"name": "ada"})
		}
		return model.OK(nil)
	}

	eng.RunWorkflow(context.Background(), "wf", ictx())
	user, _ := exec.calls[1].Params["user"].(map[string]any)
	if user["name"] != "ada" {
		t.Errorf("params = %v, want user output", exec.calls[1].Params)
	}
}

func TestRunWorkflow_stepTimeoutBoundsConnector(t *testing.T) {
	step := connStep("api", true)
	step.Timeout = 20 * time.Millisecond
	wf := model.Workflow{ID: "wf", Steps: []model.Step{step}}
	eng, exec := newTestEngine(t, Options{}, wf)
	exec.respond = func(ctx context.Context, _ execCall) model.Response {
		<-ctx.Done()
		return model.Fail(model.ErrTimeout, "timed out")
	}

	resp := eng.RunWorkflow(context.Background(), "wf", ictx())
	if resp.Code != model.ErrTimeout {
		t.Errorf("resp = %+v, want TIMEOUT", resp)
	}
	status, _ := runData(t, resp)
	if status != model.RunStatusFailed {
		t.Errorf("status = %q, a step timeout is a failure not a cancellation", status)
	}
}

// --- Cancellation ---

func TestRunWorkflow_cancelledBeforeStart(t *testing.T) {
	wf := model.Workflow{ID: "wf", Steps: []model.Step{connStep("a", true), connStep("b", true)}}
	eng, exec := newTestEngine(t, Options{}, wf)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resp := eng.RunWorkflow(ctx, "wf", ictx())
	if resp.Success || resp.Code != model.ErrCancelled {
		t.Fatalf("resp = %+v, want CANCELLED", resp)
	}
	status, results := runData(t, resp)
	if status != model.RunStatusCancelled || len(results) != 1 || results[0].Status != model.StepStatusCancelled {
		t.Errorf("status=%q results=%+v", status, results)
	}
	if len(exec.called()) != 0 {
		t.Error("no step should execute")
	}
}

func TestRunWorkflow_cancelledDuringStep(t *testing.T) {
	wf := model.Workflow{ID: "wf", Steps: []model.Step{connStep("a", false), connStep("b", false)}}
	eng, exec := newTestEngine(t, Options{}, wf)

	ctx, cancel := context.WithCancel(context.Background())
	exec.respond = func(context.Context, execCall) model.Response {
		cancel()
		return model.Fail(model.ErrCancelled, "cancelled")
	}

	resp := eng.RunWorkflow(ctx, "wf", ictx())
	status, results := runData(t, resp)
	if status != model.RunStatusCancelled {
		t.Errorf("status = %q", status)
	}
	if len(results) != 1 || results[0].Status != model.StepStatusCancelled {
		t.Errorf("results = %+v", results)
	}
}

// --- AI steps ---

func TestRunWorkflow_aiStepRendersPrompt(t *testing.T) {
	wf := model.Workflow{
		ID:        "wf",
		Variables: map[string]any{"topic": "release notes"},
		Steps: []model.Step{
			connStep("api", true),
			{ID: "summarise", Type: model.StepAI, Prompt: "Summarise {{.variables.topic}} for {{.context.userRequest}}: {{.last.data.connector}}", Output: "summary"},
			connStep("files", true),
		},
	}
	chat := &fakeChat{reply: "all good"}
	eng, exec := newTestEngine(t, Options{Chat: chat}, wf)

	resp := eng.RunWorkflow(context.Background(), "wf", ictx())
	if !resp.Success {
		t.Fatalf("resp = %+v", resp)
	}
	if len(chat.prompts) != 1 || chat.prompts[0] != "Summarise release notes for do it: api" {
		t.Errorf("prompts = %q", chat.prompts)
	}
	summary, _ := exec.calls[1].Params["summary"].(map[string]any)
	if summary["response"] != "all good" {
		t.Errorf("summary output = %v", exec.calls[1].Params["summary"])
	}
}

func TestRunWorkflow_aiStepFailures(t *testing.T) {
	tests := []struct {
		name string
		chat ChatClient
		tmpl string
		code string
	}{
		{"no client", nil, "hi", model.ErrDispatchFailure},
		{"client error", &fakeChat{err: errors.New("rate limited")}, "hi", model.ErrDispatchFailure},
		{"bad template", &fakeChat{}, "{{.variables", model.ErrBadRequest},
		{"panic", &fakeChat{panics: true}, "hi", model.ErrInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wf := model.Workflow{ID: "wf", Steps: []model.Step{{ID: "ai", Type: model.StepAI, Prompt: tt.tmpl}}}
			eng, _ := newTestEngine(t, Options{Chat: tt.chat}, wf)

			resp := eng.RunWorkflow(context.Background(), "wf", ictx())
			_, results := runData(t, resp)
			if got := results[0].Result; got.Success || got.Code != tt.code {
				t.Errorf("step result = %+v, want %s", got, tt.code)
			}
		})
	}
}

// --- User steps ---

func TestRunWorkflow_userStepAutoApproved(t *testing.T) {
	wf := model.Workflow{ID: "wf", Steps: []model.Step{{ID: "ok", Type: model.StepUser, Required: true}}}
	eng, _ := newTestEngine(t, Options{}, wf)

	resp := eng.RunWorkflow(context.Background(), "wf", ictx())
	if !resp.Success {
		t.Fatalf("resp = %+v", resp)
	}
	_, results := runData(t, resp)
	if d := results[0].Result.Data.(map[string]any); d["approved"] != true || d["by"] != "auto" {
		t.Errorf("data = %v", d)
	}
}

func waitPending(t *testing.T, a *PendingApprover) ApprovalRequest {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p := a.Pending(); len(p) == 1 {
			return p[0]
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("approval gate never became pending")
	return ApprovalRequest{}
}

func TestRunWorkflow_userStepPending(t *testing.T) {
	tests := []struct {
		name     string
		decision Decision
		success  bool
		code     string
	}{
		{"approved", Decision{Approved: true, By: "alice"}, true, ""},
		{"rejected", Decision{Approved: false, By: "bob", Comment: "not today"}, false, model.ErrApprovalRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			approver := NewPendingApprover(nil)
			wf := model.Workflow{ID: "wf", Steps: []model.Step{
				{ID: "gate", Name: "Ship it?", Type: model.StepUser, Required: true},
				connStep("after", true),
			}}
			eng, exec := newTestEngine(t, Options{Approver: approver}, wf)

			done := make(chan model.Response, 1)
			go func() { done <- eng.RunWorkflow(context.Background(), "wf", ictx()) }()

			req := waitPending(t, approver)
			if req.StepID != "gate" || req.StepName != "Ship it?" || req.WorkflowID != "wf" {
				t.Errorf("request = %+v", req)
			}
			if err := approver.Resolve(req.RunID, req.StepID, tt.decision); err != nil {
				t.Fatalf("Resolve: %v", err)
			}

			resp := <-done
			if resp.Success != tt.success || resp.Code != tt.code {
				t.Errorf("resp = %+v", resp)
			}
			wantCalls := 0
			if tt.success {
				wantCalls = 1
			}
			if len(exec.called()) != wantCalls {
				t.Errorf("executed = %v", exec.called())
			}
			if len(approver.Pending()) != 0 {
				t.Error("gate should be cleared")
			}
		})
	}
}

func TestRunWorkflow_userStepTimeout(t *testing.T) {
	approver := NewPendingApprover(nil)
	wf := model.Workflow{ID: "wf", Steps: []model.Step{{ID: "gate", Type: model.StepUser, Timeout: 20 * time.Millisecond, Required: true}}}
	eng, _ := newTestEngine(t, Options{Approver: approver}, wf)

	resp := eng.RunWorkflow(context.Background(), "wf", ictx())
	if resp.Success || resp.Code != model.ErrTimeout {
		t.Errorf("resp = %+v, want TIMEOUT", resp)
	}
	if len(approver.Pending()) != 0 {
		t.Error("timed out gate should be cleared")
	}
}

// --- Misc ---

func TestRunWorkflow_unknownStepType(t *testing.T) {
	wf := model.Workflow{ID: "wf", Steps: []model.Step{{ID: "x", Type: "teleport", Required: true}}}
	eng, _ := newTestEngine(t, Options{}, wf)

	resp := eng.RunWorkflow(context.Background(), "wf", ictx())
	if resp.Code != model.ErrBadRequest {
		t.Errorf("resp = %+v, want BAD_REQUEST", resp)
	}
}

func TestRunWorkflow_persistsRun(t *testing.T) {
	wf := model.Workflow{ID: "wf", Steps: []model.Step{connStep("a", true), connStep("b", true)}}
	store := NewMemoryRunStore(0)
	eng, _ := newTestEngine(t, Options{Store: store, NewID: func() string { return "run-1" }}, wf)

	resp := eng.RunWorkflow(context.Background(), "wf", ictx())
	data := resp.Data.(map[string]any)
	if data["runId"] != "run-1" || data["workflowId"] != "wf" {
		t.Errorf("data = %v", data)
	}

	run, err := eng.Run(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != model.RunStatusCompleted || len(run.Results) != 2 || run.FinishedAt == nil {
		t.Errorf("stored run = %+v", run)
	}
	if run.FinishedAt.Before(run.StartedAt) {
		t.Error("FinishedAt before StartedAt")
	}
}

func TestRunWorkflow_concurrentRuns(t *testing.T) {
	wf := model.Workflow{ID: "wf", Steps: []model.Step{connStep("a", true), condStep("c", "last.success", "b", ""), connStep("b", true)}}
	eng, _ := newTestEngine(t, Options{}, wf)

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if resp := eng.RunWorkflow(context.Background(), "wf", ictx()); !resp.Success {
				t.Errorf("resp = %+v", resp)
			}
		}()
	}
	wg.Wait()

	runs, _ := eng.Store().List(context.Background(), RunFilters{WorkflowID: "wf"})
	if len(runs) != 20 {
		t.Errorf("stored runs = %d, want 20", len(runs))
	}
}

func TestRenderPrompt(t *testing.T) {
	got, err := renderPrompt("{{.variables.name}}/{{.variables.missing}}", map[string]any{"variables": map[string]any{"name": "x"}})
	if err != nil {
		t.Fatalf("renderPrompt: %v", err)
	}
	if !strings.HasPrefix(got, "x/") {
		t.Errorf("renderPrompt() = %q", got)
	}
}
