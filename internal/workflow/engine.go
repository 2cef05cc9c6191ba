// Package workflow runs workflows: ordered steps with condition branching,
// required-step halting, AI prompts and approval gates. Each run is
// sequential and recorded in a RunStore.
package workflow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"maps"
	"text/template"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/switchboard/internal/observability"
	"github.com/pitabwire/switchboard/model"
)

const (
	// DefaultStepLimit bounds the number of steps one run may execute.
	DefaultStepLimit = 100
	// DefaultApprovalTimeout bounds a user step that sets no timeout.
	DefaultApprovalTimeout = 5 * time.Minute
)

// Executor runs connector actions. *connector.Executor satisfies it.
type Executor interface {
	Execute(ctx context.Context, connectorID, action string, params map[string]any, ictx model.InvocationContext) model.Response
}

// Lookup resolves workflow and connector definitions.
// *registry.Registry satisfies it.
type Lookup interface {
	Workflow(id string) (model.Workflow, bool)
	Connector(id string) (model.Connector, bool)
}

// ChatClient sends a rendered prompt to a language model and returns its
// reply.
type ChatClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Options configures an Engine. Lookup and Executor are required.
type Options struct {
	Lookup   Lookup
	Executor Executor
	// Chat serves ai steps. Nil fails every ai step.
	Chat ChatClient
	// Approver resolves user steps. Defaults to AutoApprover.
	Approver Approver
	// Store records runs. Defaults to a memory store.
	Store           RunStore
	StepLimit       int
	ApprovalTimeout time.Duration
	// AITimeout bounds ai steps that set no timeout. Zero means no bound
	// beyond the caller's context.
	AITimeout time.Duration
	Logger    *zap.Logger
	Metrics   *observability.Metrics
	Now       func() time.Time
	NewID     func() string
}

// Engine runs workflows. It holds no per-run state and is safe for
// concurrent use.
type Engine struct {
	lookup          Lookup
	executor        Executor
	chat            ChatClient
	approver        Approver
	store           RunStore
	stepLimit       int
	approvalTimeout time.Duration
	aiTimeout       time.Duration
	logger          *zap.Logger
	metrics         *observability.Metrics
	now             func() time.Time
	newID           func() string
	conditions      *conditionCache
}

// NewEngine creates a workflow engine.
func NewEngine(opts Options) *Engine {
	e := &Engine{
		lookup:          opts.Lookup,
		executor:        opts.Executor,
		chat:            opts.Chat,
		approver:        opts.Approver,
		store:           opts.Store,
		stepLimit:       opts.StepLimit,
		approvalTimeout: opts.ApprovalTimeout,
		aiTimeout:       opts.AITimeout,
		logger:          opts.Logger,
		metrics:         opts.Metrics,
		now:             opts.Now,
		newID:           opts.NewID,
		conditions:      newConditionCache(),
	}
	if e.approver == nil {
		e.approver = AutoApprover{}
	}
	if e.store == nil {
		e.store = NewMemoryRunStore(0)
	}
	if e.stepLimit <= 0 {
		e.stepLimit = DefaultStepLimit
	}
	if e.approvalTimeout <= 0 {
		e.approvalTimeout = DefaultApprovalTimeout
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.newID == nil {
		e.newID = uuid.NewString
	}
	return e
}

// Store returns the run store.
func (e *Engine) Store() RunStore { return e.store }

// Run retrieves a recorded run.
func (e *Engine) Run(ctx context.Context, runID string) (model.WorkflowRun, error) {
	return e.store.Get(ctx, runID)
}

// RunWorkflow runs the workflow with its declared variables.
func (e *Engine) RunWorkflow(ctx context.Context, workflowID string, ictx model.InvocationContext) model.Response {
	return e.RunWorkflowWith(ctx, workflowID, nil, ictx)
}

// RunWorkflowWith runs the workflow with vars merged over its declared
// variables. The envelope's data carries workflowId, runId, status and the
// ordered workflowResults; a failed run still returns every result recorded
// before it stopped.
func (e *Engine) RunWorkflowWith(ctx context.Context, workflowID string, vars map[string]any, ictx model.InvocationContext) model.Response {
	wf, ok := e.lookup.Workflow(workflowID)
	if !ok {
		return model.Fail(model.ErrNotFound, fmt.Sprintf("workflow %q not found", workflowID))
	}
	if !wf.IsEnabled() {
		return model.Fail(model.ErrDisabled, fmt.Sprintf("workflow %q is disabled", workflowID))
	}

	ctx = model.WithInvocationContext(ctx, ictx)
	run := model.WorkflowRun{
		ID:         e.newID(),
		WorkflowID: wf.ID,
		Status:     model.RunStatusRunning,
		Results:    []model.StepResult{},
		StartedAt:  e.now().UTC(),
	}

	ctx, span := observability.StartSpan(ctx, "workflow.run",
		observability.AttrWorkflowID.String(wf.ID),
		observability.AttrRunID.String(run.ID),
	)
	logger := observability.InvocationLogger(ctx, e.logger).With(
		zap.String("workflow_id", wf.ID),
		zap.String("run_id", run.ID),
	)

	if err := e.store.Create(ctx, run); err != nil {
		logger.Warn("recording workflow run failed", zap.Error(err))
	}
	e.metrics.RecordRunStart()
	logger.Info("workflow run started", zap.Int("steps", len(wf.Steps)))

	state := &runState{
		vars:    make(map[string]any, len(wf.Variables)+len(vars)),
		results: make(map[string]any),
	}
	maps.Copy(state.vars, wf.Variables)
	maps.Copy(state.vars, vars)

	code := e.walk(ctx, logger, wf, &run, state, ictx)

	finished := e.now().UTC()
	run.FinishedAt = &finished
	if err := e.store.Update(context.WithoutCancel(ctx), run); err != nil {
		logger.Warn("recording workflow run failed", zap.Error(err))
	}

	duration := finished.Sub(run.StartedAt)
	e.metrics.RecordRunFinish(wf.ID, run.Status, duration)
	observability.EndSpanWithCode(span, code, run.Error)

	data := map[string]any{
		"workflowId":      wf.ID,
		"runId":           run.ID,
		"status":          run.Status,
		"workflowResults": run.Results,
	}
	var resp model.Response
	if run.Status == model.RunStatusCompleted {
		logger.Info("workflow run completed", zap.Int("results", len(run.Results)))
		resp = model.OK(data)
	} else {
		logger.Warn("workflow run ended",
			zap.String("status", run.Status),
			zap.String("code", code),
			zap.String("error", run.Error),
		)
		resp = model.FailWithData(code, run.Error, data)
	}
	resp.Duration = duration.Milliseconds()
	return resp
}

// runState is the mutable state of one run.
type runState struct {
	vars    map[string]any
	results map[string]any // step id → response map
	last    any            // response map of the latest non-condition step
}

func (s *runState) env(ictx model.InvocationContext) map[string]any {
	return map[string]any{
		"variables": s.vars,
		"results":   s.results,
		"last":      s.last,
		"context":   ictx.AsMap(),
	}
}

// walk executes steps until the run ends and returns the error code of a
// run that did not complete.
func (e *Engine) walk(ctx context.Context, logger *zap.Logger, wf model.Workflow, run *model.WorkflowRun, state *runState, ictx model.InvocationContext) string {
	executed := 0
	idx := 0
	for idx < len(wf.Steps) {
		step := wf.Steps[idx]

		if resp, done := cancelled(ctx, "workflow "+wf.ID); done {
			e.record(ctx, run, step, model.StepStatusCancelled, resp)
			return e.end(run, model.RunStatusCancelled, resp.Code, fmt.Sprintf("cancelled before step %q", step.ID))
		}
		if executed >= e.stepLimit {
			return e.end(run, model.RunStatusFailed, model.ErrStepLimitExceeded,
				fmt.Sprintf("step limit of %d exceeded at step %q", e.stepLimit, step.ID))
		}
		executed++

		stepLogger := logger.With(zap.String("step_id", step.ID), zap.String("step_type", string(step.Type)))
		stepLogger.Debug("step running")
		resp := e.runStep(ctx, stepLogger, run, step, state, ictx)

		status := model.StepStatusCompleted
		if !resp.Success {
			status = model.StepStatusFailed
		}
		if ctx.Err() != nil && !resp.Success {
			status = model.StepStatusCancelled
		}
		e.record(ctx, run, step, status, resp)
		stepLogger.Debug("step finished", zap.String("status", status), zap.String("code", resp.Code))

		respMap := responseMap(resp)
		state.results[step.ID] = respMap

		if step.Type == model.StepCondition {
			target := step.OnFailure
			data, _ := resp.Data.(map[string]any)
			if matched, _ := data["result"].(bool); matched {
				target = step.OnSuccess
			}
			if target == "" {
				break
			}
			next := wf.StepIndex(target)
			if next < 0 {
				return e.end(run, model.RunStatusFailed, model.ErrNotFound,
					fmt.Sprintf("step %q navigates to unknown step %q", step.ID, target))
			}
			idx = next
			continue
		}

		state.last = respMap
		if resp.Success && step.Output != "" {
			state.vars[step.Output] = resp.Data
		}

		if status == model.StepStatusCancelled {
			return e.end(run, model.RunStatusCancelled, model.ErrCancelled, fmt.Sprintf("cancelled during step %q", step.ID))
		}
		if !resp.Success && step.Required {
			return e.end(run, model.RunStatusFailed, resp.Code,
				fmt.Sprintf("required step %q failed: %s", step.ID, resp.Error))
		}
		idx++
	}
	run.Status = model.RunStatusCompleted
	return ""
}

func (e *Engine) end(run *model.WorkflowRun, status, code, msg string) string {
	run.Status = status
	run.Error = msg
	return code
}

// record appends a step result and persists the run's progress.
func (e *Engine) record(ctx context.Context, run *model.WorkflowRun, step model.Step, status string, resp model.Response) {
	run.Results = append(run.Results, model.StepResult{
		StepID:   step.ID,
		StepName: step.DisplayName(),
		Status:   status,
		Result:   resp,
	})
	e.metrics.RecordStep(string(step.Type), status)
	if err := e.store.Update(context.WithoutCancel(ctx), *run); err != nil {
		e.logger.Warn("recording step result failed", zap.String("run_id", run.ID), zap.Error(err))
	}
}

// runStep executes one step. It never panics.
func (e *Engine) runStep(ctx context.Context, logger *zap.Logger, run *model.WorkflowRun, step model.Step, state *runState, ictx model.InvocationContext) (resp model.Response) {
	ctx, span := observability.StartSpan(ctx, "workflow.step",
		observability.AttrStepID.String(step.ID),
		observability.AttrStepType.String(string(step.Type)),
	)
	defer func() { observability.EndSpanWithCode(span, resp.Code, resp.Error) }()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("workflow step panicked", zap.Any("panic", r))
			resp = model.Fail(model.ErrInternalError, fmt.Sprintf("step %s panicked: %v", step.ID, r))
		}
	}()

	start := e.now()
	switch step.Type {
	case model.StepConnector:
		resp = e.connectorStep(ctx, step, state, ictx)
	case model.StepAI:
		resp = e.aiStep(ctx, step, state, ictx)
		resp.Duration = e.now().Sub(start).Milliseconds()
	case model.StepUser:
		resp = e.userStep(ctx, run, step)
		resp.Duration = e.now().Sub(start).Milliseconds()
	case model.StepCondition:
		resp = e.conditionStep(logger, step, state, ictx)
	default:
		resp = model.Fail(model.ErrBadRequest, fmt.Sprintf("step %s has unknown type %q", step.ID, step.Type))
	}
	return resp
}

func (e *Engine) connectorStep(ctx context.Context, step model.Step, state *runState, ictx model.InvocationContext) model.Response {
	if step.ConnectorID == "" {
		return model.Fail(model.ErrBadRequest, fmt.Sprintf("step %s has no connector_id", step.ID))
	}
	action := step.Action
	if action == "" {
		if conn, ok := e.lookup.Connector(step.ConnectorID); ok {
			action = conn.Type.DefaultAction()
		}
	}

	params := make(map[string]any, len(state.vars)+len(step.Params))
	maps.Copy(params, state.vars)
	maps.Copy(params, step.Params)

	if step.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, step.Timeout)
		defer cancel()
	}
	return e.executor.Execute(ctx, step.ConnectorID, action, params, ictx)
}

func (e *Engine) aiStep(ctx context.Context, step model.Step, state *runState, ictx model.InvocationContext) model.Response {
	if e.chat == nil {
		return model.Fail(model.ErrDispatchFailure, "no language model configured")
	}
	prompt, err := renderPrompt(step.Prompt, state.env(ictx))
	if err != nil {
		return model.Fail(model.ErrBadRequest, fmt.Sprintf("step %s prompt: %v", step.ID, err))
	}

	timeout := step.Timeout
	if timeout <= 0 {
		timeout = e.aiTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	reply, err := e.chat.Complete(ctx, prompt)
	if err != nil {
		if resp, done := cancelled(ctx, "ai step "+step.ID); done {
			return resp
		}
		return model.Fail(model.ErrDispatchFailure, err.Error())
	}
	return model.OK(map[string]any{
		"prompt":   prompt,
		"response": reply,
	})
}

func (e *Engine) userStep(ctx context.Context, run *model.WorkflowRun, step model.Step) model.Response {
	timeout := step.Timeout
	if timeout <= 0 {
		timeout = e.approvalTimeout
	}
	now := e.now().UTC()
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	d, err := e.approver.Approve(stepCtx, ApprovalRequest{
		RunID:       run.ID,
		WorkflowID:  run.WorkflowID,
		StepID:      step.ID,
		StepName:    step.DisplayName(),
		Prompt:      step.Prompt,
		RequestedAt: now,
		Deadline:    now.Add(timeout),
	})
	if err != nil {
		if resp, done := cancelled(ctx, "approval "+step.ID); done {
			return resp
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return model.Fail(model.ErrTimeout, fmt.Sprintf("approval for step %s timed out after %s", step.ID, timeout))
		}
		return model.Fail(model.ErrDispatchFailure, err.Error())
	}

	data := map[string]any{
		"approved": d.Approved,
		"by":       d.By,
		"comment":  d.Comment,
	}
	if !d.Approved {
		return model.FailWithData(model.ErrApprovalRejected, fmt.Sprintf("step %s was rejected", step.ID), data)
	}
	return model.OK(data)
}

func (e *Engine) conditionStep(logger *zap.Logger, step model.Step, state *runState, ictx model.InvocationContext) model.Response {
	result, err := e.conditions.evaluate(step.Condition, state.env(ictx))
	data := map[string]any{
		"condition": step.Condition,
		"result":    result,
	}
	if err != nil {
		logger.Info("condition evaluation failed, treating as false", zap.Error(err))
		return model.FailWithData(model.ErrConditionEvaluation, err.Error(), data)
	}
	return model.OK(data)
}

// renderPrompt executes the prompt as a text/template over env.
func renderPrompt(src string, env map[string]any) (string, error) {
	tmpl, err := template.New("prompt").Option("missingkey=zero").Parse(src)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, env); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// responseMap exposes an envelope to condition expressions and prompts.
func responseMap(r model.Response) map[string]any {
	return map[string]any{
		"success":  r.Success,
		"data":     r.Data,
		"error":    r.Error,
		"code":     r.Code,
		"cached":   r.Cached,
		"duration": r.Duration,
	}
}

// cancelled reports a finished ctx as a failed envelope.
func cancelled(ctx context.Context, what string) (model.Response, bool) {
	switch err := ctx.Err(); {
	case err == nil:
		return model.Response{}, false
	case errors.Is(err, context.DeadlineExceeded):
		return model.Fail(model.ErrTimeout, what+" timed out"), true
	default:
		return model.Fail(model.ErrCancelled, what+" cancelled"), true
	}
}
