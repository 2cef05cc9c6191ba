package model

import "time"

// StepType names the kind of work a workflow step performs.
type StepType string

// Step types.
const (
	StepConnector StepType = "connector"
	StepAI        StepType = "ai"
	StepUser      StepType = "user"
	StepCondition StepType = "condition"
)

// Step status constants. Each step moves pending → running → one of
// completed, failed or cancelled.
const (
	StepStatusPending   = "pending"
	StepStatusRunning   = "running"
	StepStatusCompleted = "completed"
	StepStatusFailed    = "failed"
	StepStatusCancelled = "cancelled"
)

// Workflow run status constants.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
	RunStatusCancelled = "cancelled"
)

// TriggerSchedulePrefix marks a trigger tag that carries a cron expression,
// for example "schedule:0 9 * * 1-5".
const TriggerSchedulePrefix = "schedule:"

// Workflow is an ordered, optionally branching sequence of steps with shared
// variables.
type Workflow struct {
	ID          string         `yaml:"id" json:"id"`
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description" json:"description,omitempty"`
	Triggers    []string       `yaml:"triggers" json:"triggers,omitempty"`
	Steps       []Step         `yaml:"steps" json:"steps"`
	Variables   map[string]any `yaml:"variables" json:"variables,omitempty"`
	Enabled     *bool          `yaml:"enabled" json:"enabled,omitempty"`
}

// IsEnabled reports whether the workflow may run. Workflows are enabled
// unless explicitly disabled.
func (w Workflow) IsEnabled() bool {
	return w.Enabled == nil || *w.Enabled
}

// StepIndex returns the position of the step with the given id, or -1.
func (w Workflow) StepIndex(id string) int {
	for i := range w.Steps {
		if w.Steps[i].ID == id {
			return i
		}
	}
	return -1
}

// Step is one unit of workflow execution.
type Step struct {
	ID          string         `yaml:"id" json:"id"`
	Name        string         `yaml:"name" json:"name"`
	Type        StepType       `yaml:"type" json:"type"`
	ConnectorID string         `yaml:"connector_id" json:"connectorId,omitempty"`
	Action      string         `yaml:"action" json:"action,omitempty"`
	Params      map[string]any `yaml:"params" json:"params,omitempty"`
	Prompt      string         `yaml:"prompt" json:"prompt,omitempty"`
	Condition   string         `yaml:"condition" json:"condition,omitempty"`
	OnSuccess   string         `yaml:"on_success" json:"onSuccess,omitempty"`
	OnFailure   string         `yaml:"on_failure" json:"onFailure,omitempty"`
	Timeout     time.Duration  `yaml:"timeout" json:"timeout,omitempty"`
	Required    bool           `yaml:"required" json:"required"`
	// Output names a run variable that receives the step's data.
	Output string `yaml:"output" json:"output,omitempty"`
}

// DisplayName returns the step name, falling back to its id.
func (s Step) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}

// StepResult is one entry of a workflow's result log.
type StepResult struct {
	StepID   string   `json:"stepId"`
	StepName string   `json:"stepName"`
	Status   string   `json:"status"`
	Result   Response `json:"result"`
}

// WorkflowRun records a single execution of a workflow.
type WorkflowRun struct {
	ID         string       `json:"id"`
	WorkflowID string       `json:"workflowId"`
	Status     string       `json:"status"`
	Results    []StepResult `json:"results"`
	Error      string       `json:"error,omitempty"`
	StartedAt  time.Time    `json:"startedAt"`
	FinishedAt *time.Time   `json:"finishedAt,omitempty"`
}
