package definition

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/pitabwire/switchboard/model"
)

// VError describes a single validation error in a definition.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// AsEnvelope converts validation errors into a BAD_REQUEST envelope, or nil
// when errs is empty.
func AsEnvelope(errs []VError) *model.ErrorEnvelope {
	if len(errs) == 0 {
		return nil
	}
	details := make([]model.FieldError, len(errs))
	for i, e := range errs {
		details[i] = model.FieldError{Field: e.Path, Code: e.Code, Message: e.Message}
	}
	return model.NewValidationError(details)
}

// Validator checks definitions structurally and referentially.
type Validator struct {
	schedule cron.Parser
}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{schedule: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)}
}

// Validate checks all definitions. knownConnectors lists connector ids that
// exist outside defs, such as the built-in connectors, and may be referenced
// by workflow steps.
func (v *Validator) Validate(defs model.Definitions, knownConnectors []string) []VError {
	var errs []VError

	connectorIDs := make(map[string]bool, len(knownConnectors)+len(defs.Connectors))
	for _, id := range knownConnectors {
		connectorIDs[id] = true
	}

	seen := make(map[string]bool)
	for i, c := range defs.Connectors {
		cp := fmt.Sprintf("connectors[%d]", i)
		errs = append(errs, v.validateConnector(cp, c)...)
		if c.ID == "" {
			continue
		}
		if seen[c.ID] {
			errs = append(errs, VError{Path: cp + ".id", Code: "DUPLICATE", Message: fmt.Sprintf("connector %q is defined more than once", c.ID)})
		}
		seen[c.ID] = true
		connectorIDs[c.ID] = true
	}

	seen = make(map[string]bool)
	for i, w := range defs.Workflows {
		wp := fmt.Sprintf("workflows[%d]", i)
		errs = append(errs, v.validateWorkflow(wp, w, connectorIDs)...)
		if w.ID == "" {
			continue
		}
		if seen[w.ID] {
			errs = append(errs, VError{Path: wp + ".id", Code: "DUPLICATE", Message: fmt.Sprintf("workflow %q is defined more than once", w.ID)})
		}
		seen[w.ID] = true
	}

	return errs
}

var validAuthTypes = map[string]bool{
	model.AuthBearer: true, model.AuthBasic: true, model.AuthAPIKey: true, model.AuthJWT: true,
}

func (v *Validator) validateConnector(prefix string, c model.Connector) []VError {
	var errs []VError

	if c.ID == "" {
		errs = append(errs, VError{Path: prefix + ".id", Code: "REQUIRED", Message: "id is required"})
	}
	if c.Name == "" {
		errs = append(errs, VError{Path: prefix + ".name", Code: "REQUIRED", Message: "name is required"})
	}

	switch cfg := c.Config.(type) {
	case *model.APIConfig:
		if cfg.Endpoint == "" {
			errs = append(errs, VError{Path: prefix + ".config.endpoint", Code: "REQUIRED", Message: "endpoint is required for api connectors"})
		}
		if cfg.Auth != nil && !validAuthTypes[cfg.Auth.Type] {
			errs = append(errs, VError{Path: prefix + ".config.auth.type", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid auth type %q", cfg.Auth.Type)})
		}
	case *model.CLIConfig:
		if cfg.Command == "" {
			errs = append(errs, VError{Path: prefix + ".config.command", Code: "REQUIRED", Message: "command is required for cli connectors"})
		}
	case *model.DatabaseConfig:
		if cfg.ConnectionString == "" {
			errs = append(errs, VError{Path: prefix + ".config.connection_string", Code: "REQUIRED", Message: "connection_string is required for database connectors"})
		}
	case *model.WebhookConfig:
		if cfg.URL == "" {
			errs = append(errs, VError{Path: prefix + ".config.url", Code: "REQUIRED", Message: "url is required for webhook connectors"})
		}
	case *model.FileConfig:
	case nil:
		errs = append(errs, VError{Path: prefix + ".type", Code: "REQUIRED", Message: "type is required"})
	}

	if c.Config != nil {
		common := c.Config.Common()
		if common.Timeout < 0 {
			errs = append(errs, VError{Path: prefix + ".config.timeout", Code: "RANGE", Message: "timeout must not be negative"})
		}
		if common.Retries < 0 || common.Retries > 10 {
			errs = append(errs, VError{Path: prefix + ".config.retries", Code: "RANGE", Message: "retries must be 0-10"})
		}
	}

	return errs
}

var validStepTypes = map[model.StepType]bool{
	model.StepConnector: true, model.StepAI: true, model.StepUser: true, model.StepCondition: true,
}

func (v *Validator) validateWorkflow(prefix string, w model.Workflow, connectorIDs map[string]bool) []VError {
	var errs []VError

	if w.ID == "" {
		errs = append(errs, VError{Path: prefix + ".id", Code: "REQUIRED", Message: "id is required"})
	}
	if w.Name == "" {
		errs = append(errs, VError{Path: prefix + ".name", Code: "REQUIRED", Message: "name is required"})
	}
	if len(w.Steps) == 0 {
		errs = append(errs, VError{Path: prefix + ".steps", Code: "REQUIRED", Message: "at least one step is required"})
	}

	for i, trigger := range w.Triggers {
		expr, ok := strings.CutPrefix(trigger, model.TriggerSchedulePrefix)
		if !ok {
			continue
		}
		if _, err := v.schedule.Parse(strings.TrimSpace(expr)); err != nil {
			errs = append(errs, VError{
				Path:    fmt.Sprintf("%s.triggers[%d]", prefix, i),
				Code:    "INVALID_SCHEDULE",
				Message: fmt.Sprintf("invalid cron expression %q: %v", expr, err),
			})
		}
	}

	stepIDs := make(map[string]bool, len(w.Steps))
	for i, s := range w.Steps {
		if s.ID == "" {
			continue
		}
		if stepIDs[s.ID] {
			errs = append(errs, VError{
				Path:    fmt.Sprintf("%s.steps[%d].id", prefix, i),
				Code:    "DUPLICATE",
				Message: fmt.Sprintf("step %q is defined more than once", s.ID),
			})
		}
		stepIDs[s.ID] = true
	}

	for i, s := range w.Steps {
		sp := fmt.Sprintf("%s.steps[%d]", prefix, i)
		errs = append(errs, v.validateStep(sp, s, stepIDs, connectorIDs)...)
	}

	return errs
}

func (v *Validator) validateStep(prefix string, s model.Step, stepIDs, connectorIDs map[string]bool) []VError {
	var errs []VError

	if s.ID == "" {
		errs = append(errs, VError{Path: prefix + ".id", Code: "REQUIRED", Message: "id is required"})
	}
	if s.Type == "" {
		errs = append(errs, VError{Path: prefix + ".type", Code: "REQUIRED", Message: "type is required"})
	} else if !validStepTypes[s.Type] {
		errs = append(errs, VError{Path: prefix + ".type", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid step type %q", s.Type)})
	}
	if s.Timeout < 0 {
		errs = append(errs, VError{Path: prefix + ".timeout", Code: "RANGE", Message: "timeout must not be negative"})
	}

	switch s.Type {
	case model.StepConnector:
		if s.ConnectorID == "" {
			errs = append(errs, VError{Path: prefix + ".connector_id", Code: "REQUIRED", Message: "connector_id is required for connector steps"})
		} else if !connectorIDs[s.ConnectorID] {
			errs = append(errs, VError{
				Path:    prefix + ".connector_id",
				Code:    "REF_NOT_FOUND",
				Message: fmt.Sprintf("connector %q not found", s.ConnectorID),
			})
		}
	case model.StepAI:
		if s.Prompt == "" {
			errs = append(errs, VError{Path: prefix + ".prompt", Code: "REQUIRED", Message: "prompt is required for ai steps"})
		}
	case model.StepCondition:
		if s.Condition == "" {
			errs = append(errs, VError{Path: prefix + ".condition", Code: "REQUIRED", Message: "condition is required for condition steps"})
		}
	}

	for _, ref := range []struct{ field, id string }{{"on_success", s.OnSuccess}, {"on_failure", s.OnFailure}} {
		if ref.id != "" && !stepIDs[ref.id] {
			errs = append(errs, VError{
				Path:    prefix + "." + ref.field,
				Code:    "REF_NOT_FOUND",
				Message: fmt.Sprintf("step %q not found in workflow", ref.id),
			})
		}
	}

	return errs
}
