package model

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// ConnectorType names one of the closed set of connector variants.
type ConnectorType string

// Connector types.
const (
	ConnectorAPI      ConnectorType = "api"
	ConnectorCLI      ConnectorType = "cli"
	ConnectorFile     ConnectorType = "file"
	ConnectorDatabase ConnectorType = "database"
	ConnectorWebhook  ConnectorType = "webhook"
)

// ConnectorTypes lists every connector type in a stable order.
var ConnectorTypes = []ConnectorType{
	ConnectorAPI, ConnectorCLI, ConnectorFile, ConnectorDatabase, ConnectorWebhook,
}

// DefaultAction is the action used by workflow steps that do not name one.
func (t ConnectorType) DefaultAction() string {
	switch t {
	case ConnectorAPI:
		return "get"
	case ConnectorCLI:
		return "run"
	case ConnectorFile:
		return "read"
	case ConnectorDatabase:
		return "query"
	case ConnectorWebhook:
		return "trigger"
	}
	return ""
}

// Connector is a named, typed adapter to one external system.
type Connector struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Type        ConnectorType   `json:"type"`
	Config      ConnectorConfig `json:"config"`
	Enabled     bool            `json:"enabled"`
	Priority    int             `json:"priority"`
}

// ConnectorConfig is implemented only by the typed configs in this package:
// *APIConfig, *CLIConfig, *FileConfig, *DatabaseConfig and *WebhookConfig.
type ConnectorConfig interface {
	ConnectorType() ConnectorType
	Common() CommonConfig
	redacted() ConnectorConfig
}

// CommonConfig holds the settings shared by every connector type.
type CommonConfig struct {
	// Timeout bounds a single invocation. Zero selects the per-type default.
	Timeout time.Duration `yaml:"timeout" json:"timeout,omitempty"`
	// Retries is the number of additional attempts for network connectors.
	Retries int `yaml:"retries" json:"retries,omitempty"`
}

// Common returns the shared settings.
func (c CommonConfig) Common() CommonConfig { return c }

// AuthConfig selects how an api connector authenticates.
type AuthConfig struct {
	Type     string        `yaml:"type" json:"type"`
	Token    string        `yaml:"token" json:"token,omitempty"`
	Username string        `yaml:"username" json:"username,omitempty"`
	Password string        `yaml:"password" json:"password,omitempty"`
	Key      string        `yaml:"key" json:"key,omitempty"`
	Header   string        `yaml:"header" json:"header,omitempty"`
	Secret   string        `yaml:"secret" json:"secret,omitempty"`
	Issuer   string        `yaml:"issuer" json:"issuer,omitempty"`
	Audience string        `yaml:"audience" json:"audience,omitempty"`
	Subject  string        `yaml:"subject" json:"subject,omitempty"`
	TTL      time.Duration `yaml:"ttl" json:"ttl,omitempty"`
}

// Authentication strategies.
const (
	AuthBearer = "bearer"
	AuthBasic  = "basic"
	AuthAPIKey = "apikey"
	AuthJWT    = "jwt"
)

// APIConfig configures an HTTP API connector.
type APIConfig struct {
	CommonConfig `yaml:",inline"`
	Endpoint     string            `yaml:"endpoint" json:"endpoint"`
	Method       string            `yaml:"method" json:"method,omitempty"`
	Headers      map[string]string `yaml:"headers" json:"headers,omitempty"`
	Auth         *AuthConfig       `yaml:"auth" json:"auth,omitempty"`
	// OpenAPI is an optional path to an OpenAPI document. When set, actions
	// that are not HTTP verbs are resolved as operationIds.
	OpenAPI string `yaml:"openapi" json:"openapi,omitempty"`
}

// CLIConfig configures a command-line connector.
type CLIConfig struct {
	CommonConfig `yaml:",inline"`
	Command      string            `yaml:"command" json:"command"`
	Env          map[string]string `yaml:"env" json:"env,omitempty"`
	VersionFlag  string            `yaml:"version_flag" json:"versionFlag,omitempty"`
}

// FileConfig configures a filesystem connector.
type FileConfig struct {
	CommonConfig `yaml:",inline"`
	Path         string `yaml:"path" json:"path"`
	// Confine rejects paths that resolve outside the workspace root,
	// absolute ones included.
	Confine bool `yaml:"confine" json:"confine,omitempty"`
}

// DatabaseConfig configures a database connector.
type DatabaseConfig struct {
	CommonConfig     `yaml:",inline"`
	ConnectionString string `yaml:"connection_string" json:"connectionString"`
	MaxConns         int32  `yaml:"max_conns" json:"maxConns,omitempty"`
}

// WebhookConfig configures an outbound webhook connector.
type WebhookConfig struct {
	CommonConfig `yaml:",inline"`
	URL          string            `yaml:"url" json:"url"`
	Headers      map[string]string `yaml:"headers" json:"headers,omitempty"`
	// Secret, when set, signs each payload with HMAC-SHA256.
	Secret string `yaml:"secret" json:"secret,omitempty"`
}

func (*APIConfig) ConnectorType() ConnectorType      { return ConnectorAPI }
func (*CLIConfig) ConnectorType() ConnectorType      { return ConnectorCLI }
func (*FileConfig) ConnectorType() ConnectorType     { return ConnectorFile }
func (*DatabaseConfig) ConnectorType() ConnectorType { return ConnectorDatabase }
func (*WebhookConfig) ConnectorType() ConnectorType  { return ConnectorWebhook }

const redactedValue = "[REDACTED]"

func mask(s string) string {
	if s == "" {
		return ""
	}
	return redactedValue
}

func (c *APIConfig) redacted() ConnectorConfig {
	cp := *c
	if c.Auth != nil {
		auth := *c.Auth
		auth.Token = mask(auth.Token)
		auth.Password = mask(auth.Password)
		auth.Key = mask(auth.Key)
		auth.Secret = mask(auth.Secret)
		cp.Auth = &auth
	}
	return &cp
}

func (c *CLIConfig) redacted() ConnectorConfig {
	cp := *c
	if len(c.Env) > 0 {
		cp.Env = make(map[string]string, len(c.Env))
		for k, v := range c.Env {
			cp.Env[k] = mask(v)
		}
	}
	return &cp
}

func (c *FileConfig) redacted() ConnectorConfig {
	cp := *c
	return &cp
}

func (c *DatabaseConfig) redacted() ConnectorConfig {
	cp := *c
	cp.ConnectionString = mask(c.ConnectionString)
	return &cp
}

func (c *WebhookConfig) redacted() ConnectorConfig {
	cp := *c
	cp.Secret = mask(c.Secret)
	return &cp
}

// NewConnectorConfig returns an empty config of the variant named by t.
func NewConnectorConfig(t ConnectorType) (ConnectorConfig, error) {
	switch t {
	case ConnectorAPI:
		return &APIConfig{}, nil
	case ConnectorCLI:
		return &CLIConfig{}, nil
	case ConnectorFile:
		return &FileConfig{}, nil
	case ConnectorDatabase:
		return &DatabaseConfig{}, nil
	case ConnectorWebhook:
		return &WebhookConfig{}, nil
	}
	return nil, fmt.Errorf("unknown connector type %q", t)
}

// Redacted returns a copy of the connector with credentials masked, suitable
// for listing to clients.
func (c Connector) Redacted() Connector {
	if c.Config != nil {
		c.Config = c.Config.redacted()
	}
	return c
}

// Timeout returns the configured timeout, or fallback when none is set.
func (c Connector) Timeout(fallback time.Duration) time.Duration {
	if c.Config != nil {
		if t := c.Config.Common().Timeout; t > 0 {
			return t
		}
	}
	return fallback
}

// connectorFields mirrors Connector with the config left undecoded so that
// its variant can be chosen from Type.
type connectorFields struct {
	ID          string        `yaml:"id"`
	Name        string        `yaml:"name"`
	Description string        `yaml:"description"`
	Type        ConnectorType `yaml:"type"`
	Enabled     *bool         `yaml:"enabled"`
	Priority    int           `yaml:"priority"`
	Config      yaml.Node     `yaml:"config"`
}

// UnmarshalYAML decodes a connector definition, selecting the config variant
// from the type field. Connectors are enabled unless stated otherwise.
func (c *Connector) UnmarshalYAML(value *yaml.Node) error {
	var f connectorFields
	if err := value.Decode(&f); err != nil {
		return err
	}
	cfg, err := NewConnectorConfig(f.Type)
	if err != nil {
		return fmt.Errorf("connector %q: %w", f.ID, err)
	}
	if f.Config.Kind != 0 {
		if err := f.Config.Decode(cfg); err != nil {
			return fmt.Errorf("connector %q config: %w", f.ID, err)
		}
	}
	*c = Connector{
		ID:          f.ID,
		Name:        f.Name,
		Description: f.Description,
		Type:        f.Type,
		Config:      cfg,
		Enabled:     f.Enabled == nil || *f.Enabled,
		Priority:    f.Priority,
	}
	return nil
}

// UnmarshalJSON decodes a connector from its JSON form, selecting the config
// variant from the type field.
func (c *Connector) UnmarshalJSON(data []byte) error {
	var f struct {
		ID          string          `json:"id"`
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Type        ConnectorType   `json:"type"`
		Enabled     *bool           `json:"enabled"`
		Priority    int             `json:"priority"`
		Config      json.RawMessage `json:"config"`
	}
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	cfg, err := NewConnectorConfig(f.Type)
	if err != nil {
		return fmt.Errorf("connector %q: %w", f.ID, err)
	}
	if len(f.Config) > 0 && string(f.Config) != "null" {
		if err := json.Unmarshal(f.Config, cfg); err != nil {
			return fmt.Errorf("connector %q config: %w", f.ID, err)
		}
	}
	*c = Connector{
		ID:          f.ID,
		Name:        f.Name,
		Description: f.Description,
		Type:        f.Type,
		Config:      cfg,
		Enabled:     f.Enabled == nil || *f.Enabled,
		Priority:    f.Priority,
	}
	return nil
}

// Definitions is the parsed content of one or more definition files.
type Definitions struct {
	Connectors []Connector `yaml:"connectors" json:"connectors"`
	Workflows  []Workflow  `yaml:"workflows" json:"workflows"`
}
