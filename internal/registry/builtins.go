package registry

import "github.com/pitabwire/switchboard/model"

// Builtins returns the well-known connectors every registry starts with.
// Only workspace-files is enabled; the rest reach outside the workspace and
// must be switched on explicitly.
func Builtins() []model.Connector {
	return []model.Connector{
		{
			ID:          "workspace-files",
			Name:        "Workspace Files",
			Description: "Read and write files under the workspace root",
			Type:        model.ConnectorFile,
			Config:      &model.FileConfig{Path: ".", Confine: true},
			Enabled:     true,
			Priority:    5,
		},
		{
			ID:          "rest-client",
			Name:        "REST Client",
			Description: "Generic HTTP client; set endpoint before enabling",
			Type:        model.ConnectorAPI,
			Config:      &model.APIConfig{Method: "GET"},
			Priority:    3,
		},
		{
			ID:          "git",
			Name:        "Git",
			Description: "Run git sub-commands in the workspace",
			Type:        model.ConnectorCLI,
			Config:      &model.CLIConfig{Command: "git"},
			Priority:    3,
		},
		{
			ID:          "shell",
			Name:        "Shell",
			Description: "Run arbitrary shell commands in the workspace",
			Type:        model.ConnectorCLI,
			Config:      &model.CLIConfig{Command: ""},
			Priority:    1,
		},
		{
			ID:          "webhook",
			Name:        "Webhook",
			Description: "POST events to a configured URL",
			Type:        model.ConnectorWebhook,
			Config:      &model.WebhookConfig{},
			Priority:    1,
		},
	}
}
