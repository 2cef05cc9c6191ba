package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/switchboard/internal/definition"
	"github.com/pitabwire/switchboard/internal/openapi"
	"github.com/pitabwire/switchboard/internal/registry"
	"github.com/pitabwire/switchboard/model"
)

// ReloadResult describes a successful reload.
type ReloadResult struct {
	Connectors int                 `json:"connectors"`
	Workflows  int                 `json:"workflows"`
	Sources    []definition.Source `json:"sources"`
	Checksum   string              `json:"checksum"`
	// Changed is false when the definitions match the previous load.
	Changed  bool     `json:"changed"`
	Warnings []string `json:"warnings,omitempty"`
}

// LoadDefinitions reads and validates the definitions in dirs. Validation
// failures are returned as a BAD_REQUEST *model.ErrorEnvelope.
func LoadDefinitions(loader *definition.Loader, dirs []string) (definition.Loaded, error) {
	loaded, err := loader.LoadAll(dirs)
	if err != nil {
		return definition.Loaded{}, model.NewBadRequestError(err.Error())
	}

	builtins := registry.Builtins()
	known := make([]string, len(builtins))
	for i, c := range builtins {
		known[i] = c.ID
	}
	if verr := definition.AsEnvelope(definition.NewValidator().Validate(loaded.Definitions, known)); verr != nil {
		return loaded, verr
	}
	return loaded, nil
}

// Reload loads the configured definition directories and replaces the
// registry contents. On any error the previous definitions stay in place.
// Toggle state is reset, OpenAPI documents of removed connectors are dropped
// and schedules are re-registered.
func (e *Engine) Reload(ctx context.Context) (ReloadResult, error) {
	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()

	start := time.Now()
	loaded, err := LoadDefinitions(e.loader, e.cfg.Definitions.Directories)
	if err != nil {
		e.metrics.RecordDefinitionReload("failure", 0, 0)
		e.logger.Error("definition reload failed", zap.Error(err))
		return ReloadResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return ReloadResult{}, err
	}
	for _, w := range loaded.Warnings {
		e.logger.Warn("unresolved definition reference", zap.String("warning", w))
	}

	previous := e.registry.Checksum()
	before := openAPIConnectors(e.registry.List())

	e.registry.Replace(loaded.Definitions, loaded.Checksum)

	after := openAPIConnectors(e.registry.List())
	for id, src := range before {
		if cur, ok := after[id]; !ok || cur != src {
			e.specs.Remove(id)
		}
	}
	e.syncSchedules()

	warnings := loaded.Warnings
	e.warnings.Store(&warnings)
	e.loaded.Store(true)

	res := ReloadResult{
		Connectors: len(e.registry.List()),
		Workflows:  len(e.registry.Workflows()),
		Sources:    loaded.Sources,
		Checksum:   loaded.Checksum,
		Changed:    loaded.Checksum != previous,
		Warnings:   warnings,
	}
	e.metrics.RecordDefinitionReload("success", res.Connectors, res.Workflows)
	e.logger.Info("definitions loaded",
		zap.Int("connectors", res.Connectors),
		zap.Int("workflows", res.Workflows),
		zap.Int("files", len(res.Sources)),
		zap.Bool("changed", res.Changed),
		zap.Duration("duration", time.Since(start)),
	)
	return res, nil
}

func openAPIConnectors(conns []model.Connector) map[string]openapi.SpecSource {
	out := make(map[string]openapi.SpecSource)
	for _, c := range conns {
		api, ok := c.Config.(*model.APIConfig)
		if !ok || api.OpenAPI == "" {
			continue
		}
		out[c.ID] = openapi.SpecSource{ConnectorID: c.ID, BaseURL: api.Endpoint, SpecPath: api.OpenAPI}
	}
	return out
}

func (e *Engine) syncSchedules() {
	if e.scheduler == nil {
		return
	}
	e.scheduler.Sync(e.registry.Workflows())
}
