// Package registry holds the connector and workflow definitions known to the
// engine. It is safe for concurrent use.
package registry

import (
	"sort"
	"sync"

	"github.com/pitabwire/switchboard/model"
)

type connectorEntry struct {
	conn model.Connector
	seq  uint64
}

type workflowEntry struct {
	wf  model.Workflow
	seq uint64
}

// Registry stores connectors and workflows by id. Insertion order is kept so
// that listings with equal priority are stable.
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]*connectorEntry
	workflows  map[string]*workflowEntry
	seq        uint64
	checksum   string
}

// New creates an empty registry. Call LoadBuiltins or Replace to populate it.
func New() *Registry {
	return &Registry{
		connectors: make(map[string]*connectorEntry),
		workflows:  make(map[string]*workflowEntry),
	}
}

// Register inserts or replaces a connector by id. A replaced connector keeps
// its original insertion position.
func (r *Registry) Register(c model.Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registerLocked(c)
}

func (r *Registry) registerLocked(c model.Connector) {
	if e, ok := r.connectors[c.ID]; ok {
		e.conn = c
		return
	}
	r.seq++
	r.connectors[c.ID] = &connectorEntry{conn: c, seq: r.seq}
}

// LoadBuiltins seeds the well-known connectors. Existing connectors with the
// same ids are replaced.
func (r *Registry) LoadBuiltins() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range Builtins() {
		r.registerLocked(c)
	}
}

// Connector returns the connector with the given id.
func (r *Registry) Connector(id string) (model.Connector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.connectors[id]
	if !ok {
		return model.Connector{}, false
	}
	return e.conn, true
}

// Toggle flips the enabled flag of a connector and returns the new state.
// An unknown id is a no-op and reports found=false.
func (r *Registry) Toggle(id string) (enabled, found bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.connectors[id]
	if !ok {
		return false, false
	}
	e.conn.Enabled = !e.conn.Enabled
	return e.conn.Enabled, true
}

// List returns all connectors sorted by descending priority. Ties keep
// insertion order.
func (r *Registry) List() []model.Connector {
	r.mu.RLock()
	entries := make([]*connectorEntry, 0, len(r.connectors))
	for _, e := range r.connectors {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].conn.Priority != entries[j].conn.Priority {
			return entries[i].conn.Priority > entries[j].conn.Priority
		}
		return entries[i].seq < entries[j].seq
	})

	out := make([]model.Connector, len(entries))
	for i, e := range entries {
		out[i] = e.conn
	}
	return out
}

// ConnectorStats aggregates connector counts.
type ConnectorStats struct {
	Total    int                         `json:"total"`
	Enabled  int                         `json:"enabled"`
	Disabled int                         `json:"disabled"`
	ByType   map[model.ConnectorType]int `json:"byType"`
}

// Stats returns connector counts by type and enablement.
func (r *Registry) Stats() ConnectorStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := ConnectorStats{ByType: make(map[model.ConnectorType]int)}
	for _, e := range r.connectors {
		s.Total++
		if e.conn.Enabled {
			s.Enabled++
		} else {
			s.Disabled++
		}
		s.ByType[e.conn.Type]++
	}
	return s
}

// RegisterWorkflow inserts or replaces a workflow by id.
func (r *Registry) RegisterWorkflow(wf model.Workflow) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registerWorkflowLocked(wf)
}

func (r *Registry) registerWorkflowLocked(wf model.Workflow) {
	if e, ok := r.workflows[wf.ID]; ok {
		e.wf = wf
		return
	}
	r.seq++
	r.workflows[wf.ID] = &workflowEntry{wf: wf, seq: r.seq}
}

// Workflow returns the workflow with the given id.
func (r *Registry) Workflow(id string) (model.Workflow, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.workflows[id]
	if !ok {
		return model.Workflow{}, false
	}
	return e.wf, true
}

// Workflows returns all workflows in insertion order.
func (r *Registry) Workflows() []model.Workflow {
	r.mu.RLock()
	entries := make([]*workflowEntry, 0, len(r.workflows))
	for _, e := range r.workflows {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]model.Workflow, len(entries))
	for i, e := range entries {
		out[i] = e.wf
	}
	return out
}

// ToggleWorkflow flips the enabled flag of a workflow. An unknown id is a
// no-op and reports found=false.
func (r *Registry) ToggleWorkflow(id string) (enabled, found bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.workflows[id]
	if !ok {
		return false, false
	}
	next := !e.wf.IsEnabled()
	e.wf.Enabled = &next
	return next, true
}

// WorkflowStats aggregates workflow counts.
type WorkflowStats struct {
	Total     int            `json:"total"`
	Enabled   int            `json:"enabled"`
	Disabled  int            `json:"disabled"`
	ByTrigger map[string]int `json:"byTrigger"`
}

// WorkflowStats returns workflow counts grouped by trigger. A workflow with
// several triggers is counted once per trigger.
func (r *Registry) WorkflowStats() WorkflowStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := WorkflowStats{ByTrigger: make(map[string]int)}
	for _, e := range r.workflows {
		s.Total++
		if e.wf.IsEnabled() {
			s.Enabled++
		} else {
			s.Disabled++
		}
		for _, t := range e.wf.Triggers {
			s.ByTrigger[t]++
		}
	}
	return s
}

// Replace rebuilds the registry from the builtins followed by defs. User
// definitions win on id collision. Toggle state from before the call is
// discarded.
func (r *Registry) Replace(defs model.Definitions, checksum string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.connectors = make(map[string]*connectorEntry, len(defs.Connectors))
	r.workflows = make(map[string]*workflowEntry, len(defs.Workflows))
	r.seq = 0

	for _, c := range Builtins() {
		r.registerLocked(c)
	}
	for _, c := range defs.Connectors {
		r.registerLocked(c)
	}
	for _, wf := range defs.Workflows {
		r.registerWorkflowLocked(wf)
	}
	r.checksum = checksum
}

// Checksum returns the checksum of the definitions last passed to Replace.
func (r *Registry) Checksum() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.checksum
}
