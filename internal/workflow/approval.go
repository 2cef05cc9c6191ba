package workflow

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/pitabwire/switchboard/internal/observability"
)

// ErrNoPendingApproval is returned by Resolve when no gate is waiting for the
// given run and step.
var ErrNoPendingApproval = errors.New("no pending approval for run and step")

// ApprovalRequest describes one user step waiting for a decision.
type ApprovalRequest struct {
	RunID       string    `json:"runId"`
	WorkflowID  string    `json:"workflowId"`
	StepID      string    `json:"stepId"`
	StepName    string    `json:"stepName"`
	Prompt      string    `json:"prompt,omitempty"`
	RequestedAt time.Time `json:"requestedAt"`
	Deadline    time.Time `json:"deadline"`
}

// Decision is the outcome of an approval gate.
type Decision struct {
	Approved bool   `json:"approved"`
	By       string `json:"by,omitempty"`
	Comment  string `json:"comment,omitempty"`
}

// Approver resolves user steps. Approve blocks until a decision is made or
// ctx ends, in which case it returns ctx.Err().
type Approver interface {
	Approve(ctx context.Context, req ApprovalRequest) (Decision, error)
}

// AutoApprover approves every gate immediately. It is the default for
// non-interactive hosts.
type AutoApprover struct{}

// Approve implements Approver.
func (AutoApprover) Approve(context.Context, ApprovalRequest) (Decision, error) {
	return Decision{Approved: true, By: "auto"}, nil
}

type pendingGate struct {
	req      ApprovalRequest
	decision chan Decision
}

// PendingApprover parks each gate until a host resolves it through Resolve
// or the step deadline passes.
type PendingApprover struct {
	mu      sync.Mutex
	pending map[string]*pendingGate
	metrics *observability.Metrics
}

// NewPendingApprover creates an approver that waits for Resolve calls.
func NewPendingApprover(metrics *observability.Metrics) *PendingApprover {
	return &PendingApprover{
		pending: make(map[string]*pendingGate),
		metrics: metrics,
	}
}

func gateKey(runID, stepID string) string {
	return runID + "/" + stepID
}

// Approve implements Approver.
func (a *PendingApprover) Approve(ctx context.Context, req ApprovalRequest) (Decision, error) {
	gate := &pendingGate{req: req, decision: make(chan Decision, 1)}
	key := gateKey(req.RunID, req.StepID)

	a.mu.Lock()
	a.pending[key] = gate
	a.metrics.SetPendingApprovals(len(a.pending))
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		if a.pending[key] == gate {
			delete(a.pending, key)
		}
		a.metrics.SetPendingApprovals(len(a.pending))
		a.mu.Unlock()
	}()

	select {
	case d := <-gate.decision:
		return d, nil
	case <-ctx.Done():
		return Decision{}, ctx.Err()
	}
}

// Resolve delivers a decision to the gate waiting on runID/stepID.
func (a *PendingApprover) Resolve(runID, stepID string, d Decision) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := gateKey(runID, stepID)
	gate, ok := a.pending[key]
	if !ok {
		return ErrNoPendingApproval
	}
	delete(a.pending, key)
	a.metrics.SetPendingApprovals(len(a.pending))
	gate.decision <- d
	return nil
}

// Pending returns the gates currently waiting, oldest first.
func (a *PendingApprover) Pending() []ApprovalRequest {
	a.mu.Lock()
	out := make([]ApprovalRequest, 0, len(a.pending))
	for _, g := range a.pending {
		out = append(out, g.req)
	}
	a.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return gateKey(out[i].RunID, out[i].StepID) < gateKey(out[j].RunID, out[j].StepID)
		}
		return out[i].RequestedAt.Before(out[j].RequestedAt)
	})
	return out
}
