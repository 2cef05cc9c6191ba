package model

import (
	"context"
	"time"
)

// InvocationContext carries the ambient information passed to every
// connector invocation and workflow run. It is never mutated by the engine.
type InvocationContext struct {
	WorkspaceRoot string    `json:"workspaceRoot"`
	ActiveFile    string    `json:"activeFile,omitempty"`
	Selection     string    `json:"selection,omitempty"`
	Language      string    `json:"language,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	UserRequest   string    `json:"userRequest,omitempty"`
}

// NewInvocationContext returns a context rooted at workspaceRoot and stamped
// with the current time.
func NewInvocationContext(workspaceRoot, userRequest string) InvocationContext {
	return InvocationContext{
		WorkspaceRoot: workspaceRoot,
		Timestamp:     time.Now().UTC(),
		UserRequest:   userRequest,
	}
}

// AsMap returns the context as a plain map for expression environments and
// webhook payloads.
func (ic InvocationContext) AsMap() map[string]any {
	return map[string]any{
		"workspaceRoot": ic.WorkspaceRoot,
		"activeFile":    ic.ActiveFile,
		"selection":     ic.Selection,
		"language":      ic.Language,
		"timestamp":     ic.Timestamp.Format(time.RFC3339),
		"userRequest":   ic.UserRequest,
	}
}

type contextKey struct{}

// WithInvocationContext attaches an InvocationContext to ctx.
func WithInvocationContext(ctx context.Context, ic InvocationContext) context.Context {
	return context.WithValue(ctx, contextKey{}, ic)
}

// InvocationContextFrom extracts the InvocationContext from ctx. The second
// return value reports whether one was present.
func InvocationContextFrom(ctx context.Context) (InvocationContext, bool) {
	ic, ok := ctx.Value(contextKey{}).(InvocationContext)
	return ic, ok
}
