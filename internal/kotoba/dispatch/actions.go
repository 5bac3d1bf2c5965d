package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/bdobrica/kotoba/internal/kotoba/conversation"
	"github.com/bdobrica/kotoba/internal/kotoba/intent"
)

// ActionRequest is what an action executor sees.
type ActionRequest struct {
	SessionID string
	UserID    string
	Message   string
	Intent    *intent.ParsedIntent
	Context   *conversation.Context
}

// Action executes an external side effect for an intent and returns a short
// human-readable result that the responder may use.
type Action func(ctx context.Context, req ActionRequest) (string, error)

// ActionResult is the outcome of one executed action.
type ActionResult struct {
	Name   string `json:"name"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Recorded returns the string stored in the turn's system actions list.
func (r ActionResult) Recorded() string {
	if r.Error != "" {
		return r.Name + ":failed"
	}
	return r.Name
}

type namedAction struct {
	name string
	fn   Action
}

// Registry maps intent types to the actions run for them. Safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	actions map[string][]namedAction
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string][]namedAction)}
}

// Register adds an action for intentType. Actions run in registration order.
func (r *Registry) Register(intentType, name string, fn Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[intentType] = append(r.actions[intentType], namedAction{name: name, fn: fn})
}

// IntentTypes returns the intent types with at least one action, sorted.
func (r *Registry) IntentTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.actions))
	for k := range r.actions {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Run executes every action registered for req.Intent.Type. A failing
// action does not stop the others; its error is captured in the result.
func (r *Registry) Run(ctx context.Context, req ActionRequest) []ActionResult {
	if req.Intent == nil {
		return nil
	}
	r.mu.RLock()
	actions := append([]namedAction(nil), r.actions[req.Intent.Type]...)
	r.mu.RUnlock()

	results := make([]ActionResult, 0, len(actions))
	for _, a := range actions {
		res, err := runAction(ctx, a, req)
		out := ActionResult{Name: a.name, Result: res}
		if err != nil {
			out.Error = err.Error()
		}
		results = append(results, out)
	}
	return results
}

// runAction converts a panicking executor into an error.
func runAction(ctx context.Context, a namedAction, req ActionRequest) (res string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("action %s panicked: %v", a.name, p)
		}
	}()
	return a.fn(ctx, req)
}
