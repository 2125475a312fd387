package action

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// NotFoundError is returned when a step names an unregistered action type.
type NotFoundError struct {
	ActionType string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("action type not registered: %s", e.ActionType)
}

// ValidationError is returned when ValidateParams rejects a step's
// parameters.
type ValidationError struct {
	ActionType string
	Problems   []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid params for action %s: %s", e.ActionType, strings.Join(e.Problems, "; "))
}

// Registry resolves action types to implementations. Registration happens
// once at startup; lookups afterwards are read-only.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]Action)}
}

// Register adds an action implementation under the given type name.
func (r *Registry) Register(actionType string, a Action) error {
	if actionType == "" {
		return fmt.Errorf("action type cannot be empty")
	}
	if a == nil {
		return fmt.Errorf("action cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.actions[actionType]; exists {
		return fmt.Errorf("action type already registered: %s", actionType)
	}
	r.actions[actionType] = a
	return nil
}

// Get resolves an action type.
func (r *Registry) Get(actionType string) (Action, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actions[actionType]
	if !ok {
		return nil, &NotFoundError{ActionType: actionType}
	}
	return a, nil
}

// Has reports whether the action type is registered.
func (r *Registry) Has(actionType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.actions[actionType]
	return ok
}

// Types returns the registered action types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.actions))
	for t := range r.actions {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Validate resolves the action type and checks the params, returning a typed
// error for either failure mode.
func (r *Registry) Validate(actionType string, params map[string]any) error {
	a, err := r.Get(actionType)
	if err != nil {
		return err
	}
	if problems := a.ValidateParams(params); len(problems) > 0 {
		return &ValidationError{ActionType: actionType, Problems: problems}
	}
	return nil
}
