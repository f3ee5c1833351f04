package automations

import (
	"context"
	"errors"
	"fmt"
)

// ErrRateLimited marks a provider 429 so the caller can distinguish it from
// other failures when deciding whether an event deserves another sweep.
var ErrRateLimited = errors.New("provider rate limited")

// Action is one named side effect against a third-party provider. An
// implementation performs exactly one outbound call per Execute; retry policy
// lives with the sweeper, not here.
type Action interface {
	Execute(ctx context.Context, authData, actionConfig, payload map[string]interface{}) (*Result, error)
}

type registryKey struct {
	provider string
	action   string
}

// Registry resolves (provider, action type) pairs to Action implementations.
// It is populated once at startup; an unknown key is an explicit error, not a
// fallthrough.
type Registry struct {
	actions map[registryKey]Action
}

func NewRegistry() *Registry {
	return &Registry{actions: make(map[registryKey]Action)}
}

func (r *Registry) Register(provider, actionType string, action Action) {
	r.actions[registryKey{provider, actionType}] = action
}

type UnknownActionError struct {
	Provider string
	Action   string
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("no handler registered for provider %q action %q", e.Provider, e.Action)
}

func (r *Registry) Resolve(provider, actionType string) (Action, error) {
	action, ok := r.actions[registryKey{provider, actionType}]
	if !ok {
		return nil, &UnknownActionError{Provider: provider, Action: actionType}
	}
	return action, nil
}
