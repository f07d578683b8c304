// Package skills defines the capabilities the agent can invoke.
//
// Skills are registered explicitly during startup; registration order
// is the order of Register calls in cmd/maxd, and re-registering a name
// replaces the prior skill. There is no import-time discovery magic.
package skills

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrUnknownSkill is returned by Invoke for names that were never
// registered. Callers check it with errors.Is.
var ErrUnknownSkill = errors.New("unknown skill")

// Skill represents a callable capability exposed to the reasoning
// backend. Every handler is synchronous; long-running handlers must
// honor ctx cancellation. Blocking a handler blocks only the turn that
// invoked it, never other subsystems.
type Skill struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Handler     func(ctx context.Context, args map[string]any) (string, error) `json:"-"`
}

// Registry holds the available skills.
type Registry struct {
	mu     sync.RWMutex
	skills map[string]*Skill
	order  []string // registration order, for stable listings
	logger *slog.Logger
}

// NewRegistry creates an empty registry. Skills are added with
// Register during the startup phase.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		skills: make(map[string]*Skill),
		logger: logger,
	}
}

// Register adds a skill. A nil Parameters schema defaults to an empty
// object schema. Registering a name twice silently replaces the prior
// skill (last write wins); the collision is logged at debug level.
func (r *Registry) Register(s *Skill) {
	if s.Parameters == nil {
		s.Parameters = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	if _, ok := s.Parameters["type"]; !ok {
		s.Parameters["type"] = "object"
	}
	if _, ok := s.Parameters["properties"]; !ok {
		s.Parameters["properties"] = map[string]any{}
	}

	r.mu.Lock()
	if _, exists := r.skills[s.Name]; exists {
		r.logger.Debug("skill re-registered, replacing", "skill", s.Name)
	} else {
		r.order = append(r.order, s.Name)
	}
	r.skills[s.Name] = s
	r.mu.Unlock()
}

// Get retrieves a skill by name, or nil.
func (r *Registry) Get(name string) *Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.skills[name]
}

// Count returns the number of registered skills.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.skills)
}

// Definitions returns all skills as tool definitions for the reasoning
// backend, in registration order.
func (r *Registry) Definitions() []map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []map[string]any
	for _, name := range r.order {
		s, ok := r.skills[name]
		if !ok {
			continue
		}
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        s.Name,
				"description": s.Description,
				"parameters":  s.Parameters,
			},
		})
	}
	return result
}

// Invoke runs a skill by name. Unknown names fail with ErrUnknownSkill.
// A handler error is returned as-is; the orchestrator contains it one
// layer up by turning it into a failed result, so invocation failures
// are never fatal here or there. An empty handler result is coerced to
// the fixed string "Done.".
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	s := r.Get(name)
	if s == nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownSkill, name)
	}
	if args == nil {
		args = map[string]any{}
	}

	result, err := s.Handler(ctx, args)
	if err != nil {
		return "", err
	}
	if result == "" {
		return "Done.", nil
	}
	return result, nil
}
