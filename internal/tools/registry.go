// Package tools implements the Deskwing Tool Runtime: a registry of
// versioned tool definitions and an execution path that validates
// arguments, deduplicates identical in-flight calls, caches results,
// rate-limits, retries transient failures once, and returns a uniform
// result shape for successes and failures alike.
package tools

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/deskwing/deskwing/pkg/models"
)

// Registry maps tool names to their definitions. Registration normally
// happens at startup; the registry is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*models.ToolDefinition
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*models.ToolDefinition)}
}

// Register adds a tool definition. Registering a name twice replaces the
// earlier definition and logs a warning.
func (r *Registry) Register(def *models.ToolDefinition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, exists := r.tools[def.Name]; exists {
		log.Warn().
			Str("tool", def.Name).
			Str("old_version", prev.Version).
			Str("new_version", def.Version).
			Msg("Tool re-registered, replacing earlier definition")
	}
	r.tools[def.Name] = def
}

// Get returns the definition for a tool name, or nil.
func (r *Registry) Get(name string) *models.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// ListTools returns the registered tool names, sorted.
func (r *Registry) ListTools() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
