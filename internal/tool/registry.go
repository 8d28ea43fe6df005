package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"gigabot/internal/domain"
)

// Registry maps capability names to implementations and dispatches
// calls from the reasoning loop. Execute never returns an error: every
// failure (unknown name, invalid arguments, tool error, tool panic) is
// converted to text the model sees on the next round.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]domain.Tool
	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		tools:  make(map[string]domain.Tool),
		logger: logger,
	}
}

// Register adds a tool. The last registration for a name wins.
func (r *Registry) Register(t domain.Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
	r.logger.Debug("registered tool", "name", t.Name())
}

func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

func (r *Registry) Get(name string) domain.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Execute validates args against the tool's schema and runs it.
// Validation failure short-circuits: the tool is never invoked.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (result string) {
	t := r.Get(name)
	if t == nil {
		return fmt.Sprintf("Error: Tool '%s' not found", name)
	}

	if problems := validateArgs(t.Parameters(), args); len(problems) > 0 {
		return fmt.Sprintf("Error: Invalid parameters for tool '%s': %s",
			name, strings.Join(problems, "; "))
	}

	// Tools catch their own failures, but a panic here must not take
	// the loop down with it.
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool panicked", "name", name, "panic", rec)
			result = fmt.Sprintf("Error executing %s: panic: %v", name, rec)
		}
	}()

	out, err := t.Execute(ctx, args)
	if err != nil {
		r.logger.Warn("tool execution failed", "name", name, "err", err)
		return fmt.Sprintf("Error executing %s: %v", name, err)
	}
	return out
}

// Definitions returns tool schemas for presentation to the provider.
func (r *Registry) Definitions() []domain.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]domain.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, domain.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// validateArgs checks args against a JSON-schema parameters object:
// required keys must be present, declared primitive types must match.
// Undeclared extra arguments are tolerated.
func validateArgs(schema map[string]any, args map[string]any) []string {
	var problems []string

	if required, ok := schema["required"].([]string); ok {
		for _, key := range required {
			if _, present := args[key]; !present {
				problems = append(problems, fmt.Sprintf("missing required parameter '%s'", key))
			}
		}
	}

	props, _ := schema["properties"].(map[string]any)
	for key, val := range args {
		decl, ok := props[key].(map[string]any)
		if !ok {
			continue
		}
		declType, _ := decl["type"].(string)
		if declType == "" || val == nil {
			continue
		}
		if !typeMatches(declType, val) {
			problems = append(problems, fmt.Sprintf("parameter '%s' must be a %s", key, declType))
		}
	}

	sort.Strings(problems)
	return problems
}

func typeMatches(declType string, val any) bool {
	switch declType {
	case "string":
		_, ok := val.(string)
		return ok
	case "number", "integer":
		switch val.(type) {
		case float64, float32, int, int32, int64:
			return true
		}
		return false
	case "boolean":
		_, ok := val.(bool)
		return ok
	case "array":
		_, ok := val.([]any)
		return ok
	case "object":
		_, ok := val.(map[string]any)
		return ok
	default:
		return true
	}
}

// Param describes a single tool parameter.
type Param struct {
	Type        string
	Description string
	Enum        []string
}

// ToolParameters builds a JSON Schema "parameters" object for a tool.
func ToolParameters(properties map[string]Param, required []string) map[string]any {
	props := make(map[string]any)
	for name, p := range properties {
		prop := map[string]any{"type": p.Type, "description": p.Description}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		props[name] = prop
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func ArgsString(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	v, ok := args[key]
	if !ok {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}
