package agent

import "gigabot/internal/domain"

// ToolFilter restricts which registered tools a conversation may see
// and call. Personas use it to narrow the tool set; an empty filter
// allows everything.
type ToolFilter struct {
	allowed map[string]bool
}

func NewToolFilter(allowed []string) *ToolFilter {
	tf := &ToolFilter{allowed: make(map[string]bool, len(allowed))}
	for _, name := range allowed {
		tf.allowed[name] = true
	}
	return tf
}

// FilterDefinitions returns only the definitions that pass the filter.
func (tf *ToolFilter) FilterDefinitions(defs []domain.ToolDefinition) []domain.ToolDefinition {
	if tf.IsEmpty() {
		return defs
	}
	filtered := make([]domain.ToolDefinition, 0, len(defs))
	for _, d := range defs {
		if tf.IsAllowed(d.Name) {
			filtered = append(filtered, d)
		}
	}
	return filtered
}

// IsAllowed reports whether the tool name passes the filter.
func (tf *ToolFilter) IsAllowed(name string) bool {
	if tf.IsEmpty() {
		return true
	}
	return tf.allowed[name]
}

func (tf *ToolFilter) IsEmpty() bool {
	return tf == nil || len(tf.allowed) == 0
}
