package domain

import "context"

// Tool is a named, schema-described capability the reasoning loop can
// invoke. Parameters returns a JSON-schema object describing accepted
// arguments. Execute returns a textual result; failures are returned
// as errors and converted to text at the registry boundary, never
// propagated into the loop.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) (string, error)
}
