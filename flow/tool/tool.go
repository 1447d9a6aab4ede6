// Package tool defines the executable tool contract used by flows.
//
// Tools are the bridge between a flow and the outside world. A flow can
// invoke a tool directly through a tool execution step, expose it to an
// agent step for model-driven invocation, or use it to lazily resolve
// step inputs through a tool context provider. In every case the flow
// only sees the Tool interface, so applications can back a tool with an
// HTTP call, a database query, local code, or a test double without the
// flow definition changing.
package tool

import "context"

// Tool is an executable capability identified by name.
//
// Implementations should:
//   - Validate required input parameters and return descriptive errors
//   - Respect context cancellation and deadlines
//   - Return structured output as map[string]interface{}
//   - Be safe for concurrent use, since parallel map branches may share
//     a single tool instance
//
// Example implementation:
//
//	type LookupOrderTool struct{ db *sql.DB }
//
//	func (t *LookupOrderTool) Name() string { return "lookup_order" }
//
//	func (t *LookupOrderTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
//	    id, ok := input["order_id"].(string)
//	    if !ok {
//	        return nil, errors.New("order_id parameter required")
//	    }
//	    // Query the database...
//	    return map[string]interface{}{"status": "shipped"}, nil
//	}
type Tool interface {
	// Name returns the unique identifier for this tool.
	//
	// Names should be lowercase with underscores, following function
	// naming conventions: "search_web", "lookup_order", "send_email".
	// When a tool is exposed to an agent step, the name must match the
	// tool name advertised to the model.
	Name() string

	// Call executes the tool with the provided input.
	//
	// The input may be nil for parameterless tools. The returned map is
	// the structured result of the execution; flows copy it into step
	// outputs, so implementations may return internal maps without
	// worrying about later mutation.
	Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)
}

// Registry is a read-only view over a set of tools, keyed by name.
type Registry map[string]Tool

// NewRegistry builds a Registry from a list of tools. Later entries with
// a duplicate name shadow earlier ones.
func NewRegistry(tools ...Tool) Registry {
	r := make(Registry, len(tools))
	for _, t := range tools {
		r[t.Name()] = t
	}
	return r
}

// Lookup returns the named tool, or false when it is not registered.
func (r Registry) Lookup(name string) (Tool, bool) {
	t, ok := r[name]
	return t, ok
}
