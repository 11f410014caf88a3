// Package tools implements the function-calling registry consulted by
// the Tools middleware: named OpenAI-schema tool definitions plus their
// Go implementations, invoked concurrently per spec.md §4.5 / §9.
// Grounded on original_source/src/tool.py's tooldef decorator and
// execute_tool_calls (there, reflection-based registration from Python
// type hints; here, explicit Definition literals, since Go has no
// runtime parameter introspection to mirror tooldef's signature
// inspection).
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Definition is the OpenAI "tools" array entry advertised to upstreams.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// OpenAI renders d as the {"type": "function", "function": {...}} shape
// the wire protocol expects.
func (d Definition) OpenAI() map[string]any {
	return map[string]any{
		"type": "function",
		"function": map[string]any{
			"name":        d.Name,
			"description": d.Description,
			"parameters":  d.Parameters,
		},
	}
}

// Impl is a registered tool implementation.
type Impl func(ctx context.Context, args map[string]any) (any, error)

var (
	mu          sync.Mutex
	definitions []Definition
	impls       = map[string]Impl{}
)

// Register adds a tool definition and its implementation to the global
// registry, invoked from each built-in tool's init().
func Register(def Definition, impl Impl) {
	mu.Lock()
	defer mu.Unlock()
	definitions = append(definitions, def)
	impls[def.Name] = impl
}

// Definitions returns every registered tool's OpenAI-schema definition.
func Definitions() []map[string]any {
	mu.Lock()
	defer mu.Unlock()
	out := make([]map[string]any, len(definitions))
	for i, d := range definitions {
		out[i] = d.OpenAI()
	}
	return out
}

// Call is one parsed OpenAI tool_calls entry.
type Call struct {
	ID        string
	Name      string
	Arguments string
}

// Result is the "role": "tool" message produced for one Call.
type Result struct {
	ToolCallID string
	Name       string
	Content    string
}

// OpenAI renders r as a tool-role message.
func (r Result) OpenAI() map[string]any {
	return map[string]any{
		"tool_call_id": r.ToolCallID,
		"role":         "tool",
		"name":         r.Name,
		"content":      r.Content,
	}
}

// AllRegistered reports whether every call names a registered tool,
// mirroring execute_tool_calls's "bail out entirely if any is unknown"
// guard.
func AllRegistered(calls []Call) bool {
	mu.Lock()
	defer mu.Unlock()
	for _, c := range calls {
		if _, ok := impls[c.Name]; !ok {
			return false
		}
	}
	return true
}

// Execute runs every call concurrently and returns results in the same
// order the calls were given, regardless of completion order.
func Execute(ctx context.Context, calls []Call) ([]Result, error) {
	results := make([]Result, len(calls))

	g, gctx := errgroup.WithContext(ctx)
	for i, c := range calls {
		i, c := i, c
		g.Go(func() error {
			results[i] = callOne(gctx, c)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func callOne(ctx context.Context, c Call) Result {
	mu.Lock()
	impl, ok := impls[c.Name]
	mu.Unlock()

	if !ok {
		return Result{ToolCallID: c.ID, Name: c.Name, Content: fmt.Sprintf("Error: Function %q not found.", c.Name)}
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(c.Arguments), &args); err != nil {
		return Result{ToolCallID: c.ID, Name: c.Name, Content: fmt.Sprintf("Error: %v", err)}
	}

	value, err := impl(ctx, args)
	if err != nil {
		return Result{ToolCallID: c.ID, Name: c.Name, Content: fmt.Sprintf("Error: %v", err)}
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return Result{ToolCallID: c.ID, Name: c.Name, Content: fmt.Sprintf("Error: %v", err)}
	}
	return Result{ToolCallID: c.ID, Name: c.Name, Content: string(encoded)}
}
