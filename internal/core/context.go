package core

// Context is the per-request envelope that flows through every layer of
// the pipeline. It is deliberately not named "Context" inside a package
// called "context" — every blocking operation in this codebase also takes
// a stdlib context.Context as its first parameter, and the two must never
// be confused.
type Context struct {
	Headers         map[string]string
	Body            map[string]any
	Modality        Modality
	Response        any // Delta, <-chan Delta, or map[string]any
	StatusCode      int
	ResponseHeaders map[string]string
	Metadata        map[string]any
}

// NewContext builds a Context for a fresh inbound request.
func NewContext(headers map[string]string, body map[string]any, modality Modality) *Context {
	if headers == nil {
		headers = map[string]string{}
	}
	if body == nil {
		body = map[string]any{}
	}
	return &Context{
		Headers:         headers,
		Body:            body,
		Modality:        modality,
		StatusCode:      200,
		ResponseHeaders: map[string]string{},
		Metadata:        map[string]any{},
	}
}

// Model returns body.model, or "" if absent or not a string.
func (c *Context) Model() string {
	if v, ok := c.Body["model"].(string); ok {
		return v
	}
	return ""
}

// Stream returns body.stream, or false if absent.
func (c *Context) Stream() bool {
	if v, ok := c.Body["stream"].(bool); ok {
		return v
	}
	return false
}

// Payload returns a deep copy of Body with two optional rewrites applied
// from settings: aliases (rewrite body.model if it is a key in
// settings["aliases"]) and overrides (set or, for a nil value, delete
// body[k]). The original Body is never mutated; only the returned copy is
// safe to hand to an upstream for in-place mutation (e.g. setting
// "stream").
func (c *Context) Payload(settings map[string]any) map[string]any {
	out := deepCopyMap(c.Body)

	if aliases, ok := settings["aliases"].(map[string]any); ok {
		if model, ok := out["model"].(string); ok {
			if aliased, ok := aliases[model]; ok {
				out["model"] = aliased
			}
		}
	} else if aliases, ok := settings["aliases"].(map[string]string); ok {
		if model, ok := out["model"].(string); ok {
			if aliased, ok := aliases[model]; ok {
				out["model"] = aliased
			}
		}
	}

	if overrides, ok := settings["overrides"].(map[string]any); ok {
		for k, v := range overrides {
			if v == nil {
				delete(out, k)
				continue
			}
			out[k] = v
		}
	}

	return out
}

func deepCopyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch vv := v.(type) {
	case map[string]any:
		return deepCopyMap(vv)
	case []any:
		cp := make([]any, len(vv))
		for i, item := range vv {
			cp[i] = deepCopyValue(item)
		}
		return cp
	default:
		return v
	}
}

// ToResponse snapshots the Context's current Response/StatusCode/
// ResponseHeaders into a standalone *Response, for handing back to the
// HTTP layer when a middleware short-circuits the pipeline (e.g. the
// request or response chain stopping early) rather than a worker ever
// being called.
func (c *Context) ToResponse() *Response {
	return &Response{
		StatusCode: c.StatusCode,
		Headers:    c.ResponseHeaders,
		Body:       c.Response,
		Metadata:   c.Metadata,
	}
}

// Response is the outer envelope returned by the Engine to the HTTP layer.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       any // Delta, <-chan Delta, or map[string]any
	Metadata   map[string]any
}

// Attempt is retry-loop bookkeeping: which iteration this is, and the
// error that ended the previous one, if any.
type Attempt struct {
	Number int
	Err    error
}
