package middleware

import (
	"context"

	"github.com/zonde306/lmproxy/internal/core"
	"github.com/zonde306/lmproxy/internal/macro"
)

func init() {
	Register("macro", func(settings map[string]any) (Middleware, error) {
		return NewMacro(settings), nil
	})
}

// Macro expands "{{name|args}}" templates in every text message before
// the request reaches a worker. Grounded on
// original_source/src/middlewares/macros.py; unlike the original's
// per-instance loader.get_object registration, builtin macros register
// themselves globally via internal/macro's init()-time registry.
type Macro struct {
	NoOp
	maxIterations int
}

// NewMacro builds a Macro middleware from settings["max_iterations"]
// (0 uses internal/macro's default of 9).
func NewMacro(settings map[string]any) *Macro {
	m := &Macro{}
	if v, ok := settings["max_iterations"].(int); ok {
		m.maxIterations = v
	} else if v, ok := settings["max_iterations"].(float64); ok {
		m.maxIterations = int(v)
	}
	return m
}

func (m *Macro) Name() string { return "Macro" }

func (m *Macro) PreRequest(_ context.Context, rc *core.Context) (bool, error) {
	if rc.Modality != core.ModalityText {
		return false, nil
	}
	messages, _ := rc.Body["messages"].([]any)

	for _, raw := range messages {
		msg, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		switch content := msg["content"].(type) {
		case string:
			msg["content"] = macro.Render(content, m.maxIterations)
		case []any:
			for _, partRaw := range content {
				part, ok := partRaw.(map[string]any)
				if !ok {
					continue
				}
				if part["type"] == "text" {
					if text, ok := part["text"].(string); ok {
						part["text"] = macro.Render(text, m.maxIterations)
					}
				}
			}
		}
	}
	return false, nil
}
