package middleware

import (
	"context"
	"sort"
	"strings"

	"github.com/zonde306/lmproxy/internal/core"
)

func init() {
	Register("inject", func(settings map[string]any) (Middleware, error) {
		return NewInject(settings), nil
	})
}

// insertion is one configured message insertion/merge, mirrored from
// middlewares/inject.py's Insertion TypedDict.
type insertion struct {
	order    int
	role     string
	content  any // string or []any content-part maps
	before   bool
	keywords []string
}

// Inject conditionally inserts or merges extra messages into a request's
// message list based on keyword matches against existing string content.
// Grounded on original_source/src/middlewares/inject.py.
type Inject struct {
	NoOp
	insertions []insertion
}

// NewInject builds an Inject middleware from settings["insertions"].
func NewInject(settings map[string]any) *Inject {
	inj := &Inject{}
	raw, _ := settings["insertions"].([]any)
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		ins := insertion{
			order:   intOr(m["order"], 4),
			role:    stringOr(m["role"], "any"),
			content: m["content"],
			before:  boolOr(m["before"], false),
		}
		switch kw := m["keywords"].(type) {
		case string:
			ins.keywords = []string{kw}
		case []any:
			for _, k := range kw {
				if s, ok := k.(string); ok {
					ins.keywords = append(ins.keywords, s)
				}
			}
		}
		inj.insertions = append(inj.insertions, ins)
	}
	return inj
}

func intOr(v any, fallback int) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	}
	return fallback
}

func boolOr(v any, fallback bool) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return fallback
}

func (i *Inject) Name() string { return "Inject" }

func (i *Inject) PreRequest(_ context.Context, rc *core.Context) (bool, error) {
	if rc.Modality != core.ModalityText {
		return false, nil
	}
	messages, _ := rc.Body["messages"].([]any)

	var contents []string
	for _, raw := range messages {
		if m, ok := raw.(map[string]any); ok {
			if s, ok := m["content"].(string); ok {
				contents = append(contents, s)
			}
		}
	}

	var matched []insertion
	for _, ins := range i.insertions {
		if matchKeywords(ins.keywords, contents) {
			matched = append(matched, ins)
		}
	}
	if len(matched) == 0 {
		return false, nil
	}

	// Sort by order descending for stable indexing, as the original does.
	sort.SliceStable(matched, func(a, b int) bool { return matched[a].order > matched[b].order })

	for _, ins := range matched {
		if ins.content == nil || ins.content == "" {
			continue
		}
		messages = insertOne(messages, ins)
	}

	rc.Body["messages"] = messages
	return false, nil
}

func matchKeywords(keywords []string, contents []string) bool {
	if len(keywords) == 0 {
		return true
	}
	joined := strings.Join(contents, "\n\n")
	for _, kw := range keywords {
		if strings.Contains(joined, kw) {
			return true
		}
	}
	return false
}

func insertOne(messages []any, ins insertion) []any {
	idx := resolveIndex(ins.order, len(messages))

	if idx < 0 || idx >= len(messages) {
		newMsg := map[string]any{"role": ins.role, "content": ins.content}
		return spliceInsert(messages, clamp(ins.order, len(messages)), newMsg)
	}

	target, ok := messages[idx].(map[string]any)
	if !ok {
		return messages
	}
	targetRole, _ := target["role"].(string)

	if ins.role == "any" || targetRole == ins.role {
		target["content"] = mergeContent(target["content"], ins.content, ins.before)
		return messages
	}

	newMsg := map[string]any{"role": ins.role, "content": ins.content}
	if ins.before {
		return spliceInsert(messages, idx, newMsg)
	}
	return spliceInsert(messages, idx+1, newMsg)
}

// resolveIndex maps a Python-style possibly-negative order onto a 0-based
// index into a `length`-element list the way `messages[order]` resolves
// it: -1 is the last element, -2 the second-to-last, and so on for any
// negative order, not just -1. The result is left negative or >= length
// when order is genuinely out of range, mirroring Python's IndexError so
// the caller falls back to the insert-new-message path.
func resolveIndex(order, length int) int {
	if order < 0 {
		return length + order
	}
	return order
}

// clamp maps a Python-style possibly-negative/out-of-range insert index
// onto Go's append-based splice, matching list.insert's own clamping
// (independent of resolveIndex's bounds check above): negative orders
// clamp to the front, too-large orders clamp to the end.
func clamp(order, length int) int {
	if order < 0 {
		order = length + order
		if order < 0 {
			return 0
		}
		return order
	}
	if order > length {
		return length
	}
	return order
}

func spliceInsert(messages []any, idx int, item any) []any {
	if idx < 0 {
		idx = 0
	}
	if idx > len(messages) {
		idx = len(messages)
	}
	out := make([]any, 0, len(messages)+1)
	out = append(out, messages[:idx]...)
	out = append(out, item)
	out = append(out, messages[idx:]...)
	return out
}

func toContentList(content any) []any {
	if s, ok := content.(string); ok {
		return []any{map[string]any{"type": "text", "text": s}}
	}
	if list, ok := content.([]any); ok {
		return list
	}
	return nil
}

func mergeContent(existing, incoming any, before bool) any {
	existingStr, existingIsStr := existing.(string)
	incomingStr, incomingIsStr := incoming.(string)
	if existingIsStr && incomingIsStr {
		if before {
			return incomingStr + existingStr
		}
		return existingStr + incomingStr
	}

	existingList := toContentList(existing)
	incomingList := toContentList(incoming)
	if before {
		return append(append([]any{}, incomingList...), existingList...)
	}
	return append(append([]any{}, existingList...), incomingList...)
}
