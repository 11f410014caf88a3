package middleware

import (
	"context"
	"regexp"
	"strings"

	"github.com/zonde306/lmproxy/internal/core"
)

func init() {
	Register("regex", func(settings map[string]any) (Middleware, error) {
		return NewRegex(settings), nil
	})
}

// regexRule is one configured find/replace rule with role and depth
// scoping, mirrored from middlewares/regex.py's per-entry settings.
type regexRule struct {
	pattern         *regexp.Regexp
	replacement     string
	role            string
	minDepth        *int
	maxDepth        *int
	count           int
}

// Regex rewrites message content using configured regular expressions,
// scoped by message role and distance-from-end ("depth"). Grounded on
// original_source/src/middlewares/regex.py.
type Regex struct {
	NoOp
	rules []regexRule
}

// NewRegex builds a Regex middleware from settings["regexp"], a list of
// rule maps. Invalid patterns are skipped.
func NewRegex(settings map[string]any) *Regex {
	r := &Regex{}
	raw, _ := settings["regexp"].([]any)
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		pattern, _ := m["pattern"].(string)
		if pattern == "" {
			continue
		}

		flags := ""
		if b, _ := m["case_insensitive"].(bool); b {
			flags += "i"
		}
		if b, _ := m["multiline"].(bool); b {
			flags += "m"
		}
		if b, _ := m["dot_all"].(bool); b {
			flags += "s"
		}
		expr := pattern
		if flags != "" {
			expr = "(?" + flags + ")" + pattern
		}

		compiled, err := regexp.Compile(expr)
		if err != nil {
			continue
		}

		rule := regexRule{
			pattern:     compiled,
			replacement: stringOr(m["replacement"], ""),
			role:        stringOr(m["role"], "any"),
		}
		if v, ok := intPtr(m["min_depth"]); ok {
			rule.minDepth = v
		}
		if v, ok := intPtr(m["max_depth"]); ok {
			rule.maxDepth = v
		}
		if v, ok := m["count"].(int); ok {
			rule.count = v
		}
		r.rules = append(r.rules, rule)
	}
	return r
}

func stringOr(v any, fallback string) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fallback
}

func intPtr(v any) (*int, bool) {
	switch n := v.(type) {
	case int:
		return &n, true
	case float64:
		i := int(n)
		return &i, true
	}
	return nil, false
}

func (r *Regex) Name() string { return "Regex" }

func (r *Regex) PreRequest(_ context.Context, rc *core.Context) (bool, error) {
	if rc.Modality != core.ModalityText {
		return false, nil
	}
	messages, _ := rc.Body["messages"].([]any)
	size := len(messages)

	for i, raw := range messages {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		role, _ := m["role"].(string)
		depth := size - i - 1

		switch content := m["content"].(type) {
		case string:
			m["content"] = r.apply(content, role, depth)
		case []any:
			for _, partRaw := range content {
				part, ok := partRaw.(map[string]any)
				if !ok {
					continue
				}
				if part["type"] == "text" {
					if text, ok := part["text"].(string); ok {
						part["text"] = r.apply(text, role, depth)
					}
				}
			}
		}
	}
	return false, nil
}

// apply runs every configured rule whose role/depth window matches
// against content, in configured order.
func (r *Regex) apply(content, role string, depth int) string {
	for _, rule := range r.rules {
		if rule.role != "any" && rule.role != role {
			continue
		}
		if rule.minDepth != nil && depth < *rule.minDepth {
			continue
		}
		if rule.maxDepth != nil && depth > *rule.maxDepth {
			continue
		}

		if rule.count > 0 {
			remaining := rule.count
			content = rule.pattern.ReplaceAllStringFunc(content, func(match string) string {
				if remaining <= 0 {
					return match
				}
				remaining--
				return expandReplacement(rule.pattern, match, rule.replacement)
			})
		} else {
			content = rule.pattern.ReplaceAllString(content, rule.replacement)
		}
	}
	return content
}

// expandReplacement resolves $1-style backreferences the same way
// regexp.ReplaceAllString does, for the count-bounded path which can't
// use that helper directly.
func expandReplacement(re *regexp.Regexp, match, replacement string) string {
	if !strings.Contains(replacement, "$") {
		return replacement
	}
	loc := re.FindStringSubmatchIndex(match)
	if loc == nil {
		return replacement
	}
	return string(re.ExpandString(nil, replacement, match, loc))
}
