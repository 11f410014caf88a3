package openai

import "time"

func stringSetting(settings map[string]any, key, def string) string {
	if v, ok := settings[key].(string); ok && v != "" {
		return v
	}
	return def
}

func stringMapSetting(settings map[string]any, key string) map[string]string {
	out := map[string]string{}
	raw, ok := settings[key].(map[string]any)
	if !ok {
		if direct, ok := settings[key].(map[string]string); ok {
			return direct
		}
		return out
	}
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

func stringSliceSetting(settings map[string]any, key string) []string {
	raw, ok := settings[key].([]any)
	if !ok {
		if direct, ok := settings[key].([]string); ok {
			return direct
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func durationSetting(settings map[string]any, key string, def time.Duration) time.Duration {
	if settings == nil {
		return def
	}
	switch v := settings[key].(type) {
	case float64:
		return time.Duration(v * float64(time.Second))
	case int:
		return time.Duration(v) * time.Second
	case time.Duration:
		return v
	default:
		return def
	}
}
