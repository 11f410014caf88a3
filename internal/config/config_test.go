package config

import "testing"

func TestToEntriesExtractsClassPriorityAndSettings(t *testing.T) {
	raw := []map[string]any{
		{"class": "authorization", "priority": 100, "token": "secret"},
		{"class": "regex", "priority": float64(50)},
		{"priority": 10},
	}

	entries := toEntries(raw)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Class != "authorization" || entries[0].Priority != 100 {
		t.Fatalf("unexpected entry 0: %+v", entries[0])
	}
	if entries[0].Settings["token"] != "secret" {
		t.Fatalf("expected settings to carry through, got %+v", entries[0].Settings)
	}
	if entries[1].Priority != 50 {
		t.Fatalf("expected float64 priority coerced to 50, got %d", entries[1].Priority)
	}
	if entries[2].Class != "" {
		t.Fatalf("expected empty class when omitted, got %q", entries[2].Class)
	}
}

func TestMiddlewareConfigEntriesDelegates(t *testing.T) {
	m := MiddlewareConfig{Middlewares: []map[string]any{
		{"class": "macro", "priority": 5},
	}}
	entries := m.Entries()
	if len(entries) != 1 || entries[0].Class != "macro" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestLoadAppliesDefaultsWithNoConfigFilePresent(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Port != 18790 {
		t.Fatalf("expected default port 18790, got %d", cfg.Gateway.Port)
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Fatalf("expected default max_attempts 3, got %d", cfg.Retry.MaxAttempts)
	}
}
