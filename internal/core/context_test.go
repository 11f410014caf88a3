package core

import "testing"

func TestPayloadDoesNotMutateBody(t *testing.T) {
	ctx := NewContext(nil, map[string]any{
		"model": "gpt-4",
		"nested": map[string]any{
			"temperature": 0.5,
		},
	}, ModalityText)

	out := ctx.Payload(map[string]any{
		"aliases": map[string]any{"gpt-4": "upstream-gpt-4"},
		"overrides": map[string]any{
			"stream": true,
			"nested": nil,
		},
	})

	if out["model"] != "upstream-gpt-4" {
		t.Fatalf("expected aliased model in copy, got %v", out["model"])
	}
	if out["stream"] != true {
		t.Fatalf("expected override applied to copy")
	}
	if _, ok := out["nested"]; ok {
		t.Fatalf("expected nested override-to-nil to delete the key in the copy")
	}

	if ctx.Body["model"] != "gpt-4" {
		t.Fatalf("Body.model must not be mutated, got %v", ctx.Body["model"])
	}
	if _, ok := ctx.Body["stream"]; ok {
		t.Fatalf("Body must not gain keys from an override")
	}
	if _, ok := ctx.Body["nested"]; !ok {
		t.Fatalf("Body.nested must survive the override applied only to the copy")
	}

	nested, ok := ctx.Body["nested"].(map[string]any)
	if !ok {
		t.Fatalf("Body.nested lost its type")
	}
	if nested["temperature"] != 0.5 {
		t.Fatalf("Body.nested contents must be unchanged")
	}
}

func TestModelAndStreamDefaults(t *testing.T) {
	ctx := NewContext(nil, map[string]any{}, ModalityText)
	if ctx.Model() != "" {
		t.Fatalf("expected empty model default")
	}
	if ctx.Stream() != false {
		t.Fatalf("expected false stream default")
	}
}

func TestIsWorkerFamily(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{&WorkerUnsupportedError{Model: "x"}, true},
		{&WorkerOverloadError{}, true},
		{&WorkerNoAvailableError{}, true},
		{&WorkerError{Reason: "boom"}, true},
		{&TerminationError{Response: &Response{}}, false},
	}
	for _, tc := range cases {
		if got := IsWorkerFamily(tc.err); got != tc.want {
			t.Errorf("IsWorkerFamily(%T) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
