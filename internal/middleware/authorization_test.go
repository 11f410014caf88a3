package middleware

import (
	"context"
	"testing"

	"github.com/zonde306/lmproxy/internal/core"
)

// TestAuthorizationRejectsWrongToken covers spec.md §8 scenario E1: a
// missing or wrong bearer token is rejected with 401 and a
// WWW-Authenticate challenge, via a TerminationError.
func TestAuthorizationRejectsWrongToken(t *testing.T) {
	a := NewAuthorization(map[string]any{"token": "secret"})

	rc := core.NewContext(map[string]string{"authorization": "Bearer wrong"}, map[string]any{}, core.ModalityText)
	_, err := a.PreRequest(context.Background(), rc)
	if err == nil {
		t.Fatal("expected an error for a mismatched token")
	}
	term, ok := err.(*core.TerminationError)
	if !ok {
		t.Fatalf("expected *core.TerminationError, got %T", err)
	}
	if term.Response.StatusCode != 401 {
		t.Fatalf("expected 401, got %d", term.Response.StatusCode)
	}
	if term.Response.Headers["WWW-Authenticate"] != "Bearer" {
		t.Fatalf("expected WWW-Authenticate challenge, got %v", term.Response.Headers)
	}
}

func TestAuthorizationAcceptsCorrectToken(t *testing.T) {
	a := NewAuthorization(map[string]any{"token": "secret"})

	rc := core.NewContext(map[string]string{"authorization": "Bearer secret"}, map[string]any{}, core.ModalityText)
	stop, err := a.PreRequest(context.Background(), rc)
	if err != nil {
		t.Fatalf("expected no error for a matching token, got %v", err)
	}
	if stop {
		t.Fatal("expected the chain to continue")
	}
}

func TestAuthorizationRejectsMissingHeader(t *testing.T) {
	a := NewAuthorization(map[string]any{"token": "secret"})

	rc := core.NewContext(nil, map[string]any{}, core.ModalityText)
	_, err := a.PreRequest(context.Background(), rc)
	if err == nil {
		t.Fatal("expected an error when no authorization header is present")
	}
}
