package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/zonde306/lmproxy/internal/core"
)

func init() {
	Register("authorization", func(settings map[string]any) (Middleware, error) {
		return NewAuthorization(settings), nil
	})
}

// Authorization rejects any request whose bearer token doesn't match the
// configured token. Grounded on
// original_source/src/middlewares/authorization.py.
type Authorization struct {
	NoOp
	token string
}

// NewAuthorization builds an Authorization middleware from settings["token"].
func NewAuthorization(settings map[string]any) *Authorization {
	token, _ := settings["token"].(string)
	return &Authorization{token: token}
}

func (a *Authorization) Name() string { return "Authorization" }

func (a *Authorization) PreRequest(_ context.Context, rc *core.Context) (bool, error) {
	header := rc.Headers["authorization"]
	if header == "" {
		header = rc.Headers["Authorization"]
	}
	supplied := strings.TrimPrefix(header, "Bearer ")

	if supplied != a.token {
		return false, core.NewTermination(
			http.StatusUnauthorized,
			map[string]string{"WWW-Authenticate": "Bearer"},
			map[string]any{"error": "Unauthorized"},
		)
	}
	return false, nil
}
