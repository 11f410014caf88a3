package tools

import (
	"context"
	"time"
)

func init() {
	Register(Definition{
		Name:        "current_time",
		Description: "Returns the current UTC time in RFC3339 format.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
			"required":   []string{},
		},
	}, func(context.Context, map[string]any) (any, error) {
		return time.Now().UTC().Format(time.RFC3339), nil
	})
}
