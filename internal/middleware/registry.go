package middleware

import "fmt"

// Factory constructs a Middleware from its raw configuration settings.
// Registered by name at program init, the same write-once pattern used
// by internal/worker (spec.md §9 Design Note).
type Factory func(settings map[string]any) (Middleware, error)

var registry = map[string]Factory{}

// Register adds a named middleware constructor to the global registry.
func Register(class string, factory Factory) {
	registry[class] = factory
}

// Create looks up a registered factory by class name and constructs a
// Middleware from settings.
func Create(class string, settings map[string]any) (Middleware, error) {
	factory, ok := registry[class]
	if !ok {
		return nil, fmt.Errorf("unknown middleware class: %s", class)
	}
	return factory(settings)
}
