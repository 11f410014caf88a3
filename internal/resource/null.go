package resource

import (
	"context"
	"time"
)

// Resourcer is satisfied by both Pool and NullPool, letting callers (e.g.
// internal/proxy, internal/httpclient) hold either without caring which.
type Resourcer interface {
	Acquire(ctx context.Context, timeout time.Duration) (int, string, error)
	Release(idx int, discard bool)
}

// NullPool is the "no-resource" pool: it immediately yields the empty
// value and never blocks. Discard is a no-op. Used when proxy egress (or
// any other optional resource) is disabled.
type NullPool struct{}

// NewNull builds a NullPool.
func NewNull() *NullPool { return &NullPool{} }

// Acquire always succeeds immediately with an empty value.
func (NullPool) Acquire(context.Context, time.Duration) (int, string, error) {
	return -1, "", nil
}

// Release is a no-op.
func (NullPool) Release(int, bool) {}
