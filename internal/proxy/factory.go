// Package proxy implements the named registry of egress proxy pools
// described by ProxyFactory: each named pool multiplexes a set of proxy
// URLs the way internal/resource multiplexes API keys, with an optional
// null pool for "no proxy configured". Grounded on
// original_source/src/proxies.py's ProxyManager/ProxyFactory/DummyProxyManager.
package proxy

import (
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zonde306/lmproxy/internal/resource"
)

// PoolConfig mirrors spec.md §6's `proxy.<name>` configuration block.
type PoolConfig struct {
	Initial      []string
	Repeat       int
	Timeout      time.Duration
	CooldownTime time.Duration
	RenewURL     string
	Separator    string
}

// Factory is a name-keyed registry of proxy pools, built once at startup
// from configuration and never mutated during request handling.
type Factory struct {
	mu      sync.RWMutex
	pools   map[string]resource.Resourcer
	timeout map[string]time.Duration
	logger  *zap.Logger
}

// NewFactory builds a Factory from a name -> PoolConfig map.
func NewFactory(configs map[string]PoolConfig, logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Factory{
		pools:   make(map[string]resource.Resourcer, len(configs)),
		timeout: make(map[string]time.Duration, len(configs)),
		logger:  logger,
	}
	for name, cfg := range configs {
		var renew resource.RenewFunc
		if cfg.RenewURL != "" {
			renew = resource.HTTPRenewFunc(http.DefaultClient, cfg.RenewURL, cfg.Separator)
		}
		f.pools[name] = resource.New(cfg.Initial, resource.Options{
			CooldownTime: cfg.CooldownTime,
			Repeat:       cfg.Repeat,
			Renew:        renew,
			Logger:       logger,
		})
		f.timeout[name] = cfg.Timeout
	}
	return f
}

// Create returns the named pool, or a NullPool if name is empty or
// unregistered — mirroring proxies.py's settings.get("proxy", None)
// falling through to DummyProxyManager.
func (f *Factory) Create(name string) resource.Resourcer {
	if name == "" {
		return resource.NewNull()
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if p, ok := f.pools[name]; ok {
		return p
	}
	return resource.NewNull()
}

// Timeout returns the configured acquisition timeout for the named pool,
// or 0 (wait forever) if unset.
func (f *Factory) Timeout(name string) time.Duration {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.timeout[name]
}
