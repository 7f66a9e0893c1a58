package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/auctionarena/auctiond/internal/clock"
	"github.com/auctionarena/auctiond/internal/config"
)

// Driver opens a backing store and returns its Repositories.
type Driver func(ctx context.Context, cfg config.DatabaseConfig, clk clock.Clock) (*Repositories, error)

var registry = map[string]Driver{}

// Register adds a named driver to the global registry. It is intended to be
// called from init() in each driver package.
func Register(name string, d Driver) {
	registry[name] = d
}

// Open selects the driver named in cfg.Driver and returns its Repositories.
func Open(ctx context.Context, cfg config.DatabaseConfig, clk clock.Clock) (*Repositories, error) {
	d, ok := registry[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("unknown store driver %q (registered: %v)", cfg.Driver, registeredNames())
	}
	return d(ctx, cfg, clk)
}

func registeredNames() []string {
	names := make([]string, 0, len(registry))
	for k := range registry {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
