package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/parlane/seneschal/internal/mcp"
)

// Registry aggregates every configured provider manager. Managers are
// held in registration order, which is also the tool-name collision
// order: when two providers export the same tool name, the first
// registered provider wins.
type Registry struct {
	logger *slog.Logger

	mu       sync.RWMutex
	managers []*Manager
	byName   map[string]*Manager
}

// NewRegistry creates an empty manager registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger: logger,
		byName: make(map[string]*Manager),
	}
}

// Register adds a manager. Provider names must be unique.
func (r *Registry) Register(m *Manager) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[m.Name()]; exists {
		return &ConfigError{Provider: m.Name(), Field: "name", Reason: "duplicate provider name"}
	}
	r.managers = append(r.managers, m)
	r.byName[m.Name()] = m
	return nil
}

// Manager returns the manager for a provider name.
func (r *Registry) Manager(name string) (*Manager, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byName[name]
	return m, ok
}

// Managers returns the managers in registration order.
func (r *Registry) Managers() []*Manager {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Manager, len(r.managers))
	copy(out, r.managers)
	return out
}

// BootstrapAll bootstraps every provider concurrently — a slow optional
// provider must not delay a required one, and vice versa — and waits for
// all of them to settle. If any required provider fails, BootstrapAll
// returns that failure and the host should abort startup; optional
// failures are absorbed per-manager and leave the aggregate result nil.
func (r *Registry) BootstrapAll(ctx context.Context) error {
	managers := r.Managers()

	g, gctx := errgroup.WithContext(ctx)
	for _, m := range managers {
		g.Go(func() error {
			return m.Bootstrap(gctx)
		})
	}
	return g.Wait()
}

// MergedTools assembles the union of tool catalogs from all providers
// currently in the success state, silently omitting unavailable ones.
// Name collisions resolve by registration order: the first registered
// provider's definition wins and later duplicates are dropped.
func (r *Registry) MergedTools(ctx context.Context) ([]mcp.ToolDefinition, error) {
	managers := r.Managers()

	var merged []mcp.ToolDefinition
	seen := make(map[string]string) // tool name -> owning provider

	for _, m := range managers {
		client, err := m.Client(ctx)
		if err != nil {
			if IsUnavailable(err) {
				continue
			}
			// ErrNotBootstrapped or a cancelled wait: real errors.
			return nil, fmt.Errorf("merged tools: %w", err)
		}

		for _, td := range client.Tools() {
			if owner, dup := seen[td.Name]; dup {
				r.logger.Debug("dropping colliding tool",
					"tool", td.Name,
					"provider", m.Name(),
					"won_by", owner,
				)
				continue
			}
			seen[td.Name] = m.Name()
			merged = append(merged, td)
		}
	}

	return merged, nil
}

// ShutdownAll shuts every provider down concurrently. One provider's
// shutdown failure is logged and isolated; it never prevents the others
// from completing. ShutdownAll returns once every manager has settled.
func (r *Registry) ShutdownAll() {
	managers := r.Managers()

	var wg sync.WaitGroup
	for _, m := range managers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.Shutdown(); err != nil {
				r.logger.Warn("provider shutdown failed",
					"provider", m.Name(),
					"error", err,
				)
			}
		}()
	}
	wg.Wait()
}

// Statuses returns every manager's snapshot in registration order.
func (r *Registry) Statuses() []Status {
	managers := r.Managers()

	out := make([]Status, 0, len(managers))
	for _, m := range managers {
		out = append(out, m.Status())
	}
	return out
}

// Ready reports whether every required provider is available. Optional
// providers do not affect readiness.
func (r *Registry) Ready() bool {
	for _, m := range r.Managers() {
		if m.Spec().Policy == PolicyRequired && m.Status().State != StateSuccess {
			return false
		}
	}
	return true
}
