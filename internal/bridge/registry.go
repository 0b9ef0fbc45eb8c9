package bridge

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Factory builds a bridge instance from its raw configuration settings.
// Factories validate settings and wrap failures in [ErrConfiguration].
type Factory func(settings map[string]string) (Bridge, error)

// Info is the fail-soft description of one registered bridge. When building
// it fails, Error is set and the remaining fields describe what is known;
// one broken bridge never prevents listing the others.
type Info struct {
	Type         string       `json:"type"`
	Capabilities []Capability `json:"capabilities,omitempty"`
	Health       Health       `json:"health"`
	Error        string       `json:"error,omitempty"`
}

type registration struct {
	factory  Factory
	settings map[string]string
}

// Registry holds named bridge configurations and instantiates each bridge at
// most once. It replaces ambient process-wide state: construct one, pass it
// by reference to whatever needs it.
type Registry struct {
	mu        sync.Mutex
	entries   map[string]registration
	instances map[string]Bridge
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries:   make(map[string]registration),
		instances: make(map[string]Bridge),
	}
}

// Register records name → (factory, settings) without instantiating the
// bridge. Registering an empty name or nil factory fails with
// [ErrConfiguration]; re-registering a name replaces the previous entry and
// drops any cached instance.
func (r *Registry) Register(name string, factory Factory, settings map[string]string) error {
	if name == "" {
		return fmt.Errorf("%w: empty bridge name", ErrConfiguration)
	}
	if factory == nil {
		return fmt.Errorf("%w: nil factory for bridge %q", ErrConfiguration, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = registration{factory: factory, settings: settings}
	delete(r.instances, name)
	return nil
}

// Get returns the bridge registered under name, constructing and caching it
// on first call. Bridge instances may hold expensive connections, so each is
// built at most once per registry lifetime.
func (r *Registry) Get(name string) (Bridge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.instances[name]; ok {
		return b, nil
	}
	reg, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}

	b, err := reg.factory(reg.settings)
	if err != nil {
		return nil, fmt.Errorf("instantiating bridge %q: %w", name, err)
	}
	r.instances[name] = b
	return b, nil
}

// Names returns the registered bridge names, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe builds the info record for one bridge. It never returns an
// error: instantiation or probe failures are reported in Info.Error.
func (r *Registry) Describe(ctx context.Context, name string) Info {
	b, err := r.Get(name)
	if err != nil {
		return Info{Error: err.Error()}
	}

	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return Info{
		Type:         b.Type(),
		Capabilities: b.Capabilities(),
		Health:       b.HealthCheck(probeCtx),
	}
}

// DescribeAll applies [Registry.Describe] to every registered name.
func (r *Registry) DescribeAll(ctx context.Context) map[string]Info {
	infos := make(map[string]Info)
	for _, name := range r.Names() {
		infos[name] = r.Describe(ctx, name)
	}
	return infos
}
