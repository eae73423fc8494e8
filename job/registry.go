package job

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/xraph/punt"
)

// HandlerFunc is a type-erased job handler that accepts the raw JSON
// payload. Typed definitions are converted to a HandlerFunc at
// registration time.
type HandlerFunc func(ctx context.Context, data json.RawMessage) error

// Registration is a handler together with its resolved retry cap.
type Registration struct {
	Name       string
	Handler    HandlerFunc
	MaxRetries int
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithDefaultMaxRetries sets the retry cap for jobs registered without
// an explicit one.
func WithDefaultMaxRetries(n int) RegistryOption {
	return func(r *Registry) {
		r.defaultMaxRetries = n
	}
}

// Registry maps job names to handlers.
// It is safe for concurrent use.
type Registry struct {
	mu                sync.RWMutex
	handlers          map[string]Registration
	defaultMaxRetries int
}

// NewRegistry creates an empty job registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		handlers:          make(map[string]Registration),
		defaultMaxRetries: punt.DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register stores fn under name. Registering the same name again replaces
// the previous handler.
func (r *Registry) Register(name string, fn HandlerFunc, opts ...Option) {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	r.put(name, fn, o)
}

// RegisterDefinition registers a typed job definition. The generic handler
// is wrapped in a closure that JSON-unmarshals the payload into T before
// calling the typed handler.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	handler := func(ctx context.Context, data json.RawMessage) error {
		var t T
		if len(data) > 0 {
			if err := json.Unmarshal(data, &t); err != nil {
				return fmt.Errorf("unmarshal payload for job %q: %w", def.Name, err)
			}
		}
		return def.Handler(ctx, t)
	}
	r.put(def.Name, handler, def.Opts)
}

func (r *Registry) put(name string, fn HandlerFunc, o Options) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = Registration{
		Name:       name,
		Handler:    fn,
		MaxRetries: o.resolve(r.defaultMaxRetries),
	}
}

// Get returns the registration for the given job name.
// Returns false if no handler is registered.
func (r *Registry) Get(name string) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.handlers[name]
	return reg, ok
}

// Names returns all registered job names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultMaxRetries returns the cap applied to jobs registered without one.
func (r *Registry) DefaultMaxRetries() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultMaxRetries
}
