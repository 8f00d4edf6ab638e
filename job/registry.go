package job

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/xraph/tempo"
)

// Result is the serialized value a handler returns.
type Result = json.RawMessage

// Handler executes one kind of job. Handlers receive plain data and must not
// assume any HTTP or caller context beyond ctx.
type Handler interface {
	Execute(ctx context.Context, args Args) (Result, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, args Args) (Result, error)

// Execute calls f.
func (f HandlerFunc) Execute(ctx context.Context, args Args) (Result, error) {
	return f(ctx, args)
}

// Typed adapts a function over a typed first argument. A job without
// arguments passes the zero T. The return value is JSON-encoded.
func Typed[T, R any](fn func(ctx context.Context, in T) (R, error)) Handler {
	return HandlerFunc(func(ctx context.Context, args Args) (Result, error) {
		var in T
		if len(args) > 0 {
			if err := args.Decode(0, &in); err != nil {
				return nil, tempo.Discard(err)
			}
		}
		out, err := fn(ctx, in)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("encode result: %w", err)
		}
		return data, nil
	})
}

// Registry maps job kinds to handlers. It is populated at startup and safe
// for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty job registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register binds kind to h, replacing any previous handler.
func (r *Registry) Register(kind string, h Handler) error {
	if kind == "" {
		return tempo.Validationf("handler kind is required")
	}
	if h == nil {
		return tempo.Validationf("handler for %q is nil", kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = h
	return nil
}

// Get returns the handler for kind.
func (r *Registry) Get(kind string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind]
	return h, ok
}

// Resolve returns the handler for kind or an error wrapping
// tempo.ErrUnknownKind.
func (r *Registry) Resolve(kind string) (Handler, error) {
	h, ok := r.Get(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %q", tempo.ErrUnknownKind, kind)
	}
	return h, nil
}

// Kinds returns all registered kinds, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
