// Package schema maps program keys (scheme://authority) to the validators
// that gate writes. The protocol itself attaches no meaning to scheme names;
// only a registered validator decides what a program accepts.
package schema

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/statewire/statewire/internal/node"
)

// ReadFunc gives a validator read-only access to current store state for
// existence and immutability checks. Validators must not write.
type ReadFunc func(ctx context.Context, uri string) (node.Record, error)

// Validator gates a single write. A nil return accepts; errors should carry
// a node kind (validation, immutable-exists, hash-mismatch).
type Validator interface {
	Validate(ctx context.Context, uri node.URI, value any, read ReadFunc) error
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(ctx context.Context, uri node.URI, value any, read ReadFunc) error

func (f ValidatorFunc) Validate(ctx context.Context, uri node.URI, value any, read ReadFunc) error {
	return f(ctx, uri, value, read)
}

// Registry holds the program-key dispatch table. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	programs map[string]Validator
	fallback Validator
}

func NewRegistry() *Registry {
	return &Registry{programs: make(map[string]Validator)}
}

// Register binds a validator to a program key, replacing any previous one.
func (r *Registry) Register(programKey string, v Validator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.programs[programKey] = v
}

// SetFallback installs a validator for program keys with no explicit entry.
// Without a fallback, unknown programs fail no-schema.
func (r *Registry) SetFallback(v Validator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = v
}

// Lookup resolves the validator for a program key.
func (r *Registry) Lookup(programKey string) (Validator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if v, ok := r.programs[programKey]; ok {
		return v, true
	}
	if r.fallback != nil {
		return r.fallback, true
	}
	return nil, false
}

// Programs returns the explicitly registered program keys, sorted.
func (r *Registry) Programs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.programs))
	for k := range r.programs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Default builds the registry served by stock node installations.
func Default() *Registry {
	r := NewRegistry()
	r.Register("mutable://open", OpenMutable())
	r.Register("mutable://accounts", OpenMutable())
	r.Register("msg://batch", OpenMutable())
	r.Register("immutable://open", OpenImmutable())
	r.Register("once://open", OpenImmutable())
	r.Register("inbox://accounts", OpenImmutable())
	r.Register("hash://sha256", ContentHash())
	r.Register("link://open", Link())
	r.Register("signed://accounts", PubkeyScoped(false))
	r.Register("sealed://accounts", PubkeyScoped(true))
	return r
}

// Module resolves a SCHEMA_MODULE name to a registry. "default" is the stock
// set above; "open" additionally accepts any program key as open mutable.
func Module(name string) (*Registry, error) {
	switch name {
	case "", "default":
		return Default(), nil
	case "open":
		r := Default()
		r.SetFallback(OpenMutable())
		return r, nil
	default:
		return nil, fmt.Errorf("unknown schema module %q", name)
	}
}
