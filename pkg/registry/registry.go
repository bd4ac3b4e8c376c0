// Package registry provides an explicit typed registry for collaborator
// wiring. Components declare the collaborator interfaces they need and
// resolve them here at startup; there is no hidden global lookup and no
// runtime introspection beyond the type key itself.
package registry

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

var (
	// ErrNotRegistered is returned when no entry satisfies a resolution.
	ErrNotRegistered = errors.New("collaborator not registered")

	// ErrAlreadyRegistered is returned when a registration collides with
	// an existing entry for the same type and key.
	ErrAlreadyRegistered = errors.New("collaborator already registered")
)

// Registry maps (interface type, optional string key) to concrete
// instances. Resolution applies a three-tier order:
//
//  1. exact match on type + key;
//  2. the type's unkeyed default entry;
//  3. hierarchical fallback: the requested dotted key is shortened one
//     leading segment at a time ("billing.fax.line" then "fax.line" then
//     "line") and each suffix is tried as a keyed entry.
//
// Registry is safe for concurrent use; registration normally happens once
// at startup, resolution on any goroutine after.
type Registry struct {
	mu      sync.RWMutex
	entries map[reflect.Type]map[string]any
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[reflect.Type]map[string]any)}
}

func (r *Registry) set(t reflect.Type, key string, v any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	byKey := r.entries[t]
	if byKey == nil {
		byKey = make(map[string]any)
		r.entries[t] = byKey
	}
	if _, exists := byKey[key]; exists {
		if key == "" {
			return fmt.Errorf("%w: %s", ErrAlreadyRegistered, t)
		}
		return fmt.Errorf("%w: %s key %q", ErrAlreadyRegistered, t, key)
	}
	byKey[key] = v
	return nil
}

func (r *Registry) get(t reflect.Type, key string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byKey, ok := r.entries[t]
	if !ok {
		return nil, false
	}

	// Tier 1: exact type + key.
	if v, ok := byKey[key]; ok {
		return v, true
	}
	if key == "" {
		return nil, false
	}

	// Tier 2: the type's unkeyed default.
	if v, ok := byKey[""]; ok {
		return v, true
	}

	// Tier 3: hierarchical fallback on the dotted key.
	rest := key
	for {
		i := strings.IndexByte(rest, '.')
		if i < 0 {
			return nil, false
		}
		rest = rest[i+1:]
		if v, ok := byKey[rest]; ok {
			return v, true
		}
	}
}

// Register binds impl as the unkeyed default for interface type T.
func Register[T any](r *Registry, impl T) error {
	return r.set(typeOf[T](), "", impl)
}

// RegisterNamed binds impl for interface type T under the given key.
func RegisterNamed[T any](r *Registry, key string, impl T) error {
	if key == "" {
		return Register(r, impl)
	}
	return r.set(typeOf[T](), key, impl)
}

// Resolve returns the entry for interface type T under the three-tier
// resolution order. key may be empty to request only the type default.
func Resolve[T any](r *Registry, key string) (T, error) {
	t := typeOf[T]()
	v, ok := r.get(t, key)
	if !ok {
		var zero T
		if key == "" {
			return zero, fmt.Errorf("%w: %s", ErrNotRegistered, t)
		}
		return zero, fmt.Errorf("%w: %s key %q", ErrNotRegistered, t, key)
	}
	return v.(T), nil
}

// MustResolve is Resolve that panics on failure. It is meant for startup
// wiring, where a missing collaborator is a programming error.
func MustResolve[T any](r *Registry, key string) T {
	v, err := Resolve[T](r, key)
	if err != nil {
		panic(err)
	}
	return v
}

// typeOf returns the reflect.Type of T itself, even when T is an
// interface type.
func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}
