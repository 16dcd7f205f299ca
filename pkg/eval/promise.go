package eval

import (
	"fmt"
	"sync"

	"go.starlark.net/starlark"

	"github.com/smeltworks/smelt/pkg/provider"
)

// Promise is a deferred evaluation value. It stands in for a provider list
// element whose producing computation has not run yet; construction resolves
// it through a PromiseResolver. A promise is fulfilled at most once.
type Promise struct {
	name string

	mu    sync.Mutex
	value starlark.Value
}

// NewPromise creates an unfulfilled promise. The name describes the
// producing computation and appears in diagnostics.
func NewPromise(name string) *Promise {
	return &Promise{name: name}
}

// Name returns the promise's diagnostic name.
func (p *Promise) Name() string { return p.name }

// Fulfill supplies the promise's final value. Fulfilling twice is an error.
func (p *Promise) Fulfill(v starlark.Value) error {
	if v == nil {
		return fmt.Errorf("promise %q fulfilled with nil value", p.name)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.value != nil {
		return fmt.Errorf("promise %q fulfilled twice", p.name)
	}
	p.value = v
	return nil
}

// Get returns the fulfilled value, or false while the promise is pending.
func (p *Promise) Get() (starlark.Value, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.value == nil {
		return nil, false
	}
	return p.value, true
}

// String implements starlark.Value.
func (p *Promise) String() string {
	return fmt.Sprintf("promise(%q)", p.name)
}

// Type implements starlark.Value.
func (p *Promise) Type() string { return "promise" }

// Freeze implements starlark.Value. The fulfilled value is frozen by the
// collection transition, not here.
func (p *Promise) Freeze() {}

// Truth implements starlark.Value.
func (p *Promise) Truth() starlark.Bool { return starlark.True }

// Hash implements starlark.Value. Promises are not hashable.
func (p *Promise) Hash() (uint32, error) {
	return 0, fmt.Errorf("unhashable type: promise")
}

// UnresolvedPromiseError reports a promise that reached collection
// construction without being fulfilled.
type UnresolvedPromiseError struct {
	// Name is the diagnostic name of the pending promise.
	Name string
}

// Error implements the error interface.
func (e *UnresolvedPromiseError) Error() string {
	return fmt.Sprintf("promise %q was not resolved before provider collection construction", e.Name)
}

// PromiseResolver resolves Promise values to completion: a promise whose
// value is itself a promise is followed until a concrete value appears.
// Non-promise values pass through unchanged.
type PromiseResolver struct{}

var _ provider.Resolver = PromiseResolver{}

// Resolve implements provider.Resolver.
func (PromiseResolver) Resolve(v starlark.Value) (starlark.Value, error) {
	for {
		p, ok := v.(*Promise)
		if !ok {
			return v, nil
		}
		resolved, ok := p.Get()
		if !ok {
			return nil, &UnresolvedPromiseError{Name: p.name}
		}
		v = resolved
	}
}
