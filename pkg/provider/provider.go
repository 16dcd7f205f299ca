package provider

import (
	"go.starlark.net/starlark"
)

// Instance is a provider instance: an opaque Starlark value that can report
// the identity of its provider type. Instances are the only values a
// collection stores.
type Instance interface {
	starlark.Value

	// Provider returns the identity of this instance's provider type.
	Provider() *ID
}

// AsProvider downcasts an arbitrary value to a provider instance. It never
// panics; the second result reports whether the value is one.
func AsProvider(v starlark.Value) (Instance, bool) {
	inst, ok := v.(Instance)
	return inst, ok
}

// Callable describes a provider type: a value usable both as a constructor
// for instances and as a query key against a collection.
type Callable interface {
	starlark.Value

	// ProviderID returns the identity this callable constructs, or an
	// ErrUnboundCallable error while the callable has not been exported yet.
	ProviderID() (*ID, error)
}

// AsCallable downcasts an arbitrary value to a provider type descriptor.
func AsCallable(v starlark.Value) (Callable, bool) {
	c, ok := v.(Callable)
	return c, ok
}

// Resolver resolves deferred values to their final form before construction
// classifies them. Implementations are synchronous; the collection never
// schedules or waits on the deferred computation itself. Values that need no
// resolution are returned unchanged.
type Resolver interface {
	Resolve(v starlark.Value) (starlark.Value, error)
}

// CheckedFreezer is implemented by values whose freeze can fail. Finish
// prefers CheckedFreeze over the infallible Starlark freeze protocol and
// aborts the whole transition on the first failure.
type CheckedFreezer interface {
	CheckedFreeze() error
}
