package provider

import (
	"fmt"

	"go.starlark.net/starlark"
)

// FrozenCollection is the immutable, shareable form of a provider
// collection, produced only by Finish. It is safe for concurrent readers
// without locking; nothing mutates it after creation.
type FrozenCollection struct {
	m providerMap
}

var (
	_ starlark.Value    = (*FrozenCollection)(nil)
	_ starlark.Mapping  = (*FrozenCollection)(nil)
	_ starlark.HasAttrs = (*FrozenCollection)(nil)
)

// String renders the collection from its providers' own display forms.
func (c *FrozenCollection) String() string { return c.m.displayString() }

// Type implements starlark.Value.
func (c *FrozenCollection) Type() string { return "provider_collection" }

// Freeze implements starlark.Value. Frozen collections are already frozen.
func (c *FrozenCollection) Freeze() {}

// Truth implements starlark.Value.
func (c *FrozenCollection) Truth() starlark.Bool { return starlark.True }

// Hash implements starlark.Value.
func (c *FrozenCollection) Hash() (uint32, error) {
	return 0, fmt.Errorf("unhashable type: %s", c.Type())
}

// Get implements starlark.Mapping with the same miss semantics as the
// mutable form: rich ErrProviderNotFound with found=false.
func (c *FrozenCollection) Get(key starlark.Value) (starlark.Value, bool, error) {
	return getImpl(&c.m, key, OpAt)
}

// Index is the Go form of collection[key].
func (c *FrozenCollection) Index(key starlark.Value) (starlark.Value, error) {
	v, _, err := getImpl(&c.m, key, OpAt)
	return v, err
}

// Contains is the Go form of key-in-collection.
func (c *FrozenCollection) Contains(key starlark.Value) (bool, error) {
	_, found, err := getImpl(&c.m, key, OpIn)
	if err != nil && !IsKind(err, ErrProviderNotFound) {
		return false, err
	}
	return found, nil
}

// Attr implements starlark.HasAttrs.
func (c *FrozenCollection) Attr(name string) (starlark.Value, error) {
	if name == "get" {
		return getBuiltin(&c.m), nil
	}
	return nil, nil
}

// AttrNames implements starlark.HasAttrs.
func (c *FrozenCollection) AttrNames() []string { return []string{"get"} }

// DefaultInfo returns the default-output provider. Construction guarantees
// its presence; finding it absent or mistyped here means that invariant was
// violated and panics rather than reporting a user error.
func (c *FrozenCollection) DefaultInfo() *DefaultInfo {
	v, ok := c.m.get(DefaultInfoID)
	if !ok {
		panic("frozen provider collection has no DefaultInfo; construction invariant violated")
	}
	di, ok := v.(*DefaultInfo)
	if !ok {
		panic(fmt.Sprintf("DefaultInfo key holds a %s; construction invariant violated", v.Type()))
	}
	return di
}

// HasProvider reports membership by identity.
func (c *FrozenCollection) HasProvider(id *ID) bool {
	_, ok := c.m.get(id)
	return ok
}

// Provider returns the stored value for id, nil when absent.
func (c *FrozenCollection) Provider(id *ID) starlark.Value {
	v, _ := c.m.get(id)
	return v
}

// ProviderNames returns the display names in map order.
func (c *FrozenCollection) ProviderNames() []string { return c.m.names() }

// ProviderIDs returns the identities in map order.
func (c *FrozenCollection) ProviderIDs() []*ID { return c.m.ids() }

// Len returns the number of stored providers.
func (c *FrozenCollection) Len() int { return len(c.m.entries) }

// Walk visits every stored value in map order.
func (c *FrozenCollection) Walk(fn func(id *ID, v starlark.Value)) { c.m.walk(fn) }

// Lookup retrieves the provider for a typed identity, downcasting the stored
// value to T. It returns the zero T and false on absence or type mismatch,
// never panicking.
func Lookup[T Instance](c *FrozenCollection, id TypedID[T]) (T, bool) {
	var zero T
	v, ok := c.m.get(id.ID())
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}
