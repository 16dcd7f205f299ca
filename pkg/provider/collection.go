package provider

import (
	"fmt"
	"strings"

	"go.starlark.net/starlark"
)

// mapEntry is one identity to value binding.
type mapEntry struct {
	id    *ID
	value starlark.Value
}

// providerMap is the insertion-ordered identity keyed map shared by the
// mutable and frozen collection forms. Keys are unique; order is the order
// of first insertion and drives display and serialization.
type providerMap struct {
	entries []mapEntry
	index   map[*ID]int
}

func newProviderMap(capacity int) providerMap {
	return providerMap{
		entries: make([]mapEntry, 0, capacity),
		index:   make(map[*ID]int, capacity),
	}
}

func (m *providerMap) get(id *ID) (starlark.Value, bool) {
	i, ok := m.index[id]
	if !ok {
		return nil, false
	}
	return m.entries[i].value, true
}

func (m *providerMap) insert(id *ID, v starlark.Value) {
	m.index[id] = len(m.entries)
	m.entries = append(m.entries, mapEntry{id: id, value: v})
}

func (m *providerMap) names() []string {
	names := make([]string, len(m.entries))
	for i, e := range m.entries {
		names[i] = e.id.Name()
	}
	return names
}

func (m *providerMap) ids() []*ID {
	ids := make([]*ID, len(m.entries))
	for i, e := range m.entries {
		ids[i] = e.id
	}
	return ids
}

func (m *providerMap) walk(fn func(id *ID, v starlark.Value)) {
	for _, e := range m.entries {
		fn(e.id, e.value)
	}
}

func (m *providerMap) displayString() string {
	var b strings.Builder
	b.WriteString("Providers([")
	for i, e := range m.entries {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(e.value.String())
	}
	b.WriteString("])")
	return b.String()
}

// getImpl is the single resolution path behind the three query operators.
func getImpl(m *providerMap, key starlark.Value, op GetOp) (starlark.Value, bool, error) {
	callable, ok := AsCallable(key)
	if !ok {
		return nil, false, NewKeyNotAProviderType(op, key)
	}
	id, err := callable.ProviderID()
	if err != nil {
		return nil, false, err
	}
	if v, ok := m.get(id); ok {
		return v, true, nil
	}
	return nil, false, NewProviderNotFound(id.Name(), m.names())
}

// getBuiltin returns the bound .get method shared by both collection forms.
func getBuiltin(m *providerMap) *starlark.Builtin {
	impl := func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var key starlark.Value
		if err := starlark.UnpackPositionalArgs("get", args, kwargs, 1, &key); err != nil {
			return nil, err
		}
		v, _, err := getImpl(m, key, OpGet)
		if err != nil {
			if IsKind(err, ErrProviderNotFound) {
				return starlark.None, nil
			}
			return nil, err
		}
		return v, nil
	}
	return starlark.NewBuiltin("get", impl)
}

// Collection is the mutable provider collection built once per rule
// evaluation. It is single-owner: constructed and queried on one goroutine,
// then consumed exactly once by Finish.
type Collection struct {
	m        providerMap
	finished bool
}

var (
	_ starlark.Value    = (*Collection)(nil)
	_ starlark.Mapping  = (*Collection)(nil)
	_ starlark.HasAttrs = (*Collection)(nil)
)

// DefaultInfoFactory produces the DefaultInfo instance inserted by the
// lenient construction path when the input carried none.
type DefaultInfoFactory func() starlark.Value

// CollectionFromValue builds a collection from one evaluated input value,
// failing with ErrMissingDefaultInfo when the input has no DefaultInfo.
// resolver may be nil when the caller guarantees no deferred values.
func CollectionFromValue(v starlark.Value, resolver Resolver) (*Collection, error) {
	c, err := collectionFromValue(v, resolver)
	if err != nil {
		return nil, err
	}
	if _, ok := c.m.get(DefaultInfoID); !ok {
		return nil, NewMissingDefaultInfo(v)
	}
	return c, nil
}

// CollectionFromValueWithDefaultInfo builds a collection from one evaluated
// input value, invoking factory for a DefaultInfo when the input has none.
// The factory product is type-checked before insertion; a non-DefaultInfo
// product fails with ErrWrongDefaultInfoType.
func CollectionFromValueWithDefaultInfo(v starlark.Value, resolver Resolver, factory DefaultInfoFactory) (*Collection, error) {
	c, err := collectionFromValue(v, resolver)
	if err != nil {
		return nil, err
	}
	if _, ok := c.m.get(DefaultInfoID); !ok {
		made := factory()
		di, ok := made.(*DefaultInfo)
		if !ok {
			return nil, NewWrongDefaultInfoType(made)
		}
		c.m.insert(DefaultInfoID, di)
	}
	return c, nil
}

func collectionFromValue(v starlark.Value, resolver Resolver) (*Collection, error) {
	list, ok := v.(*starlark.List)
	if !ok {
		return nil, NewNotAList(v)
	}

	c := &Collection{m: newProviderMap(list.Len())}
	for i := 0; i < list.Len(); i++ {
		elem := list.Index(i)
		if resolver != nil {
			resolved, err := resolver.Resolve(elem)
			if err != nil {
				return nil, err
			}
			elem = resolved
		}
		inst, ok := AsProvider(elem)
		if !ok {
			return nil, NewElementNotAProvider(elem)
		}
		id := inst.Provider()
		if prev, exists := c.m.get(id); exists {
			return nil, NewDuplicateProvider(id.Name(), prev, inst)
		}
		c.m.insert(id, inst)
	}
	return c, nil
}

// String renders the collection from its providers' own display forms.
func (c *Collection) String() string { return c.m.displayString() }

// Type implements starlark.Value.
func (c *Collection) Type() string { return "provider_collection" }

// Freeze implements the infallible Starlark freeze protocol. Finish is the
// checked transition; this only marks stored values frozen.
func (c *Collection) Freeze() {
	for _, e := range c.m.entries {
		e.value.Freeze()
	}
}

// Truth implements starlark.Value.
func (c *Collection) Truth() starlark.Bool { return starlark.True }

// Hash implements starlark.Value.
func (c *Collection) Hash() (uint32, error) {
	return 0, fmt.Errorf("unhashable type: %s", c.Type())
}

// Get implements starlark.Mapping: collection[key] and key-in-collection
// both route through it. Misses return a rich ErrProviderNotFound with
// found=false, so indexing surfaces the error while membership tests treat
// it as absence.
func (c *Collection) Get(key starlark.Value) (starlark.Value, bool, error) {
	return getImpl(&c.m, key, OpAt)
}

// Index is the Go form of collection[key].
func (c *Collection) Index(key starlark.Value) (starlark.Value, error) {
	v, _, err := getImpl(&c.m, key, OpAt)
	return v, err
}

// Contains is the Go form of key-in-collection. The key must still be a
// provider type; only the miss is converted to false.
func (c *Collection) Contains(key starlark.Value) (bool, error) {
	_, found, err := getImpl(&c.m, key, OpIn)
	if err != nil && !IsKind(err, ErrProviderNotFound) {
		return false, err
	}
	return found, nil
}

// Attr implements starlark.HasAttrs.
func (c *Collection) Attr(name string) (starlark.Value, error) {
	if name == "get" {
		return getBuiltin(&c.m), nil
	}
	return nil, nil
}

// AttrNames implements starlark.HasAttrs.
func (c *Collection) AttrNames() []string { return []string{"get"} }

// Provider returns the stored value for id, nil when absent.
func (c *Collection) Provider(id *ID) starlark.Value {
	v, _ := c.m.get(id)
	return v
}

// ProviderNames returns the display names in map order.
func (c *Collection) ProviderNames() []string { return c.m.names() }

// ProviderIDs returns the identities in map order.
func (c *Collection) ProviderIDs() []*ID { return c.m.ids() }

// Len returns the number of stored providers.
func (c *Collection) Len() int { return len(c.m.entries) }

// Walk visits every stored value in map order without altering structure.
// It is safe to run at any point before Finish completes.
func (c *Collection) Walk(fn func(id *ID, v starlark.Value)) { c.m.walk(fn) }

// Finish consumes the collection and produces its frozen form, freezing
// every stored value in map order. Any single freeze failure aborts the
// whole transition; a partially frozen collection is never observable. The
// mutable collection is consumed either way and must not be used again.
func Finish(c *Collection) (*FrozenCollection, error) {
	if c.finished {
		panic("provider collection already finished")
	}
	c.finished = true

	for _, e := range c.m.entries {
		if cf, ok := e.value.(CheckedFreezer); ok {
			if err := cf.CheckedFreeze(); err != nil {
				return nil, err
			}
		}
		e.value.Freeze()
	}
	return &FrozenCollection{m: c.m}, nil
}
