package provider

import (
	"fmt"
	"sort"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// UserCallable is a user-declared provider type created by the provider()
// builtin. It carries no identity until BindNames exports it under a global
// name; constructing instances or querying with it before that fails with
// ErrUnboundCallable.
type UserCallable struct {
	fields []string
	docs   map[string]string
	doc    string
	id     *ID
}

var (
	_ Callable          = (*UserCallable)(nil)
	_ starlark.Callable = (*UserCallable)(nil)
)

// ProviderBuiltin returns the provider() builtin declaring new provider
// types: provider(fields=["a", "b"]) or provider(fields={"a": "doc for a"}).
func ProviderBuiltin() *starlark.Builtin {
	return starlark.NewBuiltin("provider", makeProvider)
}

func makeProvider(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var doc string
	var fields starlark.Value
	if err := starlark.UnpackArgs("provider", args, kwargs, "fields", &fields, "doc?", &doc); err != nil {
		return nil, err
	}

	c := &UserCallable{doc: doc}
	switch f := fields.(type) {
	case *starlark.List:
		c.fields = make([]string, 0, f.Len())
		for i := 0; i < f.Len(); i++ {
			name, ok := starlark.AsString(f.Index(i))
			if !ok {
				return nil, fmt.Errorf("provider: fields must be strings, got %s", f.Index(i).Type())
			}
			if err := c.declareField(name); err != nil {
				return nil, err
			}
		}
	case *starlark.Dict:
		c.fields = make([]string, 0, f.Len())
		c.docs = make(map[string]string, f.Len())
		for _, item := range f.Items() {
			name, ok := starlark.AsString(item[0])
			if !ok {
				return nil, fmt.Errorf("provider: field names must be strings, got %s", item[0].Type())
			}
			fieldDoc, ok := starlark.AsString(item[1])
			if !ok {
				return nil, fmt.Errorf("provider: field docs must be strings, got %s", item[1].Type())
			}
			if err := c.declareField(name); err != nil {
				return nil, err
			}
			c.docs[name] = fieldDoc
		}
	default:
		return nil, fmt.Errorf("provider: fields must be a list of strings or a dict of field name to doc, got %s", fields.Type())
	}
	return c, nil
}

func (c *UserCallable) declareField(name string) error {
	if !validFieldName(name) {
		return fmt.Errorf("provider: field name %q is not a valid identifier", name)
	}
	for _, existing := range c.fields {
		if existing == name {
			return fmt.Errorf("provider: field %q declared twice", name)
		}
	}
	c.fields = append(c.fields, name)
	return nil
}

func validFieldName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		if isWordRune(r) && !(i == 0 && r >= '0' && r <= '9') {
			continue
		}
		return false
	}
	return true
}

func isWordRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		return true
	}
	return false
}

// BindNames exports unbound provider callables found in a module's globals,
// minting each one's identity from the global name it is bound to. Names are
// visited in sorted order, so a callable aliased to several globals takes
// the alphabetically first. Already-exported callables are left alone.
func BindNames(globals starlark.StringDict) {
	for _, name := range globals.Keys() {
		if c, ok := globals[name].(*UserCallable); ok && c.id == nil {
			c.id = NewID(name)
		}
	}
}

// ProviderID implements Callable.
func (c *UserCallable) ProviderID() (*ID, error) {
	if c.id == nil {
		return nil, NewUnboundCallable()
	}
	return c.id, nil
}

// Fields returns the declared field names in declaration order.
func (c *UserCallable) Fields() []string {
	return append([]string(nil), c.fields...)
}

// Doc returns the provider doc string.
func (c *UserCallable) Doc() string { return c.doc }

// FieldDoc returns the doc string declared for one field.
func (c *UserCallable) FieldDoc(name string) string { return c.docs[name] }

// String renders the exported name, or a placeholder before export.
func (c *UserCallable) String() string {
	if c.id == nil {
		return "unnamed provider"
	}
	return c.id.Name()
}

// Type implements starlark.Value.
func (c *UserCallable) Type() string { return "provider_callable" }

// Freeze implements starlark.Value. Field declarations are immutable.
func (c *UserCallable) Freeze() {}

// Truth implements starlark.Value.
func (c *UserCallable) Truth() starlark.Bool { return starlark.True }

// Hash implements starlark.Value.
func (c *UserCallable) Hash() (uint32, error) {
	return 0, fmt.Errorf("unhashable type: %s", c.Type())
}

// Name implements starlark.Callable.
func (c *UserCallable) Name() string {
	if c.id == nil {
		return "provider"
	}
	return c.id.Name()
}

// CallInternal constructs an instance. Every declared field must be given
// exactly once, by keyword.
func (c *UserCallable) CallInternal(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	id, err := c.ProviderID()
	if err != nil {
		return nil, err
	}
	if len(args) > 0 {
		return nil, fmt.Errorf("%s: providers take keyword arguments only, got %d positional", id.Name(), len(args))
	}

	values := make([]starlark.Value, len(c.fields))
	for _, kv := range kwargs {
		name := string(kv[0].(starlark.String))
		idx := c.fieldIndex(name)
		if idx < 0 {
			return nil, NewInvalidField(id.Name(), name,
				"is not declared (declared fields: %s)", strings.Join(c.fields, ", "))
		}
		values[idx] = kv[1]
	}
	for i, field := range c.fields {
		if values[i] == nil {
			return nil, NewInvalidField(id.Name(), field, "is required but missing")
		}
	}
	return &UserInstance{callable: c, values: values}, nil
}

func (c *UserCallable) fieldIndex(name string) int {
	for i, f := range c.fields {
		if f == name {
			return i
		}
	}
	return -1
}

// UserInstance is an instance of a user-declared provider: field values in
// declaration order, compared by field equality, rendered like a call.
type UserInstance struct {
	callable *UserCallable
	values   []starlark.Value
}

var (
	_ Instance            = (*UserInstance)(nil)
	_ starlark.HasAttrs   = (*UserInstance)(nil)
	_ starlark.Comparable = (*UserInstance)(nil)
)

// Provider implements Instance. Instances only exist for exported callables.
func (inst *UserInstance) Provider() *ID { return inst.callable.id }

// FieldValue returns the value of one declared field.
func (inst *UserInstance) FieldValue(name string) (starlark.Value, bool) {
	idx := inst.callable.fieldIndex(name)
	if idx < 0 {
		return nil, false
	}
	return inst.values[idx], true
}

// String renders FooInfo(field=value, ...) in declaration order.
func (inst *UserInstance) String() string {
	var b strings.Builder
	b.WriteString(inst.callable.id.Name())
	b.WriteByte('(')
	for i, field := range inst.callable.fields {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(field)
		b.WriteByte('=')
		b.WriteString(inst.values[i].String())
	}
	b.WriteByte(')')
	return b.String()
}

// Type returns the provider display name.
func (inst *UserInstance) Type() string { return inst.callable.id.Name() }

// Freeze implements starlark.Value.
func (inst *UserInstance) Freeze() {
	for _, v := range inst.values {
		v.Freeze()
	}
}

// Truth implements starlark.Value.
func (inst *UserInstance) Truth() starlark.Bool { return starlark.True }

// Hash implements starlark.Value.
func (inst *UserInstance) Hash() (uint32, error) {
	return 0, fmt.Errorf("unhashable type: %s", inst.Type())
}

// Attr implements starlark.HasAttrs with one attribute per field.
func (inst *UserInstance) Attr(name string) (starlark.Value, error) {
	if v, ok := inst.FieldValue(name); ok {
		return v, nil
	}
	return nil, nil
}

// AttrNames implements starlark.HasAttrs.
func (inst *UserInstance) AttrNames() []string {
	names := append([]string(nil), inst.callable.fields...)
	sort.Strings(names)
	return names
}

// CompareSameType implements equality by provider identity plus field values.
func (inst *UserInstance) CompareSameType(op syntax.Token, y starlark.Value, depth int) (bool, error) {
	other, ok := y.(*UserInstance)
	if !ok {
		return false, fmt.Errorf("cannot compare %s with %s", inst.Type(), y.Type())
	}
	switch op {
	case syntax.EQL:
		return inst.equalTo(other, depth)
	case syntax.NEQ:
		eq, err := inst.equalTo(other, depth)
		return !eq, err
	default:
		return false, fmt.Errorf("%s %s %s not implemented", inst.Type(), op, other.Type())
	}
}

func (inst *UserInstance) equalTo(other *UserInstance, depth int) (bool, error) {
	if inst.callable != other.callable {
		return false, nil
	}
	for i := range inst.values {
		eq, err := starlark.EqualDepth(inst.values[i], other.values[i], depth-1)
		if err != nil {
			return false, err
		}
		if !eq {
			return false, nil
		}
	}
	return true, nil
}
