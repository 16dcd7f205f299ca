package provider

import (
	"fmt"
	"strings"

	"go.starlark.net/starlark"

	"github.com/smeltworks/smelt/pkg/artifact"
)

// DefaultInfoID identifies the distinguished default-output provider every
// collection must carry.
var DefaultInfoID = NewID("DefaultInfo")

// DefaultInfoTypedID is DefaultInfoID paired with its instance type, for
// typed retrieval.
var DefaultInfoTypedID = NewTypedID[*DefaultInfo](DefaultInfoID)

// DefaultInfoCallable is the DefaultInfo provider type: predeclared in build
// files, callable as a constructor, and usable as a query key.
var DefaultInfoCallable Callable = defaultInfoCallable{}

type defaultInfoCallable struct{}

var _ starlark.Callable = defaultInfoCallable{}

func (defaultInfoCallable) String() string        { return "DefaultInfo" }
func (defaultInfoCallable) Type() string          { return "provider_callable" }
func (defaultInfoCallable) Freeze()               {}
func (defaultInfoCallable) Truth() starlark.Bool  { return starlark.True }
func (defaultInfoCallable) Name() string          { return "DefaultInfo" }
func (defaultInfoCallable) Hash() (uint32, error) { return starlark.String("DefaultInfo").Hash() }

func (defaultInfoCallable) ProviderID() (*ID, error) { return DefaultInfoID, nil }

func (defaultInfoCallable) CallInternal(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var defaultOutputs, otherOutputs *starlark.List
	var subTargets *starlark.Dict
	if err := starlark.UnpackArgs("DefaultInfo", args, kwargs,
		"default_outputs?", &defaultOutputs,
		"other_outputs?", &otherOutputs,
		"sub_targets?", &subTargets); err != nil {
		return nil, err
	}
	return NewDefaultInfo(defaultOutputs, otherOutputs, subTargets)
}

// subTargetEntry is one named nested collection, in declaration order. The
// value is a *Collection until CheckedFreeze converts it, a
// *FrozenCollection afterwards.
type subTargetEntry struct {
	name  string
	value starlark.Value
}

// DefaultInfo is the default-output provider instance. It carries the
// target's default and auxiliary output artifacts plus named sub-target
// collections forming a tree of independently addressable outputs.
type DefaultInfo struct {
	defaultOutputs *starlark.List
	otherOutputs   *starlark.List
	subTargets     []subTargetEntry
	frozen         bool
}

var (
	_ Instance       = (*DefaultInfo)(nil)
	_ CheckedFreezer = (*DefaultInfo)(nil)
)

// NewDefaultInfo validates and builds a DefaultInfo. Output lists must hold
// artifacts; nil stands for empty. Sub-target values may be provider
// collections, either form, or bare provider lists, which are collected
// through the lenient path with an empty DefaultInfo supplied.
func NewDefaultInfo(defaultOutputs, otherOutputs *starlark.List, subTargets *starlark.Dict) (*DefaultInfo, error) {
	d := &DefaultInfo{
		defaultOutputs: defaultOutputs,
		otherOutputs:   otherOutputs,
	}
	if d.defaultOutputs == nil {
		d.defaultOutputs = starlark.NewList(nil)
	}
	if d.otherOutputs == nil {
		d.otherOutputs = starlark.NewList(nil)
	}
	if err := checkArtifactList("default_outputs", d.defaultOutputs); err != nil {
		return nil, err
	}
	if err := checkArtifactList("other_outputs", d.otherOutputs); err != nil {
		return nil, err
	}

	if subTargets != nil {
		d.subTargets = make([]subTargetEntry, 0, subTargets.Len())
		for _, item := range subTargets.Items() {
			name, ok := starlark.AsString(item[0])
			if !ok {
				return nil, NewInvalidField("DefaultInfo", "sub_targets",
					"keys must be strings, got %s", item[0].Type())
			}
			coll, err := subTargetCollection(item[1])
			if err != nil {
				return nil, err
			}
			d.subTargets = append(d.subTargets, subTargetEntry{name: name, value: coll})
		}
	}
	return d, nil
}

// EmptyDefaultInfo builds a DefaultInfo with no outputs and no sub-targets.
func EmptyDefaultInfo() *DefaultInfo {
	d, err := NewDefaultInfo(nil, nil, nil)
	if err != nil {
		panic(fmt.Sprintf("empty DefaultInfo construction failed: %v", err))
	}
	return d
}

// EmptyDefaultInfoFactory is the DefaultInfoFactory producing
// EmptyDefaultInfo, the factory used for nested sub-target collections.
func EmptyDefaultInfoFactory() starlark.Value { return EmptyDefaultInfo() }

func checkArtifactList(field string, list *starlark.List) error {
	for i := 0; i < list.Len(); i++ {
		if _, ok := list.Index(i).(*artifact.Artifact); !ok {
			return NewInvalidField("DefaultInfo", field,
				"expected a list of artifacts, got element %s", list.Index(i).String())
		}
	}
	return nil
}

// subTargetCollection admits an existing collection or collects a bare list.
func subTargetCollection(v starlark.Value) (starlark.Value, error) {
	switch v.(type) {
	case *Collection, *FrozenCollection:
		return v, nil
	}
	if _, ok := v.(*starlark.List); ok {
		coll, err := CollectionFromValueWithDefaultInfo(v, nil, EmptyDefaultInfoFactory)
		if err != nil {
			return nil, err
		}
		return coll, nil
	}
	return nil, NewInvalidField("DefaultInfo", "sub_targets",
		"values must be provider collections or lists of providers, got %s", v.Type())
}

// Provider implements Instance.
func (d *DefaultInfo) Provider() *ID { return DefaultInfoID }

// String renders the instance with all fields in declared order.
func (d *DefaultInfo) String() string {
	var b strings.Builder
	b.WriteString("DefaultInfo(default_outputs=")
	b.WriteString(d.defaultOutputs.String())
	b.WriteString(", other_outputs=")
	b.WriteString(d.otherOutputs.String())
	b.WriteString(", sub_targets={")
	for i, st := range d.subTargets {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%q: %s", st.name, st.value.String())
	}
	b.WriteString("})")
	return b.String()
}

// Type implements starlark.Value.
func (d *DefaultInfo) Type() string { return "DefaultInfo" }

// Freeze implements the infallible Starlark freeze protocol. Sub-target
// conversion to frozen collections is fallible and happens in CheckedFreeze;
// this only marks the held values.
func (d *DefaultInfo) Freeze() {
	d.defaultOutputs.Freeze()
	d.otherOutputs.Freeze()
	for _, st := range d.subTargets {
		st.value.Freeze()
	}
}

// Truth implements starlark.Value.
func (d *DefaultInfo) Truth() starlark.Bool { return starlark.True }

// Hash implements starlark.Value.
func (d *DefaultInfo) Hash() (uint32, error) {
	return 0, fmt.Errorf("unhashable type: %s", d.Type())
}

// CheckedFreeze finishes every nested mutable sub-target collection. Any
// nested failure aborts the enclosing freeze transition.
func (d *DefaultInfo) CheckedFreeze() error {
	if d.frozen {
		return nil
	}
	for i := range d.subTargets {
		switch coll := d.subTargets[i].value.(type) {
		case *FrozenCollection:
			// already shareable
		case *Collection:
			frozen, err := Finish(coll)
			if err != nil {
				return err
			}
			d.subTargets[i].value = frozen
		default:
			return NewNotAProviderCollection(d.subTargets[i].value)
		}
	}
	d.frozen = true
	d.Freeze()
	return nil
}

// Attr implements starlark.HasAttrs.
func (d *DefaultInfo) Attr(name string) (starlark.Value, error) {
	switch name {
	case "default_outputs":
		return d.defaultOutputs, nil
	case "other_outputs":
		return d.otherOutputs, nil
	case "sub_targets":
		return d.subTargetsDict(), nil
	}
	return nil, nil
}

// AttrNames implements starlark.HasAttrs.
func (d *DefaultInfo) AttrNames() []string {
	return []string{"default_outputs", "other_outputs", "sub_targets"}
}

// subTargetsDict materializes the sub-target mapping as a Starlark dict
// view, frozen alongside the provider.
func (d *DefaultInfo) subTargetsDict() *starlark.Dict {
	dict := starlark.NewDict(len(d.subTargets))
	for _, st := range d.subTargets {
		// string keys cannot fail insertion
		_ = dict.SetKey(starlark.String(st.name), st.value)
	}
	if d.frozen {
		dict.Freeze()
	}
	return dict
}

// DefaultOutputs returns the default output artifacts.
func (d *DefaultInfo) DefaultOutputs() *starlark.List { return d.defaultOutputs }

// OtherOutputs returns the auxiliary output artifacts.
func (d *DefaultInfo) OtherOutputs() *starlark.List { return d.otherOutputs }

// SubTarget returns the nested collection for name.
func (d *DefaultInfo) SubTarget(name string) (starlark.Value, bool) {
	for _, st := range d.subTargets {
		if st.name == name {
			return st.value, true
		}
	}
	return nil, false
}

// SubTargetNames returns the sub-target names in declaration order.
func (d *DefaultInfo) SubTargetNames() []string {
	names := make([]string, len(d.subTargets))
	for i, st := range d.subTargets {
		names[i] = st.name
	}
	return names
}
