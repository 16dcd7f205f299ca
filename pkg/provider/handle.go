package provider

import (
	"go.starlark.net/starlark"

	"github.com/smeltworks/smelt/pkg/label"
)

// CollectionValue is the typed handle downstream consumers hold: a wrapper
// around an otherwise-untyped immutable value, guaranteed at construction by
// one checked type test to be a frozen provider collection. Handles are
// small values; copying one is the duplication operation.
type CollectionValue struct {
	coll *FrozenCollection
}

// NewCollectionValue wraps an already-typed frozen collection.
func NewCollectionValue(coll *FrozenCollection) CollectionValue {
	return CollectionValue{coll: coll}
}

// CollectionValueFromValue performs the checked downcast from an arbitrary
// value, failing with ErrNotAProviderCollection. The value may have reached
// the caller through a generic, unchecked handle, so nothing is trusted.
func CollectionValueFromValue(v starlark.Value) (CollectionValue, error) {
	coll, ok := v.(*FrozenCollection)
	if !ok {
		return CollectionValue{}, NewNotAProviderCollection(v)
	}
	return CollectionValue{coll: coll}, nil
}

// Collection returns the underlying frozen collection.
func (cv CollectionValue) Collection() *FrozenCollection { return cv.coll }

// Value returns the handle's payload as a Starlark value.
func (cv CollectionValue) Value() starlark.Value { return cv.coll }

// IsValid reports whether the handle wraps a collection. The zero handle is
// invalid.
func (cv CollectionValue) IsValid() bool { return cv.coll != nil }

// LookupInner resolves the label's providers path against this handle.
//
// The default selector returns a copy of the handle. A named path descends
// one sub-target per segment through each level's DefaultInfo, re-validating
// at every hop that the descended-into value is structurally a provider
// collection. A missing segment fails with ErrInvalidSubTarget listing the
// names available at the level where resolution stopped, recomputed at the
// failure point. Flavor selectors always fail with ErrUnsupportedFlavor.
func (cv CollectionValue) LookupInner(lbl label.ConfiguredProvidersLabel) (CollectionValue, error) {
	name := lbl.ProvidersName()
	switch name.Kind() {
	case label.KindDefault:
		return cv, nil

	case label.KindNamed:
		cur := cv
		for _, segment := range name.Path() {
			info := cur.Collection().DefaultInfo()
			v, ok := info.SubTarget(segment)
			if !ok {
				return CollectionValue{}, NewInvalidSubTarget(segment, lbl.String(), info.SubTargetNames())
			}
			next, err := CollectionValueFromValue(v)
			if err != nil {
				return CollectionValue{}, err
			}
			cur = next
		}
		return cur, nil

	default:
		return CollectionValue{}, NewUnsupportedFlavor(name.Flavor(), lbl.Target().Target().String())
	}
}
