package provider

import (
	"errors"
	"strings"
	"testing"

	"go.starlark.net/starlark"

	"github.com/smeltworks/smelt/pkg/label"
)

// testHandleLabel builds a configured providers label for root//pkg:top.
func testHandleLabel(t *testing.T, name label.ProvidersName) label.ConfiguredProvidersLabel {
	t.Helper()
	target, err := label.ParseTargetLabel("root//pkg:top")
	if err != nil {
		t.Fatalf("Failed to parse target label: %v", err)
	}
	cfg := label.NewConfiguration("linux-release", "abc123")
	return label.NewConfiguredProvidersLabel(label.Configure(target, cfg), name)
}

// subTargetsDict builds the sub_targets argument for NewDefaultInfo.
func subTargetsDict(t *testing.T, entries map[string]starlark.Value) *starlark.Dict {
	t.Helper()
	d := starlark.NewDict(len(entries))
	for name, v := range entries {
		if err := d.SetKey(starlark.String(name), v); err != nil {
			t.Fatalf("Failed to build sub_targets: %v", err)
		}
	}
	return d
}

// TestCollectionValueFromValue tests the checked downcast.
func TestCollectionValueFromValue(t *testing.T) {
	frozen := freeze(t, buildCollection(t, EmptyDefaultInfo()))

	cv, err := CollectionValueFromValue(frozen)
	if err != nil {
		t.Fatalf("Failed to wrap frozen collection: %v", err)
	}
	if !cv.IsValid() || cv.Collection() != frozen {
		t.Error("Expected handle over the given collection")
	}

	// The mutable form is not shareable and is rejected.
	mutable := buildCollection(t, EmptyDefaultInfo())
	if _, err := CollectionValueFromValue(mutable); !IsKind(err, ErrNotAProviderCollection) {
		t.Errorf("Expected ErrNotAProviderCollection for mutable form, got %v", err)
	}

	_, err = CollectionValueFromValue(starlark.String("result"))
	if !IsKind(err, ErrNotAProviderCollection) {
		t.Fatalf("Expected ErrNotAProviderCollection, got %v", err)
	}
	if !strings.Contains(err.Error(), "expected a provider collection") {
		t.Errorf("Expected downcast failure message, got %q", err.Error())
	}

	if (CollectionValue{}).IsValid() {
		t.Error("Expected the zero handle to be invalid")
	}
}

// TestLookupInnerDefault tests the default selector.
func TestLookupInnerDefault(t *testing.T) {
	frozen := freeze(t, buildCollection(t, EmptyDefaultInfo()))
	cv := NewCollectionValue(frozen)

	got, err := cv.LookupInner(testHandleLabel(t, label.DefaultProviders()))
	if err != nil {
		t.Fatalf("Failed to resolve default selector: %v", err)
	}
	if got.Collection() != frozen {
		t.Error("Expected default selector to yield the handle's own collection")
	}
}

// TestLookupInnerNamed tests single-segment descent.
func TestLookupInnerNamed(t *testing.T) {
	fooInfo := testProvider("FooInfo", "foo")
	foo := buildInstance(t, fooInfo, map[string]starlark.Value{"foo": starlark.String("foo1")})

	di, err := NewDefaultInfo(nil, nil, subTargetsDict(t, map[string]starlark.Value{
		"inner": listOf(foo),
	}))
	if err != nil {
		t.Fatalf("Failed to build DefaultInfo: %v", err)
	}
	cv := NewCollectionValue(freeze(t, buildCollection(t, di)))

	got, err := cv.LookupInner(testHandleLabel(t, label.NamedProviders("inner")))
	if err != nil {
		t.Fatalf("Failed to resolve sub-target: %v", err)
	}
	fooID, _ := fooInfo.ProviderID()
	if !got.Collection().HasProvider(fooID) {
		t.Error("Expected descended collection to hold FooInfo")
	}
	// The lenient nested construction supplied an empty DefaultInfo.
	if got.Collection().DefaultInfo().DefaultOutputs().Len() != 0 {
		t.Error("Expected factory-supplied DefaultInfo to have no outputs")
	}
}

// TestLookupInnerDeepPath tests multi-segment descent and that a miss lists
// the names available at the level where resolution stopped.
func TestLookupInnerDeepPath(t *testing.T) {
	levelTwo, err := NewDefaultInfo(nil, nil, subTargetsDict(t, map[string]starlark.Value{
		"b": listOf(),
	}))
	if err != nil {
		t.Fatalf("Failed to build inner DefaultInfo: %v", err)
	}
	top, err := NewDefaultInfo(nil, nil, subTargetsDict(t, map[string]starlark.Value{
		"a": listOf(levelTwo),
	}))
	if err != nil {
		t.Fatalf("Failed to build top DefaultInfo: %v", err)
	}
	cv := NewCollectionValue(freeze(t, buildCollection(t, top)))

	if _, err := cv.LookupInner(testHandleLabel(t, label.NamedProviders("a", "b"))); err != nil {
		t.Fatalf("Failed to resolve two-segment path: %v", err)
	}

	_, err = cv.LookupInner(testHandleLabel(t, label.NamedProviders("a", "zap")))
	if !IsKind(err, ErrInvalidSubTarget) {
		t.Fatalf("Expected ErrInvalidSubTarget, got %v", err)
	}
	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatal("Expected a structured error")
	}
	if perr.Requested != "zap" {
		t.Errorf("Expected requested segment zap, got %s", perr.Requested)
	}
	if len(perr.Available) != 1 || perr.Available[0] != "b" {
		t.Errorf("Expected names from the reached level [b], got %v", perr.Available)
	}
	if !strings.Contains(err.Error(), `root//pkg:top`) {
		t.Errorf("Expected the requested label in the message, got %q", err.Error())
	}
}

// TestLookupInnerMissingAtTopLevel tests a first-segment miss.
func TestLookupInnerMissingAtTopLevel(t *testing.T) {
	di, err := NewDefaultInfo(nil, nil, subTargetsDict(t, map[string]starlark.Value{
		"foo": listOf(),
	}))
	if err != nil {
		t.Fatalf("Failed to build DefaultInfo: %v", err)
	}
	cv := NewCollectionValue(freeze(t, buildCollection(t, di)))

	_, err = cv.LookupInner(testHandleLabel(t, label.NamedProviders("bar")))
	if !IsKind(err, ErrInvalidSubTarget) {
		t.Fatalf("Expected ErrInvalidSubTarget, got %v", err)
	}
	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatal("Expected a structured error")
	}
	if len(perr.Available) != 1 || perr.Available[0] != "foo" {
		t.Errorf("Expected available sub-targets [foo], got %v", perr.Available)
	}
}

// TestLookupInnerFlavor tests rejection of legacy flavor selectors.
func TestLookupInnerFlavor(t *testing.T) {
	cv := NewCollectionValue(freeze(t, buildCollection(t, EmptyDefaultInfo())))

	_, err := cv.LookupInner(testHandleLabel(t, label.FlavoredProviders("gcc-7")))
	if !IsKind(err, ErrUnsupportedFlavor) {
		t.Fatalf("Expected ErrUnsupportedFlavor, got %v", err)
	}
	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatal("Expected a structured error")
	}
	if perr.Requested != "gcc-7" {
		t.Errorf("Expected requested flavor gcc-7, got %s", perr.Requested)
	}
	if perr.Target != "root//pkg:top" {
		t.Errorf("Expected the bare target label, got %s", perr.Target)
	}
	if !strings.Contains(err.Error(), "flavored targets are not supported") {
		t.Errorf("Expected flavor rejection message, got %q", err.Error())
	}
}
