package provider_test

import (
	"fmt"
	"log"

	"go.starlark.net/starlark"

	"github.com/smeltworks/smelt/pkg/label"
	"github.com/smeltworks/smelt/pkg/provider"
)

// ExampleCollectionFromValue demonstrates collecting a rule's return value
// and querying the frozen result.
func ExampleCollectionFromValue() {
	thread := &starlark.Thread{Name: "example"}

	// Load the module declaring the provider type, then export it.
	defs, err := starlark.ExecFile(thread, "defs.star",
		`FooInfo = provider(fields = ["foo"])`,
		starlark.StringDict{"provider": provider.ProviderBuiltin()})
	if err != nil {
		log.Fatal(err)
	}
	provider.BindNames(defs)

	// Evaluate a rule body returning the provider list.
	ret, err := starlark.Eval(thread, "impl.star",
		`[FooInfo(foo = "foo1"), DefaultInfo()]`,
		starlark.StringDict{
			"FooInfo":     defs["FooInfo"],
			"DefaultInfo": provider.DefaultInfoCallable,
		})
	if err != nil {
		log.Fatal(err)
	}

	// Collect, freeze, query.
	coll, err := provider.CollectionFromValue(ret, nil)
	if err != nil {
		log.Fatal(err)
	}
	frozen, err := provider.Finish(coll)
	if err != nil {
		log.Fatal(err)
	}

	foo, err := frozen.Index(defs["FooInfo"])
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(foo)
	fmt.Println(frozen.ProviderNames())
	// Output:
	// FooInfo(foo="foo1")
	// [FooInfo DefaultInfo]
}

// ExampleCollectionValue_LookupInner demonstrates resolving a sub-target
// selector against an evaluated target's collection.
func ExampleCollectionValue_LookupInner() {
	subTargets := starlark.NewDict(1)
	if err := subTargets.SetKey(starlark.String("docs"), starlark.NewList(nil)); err != nil {
		log.Fatal(err)
	}
	di, err := provider.NewDefaultInfo(nil, nil, subTargets)
	if err != nil {
		log.Fatal(err)
	}
	coll, err := provider.CollectionFromValue(starlark.NewList([]starlark.Value{di}), nil)
	if err != nil {
		log.Fatal(err)
	}
	frozen, err := provider.Finish(coll)
	if err != nil {
		log.Fatal(err)
	}
	handle := provider.NewCollectionValue(frozen)

	lbl, err := label.ParseProvidersLabel("root//pkg:top[docs]")
	if err != nil {
		log.Fatal(err)
	}
	cfg := label.NewConfiguration("linux-release", "abc123")

	inner, err := handle.LookupInner(label.ConfigureProviders(lbl, cfg))
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(inner.Collection())
	// Output: Providers([DefaultInfo(default_outputs=[], other_outputs=[], sub_targets={})])
}
