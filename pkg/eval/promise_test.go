package eval

import (
	"errors"
	"testing"

	"go.starlark.net/starlark"

	"github.com/smeltworks/smelt/pkg/provider"
)

func TestPromiseFulfillment(t *testing.T) {
	p := NewPromise("anon//analysis:lib")

	if _, ok := p.Get(); ok {
		t.Error("Expected a fresh promise to be pending")
	}
	if got := p.String(); got != `promise("anon//analysis:lib")` {
		t.Errorf("Expected promise display, got %s", got)
	}

	if err := p.Fulfill(starlark.String("done")); err != nil {
		t.Fatalf("Failed to fulfill promise: %v", err)
	}
	v, ok := p.Get()
	if !ok {
		t.Fatal("Expected fulfilled promise to return its value")
	}
	if got, _ := starlark.AsString(v); got != "done" {
		t.Errorf("Expected done, got %s", got)
	}

	if err := p.Fulfill(starlark.String("again")); err == nil {
		t.Error("Expected second fulfillment to fail")
	}
	if err := NewPromise("x").Fulfill(nil); err == nil {
		t.Error("Expected nil fulfillment to fail")
	}
}

func TestPromiseNotHashable(t *testing.T) {
	d := starlark.NewDict(1)
	err := d.SetKey(NewPromise("x"), starlark.None)
	if err == nil {
		t.Fatal("Expected promise dict key to be rejected")
	}
}

func TestPromiseResolverPassthrough(t *testing.T) {
	v, err := PromiseResolver{}.Resolve(starlark.String("plain"))
	if err != nil {
		t.Fatalf("Failed to resolve plain value: %v", err)
	}
	if got, _ := starlark.AsString(v); got != "plain" {
		t.Errorf("Expected plain, got %s", got)
	}
}

func TestPromiseResolverFollowsChains(t *testing.T) {
	inner := NewPromise("inner")
	if err := inner.Fulfill(starlark.MakeInt(42)); err != nil {
		t.Fatalf("Failed to fulfill inner promise: %v", err)
	}
	outer := NewPromise("outer")
	if err := outer.Fulfill(inner); err != nil {
		t.Fatalf("Failed to fulfill outer promise: %v", err)
	}

	v, err := PromiseResolver{}.Resolve(outer)
	if err != nil {
		t.Fatalf("Failed to resolve chained promise: %v", err)
	}
	n, _ := v.(starlark.Int).Int64()
	if n != 42 {
		t.Errorf("Expected 42, got %d", n)
	}
}

func TestPromiseResolverUnresolved(t *testing.T) {
	_, err := PromiseResolver{}.Resolve(NewPromise("pending//work:result"))
	if err == nil {
		t.Fatal("Expected resolution of a pending promise to fail")
	}
	var perr *UnresolvedPromiseError
	if !errors.As(err, &perr) {
		t.Fatalf("Expected UnresolvedPromiseError, got %v", err)
	}
	if perr.Name != "pending//work:result" {
		t.Errorf("Expected promise name pending//work:result, got %s", perr.Name)
	}
}

func TestCollectionResolvesPromisedElements(t *testing.T) {
	p := NewPromise("deferred DefaultInfo")
	if err := p.Fulfill(provider.EmptyDefaultInfo()); err != nil {
		t.Fatalf("Failed to fulfill promise: %v", err)
	}
	list := starlark.NewList([]starlark.Value{p})

	coll, err := provider.CollectionFromValue(list, PromiseResolver{})
	if err != nil {
		t.Fatalf("Failed to build collection from promised element: %v", err)
	}
	if got := coll.ProviderNames(); len(got) != 1 || got[0] != "DefaultInfo" {
		t.Errorf("Expected [DefaultInfo], got %v", got)
	}
}

func TestCollectionRejectsPendingPromise(t *testing.T) {
	list := starlark.NewList([]starlark.Value{NewPromise("never")})

	_, err := provider.CollectionFromValue(list, PromiseResolver{})
	if err == nil {
		t.Fatal("Expected construction to fail on a pending promise")
	}
	var perr *UnresolvedPromiseError
	if !errors.As(err, &perr) {
		t.Fatalf("Expected UnresolvedPromiseError, got %v", err)
	}
}
