// Package provider implements the result model of rule evaluation: typed
// provider instances collected into a validated, insertion-ordered provider
// collection.
//
// A rule implementation returns a Starlark list of provider instances. The
// list is validated into a mutable Collection (unique identities, mandatory
// DefaultInfo), consumed exactly once by Finish into an immutable
// FrozenCollection, and wrapped in a CollectionValue handle for downstream
// consumers. Collections answer three query operators for rule authors:
// indexed access (collection[FooInfo]), membership (FooInfo in collection),
// and defaulted lookup (collection.get(FooInfo)).
//
// Sub-targets nest further collections under the DefaultInfo provider,
// addressed by label.ProvidersName paths and resolved hop by hop with the
// same checked downcasts used everywhere else in the package.
package provider
