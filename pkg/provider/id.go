package provider

// ID is the identity of one provider type. Identities compare by pointer:
// two providers conflict in a collection exactly when they carry the same
// *ID, regardless of field values. The display name is for diagnostics only
// and is not required to be unique.
type ID struct {
	name string
}

// NewID mints a fresh provider identity with the given display name. Every
// call returns a distinct identity.
func NewID(name string) *ID {
	return &ID{name: name}
}

// Name returns the display name.
func (id *ID) Name() string { return id.name }

// String returns the display name.
func (id *ID) String() string { return id.name }

// TypedID pairs a provider identity with the Go type its instances carry,
// enabling checked typed retrieval from a frozen collection.
type TypedID[T Instance] struct {
	id *ID
}

// NewTypedID wraps an identity with its instance type.
func NewTypedID[T Instance](id *ID) TypedID[T] {
	return TypedID[T]{id: id}
}

// ID returns the underlying untyped identity.
func (t TypedID[T]) ID() *ID { return t.id }

// Name returns the display name.
func (t TypedID[T]) Name() string { return t.id.Name() }
