package provider

import (
	"errors"
	"fmt"
	"strings"

	"go.starlark.net/starlark"
)

// ErrorKind classifies collection failures. Every kind is recoverable and
// returned to the caller; none terminates the process.
type ErrorKind string

const (
	// ErrNotAList indicates construction input was not a list.
	ErrNotAList ErrorKind = "not_a_list"

	// ErrElementNotAProvider indicates a list element without a provider identity.
	ErrElementNotAProvider ErrorKind = "element_not_a_provider"

	// ErrDuplicateProvider indicates two elements sharing one provider identity.
	ErrDuplicateProvider ErrorKind = "duplicate_provider"

	// ErrMissingDefaultInfo indicates strict construction without a DefaultInfo.
	ErrMissingDefaultInfo ErrorKind = "missing_default_info"

	// ErrWrongDefaultInfoType indicates the lenient-path factory produced a
	// value that is not a DefaultInfo. This is an internal invariant failure,
	// still reported as a normal error.
	ErrWrongDefaultInfoType ErrorKind = "wrong_default_info_type"

	// ErrKeyNotAProviderType indicates a query key that is not a provider type.
	ErrKeyNotAProviderType ErrorKind = "key_not_a_provider_type"

	// ErrProviderNotFound indicates an indexed lookup miss.
	ErrProviderNotFound ErrorKind = "provider_not_found"

	// ErrNotAProviderCollection indicates a typed-handle downcast failure.
	ErrNotAProviderCollection ErrorKind = "not_a_provider_collection"

	// ErrInvalidSubTarget indicates a sub-target path segment that does not exist.
	ErrInvalidSubTarget ErrorKind = "invalid_sub_target"

	// ErrUnsupportedFlavor indicates legacy flavor addressing, which is
	// permanently unsupported.
	ErrUnsupportedFlavor ErrorKind = "unsupported_flavor"

	// ErrUnboundCallable indicates a provider callable used before being
	// assigned to a global name.
	ErrUnboundCallable ErrorKind = "unbound_callable"

	// ErrInvalidField indicates a provider constructed with an unknown or
	// missing field, or a field of the wrong type.
	ErrInvalidField ErrorKind = "invalid_field"
)

// GetOp names the query operator that triggered an error, for diagnostics.
type GetOp string

const (
	// OpAt is indexed lookup, collection[FooInfo].
	OpAt GetOp = "[]"

	// OpIn is the membership test, FooInfo in collection.
	OpIn GetOp = "in"

	// OpGet is defaulted lookup, collection.get(FooInfo).
	OpGet GetOp = ".get"
)

// Error is a structured collection error. Message carries the complete
// rule-author-facing sentence; the remaining fields expose the same
// diagnostics for programmatic handling.
type Error struct {
	// Kind is the error classification.
	Kind ErrorKind

	// Message is the human-readable error message.
	Message string

	// Op is the query operator in use, if any.
	Op GetOp

	// Provider is the provider display name involved, if any.
	Provider string

	// Requested is the provider or sub-target name that was looked up.
	Requested string

	// Available lists the names present at the failure point, in map order.
	Available []string

	// Target is the rendered label being resolved, if any.
	Target string

	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// KindOf returns the collection error kind, or "" when err is not one.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// repr renders a value's textual form for diagnostics.
func repr(v starlark.Value) string {
	if v == nil {
		return "<nil>"
	}
	return v.String()
}

func quoteNames(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = fmt.Sprintf("%q", n)
	}
	return strings.Join(quoted, ", ")
}

// NewNotAList reports construction input that is not a list.
func NewNotAList(v starlark.Value) *Error {
	return &Error{
		Kind:    ErrNotAList,
		Message: fmt.Sprintf("expected a list of providers, got %s", repr(v)),
	}
}

// NewElementNotAProvider reports a list element without a provider identity.
func NewElementNotAProvider(v starlark.Value) *Error {
	return &Error{
		Kind:    ErrElementNotAProvider,
		Message: fmt.Sprintf("expected a provider instance, got %s", repr(v)),
	}
}

// NewDuplicateProvider reports two elements sharing one provider identity.
func NewDuplicateProvider(name string, original, duplicate starlark.Value) *Error {
	return &Error{
		Kind:     ErrDuplicateProvider,
		Provider: name,
		Message: fmt.Sprintf("provider %s specified twice (%s and %s)",
			name, repr(original), repr(duplicate)),
	}
}

// NewMissingDefaultInfo reports strict construction without a DefaultInfo.
func NewMissingDefaultInfo(input starlark.Value) *Error {
	return &Error{
		Kind:    ErrMissingDefaultInfo,
		Message: fmt.Sprintf("provider collection %s did not receive a DefaultInfo provider", repr(input)),
	}
}

// NewWrongDefaultInfoType reports a factory product that is not a DefaultInfo.
func NewWrongDefaultInfoType(v starlark.Value) *Error {
	return &Error{
		Kind:    ErrWrongDefaultInfoType,
		Message: fmt.Sprintf("DefaultInfo factory produced %s instead of a DefaultInfo provider", repr(v)),
	}
}

// NewKeyNotAProviderType reports a query key that is not a provider type.
func NewKeyNotAProviderType(op GetOp, key starlark.Value) *Error {
	return &Error{
		Kind:    ErrKeyNotAProviderType,
		Op:      op,
		Message: fmt.Sprintf("key passed to %q must be a provider type, got %s", string(op), key.Type()),
	}
}

// NewProviderNotFound reports an indexed lookup miss, listing the providers
// that are present.
func NewProviderNotFound(requested string, available []string) *Error {
	return &Error{
		Kind:      ErrProviderNotFound,
		Requested: requested,
		Available: available,
		Message: fmt.Sprintf("provider collection has no key %q, available providers are [%s]",
			requested, quoteNames(available)),
	}
}

// NewNotAProviderCollection reports a typed-handle downcast failure.
func NewNotAProviderCollection(v starlark.Value) *Error {
	return &Error{
		Kind:    ErrNotAProviderCollection,
		Message: fmt.Sprintf("expected a provider collection, got %s", repr(v)),
	}
}

// NewInvalidSubTarget reports a missing sub-target path segment, listing the
// names available at the level where resolution stopped.
func NewInvalidSubTarget(segment, target string, available []string) *Error {
	return &Error{
		Kind:      ErrInvalidSubTarget,
		Requested: segment,
		Target:    target,
		Available: available,
		Message: fmt.Sprintf("requested sub-target %q of target %q is not available, available sub-targets are [%s]",
			segment, target, quoteNames(available)),
	}
}

// NewUnsupportedFlavor reports legacy flavor addressing.
func NewUnsupportedFlavor(flavor, target string) *Error {
	return &Error{
		Kind:      ErrUnsupportedFlavor,
		Requested: flavor,
		Target:    target,
		Message:   fmt.Sprintf("cannot handle flavor %q on target %q, flavored targets are not supported", flavor, target),
	}
}

// NewUnboundCallable reports a provider callable used before export.
func NewUnboundCallable() *Error {
	return &Error{
		Kind:    ErrUnboundCallable,
		Message: "provider callable used before being assigned to a global name",
	}
}

// NewInvalidField reports a bad field in a provider construction call.
func NewInvalidField(providerName, field, format string, args ...interface{}) *Error {
	return &Error{
		Kind:     ErrInvalidField,
		Provider: providerName,
		Message: fmt.Sprintf("provider %s: field %q %s",
			providerName, field, fmt.Sprintf(format, args...)),
	}
}
