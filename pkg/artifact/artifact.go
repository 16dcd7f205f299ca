// Package artifact provides the Starlark value for files referenced by
// provider outputs. Artifacts are immutable; today only source artifacts
// exist, named by their workspace-relative path.
package artifact

import (
	"fmt"
	"path"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// Artifact names one file. It is immutable from the moment it is built, so
// the Starlark freeze protocol has nothing to do.
type Artifact struct {
	shortPath string
	source    bool
}

var (
	_ starlark.Value      = (*Artifact)(nil)
	_ starlark.HasAttrs   = (*Artifact)(nil)
	_ starlark.Comparable = (*Artifact)(nil)
)

// NewSource builds a source artifact from a workspace-relative path.
func NewSource(shortPath string) *Artifact {
	return &Artifact{shortPath: shortPath, source: true}
}

// SourceArtifactBuiltin returns the source_artifact(package, path) builtin.
func SourceArtifactBuiltin() *starlark.Builtin {
	impl := func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var pkg, name string
		if err := starlark.UnpackArgs("source_artifact", args, kwargs, "package", &pkg, "path", &name); err != nil {
			return nil, err
		}
		if name == "" {
			return nil, fmt.Errorf("source_artifact: path must not be empty")
		}
		return NewSource(path.Join(pkg, name)), nil
	}
	return starlark.NewBuiltin("source_artifact", impl)
}

// ShortPath returns the workspace-relative path.
func (a *Artifact) ShortPath() string { return a.shortPath }

// IsSource reports whether this artifact is a checked-in source file.
func (a *Artifact) IsSource() bool { return a.source }

// Basename returns the final path element.
func (a *Artifact) Basename() string { return path.Base(a.shortPath) }

// Extension returns the file extension without its leading dot, "" when the
// file has none.
func (a *Artifact) Extension() string {
	return strings.TrimPrefix(path.Ext(a.shortPath), ".")
}

// String renders <source path>.
func (a *Artifact) String() string {
	return fmt.Sprintf("<source %s>", a.shortPath)
}

// Type implements starlark.Value.
func (a *Artifact) Type() string { return "artifact" }

// Freeze implements starlark.Value.
func (a *Artifact) Freeze() {}

// Truth implements starlark.Value.
func (a *Artifact) Truth() starlark.Bool { return starlark.True }

// Hash implements starlark.Value.
func (a *Artifact) Hash() (uint32, error) {
	return starlark.String(a.shortPath).Hash()
}

// Attr implements starlark.HasAttrs.
func (a *Artifact) Attr(name string) (starlark.Value, error) {
	switch name {
	case "basename":
		return starlark.String(a.Basename()), nil
	case "extension":
		return starlark.String(a.Extension()), nil
	case "is_source":
		return starlark.Bool(a.source), nil
	case "short_path":
		return starlark.String(a.shortPath), nil
	}
	return nil, nil
}

// AttrNames implements starlark.HasAttrs.
func (a *Artifact) AttrNames() []string {
	return []string{"basename", "extension", "is_source", "short_path"}
}

// CompareSameType implements equality by path and origin.
func (a *Artifact) CompareSameType(op syntax.Token, y starlark.Value, depth int) (bool, error) {
	other, ok := y.(*Artifact)
	if !ok {
		return false, fmt.Errorf("cannot compare artifact with %s", y.Type())
	}
	eq := a.shortPath == other.shortPath && a.source == other.source
	switch op {
	case syntax.EQL:
		return eq, nil
	case syntax.NEQ:
		return !eq, nil
	default:
		return false, fmt.Errorf("artifact %s artifact not implemented", op)
	}
}

// MarshalJSON serializes the artifact as its path.
func (a *Artifact) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", a.shortPath)), nil
}
