package label

import (
	"fmt"
	"strings"
)

// TargetLabel identifies one build target as cell//package:name.
// The cell may be empty, meaning the root cell; the package may be empty for
// targets declared at a cell root. The zero value is not a valid label.
type TargetLabel struct {
	cell string
	pkg  string
	name string
}

// NewTargetLabel builds a label from validated components.
func NewTargetLabel(cell, pkg, name string) (TargetLabel, error) {
	raw := renderTarget(cell, pkg, name)
	if !validCell(cell) {
		return TargetLabel{}, newError(ErrInvalidCell, raw, "cell %q contains invalid characters", cell)
	}
	if err := checkPackage(pkg, raw); err != nil {
		return TargetLabel{}, err
	}
	if !validName(name) {
		return TargetLabel{}, newError(ErrInvalidName, raw, "target name %q is empty or contains invalid characters", name)
	}
	return TargetLabel{cell: cell, pkg: pkg, name: name}, nil
}

// ParseTargetLabel parses cell//package:name. It rejects providers or flavor
// suffixes; use ParseProvidersLabel for those.
func ParseTargetLabel(s string) (TargetLabel, error) {
	cell, pkg, name, err := splitTarget(s)
	if err != nil {
		return TargetLabel{}, err
	}
	if i := strings.IndexAny(name, "[#"); i >= 0 {
		return TargetLabel{}, newError(ErrInvalidName, s, "target name %q may not contain %q", name, name[i])
	}
	return NewTargetLabel(cell, pkg, name)
}

// Cell returns the cell component, "" for the root cell.
func (l TargetLabel) Cell() string { return l.cell }

// Package returns the package path, "" for a cell-root package.
func (l TargetLabel) Package() string { return l.pkg }

// Name returns the target name.
func (l TargetLabel) Name() string { return l.name }

// String renders the label as cell//package:name.
func (l TargetLabel) String() string {
	return renderTarget(l.cell, l.pkg, l.name)
}

func renderTarget(cell, pkg, name string) string {
	return fmt.Sprintf("%s//%s:%s", cell, pkg, name)
}

func splitTarget(s string) (cell, pkg, name string, err error) {
	sep := strings.Index(s, "//")
	if sep < 0 {
		return "", "", "", newError(ErrMissingCellSeparator, s, "expected cell//package:name")
	}
	cell = s[:sep]
	rest := s[sep+2:]
	colon := strings.IndexByte(rest, ':')
	if colon < 0 {
		return "", "", "", newError(ErrMissingTargetName, s, "expected a \":\" before the target name")
	}
	return cell, rest[:colon], rest[colon+1:], nil
}

func checkPackage(pkg, raw string) error {
	if pkg == "" {
		return nil
	}
	for _, seg := range strings.Split(pkg, "/") {
		if !validPathSegment(seg) {
			return newError(ErrInvalidPackage, raw, "package segment %q is empty or contains invalid characters", seg)
		}
	}
	return nil
}

func validCell(cell string) bool {
	for _, r := range cell {
		if !isWordRune(r) && r != '-' && r != '.' {
			return false
		}
	}
	return true
}

func validPathSegment(seg string) bool {
	if seg == "" || seg == "." || seg == ".." {
		return false
	}
	for _, r := range seg {
		if !isNameRune(r) {
			return false
		}
	}
	return true
}

func validName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if !isNameRune(r) && r != '/' {
			return false
		}
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

func isNameRune(r rune) bool {
	if isWordRune(r) {
		return true
	}
	switch r {
	case '-', '.', '=', ',', '+':
		return true
	}
	return false
}
