package label

import (
	"strings"
)

// ProvidersNameKind distinguishes the addressing forms a providers label can
// carry after the target name.
type ProvidersNameKind int

const (
	// KindDefault addresses the whole provider collection of the target.
	KindDefault ProvidersNameKind = iota

	// KindNamed addresses a nested sub-target by a path of names.
	KindNamed

	// KindUnrecognizedFlavor is a legacy "#flavor" suffix. It parses so that
	// callers can produce a precise error, but it can never be resolved.
	KindUnrecognizedFlavor
)

// ProvidersName selects either the whole collection, a sub-target path, or a
// legacy flavor. The zero value is the default selector.
type ProvidersName struct {
	kind   ProvidersNameKind
	path   []string
	flavor string
}

// DefaultProviders returns the whole-collection selector.
func DefaultProviders() ProvidersName {
	return ProvidersName{}
}

// NamedProviders returns a selector descending through the given sub-target
// names in order. With no names it is the default selector.
func NamedProviders(path ...string) ProvidersName {
	if len(path) == 0 {
		return ProvidersName{}
	}
	return ProvidersName{kind: KindNamed, path: append([]string(nil), path...)}
}

// FlavoredProviders returns the unresolvable legacy flavor selector.
func FlavoredProviders(flavor string) ProvidersName {
	return ProvidersName{kind: KindUnrecognizedFlavor, flavor: flavor}
}

// Kind reports which addressing form this selector carries.
func (p ProvidersName) Kind() ProvidersNameKind { return p.kind }

// Path returns the sub-target path for KindNamed selectors, nil otherwise.
func (p ProvidersName) Path() []string {
	if p.kind != KindNamed {
		return nil
	}
	return append([]string(nil), p.path...)
}

// Flavor returns the flavor string for KindUnrecognizedFlavor selectors.
func (p ProvidersName) Flavor() string { return p.flavor }

// Push returns a selector with one more sub-target name appended. Pushing
// onto a flavor selector keeps the flavor; flavored targets stay unresolvable.
func (p ProvidersName) Push(name string) ProvidersName {
	switch p.kind {
	case KindUnrecognizedFlavor:
		return p
	case KindNamed:
		path := make([]string, 0, len(p.path)+1)
		path = append(path, p.path...)
		return ProvidersName{kind: KindNamed, path: append(path, name)}
	default:
		return ProvidersName{kind: KindNamed, path: []string{name}}
	}
}

// String renders the selector suffix: "" for default, "[a][b]" for named
// paths, "#flavor" for flavors.
func (p ProvidersName) String() string {
	switch p.kind {
	case KindNamed:
		var b strings.Builder
		for _, seg := range p.path {
			b.WriteByte('[')
			b.WriteString(seg)
			b.WriteByte(']')
		}
		return b.String()
	case KindUnrecognizedFlavor:
		return "#" + p.flavor
	default:
		return ""
	}
}

// ProvidersLabel is a target label plus a providers selector.
type ProvidersLabel struct {
	target TargetLabel
	name   ProvidersName
}

// NewProvidersLabel pairs a target with a selector.
func NewProvidersLabel(target TargetLabel, name ProvidersName) ProvidersLabel {
	return ProvidersLabel{target: target, name: name}
}

// ParseProvidersLabel parses cell//package:name with an optional "[a][b]"
// sub-target suffix or "#flavor" legacy suffix.
func ParseProvidersLabel(s string) (ProvidersLabel, error) {
	cell, pkg, rawName, err := splitTarget(s)
	if err != nil {
		return ProvidersLabel{}, err
	}

	name := rawName
	sel := DefaultProviders()
	if hash := strings.IndexByte(rawName, '#'); hash >= 0 {
		flavor := rawName[hash+1:]
		if flavor == "" {
			return ProvidersLabel{}, newError(ErrEmptyFlavor, s, "expected a flavor name after \"#\"")
		}
		name = rawName[:hash]
		sel = FlavoredProviders(flavor)
	} else if bracket := strings.IndexByte(rawName, '['); bracket >= 0 {
		path, err := parseSelectorPath(rawName[bracket:], s)
		if err != nil {
			return ProvidersLabel{}, err
		}
		name = rawName[:bracket]
		sel = NamedProviders(path...)
	}

	target, err := NewTargetLabel(cell, pkg, name)
	if err != nil {
		return ProvidersLabel{}, err
	}
	return ProvidersLabel{target: target, name: sel}, nil
}

// parseSelectorPath parses a "[a][b]" suffix into its segment names.
func parseSelectorPath(s, raw string) ([]string, error) {
	var path []string
	for s != "" {
		if s[0] != '[' {
			return nil, newError(ErrMalformedSelector, raw, "unexpected %q after sub-target selector", s[0])
		}
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return nil, newError(ErrMalformedSelector, raw, "unterminated sub-target selector")
		}
		seg := s[1:end]
		if seg == "" {
			return nil, newError(ErrMalformedSelector, raw, "empty sub-target selector")
		}
		if strings.IndexByte(seg, '[') >= 0 {
			return nil, newError(ErrMalformedSelector, raw, "nested \"[\" in sub-target selector %q", seg)
		}
		path = append(path, seg)
		s = s[end+1:]
	}
	return path, nil
}

// Target returns the addressed target.
func (l ProvidersLabel) Target() TargetLabel { return l.target }

// ProvidersName returns the selector component.
func (l ProvidersLabel) ProvidersName() ProvidersName { return l.name }

// String renders the label with its selector suffix.
func (l ProvidersLabel) String() string {
	return l.target.String() + l.name.String()
}
