package label

import (
	"errors"
	"testing"
)

// TestParseTargetLabel tests parsing of plain target labels.
func TestParseTargetLabel(t *testing.T) {
	l, err := ParseTargetLabel("root//foo/bar:baz")
	if err != nil {
		t.Fatalf("Failed to parse label: %v", err)
	}

	if l.Cell() != "root" {
		t.Errorf("Expected cell 'root', got '%s'", l.Cell())
	}
	if l.Package() != "foo/bar" {
		t.Errorf("Expected package 'foo/bar', got '%s'", l.Package())
	}
	if l.Name() != "baz" {
		t.Errorf("Expected name 'baz', got '%s'", l.Name())
	}
	if l.String() != "root//foo/bar:baz" {
		t.Errorf("Expected round-trip 'root//foo/bar:baz', got '%s'", l.String())
	}
}

// TestParseTargetLabelRootCell tests labels in the root cell and at a cell root.
func TestParseTargetLabelRootCell(t *testing.T) {
	l, err := ParseTargetLabel("//pkg:name")
	if err != nil {
		t.Fatalf("Failed to parse root-cell label: %v", err)
	}
	if l.Cell() != "" {
		t.Errorf("Expected empty cell, got '%s'", l.Cell())
	}

	l, err = ParseTargetLabel("cell//:top")
	if err != nil {
		t.Fatalf("Failed to parse cell-root label: %v", err)
	}
	if l.Package() != "" {
		t.Errorf("Expected empty package, got '%s'", l.Package())
	}
	if l.String() != "cell//:top" {
		t.Errorf("Expected 'cell//:top', got '%s'", l.String())
	}
}

// TestParseTargetLabelErrors tests the parse error kinds.
func TestParseTargetLabelErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		kind  ErrorKind
	}{
		{"no separator", "foo:bar", ErrMissingCellSeparator},
		{"no colon", "cell//foo/bar", ErrMissingTargetName},
		{"empty name", "cell//foo:", ErrInvalidName},
		{"bad cell", "ce ll//foo:bar", ErrInvalidCell},
		{"empty package segment", "cell//foo//bar:baz", ErrInvalidPackage},
		{"dot segment", "cell//foo/./bar:baz", ErrInvalidPackage},
		{"selector in name", "cell//foo:bar[sub]", ErrInvalidName},
		{"flavor in name", "cell//foo:bar#flav", ErrInvalidName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTargetLabel(tt.input)
			if err == nil {
				t.Fatalf("Expected parse of %q to fail", tt.input)
			}
			if KindOf(err) != tt.kind {
				t.Errorf("Expected error kind %q, got %q (%v)", tt.kind, KindOf(err), err)
			}
		})
	}
}

// TestParseProvidersLabel tests sub-target and flavor suffix parsing.
func TestParseProvidersLabel(t *testing.T) {
	l, err := ParseProvidersLabel("cell//pkg:name")
	if err != nil {
		t.Fatalf("Failed to parse plain providers label: %v", err)
	}
	if l.ProvidersName().Kind() != KindDefault {
		t.Errorf("Expected default selector, got kind %d", l.ProvidersName().Kind())
	}

	l, err = ParseProvidersLabel("cell//pkg:name[foo][bar]")
	if err != nil {
		t.Fatalf("Failed to parse sub-target label: %v", err)
	}
	path := l.ProvidersName().Path()
	if len(path) != 2 || path[0] != "foo" || path[1] != "bar" {
		t.Errorf("Expected path [foo bar], got %v", path)
	}
	if l.String() != "cell//pkg:name[foo][bar]" {
		t.Errorf("Expected round-trip 'cell//pkg:name[foo][bar]', got '%s'", l.String())
	}

	l, err = ParseProvidersLabel("cell//pkg:name#gcc-7")
	if err != nil {
		t.Fatalf("Failed to parse flavored label: %v", err)
	}
	if l.ProvidersName().Kind() != KindUnrecognizedFlavor {
		t.Errorf("Expected flavor selector, got kind %d", l.ProvidersName().Kind())
	}
	if l.ProvidersName().Flavor() != "gcc-7" {
		t.Errorf("Expected flavor 'gcc-7', got '%s'", l.ProvidersName().Flavor())
	}
}

// TestParseProvidersLabelErrors tests malformed selector handling.
func TestParseProvidersLabelErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		kind  ErrorKind
	}{
		{"empty selector", "cell//pkg:name[]", ErrMalformedSelector},
		{"unterminated selector", "cell//pkg:name[foo", ErrMalformedSelector},
		{"trailing junk", "cell//pkg:name[foo]bar", ErrMalformedSelector},
		{"nested bracket", "cell//pkg:name[fo[o]", ErrMalformedSelector},
		{"empty flavor", "cell//pkg:name#", ErrEmptyFlavor},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseProvidersLabel(tt.input)
			if err == nil {
				t.Fatalf("Expected parse of %q to fail", tt.input)
			}
			if KindOf(err) != tt.kind {
				t.Errorf("Expected error kind %q, got %q (%v)", tt.kind, KindOf(err), err)
			}
		})
	}
}

// TestProvidersNamePush tests selector extension.
func TestProvidersNamePush(t *testing.T) {
	p := DefaultProviders().Push("a").Push("b")
	if p.Kind() != KindNamed {
		t.Fatalf("Expected named selector after push, got kind %d", p.Kind())
	}
	if p.String() != "[a][b]" {
		t.Errorf("Expected '[a][b]', got '%s'", p.String())
	}

	f := FlavoredProviders("fl").Push("a")
	if f.Kind() != KindUnrecognizedFlavor {
		t.Errorf("Expected flavor selector to survive push, got kind %d", f.Kind())
	}
}

// TestConfiguredLabels tests configured rendering.
func TestConfiguredLabels(t *testing.T) {
	target, err := ParseTargetLabel("cell//pkg:name")
	if err != nil {
		t.Fatalf("Failed to parse label: %v", err)
	}

	cfg := NewConfiguration("linux-x86_64", "a1b2c3")
	if cfg.String() != "linux-x86_64#a1b2c3" {
		t.Errorf("Expected 'linux-x86_64#a1b2c3', got '%s'", cfg.String())
	}
	if !cfg.IsBound() {
		t.Error("Expected configuration to be bound")
	}
	if Unbound().IsBound() {
		t.Error("Expected unbound sentinel to report unbound")
	}

	ctl := Configure(target, cfg)
	if ctl.String() != "cell//pkg:name (linux-x86_64#a1b2c3)" {
		t.Errorf("Unexpected configured rendering: '%s'", ctl.String())
	}

	cpl := NewConfiguredProvidersLabel(ctl, NamedProviders("foo"))
	if cpl.String() != "cell//pkg:name[foo] (linux-x86_64#a1b2c3)" {
		t.Errorf("Unexpected configured providers rendering: '%s'", cpl.String())
	}
	if cpl.UnconfiguredString() != "cell//pkg:name[foo]" {
		t.Errorf("Unexpected unconfigured rendering: '%s'", cpl.UnconfiguredString())
	}
}

// TestLabelErrorsIs tests errors.Is kind matching.
func TestLabelErrorsIs(t *testing.T) {
	_, err := ParseTargetLabel("nonsense")
	if !errors.Is(err, &Error{Kind: ErrMissingCellSeparator}) {
		t.Errorf("Expected errors.Is to match on kind, got %v", err)
	}
}
