package label

import (
	"fmt"
)

// Configuration is the opaque key a target was analysed under. It carries a
// display name and an optional content hash distinguishing configurations
// with the same name.
type Configuration struct {
	name string
	hash string
}

// NewConfiguration builds a configuration key. The hash may be empty.
func NewConfiguration(name, hash string) Configuration {
	return Configuration{name: name, hash: hash}
}

// Unbound is the sentinel configuration for targets that have not been
// configured yet.
func Unbound() Configuration {
	return Configuration{name: "<unbound>"}
}

// Name returns the configuration display name.
func (c Configuration) Name() string { return c.name }

// Hash returns the content hash, "" when absent.
func (c Configuration) Hash() string { return c.hash }

// IsBound reports whether this is a real configuration rather than the
// unbound sentinel or the zero value.
func (c Configuration) IsBound() bool {
	return c.name != "" && c.name != "<unbound>"
}

// String renders name#hash, or just the name when the hash is empty.
func (c Configuration) String() string {
	if c.name == "" {
		return "<unbound>"
	}
	if c.hash == "" {
		return c.name
	}
	return c.name + "#" + c.hash
}

// ConfiguredTargetLabel is a target label bound to one configuration.
type ConfiguredTargetLabel struct {
	target TargetLabel
	cfg    Configuration
}

// Configure binds a target label to a configuration.
func Configure(target TargetLabel, cfg Configuration) ConfiguredTargetLabel {
	return ConfiguredTargetLabel{target: target, cfg: cfg}
}

// Target returns the unconfigured label.
func (l ConfiguredTargetLabel) Target() TargetLabel { return l.target }

// Configuration returns the bound configuration.
func (l ConfiguredTargetLabel) Configuration() Configuration { return l.cfg }

// String renders cell//package:name (configuration).
func (l ConfiguredTargetLabel) String() string {
	return fmt.Sprintf("%s (%s)", l.target, l.cfg)
}

// ConfiguredProvidersLabel is a providers label bound to one configuration.
// It is the address form sub-target resolution reports in diagnostics.
type ConfiguredProvidersLabel struct {
	target ConfiguredTargetLabel
	name   ProvidersName
}

// ConfigureProviders binds a providers label to a configuration.
func ConfigureProviders(l ProvidersLabel, cfg Configuration) ConfiguredProvidersLabel {
	return ConfiguredProvidersLabel{
		target: Configure(l.Target(), cfg),
		name:   l.ProvidersName(),
	}
}

// NewConfiguredProvidersLabel pairs a configured target with a selector.
func NewConfiguredProvidersLabel(target ConfiguredTargetLabel, name ProvidersName) ConfiguredProvidersLabel {
	return ConfiguredProvidersLabel{target: target, name: name}
}

// Target returns the configured target label.
func (l ConfiguredProvidersLabel) Target() ConfiguredTargetLabel { return l.target }

// ProvidersName returns the selector component.
func (l ConfiguredProvidersLabel) ProvidersName() ProvidersName { return l.name }

// UnconfiguredString renders the label without its configuration, the form
// used when reporting flavored targets.
func (l ConfiguredProvidersLabel) UnconfiguredString() string {
	return l.target.Target().String() + l.name.String()
}

// String renders cell//package:name[selector] (configuration).
func (l ConfiguredProvidersLabel) String() string {
	return fmt.Sprintf("%s%s (%s)", l.target.Target(), l.name, l.target.Configuration())
}
