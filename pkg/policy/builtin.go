package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		defaultInfoPolicy(),
		providerNamingPolicy(),
	}
}

// defaultInfoPolicy flags stored collections that lack a DefaultInfo entry.
// Construction guarantees one, so a hit means the stored payload is damaged.
func defaultInfoPolicy() Policy {
	return Policy{
		Name:        "default-info",
		Description: "Requires every analysis result to expose a DefaultInfo provider",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"providers", "integrity"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package smelt.policies.defaultinfo

import rego.v1

deny contains violation if {
	input.providers
	not input.providers.DefaultInfo

	violation := {
		"message": sprintf("Analysis result for %s does not expose DefaultInfo", [input.label]),
		"severity": "error",
		"label": input.label,
	}
}`,
	}
}

// providerNamingPolicy warns about provider names outside the *Info convention.
func providerNamingPolicy() Policy {
	return Policy{
		Name:        "provider-naming",
		Description: "Warns when provider names do not follow the *Info suffix convention",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"naming", "conventions"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package smelt.policies.naming

import rego.v1

deny contains violation if {
	some name in input.provider_names
	not endswith(name, "Info")

	violation := {
		"message": sprintf("Provider %s does not follow the *Info naming convention", [name]),
		"severity": "warning",
		"label": input.label,
	}
}`,
	}
}
