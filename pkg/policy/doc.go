// Package policy provides Open Policy Agent (OPA) integration for Smelt.
//
// This package implements policy checks over analysis results using the Rego
// policy language. Policies inspect the provider collection a rule produced,
// keyed by provider name, and can flag or block results that break project
// conventions. It includes built-in policies and supports custom policy loading.
//
// # Architecture
//
// The policy system consists of four main components:
//
//  1. Engine - Compiles and evaluates Rego policies
//  2. Loader - Loads policies from files, directories, and bundles
//  3. Types - Data structures for policies, violations, and results
//  4. Built-in Policies - Pre-defined policies for common requirements
//
// # Usage
//
// Creating a policy engine:
//
//	engine, err := policy.NewEngine(policy.Config{Logger: logger})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Evaluating an analysis result:
//
//	input := &policy.PolicyInput{
//	    Label:         "root//pkg:lib",
//	    Configuration: "linux-release",
//	    ProviderNames: []string{"DefaultInfo", "RunInfo"},
//	    Providers: map[string]interface{}{
//	        "DefaultInfo": map[string]interface{}{"default_outputs": []string{"lib.a"}},
//	        "RunInfo":     map[string]interface{}{"args": []string{"./lib"}},
//	    },
//	}
//
//	result, err := engine.Evaluate(ctx, input)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if !result.Allowed {
//	    for _, violation := range result.Violations {
//	        fmt.Printf("Policy %s violated: %s\n", violation.Policy, violation.Message)
//	    }
//	}
//
// Inputs are usually built from stored rows with NewInputFromJSON, which
// decodes the serialized provider payloads an analysis produced.
//
// Loading custom policies:
//
//	paths := []string{
//	    "/etc/smelt/policies",
//	    "/opt/policies/custom.rego",
//	}
//
//	err = engine.LoadPolicies(ctx, paths)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Built-in Policies
//
// The following policies are included by default:
//
//  1. default-info - Every stored collection must expose DefaultInfo
//  2. provider-naming - Provider names should follow the *Info convention
//
// # Custom Policies
//
// Custom policies can be written in Rego and loaded from files. The engine
// queries the deny rule of each policy's package:
//
//	package custom.policies.outputs
//
//	import rego.v1
//
//	deny contains violation if {
//	    info := input.providers.DefaultInfo
//	    count(info.default_outputs) == 0
//
//	    violation := {
//	        "message": sprintf("%s produces no default outputs", [input.label]),
//	        "severity": "warning",
//	        "label": input.label,
//	    }
//	}
//
// # Policy Evaluation Points
//
// Policies are evaluated at two points in the Smelt workflow:
//
//  1. After analysis - When an evaluation freezes a provider collection
//  2. On demand - Via smelt policy check against stored results
//
// # Severity Levels
//
// Violations have four severity levels:
//
//  - info: Informational messages
//  - warning: Issues that should be reviewed but don't block results
//  - error: Issues that mark the result as denied
//  - critical: Severe issues requiring immediate attention
//
// # Hot Reload
//
// The loader supports watching policy files for changes and reloading
// automatically:
//
//	err = engine.WatchPolicies(ctx, paths)
//
// Invalid policy files surface as bad_policy_file diagnostics through the
// configured diag.Reporter and are skipped. Escalating that category turns
// a bad file into a load failure.
//
// # Performance
//
// Policies are compiled once and reused for multiple evaluations. The engine
// prepares each policy's deny query with OPA's PreparedEvalQuery and caches
// parsed files at the loader level.
package policy
