// Package config parses and validates smelt.cue workspace manifests.
//
// # Overview
//
// A workspace manifest declares the cell layout, the build file name, the
// result store location, policy paths, diagnostics escalation, and telemetry
// settings. Manifests are written in CUE, validated against an embedded
// schema, and decoded into WorkspaceConfig for the rest of the system.
//
// # Components
//
//   - CUEParser: loads CUE sources (files or directories), unifies them, and
//     extracts the workspace block.
//   - SchemaRegistry: holds the built-in schema definitions plus any schemas
//     registered at runtime, and validates arbitrary data against them.
//   - WorkspaceConfig: the decoded manifest, with conversions into the store,
//     diagnostics, and telemetry configuration types.
//
// # Usage
//
//	cfg, err := config.Load(ctx, "smelt.cue")
//	if err != nil {
//		return err
//	}
//	store, err := stores.NewSQLiteStore(cfg.ToStoreConfig(reporter))
//
// # Workspace Manifest
//
//	workspace: {
//		name: "demo"
//		cells: {
//			root:  "."
//			tools: "build/tools"
//		}
//		build_file_name:       "BUILD.star"
//		default_configuration: "dev"
//		store: path: ".smelt/results.db"
//		policy: {
//			enabled: true
//			paths: ["policies/"]
//			mode: "enforcing"
//		}
//		diagnostics: escalate: ["bad_policy_file"]
//		telemetry: logging: level: "debug"
//	}
//
// # Defaults
//
// Defaults are applied on the CUE side. The user's workspace value is unified
// with the #Workspace schema before decoding, so omitted fields pick up their
// schema defaults and a minimal manifest needs only a name and a cell map.
//
// # Schema Validation
//
// The schema definitions are closed, so unknown fields in a manifest are
// rejected with a position-annotated error rather than silently dropped.
// After decoding, the struct is cross-checked with go-playground/validator
// tags to catch constraints CUE does not express, such as the cell map being
// non-empty.
//
// # Error Handling
//
// Parse collects every validation failure into ParsedConfig.Errors as
// ValidationError values carrying file, line, column, and path where CUE
// provides them. Load treats any collected error as fatal and reports the
// first one.
//
// # Thread Safety
//
// SchemaRegistry is safe for concurrent use. A CUEParser must not be shared
// across goroutines because cue.Context is not synchronized.
package config
