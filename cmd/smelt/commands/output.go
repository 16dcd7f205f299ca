package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.starlark.net/starlark"
	"gopkg.in/yaml.v3"

	"github.com/smeltworks/smelt/pkg/provider"
)

// Output formats shared by the eval, inspect, and cache commands.
const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

// resolveFormat honors the global --json flag when the command's own
// --output flag was left at its default.
func resolveFormat(cmd *cobra.Command, format string) string {
	if jsonOutput && !cmd.Flags().Changed("output") {
		return outputJSON
	}
	return format
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

// printYAML round-trips through JSON so json tags and raw payloads shape
// the YAML document.
func printYAML(v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("failed to decode output: %w", err)
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to render YAML: %w", err)
	}
	fmt.Print(string(out))
	return nil
}

// printCollection renders a provider collection in the requested format.
func printCollection(cv provider.CollectionValue, format string) error {
	switch format {
	case outputText:
		coll := cv.Collection()
		fmt.Printf("providers: %s\n", strings.Join(coll.ProviderNames(), ", "))
		info := coll.DefaultInfo()
		if info == nil {
			return nil
		}
		printArtifactList("default outputs", info.DefaultOutputs())
		printArtifactList("other outputs", info.OtherOutputs())
		if names := info.SubTargetNames(); len(names) > 0 {
			fmt.Printf("sub-targets: %s\n", strings.Join(names, ", "))
		}
		return nil
	case outputJSON:
		raw, err := provider.EncodeValue(cv.Value())
		if err != nil {
			return fmt.Errorf("failed to serialize collection: %w", err)
		}
		var buf bytes.Buffer
		if err := json.Indent(&buf, raw, "", "  "); err != nil {
			return fmt.Errorf("failed to indent collection: %w", err)
		}
		fmt.Println(buf.String())
		return nil
	case outputYAML:
		raw, err := provider.EncodeValue(cv.Value())
		if err != nil {
			return fmt.Errorf("failed to serialize collection: %w", err)
		}
		return printYAML(json.RawMessage(raw))
	default:
		return fmt.Errorf("unknown output format: %s (expected text, json, or yaml)", format)
	}
}

func printArtifactList(title string, list *starlark.List) {
	if list == nil || list.Len() == 0 {
		return
	}
	items := make([]string, 0, list.Len())
	for i := 0; i < list.Len(); i++ {
		items = append(items, list.Index(i).String())
	}
	fmt.Printf("%s: %s\n", title, strings.Join(items, ", "))
}
