package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/alecthomas/kong"
	"gopkg.in/yaml.v3"
)

// YAMLLoader resolves flags from a YAML document. Keys are flag names, with
// either dashes or underscores, and may be nested under the command name:
//
//	serve:
//	  listen: 127.0.0.1:8765
//	  cooldown: 3m
func YAMLLoader(r io.Reader) (kong.Resolver, error) {
	values := map[string]any{}
	if err := yaml.NewDecoder(r).Decode(&values); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	var f kong.ResolverFunc = func(kctx *kong.Context, parent *kong.Path, flag *kong.Flag) (any, error) {
		if cmd := parent.Node(); cmd != nil && cmd.Type == kong.CommandNode {
			if section, ok := values[cmd.Name].(map[string]any); ok {
				if v, ok := lookup(section, flag.Name); ok {
					return v, nil
				}
			}
		}
		if v, ok := lookup(values, flag.Name); ok {
			return v, nil
		}
		return nil, nil
	}

	return f, nil
}

func lookup(values map[string]any, name string) (any, bool) {
	for _, key := range []string{name, strings.ReplaceAll(name, "-", "_")} {
		if v, ok := values[key]; ok {
			return normalize(v), true
		}
	}
	return nil, false
}

// normalize converts YAML sequences to the comma separated form kong parses
// for slice flags.
func normalize(v any) any {
	items, ok := v.([]any)
	if !ok {
		return v
	}

	parts := make([]string, 0, len(items))
	for _, item := range items {
		parts = append(parts, fmt.Sprint(item))
	}
	return strings.Join(parts, ",")
}
