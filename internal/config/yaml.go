package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// coerceToJSONBytes funnels both config formats through one strict decoder:
// YAML input is unmarshaled loosely, then re-marshaled as JSON so the engine
// config is always decoded with DisallowUnknownFields. The returned format
// tag is "json" or "yaml".
func coerceToJSONBytes(path string, data []byte) ([]byte, string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
	default:
		return data, "json", nil
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, "yaml", fmt.Errorf("yaml unmarshal: %w", err)
	}

	out, err := json.Marshal(normalizeYAML(doc))
	if err != nil {
		return nil, "yaml", fmt.Errorf("yaml->json marshal: %w", err)
	}
	return out, "yaml", nil
}

// normalizeYAML rewrites map keys to strings recursively; yaml.v3 can hand
// back map[any]any nodes that json.Marshal refuses.
func normalizeYAML(in any) any {
	switch node := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(node))
		for k, v := range node {
			m[fmt.Sprint(k)] = normalizeYAML(v)
		}
		return m
	case map[string]any:
		for k, v := range node {
			node[k] = normalizeYAML(v)
		}
		return node
	case []any:
		for i := range node {
			node[i] = normalizeYAML(node[i])
		}
		return node
	default:
		return in
	}
}
