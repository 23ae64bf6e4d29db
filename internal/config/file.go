package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// fileValues holds the YAML config file flattened to dotted keys,
// e.g. "watch.poll_interval". Lists are joined with commas.
type fileValues map[string]string

// loadYAMLFile reads path. An empty path yields no values.
func loadYAMLFile(path string) (fileValues, error) {
	values := fileValues{}
	if path == "" {
		return values, nil
	}

	expanded, err := expandPath(path, "")
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(expanded) //#nosec G304 -- Config file path from user input is expected
	if err != nil {
		return nil, err
	}

	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", expanded, err)
	}

	flatten("", doc, values)
	return values, nil
}

func flatten(prefix string, node map[string]any, out fileValues) {
	for k, v := range node {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]any:
			flatten(key, val, out)
		case []any:
			parts := make([]string, 0, len(val))
			for _, item := range val {
				parts = append(parts, fmt.Sprint(item))
			}
			out[key] = strings.Join(parts, ",")
		case nil:
		default:
			out[key] = fmt.Sprint(val)
		}
	}
}

// or returns the value at key, or def when the file does not set it.
func (f fileValues) or(key, def string) string {
	if v, ok := f[key]; ok && v != "" {
		return v
	}
	return def
}

func (f fileValues) boolOr(key string, def bool) bool {
	v, ok := f[key]
	if !ok || v == "" {
		return def
	}
	return parseBool(v)
}

func (f fileValues) intOr(key string, def int) int {
	v, ok := f[key]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
