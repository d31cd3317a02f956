package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/goccy/go-yaml"
)

// ParseFile loads a workflow definition from a file. The file extension
// determines the format (JSON or YAML).
func ParseFile(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	ext := strings.ToLower(filepath.Ext(path))
	var w *Workflow
	switch ext {
	case ".json":
		w, err = ParseJSON(data)
	case ".yml", ".yaml":
		w, err = ParseYAML(data)
	default:
		return nil, fmt.Errorf("unsupported file extension: %s", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return w, nil
}

// ParseYAML loads a workflow definition from YAML
func ParseYAML(data []byte) (*Workflow, error) {
	var w Workflow
	if err := yaml.UnmarshalWithOptions(data, &w, yaml.Strict()); err != nil {
		return nil, err
	}
	return &w, nil
}

// ParseJSON loads a workflow definition from JSON
func ParseJSON(data []byte) (*Workflow, error) {
	var w Workflow
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// MarshalYAML renders the workflow as YAML.
func MarshalYAML(w *Workflow) ([]byte, error) {
	return yaml.Marshal(w)
}

// LoadDirectory parses every workflow file matching the doublestar pattern,
// e.g. "workflows/**/*.{yaml,json}". Results are keyed by path.
func LoadDirectory(pattern string) (map[string]*Workflow, error) {
	matches, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	sort.Strings(matches)
	workflows := make(map[string]*Workflow, len(matches))
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			continue
		}
		w, err := ParseFile(path)
		if err != nil {
			return nil, err
		}
		workflows[path] = w
	}
	return workflows, nil
}
