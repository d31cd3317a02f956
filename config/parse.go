package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
)

// ParseFile reads a settings file, choosing the decoder by extension
// (.yaml, .yml or .json). Both decoders reject unknown keys.
func ParseFile(path string) (*Config, error) {
	var decode func([]byte) (*Config, error)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		decode = ParseYAML
	case ".json":
		decode = ParseJSON
	default:
		return nil, fmt.Errorf("config %s: unsupported file extension %q", path, ext)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	config, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return config, nil
}

// ParseYAML decodes settings from YAML.
func ParseYAML(data []byte) (*Config, error) {
	config := &Config{}
	if err := yaml.UnmarshalWithOptions(data, config, yaml.Strict()); err != nil {
		return nil, err
	}
	return config, nil
}

// ParseJSON decodes settings from JSON. An empty document yields empty
// settings, matching the YAML decoder.
func ParseJSON(data []byte) (*Config, error) {
	config := &Config{}
	if len(bytes.TrimSpace(data)) == 0 {
		return config, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(config); err != nil {
		return nil, err
	}
	return config, nil
}
