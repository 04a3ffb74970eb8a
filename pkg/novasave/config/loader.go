package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrUnsupportedFormat is returned for a settings file that is neither YAML
// nor JSON.
var ErrUnsupportedFormat = errors.New("unsupported settings format")

// parserFor picks the document parser for a settings file name. Extensions
// match case-insensitively.
func parserFor(path string) (func([]byte) (Config, error), error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return FromYAML, nil
	case ".json":
		return FromJSON, nil
	case "":
		return nil, fmt.Errorf("%w: %s has no extension, want .yaml, .yml or .json", ErrUnsupportedFormat, path)
	default:
		return nil, fmt.Errorf("%w: %s, want .yaml, .yml or .json", ErrUnsupportedFormat, ext)
	}
}

// FromFile reads a settings file. An empty file yields an empty Config, so
// every setting takes its default.
func FromFile(path string) (Config, error) {
	parse, err := parserFor(path)
	if err != nil {
		return Config{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read settings: %w", err)
	}
	cfg, err := parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadSettings reads the settings file at path and validates it.
func LoadSettings(path string) (Settings, error) {
	cfg, err := FromFile(path)
	if err != nil {
		return Settings{}, err
	}
	s, err := cfg.Settings()
	if err != nil {
		return Settings{}, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// FromYAML parses a YAML settings document. The top level must be a mapping.
func FromYAML(data []byte) (Config, error) {
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("parse yaml settings: %w", err)
	}
	return New(m), nil
}

// FromJSON parses a JSON settings document. The top level must be an
// object; blank input is an empty Config.
func FromJSON(data []byte) (Config, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return New(nil), nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("parse json settings: %w", err)
	}
	return New(m), nil
}
