package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
)

// LoadFile decodes a YAML or JSON file into v. "-" reads stdin.
func LoadFile(path string, v any) error {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		return ParseFile(data, "", v)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	return ParseFile(data, path, v)
}

// ParseFile decodes data by the extension of filename. Without a known
// extension JSON is tried first, then YAML.
func ParseFile(data []byte, filename string, v any) error {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, v); err != nil {
			return fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		if err := json.Unmarshal(data, v); err != nil {
			if err := yaml.Unmarshal(data, v); err != nil {
				return fmt.Errorf("failed to parse input (tried JSON and YAML)")
			}
		}
	}
	return nil
}

// ToJSON converts a YAML or JSON document to JSON.
func ToJSON(data []byte, filename string) ([]byte, error) {
	var v any
	if err := ParseFile(data, filename, &v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}
