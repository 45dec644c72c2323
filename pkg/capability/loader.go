package capability

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadDir scans a directory for capability descriptor files (*.yaml) and
// parses them. Specs are validated on load so a malformed pack fails fast at
// startup.
func LoadDir(root string) ([]Spec, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var out []Spec
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		spec, err := LoadFile(filepath.Join(root, name))
		if err != nil {
			return nil, err
		}
		out = append(out, spec)
	}
	return out, nil
}

// LoadFile parses a single capability descriptor file.
func LoadFile(path string) (Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Spec{}, err
	}
	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return Spec{}, fmt.Errorf("parse capability %s: %w", path, err)
	}
	if err := spec.Validate(); err != nil {
		return Spec{}, fmt.Errorf("invalid capability %s: %w", path, err)
	}
	return spec, nil
}
