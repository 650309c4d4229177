package autopilot

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
)

// ParseDefinitionYAML decodes a definition authored as YAML. Unknown keys are
// rejected. The result is not validated.
func ParseDefinitionYAML(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.UnmarshalWithOptions(data, &def, yaml.Strict()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	return &def, nil
}

// ParseDefinitionJSON decodes a definition in its JSON wire form.
func ParseDefinitionJSON(data []byte) (*Definition, error) {
	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	return &def, nil
}

// ParseDefinitionFile decodes data using the format implied by the file
// extension of path.
func ParseDefinitionFile(path string, data []byte) (*Definition, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return ParseDefinitionJSON(data)
	case ".yml", ".yaml":
		return ParseDefinitionYAML(data)
	default:
		return nil, fmt.Errorf("unsupported file extension: %s", filepath.Ext(path))
	}
}

// MarshalDefinitionYAML encodes a definition as YAML.
func MarshalDefinitionYAML(def *Definition) ([]byte, error) {
	return yaml.Marshal(def)
}
