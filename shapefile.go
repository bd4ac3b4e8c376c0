package strand

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/strandkit/strand/pkg/api"
)

// ParseShape decodes a YAML shape document:
//
//	name: send-fax
//	nodes:
//	  - perform: prepare
//	  - parallel:
//	      join: or
//	      branches:
//	        - - receive: {control: fax, event: onSent}
//	          - perform: recordSent
//	        - - receive: {control: timer, event: onTimeout}
//	          - perform: recordTimeout
//	  - perform: finish
//
// Structural validation (duplicate wait ids, empty branches, handler
// bindings) happens when the definition is registered, not here.
func ParseShape(data []byte) (ShapeDefinition, error) {
	var def api.ShapeDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return ShapeDefinition{}, fmt.Errorf("parse shape: %w", err)
	}
	return def, nil
}

// LoadShapeFile reads and parses a YAML shape document from disk.
func LoadShapeFile(path string) (ShapeDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ShapeDefinition{}, fmt.Errorf("load shape %s: %w", path, err)
	}
	return ParseShape(data)
}

// BindHandlers pairs a parsed shape with its action handlers, producing a
// definition ready for registration.
func BindHandlers(shape ShapeDefinition, handlers map[string]ActionFunc) ProcessDefinition {
	return ProcessDefinition{Shape: shape, Handlers: handlers}
}
