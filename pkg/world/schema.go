package world

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

const objectSchemaJSON = `{
  "type": "object",
  "required": ["name"],
  "additionalProperties": false,
  "properties": {
    "ref":         {"type": "integer", "minimum": 0},
    "type":        {"enum": ["thing", "room", "living", "monster", "npc", "player", "user", "shadow", "garbage"]},
    "name":        {"type": "string"},
    "aliases":     {"type": "array", "items": {"type": "string"}},
    "short":       {"type": "string"},
    "program":     {"type": "string", "pattern": "^/"},
    "clone":       {"type": "boolean"},
    "location":    {"type": "integer", "minimum": 0},
    "exits":       {"type": "object", "additionalProperties": {"type": "string"}},
    "invis_exits": {"type": "object", "additionalProperties": {"type": "string"}},
    "shadows":     {"type": "array", "items": {"type": "integer", "minimum": 0}},
    "gender":      {"enum": ["male", "female", "neuter", "m", "f", ""]},
    "level":       {"type": "integer", "minimum": 0},
    "interactive": {"type": "boolean"},
    "hostname":    {"type": "string"},
    "props":       {"type": "object", "additionalProperties": {"type": ["string", "number", "boolean"]}}
  }
}`

var (
	blueprintSchema = jsonschema.MustCompileString("blueprint.schema.json", objectSchemaJSON)
	worldSchema     = jsonschema.MustCompileString("world.schema.json", `{
  "type": "object",
  "required": ["objects"],
  "properties": {
    "objects": {"type": "array", "items": `+objectSchemaJSON+`}
  }
}`)
)

// validateYAML checks a YAML document against a JSON schema. The document
// is round-tripped through JSON so the validator sees JSON-native types.
func validateYAML(schema *jsonschema.Schema, data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("world: parse: %w", err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("world: not representable as JSON: %w", err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("world: invalid document: %w", err)
	}
	return nil
}
