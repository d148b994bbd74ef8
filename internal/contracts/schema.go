package contracts

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// registry maps a schema name (e.g. "model.manifest") to its compiled
// schema, resolved once at init. The schemas are the ground truth (§6):
// wire payloads must validate against them.
var registry = map[string]*jsonschema.Resolved{}

func intPtr(v int) *int { return &v }

func mustRegister(name string, schema *jsonschema.Schema) {
	resolved, err := schema.Resolve(nil)
	if err != nil {
		panic(fmt.Sprintf("contracts: invalid schema %q: %v", name, err))
	}
	registry[name] = resolved
}

func init() {
	mustRegister("model.manifest", &jsonschema.Schema{
		Type:     "object",
		Required: []string{"model_id", "model_family", "revision", "source", "total_size_bytes", "files"},
		Properties: map[string]*jsonschema.Schema{
			"model_id":         {Type: "string"},
			"model_family":     {Type: "string", Enum: []any{"parakeet", "whisper"}},
			"revision":         {Type: "string"},
			"source":           {Type: "string"},
			"total_size_bytes": {Type: "integer"},
			"license":          {Type: "string"},
			"verification":     {Type: "string"},
			"files": {
				Type: "array",
				Items: &jsonschema.Schema{
					Type:     "object",
					Required: []string{"path", "size_bytes", "sha256", "primary_url"},
					Properties: map[string]*jsonschema.Schema{
						"path":        {Type: "string"},
						"size_bytes":  {Type: "integer"},
						"sha256":      {Type: "string", Pattern: "^[0-9a-f]{64}$"},
						"primary_url": {Type: "string"},
						"mirror_urls": {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
					},
				},
			},
		},
	})

	mustRegister("replacements.rule", &jsonschema.Schema{
		Type:     "object",
		Required: []string{"id", "enabled", "kind", "pattern", "replacement"},
		Properties: map[string]*jsonschema.Schema{
			"id":             {Type: "string", MinLength: intPtr(1)},
			"enabled":        {Type: "boolean"},
			"kind":           {Type: "string", Enum: []any{"literal", "regex"}},
			"pattern":        {Type: "string", MinLength: intPtr(1), MaxLength: intPtr(256)},
			"replacement":    {Type: "string", MaxLength: intPtr(256)},
			"word_boundary":  {Type: "boolean"},
			"case_sensitive": {Type: "boolean"},
			"description":    {Type: "string"},
			"origin":         {Type: "string"},
		},
	})
}

// Validate checks instance (typically json.Marshal'd first) against the
// named registered schema.
func Validate(name string, instance any) error {
	resolved, ok := registry[name]
	if !ok {
		return fmt.Errorf("contracts: unknown schema %q", name)
	}
	raw, err := json.Marshal(instance)
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	return resolved.Validate(v)
}
