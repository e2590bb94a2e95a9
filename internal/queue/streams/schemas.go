package streams

import "fmt"

const (
	// EventSearchJob carries one SearchJob on the job stream.
	EventSearchJob = "search.job"
	// EventSearchResult carries one ranked result on the results stream.
	EventSearchResult = "search.result"

	VersionV1 = "v1"
)

// Definition describes a schema entry managed by the registry.
type Definition struct {
	EventType string
	Version   string
	Schema    []byte
}

var baseDefinitions = []Definition{
	{
		EventType: EventSearchJob,
		Version:   VersionV1,
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["comic_id", "volume_id", "volume_name", "issue_number"],
  "properties": {
    "comic_id": {"type": "string"},
    "volume_id": {"type": "integer"},
    "volume_name": {"type": "string", "minLength": 1},
    "issue_number": {"type": "string"},
    "cover_date": {"type": "string"},
    "year": {"type": "string"}
  },
  "additionalProperties": true
}`),
	},
	{
		EventType: EventSearchResult,
		Version:   VersionV1,
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["query", "result"],
  "properties": {
    "query": {"type": "string"},
    "correlation_id": {"type": "string"},
    "result": {
      "type": "object",
      "required": ["id", "name", "score", "query"],
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "name": {"type": "string"},
        "source": {"type": "string"},
        "score": {"type": "number", "minimum": 0, "maximum": 1},
        "query": {"type": "string"},
        "metadata": {"type": "object"}
      }
    },
    "job": {"type": "object"}
  },
  "additionalProperties": true
}`),
	},
}

// RegisterBaseSchemas registers the job and result payload schemas.
func RegisterBaseSchemas(reg *SchemaRegistry) error {
	for _, def := range baseDefinitions {
		if err := reg.Register(def.EventType, def.Version, def.Schema); err != nil {
			return fmt.Errorf("register %s %s: %w", def.EventType, def.Version, err)
		}
	}
	return nil
}

// NewBaseRegistry returns a registry with the base schemas already registered.
func NewBaseRegistry() (*SchemaRegistry, error) {
	reg := NewSchemaRegistry()
	if err := RegisterBaseSchemas(reg); err != nil {
		return nil, err
	}
	return reg, nil
}
