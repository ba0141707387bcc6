package config

import (
	"encoding/json"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/xlr8harder/mq/internal/mqerr"
)

// entrySchema constrains one registry entry. Kept strict: unknown fields are
// rejected so typos surface at add time instead of silently riding along.
const entrySchema = `{
  "type": "object",
  "required": ["provider", "model"],
  "additionalProperties": false,
  "properties": {
    "provider": {"type": "string", "minLength": 1},
    "model": {"type": "string", "minLength": 1},
    "sysprompt": {"type": "string"},
    "temperature": {"type": "number", "minimum": 0, "maximum": 2},
    "top_p": {"type": "number", "minimum": 0, "maximum": 1},
    "top_k": {"type": "integer", "minimum": 1}
  }
}`

var entrySchemaLoader = gojsonschema.NewStringLoader(entrySchema)

// ValidateEntry checks a registry entry against the schema.
func ValidateEntry(shortname string, entry ModelConfig) error {
	doc, err := json.Marshal(entry)
	if err != nil {
		return mqerr.Config("invalid model entry for %q: %v", shortname, err).Wrap(err)
	}

	result, err := gojsonschema.Validate(entrySchemaLoader, gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return mqerr.Config("failed to validate model entry for %q: %v", shortname, err).Wrap(err)
	}
	if result.Valid() {
		return nil
	}

	var problems []string
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}
	return mqerr.Config("invalid model entry for %q: %s", shortname, strings.Join(problems, "; "))
}
