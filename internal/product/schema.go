package product

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"rcagent/internal/tuf"
)

// schemaGate wraps a subscriber and validates incoming config content
// against a JSON schema before delivery. A validation failure is a consumer
// error: the offending config is marked apply_state=ERROR while the rest of
// the cycle proceeds.
type schemaGate struct {
	Subscriber
	schema *jsonschema.Schema
}

// WithSchema returns a subscriber that rejects config content not matching
// the schema. Removal operations (nil content) pass through unchecked.
func WithSchema(sub Subscriber, schema *jsonschema.Schema) Subscriber {
	return &schemaGate{Subscriber: sub, schema: schema}
}

// CompileSchema compiles a JSON schema document for use with WithSchema.
func CompileSchema(name string, document []byte) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(document)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

func (g *schemaGate) Append(content []byte, path string, meta tuf.ConfigMetadata) error {
	if content != nil {
		var doc any
		if err := json.Unmarshal(content, &doc); err != nil {
			return fmt.Errorf("decode config %s: %w", meta.ID, err)
		}
		if err := g.schema.Validate(doc); err != nil {
			return fmt.Errorf("config %s failed schema validation: %w", meta.ID, err)
		}
	}
	return g.Subscriber.Append(content, path, meta)
}
