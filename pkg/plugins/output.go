package plugins

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"

	lru "github.com/hashicorp/golang-lru/v2"
	invopop "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

const outputSchemaCacheSize = 256

var outputSchemas = func() *lru.Cache[reflect.Type, *OutputSchema] {
	c, err := lru.New[reflect.Type, *OutputSchema](outputSchemaCacheSize)
	if err != nil {
		panic(err)
	}
	return c
}()

// OutputSchema is the JSON schema of a plugin's result type
type OutputSchema struct {
	Type reflect.Type
	JSON []byte

	compiled *jsonschema.Schema
}

// OutputSchemaFor generates and compiles the JSON schema of the type of v,
// usually MetaData.Schema. Schemas are cached per type.
func OutputSchemaFor(v any) (*OutputSchema, error) {
	if v == nil {
		return nil, fmt.Errorf("cannot generate output schema for nil")
	}
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if cached, ok := outputSchemas.Get(t); ok {
		return cached, nil
	}

	r := &invopop.Reflector{}
	raw, err := r.ReflectFromType(t).MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to create output schema for %s: %w", t, err)
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal output schema for %s: %w", t, err)
	}
	const url = "output.json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("failed to add output schema for %s: %w", t, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("failed to compile output schema for %s: %w", t, err)
	}

	s := &OutputSchema{Type: t, JSON: raw, compiled: compiled}
	outputSchemas.Add(t, s)
	return s, nil
}

// Validate checks that result conforms to the schema
func (s *OutputSchema) Validate(result any) error {
	content, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(content))
	if err != nil {
		return fmt.Errorf("failed to unmarshal result: %w", err)
	}
	if err := s.compiled.Validate(inst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResult, err)
	}
	return nil
}
