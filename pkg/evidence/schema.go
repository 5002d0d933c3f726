package evidence

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed bundle.schema.json
var bundleSchemaJSON []byte

const bundleSchemaURL = "https://aliasledger.schemas.local/evidence/bundle.schema.json"

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func bundleSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(bundleSchemaURL, bytes.NewReader(bundleSchemaJSON)); err != nil {
			schemaErr = fmt.Errorf("add bundle schema: %w", err)
			return
		}
		compiledSchema, schemaErr = c.Compile(bundleSchemaURL)
	})
	return compiledSchema, schemaErr
}

// ValidateSchema checks raw bundle JSON against the bundle schema.
func ValidateSchema(raw []byte) error {
	schema, err := bundleSchema()
	if err != nil {
		return err
	}
	var doc interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("decode bundle: %w", err)
	}
	return schema.Validate(doc)
}
