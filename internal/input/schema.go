package input

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// SchemaURL identifies the embedded wire schema.
const SchemaURL = "https://rawinputd.local/schema/input-event-v1.schema.json"

//go:embed schema/input-event-v1.schema.json
var schemaJSON []byte

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

// Schema returns the raw JSON Schema document for wire lines.
func Schema() []byte {
	return append([]byte(nil), schemaJSON...)
}

func loadSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(SchemaURL, bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile(SchemaURL)
	})
	return compiledSchema, schemaErr
}

// ValidateLine checks a single wire line against the event schema.
func ValidateLine(line []byte) error {
	schema, err := loadSchema()
	if err != nil {
		return err
	}

	dec := json.NewDecoder(bytes.NewReader(bytes.TrimRight(line, "\r\n")))
	dec.UseNumber()
	var instance any
	if err := dec.Decode(&instance); err != nil {
		return fmt.Errorf("unmarshal line: %w", err)
	}
	if dec.More() {
		return fmt.Errorf("unmarshal line: trailing data")
	}
	return schema.Validate(instance)
}
