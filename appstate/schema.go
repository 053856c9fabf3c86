package appstate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	genschema "github.com/invopop/jsonschema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// ErrInvalidSnapshot marks remote or imported data that failed to parse
// or validate as an application-state snapshot. Callers must leave
// local state untouched when they see it.
var ErrInvalidSnapshot = errors.New("appstate: invalid snapshot")

const schemaURL = "https://yeying.pub/schemas/ucansync-snapshot.json"

// snapshotSchema compiles the snapshot schema once, generated by
// reflection over AppState. Unknown fields are allowed so newer app
// versions can add slice fields without breaking older readers.
var snapshotSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	reflector := genschema.Reflector{AllowAdditionalProperties: true, Anonymous: true}
	raw, err := json.Marshal(reflector.Reflect(&AppState{}))
	if err != nil {
		return nil, fmt.Errorf("marshal generated schema: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode generated schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, doc); err != nil {
		return nil, fmt.Errorf("register schema: %w", err)
	}
	return compiler.Compile(schemaURL)
})

// EncodeSnapshot serializes a snapshot for upload or export.
func EncodeSnapshot(state AppState) ([]byte, error) {
	return json.Marshal(state)
}

// DecodeSnapshot parses and validates snapshot bytes. Any failure wraps
// ErrInvalidSnapshot; the caller's local state must stay untouched.
func DecodeSnapshot(data []byte) (*AppState, error) {
	schema, err := snapshotSchema()
	if err != nil {
		return nil, fmt.Errorf("compile snapshot schema: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	var state AppState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	return &state, nil
}
