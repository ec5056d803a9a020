package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// envelopeSchema describes every frame an agent may send. updateState
// additionally requires a positional [url, content] list.
const envelopeSchema = `{
	"type": "object",
	"required": ["type"],
	"properties": {
		"type": {"type": "string", "minLength": 1},
		"args": {"type": ["array", "object", "null"]},
		"sender_id": {"type": ["string", "null"]},
		"timestamp": {"type": ["string", "number", "null"]}
	},
	"if": {"properties": {"type": {"const": "updateState"}}},
	"then": {
		"required": ["args"],
		"properties": {
			"args": {
				"type": "array",
				"minItems": 1,
				"prefixItems": [
					{"type": ["string", "null"]},
					{"type": ["string", "null"]}
				]
			}
		}
	}
}`

var inboundSchema = mustCompileSchema("envelope.json", envelopeSchema)

func mustCompileSchema(name, src string) *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
	if err != nil {
		panic(fmt.Sprintf("unmarshal %s: %v", name, err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		panic(fmt.Sprintf("add schema resource %s: %v", name, err))
	}
	schema, err := c.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("compile %s: %v", name, err))
	}
	return schema
}

// DecodeEnvelope parses and validates one inbound frame. Every failure
// wraps ErrMalformedEnvelope.
func DecodeEnvelope(frame []byte) (*Envelope, error) {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", ErrMalformedEnvelope, err)
	}
	if err := inboundSchema.Validate(inst); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return &env, nil
}

// StateUpdate extracts (url, content) from an updateState envelope.
// A null or missing element is reported as absent.
func (e *Envelope) StateUpdate() (url, content *string, err error) {
	if e.Type != MessageTypeUpdateState {
		return nil, nil, fmt.Errorf("%w: %q is not %q", ErrMalformedEnvelope, e.Type, MessageTypeUpdateState)
	}
	args, err := e.ArgList()
	if err != nil {
		return nil, nil, err
	}
	if url, err = optionalString(args, 0); err != nil {
		return nil, nil, err
	}
	if content, err = optionalString(args, 1); err != nil {
		return nil, nil, err
	}
	return url, content, nil
}

func optionalString(args []json.RawMessage, i int) (*string, error) {
	if i >= len(args) {
		return nil, nil
	}
	var s *string
	if err := json.Unmarshal(args[i], &s); err != nil {
		return nil, fmt.Errorf("%w: argument %d: %v", ErrMalformedEnvelope, i, err)
	}
	return s, nil
}
