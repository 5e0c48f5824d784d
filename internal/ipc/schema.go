package ipc

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// commandSchemas holds a JSON Schema (draft 2020-12, the jsonschema/v5
// default) per command that takes required parameters. Commands absent
// from this map take no params or accept any shape — Params carries
// every field besides cmd verbatim, and validation here only catches
// the malformed-request case before it reaches the handler, using a
// compile-once, validate-many pattern for the same library.
var commandSchemas = map[string]string{
	"rename_recording": `{
		"type": "object",
		"required": ["from", "to"],
		"properties": {
			"from": {"type": "string", "minLength": 1},
			"to": {"type": "string", "minLength": 1}
		}
	}`,
	"play": `{
		"type": "object",
		"required": ["file"],
		"properties": {
			"file": {"type": "string", "minLength": 1},
			"speed": {"type": "number", "exclusiveMinimum": 0},
			"jitter_time": {"type": "number", "minimum": 0},
			"jitter_hold": {"type": "number", "minimum": 0},
			"loop": {"type": "integer"}
		}
	}`,
	"play_selection": `{
		"type": "object",
		"required": ["file"],
		"properties": {
			"file": {"type": "string", "minLength": 1}
		}
	}`,
	"save_skill": `{
		"type": "object",
		"required": ["name", "keystroke"],
		"properties": {
			"id": {"type": "string"},
			"name": {"type": "string", "minLength": 1},
			"keystroke": {"type": "string", "minLength": 1},
			"cooldown": {"type": "number", "minimum": 0}
		}
	}`,
	"update_skill": `{
		"type": "object",
		"required": ["id", "updates"],
		"properties": {
			"id": {"type": "string", "minLength": 1},
			"updates": {"type": "object"}
		}
	}`,
	"delete_skill": `{
		"type": "object",
		"required": ["id"],
		"properties": {"id": {"type": "string", "minLength": 1}}
	}`,
	"reorder_skills": `{
		"type": "object",
		"required": ["ids"],
		"properties": {
			"ids": {"type": "array", "items": {"type": "string"}}
		}
	}`,
	"save_map_config": `{
		"type": "object",
		"required": ["name"],
		"properties": {"name": {"type": "string", "minLength": 1}}
	}`,
	"get_map_config": `{
		"type": "object",
		"required": ["name"],
		"properties": {"name": {"type": "string", "minLength": 1}}
	}`,
	"delete_map_config": `{
		"type": "object",
		"required": ["name"],
		"properties": {"name": {"type": "string", "minLength": 1}}
	}`,
	"activate_map_config": `{
		"type": "object",
		"required": ["name"],
		"properties": {"name": {"type": "string", "minLength": 1}}
	}`,
	"save_cv_item": `{
		"type": "object",
		"required": ["name"],
		"properties": {"name": {"type": "string", "minLength": 1}}
	}`,
	"get_cv_item": `{
		"type": "object",
		"required": ["name"],
		"properties": {"name": {"type": "string", "minLength": 1}}
	}`,
	"delete_cv_item": `{
		"type": "object",
		"required": ["name"],
		"properties": {"name": {"type": "string", "minLength": 1}}
	}`,
	"activate_cv_item": `{
		"type": "object",
		"required": ["name"],
		"properties": {"name": {"type": "string", "minLength": 1}}
	}`,
	"cv_auto_start": `{
		"type": "object",
		"required": ["item"],
		"properties": {"item": {"type": "string", "minLength": 1}}
	}`,
}

// validator compiles every entry in commandSchemas once at Server
// construction time and validates decoded request params against the
// schema named by the command, if any.
type validator struct {
	schemas map[string]*jsonschema.Schema
}

func newValidator() (*validator, error) {
	compiler := jsonschema.NewCompiler()
	// Sorted iteration keeps compile errors reproducible across runs.
	names := make([]string, 0, len(commandSchemas))
	for cmd := range commandSchemas {
		names = append(names, cmd)
	}
	sort.Strings(names)

	for _, cmd := range names {
		uri := "mem://" + cmd + ".schema.json"
		if err := compiler.AddResource(uri, bytes.NewReader([]byte(commandSchemas[cmd]))); err != nil {
			return nil, fmt.Errorf("ipc: add schema resource for %s: %w", cmd, err)
		}
	}

	v := &validator{schemas: make(map[string]*jsonschema.Schema, len(names))}
	for _, cmd := range names {
		uri := "mem://" + cmd + ".schema.json"
		schema, err := compiler.Compile(uri)
		if err != nil {
			return nil, fmt.Errorf("ipc: compile schema for %s: %w", cmd, err)
		}
		v.schemas[cmd] = schema
	}
	return v, nil
}

// Validate reports a schema violation for cmd's params, or nil if cmd
// has no registered schema or params conform to it.
func (v *validator) Validate(cmd string, params map[string]any) error {
	schema, ok := v.schemas[cmd]
	if !ok {
		return nil
	}
	instance := params
	if instance == nil {
		instance = map[string]any{}
	}
	return schema.Validate(instance)
}
