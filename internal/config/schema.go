// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"
)

// SchemaID is the $id of the config schema.
const SchemaID = "https://holomush.dev/schemas/authcore/config.schema.json"

var (
	printer = message.NewPrinter(language.English)

	compiledOnce   sync.Once
	compiledSchema *jschema.Schema
	compileErr     error
)

// GenerateSchema reflects the JSON Schema for the config file from Config.
func GenerateSchema() ([]byte, error) {
	r := jsonschema.Reflector{
		DoNotReference: true,
	}
	schema := r.Reflect(&Config{})

	schema.ID = jsonschema.ID(SchemaID)
	schema.Title = "authcore configuration"
	schema.Description = "Schema for authcore config.yaml files"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return data, nil
}

// ValidateYAML validates YAML config data against the schema. An empty
// document is valid. Violations wrap a *jsonschema.ValidationError; see
// FormatSchemaError.
func ValidateYAML(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid YAML: %w", err)
	}
	if doc == nil {
		return nil
	}

	sch, err := compiled()
	if err != nil {
		return fmt.Errorf("failed to compile schema: %w", err)
	}
	if err := sch.Validate(toJSONTypes(doc)); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

// FormatSchemaError renders a validation error as one line per violation,
// each naming the offending path in the config document. Other errors are
// returned as is.
func FormatSchemaError(err error) string {
	if err == nil {
		return ""
	}
	var verr *jschema.ValidationError
	if !errors.As(err, &verr) {
		return err.Error()
	}
	var lines []string
	collectViolations(verr, &lines)
	return strings.Join(lines, "\n")
}

// collectViolations appends the leaf causes of e. Inner nodes only group
// their causes under a keyword.
func collectViolations(e *jschema.ValidationError, lines *[]string) {
	if len(e.Causes) == 0 {
		*lines = append(*lines, fmt.Sprintf("at %s: %s",
			instancePointer(e.InstanceLocation), e.ErrorKind.LocalizedString(printer)))
		return
	}
	for _, cause := range e.Causes {
		collectViolations(cause, lines)
	}
}

var pointerEscaper = strings.NewReplacer("~", "~0", "/", "~1")

// instancePointer renders an instance location as a JSON pointer; the
// document root is "/".
func instancePointer(loc []string) string {
	if len(loc) == 0 {
		return "/"
	}
	var sb strings.Builder
	for _, tok := range loc {
		sb.WriteByte('/')
		sb.WriteString(pointerEscaper.Replace(tok))
	}
	return sb.String()
}

func compiled() (*jschema.Schema, error) {
	compiledOnce.Do(func() {
		var raw []byte
		raw, compileErr = GenerateSchema()
		if compileErr != nil {
			return
		}
		var doc any
		if compileErr = json.Unmarshal(raw, &doc); compileErr != nil {
			return
		}
		// Registered under its $id so nothing resolves against the working
		// directory.
		c := jschema.NewCompiler()
		if compileErr = c.AddResource(SchemaID, doc); compileErr != nil {
			return
		}
		compiledSchema, compileErr = c.Compile(SchemaID)
	})
	return compiledSchema, compileErr
}

// toJSONTypes normalizes yaml.v3 output for the validator. Non-string map
// keys are stringified.
func toJSONTypes(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			out[k] = toJSONTypes(v)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			out[fmt.Sprint(k)] = toJSONTypes(v)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, v := range val {
			out[i] = toJSONTypes(v)
		}
		return out
	default:
		return val
	}
}
