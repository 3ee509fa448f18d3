// Package validation checks persisted documents against their JSON
// Schemas. A session file that fails validation is treated as corrupt by
// the store, which is what keeps a damaged file from triggering a bogus
// resume prompt.
package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"

	"github.com/brodbeck-lab/battery/schemas"
)

// defaultPrinter is used to format schema validation error messages.
var defaultPrinter = message.NewPrinter(language.English)

// sessionSchema is the compiled JSON Schema for session_state.json documents.
var sessionSchema *jsonschema.Schema

// recoverySchema is the compiled JSON Schema for recovery_data.json wrappers.
var recoverySchema *jsonschema.Schema

// batterySchema is the compiled JSON Schema for battery definition YAML files.
var batterySchema *jsonschema.Schema

func init() {
	sessionSchema = mustCompileSchema(schemas.SessionSchemaJSON, "session.schema.json")
	recoverySchema = mustCompileSchema(schemas.RecoverySchemaJSON, "recovery.schema.json")
	batterySchema = mustCompileSchema(schemas.BatterySchemaJSON, "battery.schema.json")
}

func mustCompileSchema(raw string, name string) *jsonschema.Schema {
	var schemaDoc any
	if err := json.Unmarshal([]byte(raw), &schemaDoc); err != nil {
		panic(fmt.Sprintf("failed to parse embedded %s: %v", name, err))
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, schemaDoc); err != nil {
		panic(fmt.Sprintf("failed to add %s resource: %v", name, err))
	}

	sch, err := compiler.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("failed to compile %s: %v", name, err))
	}
	return sch
}

// ValidateSessionBytes validates raw JSON bytes against the session
// document schema. Returns nil when the document is valid.
func ValidateSessionBytes(data []byte) []string {
	return validateJSONBytes(sessionSchema, data)
}

// ValidateRecoveryBytes validates raw JSON bytes against the recovery
// wrapper schema.
func ValidateRecoveryBytes(data []byte) []string {
	return validateJSONBytes(recoverySchema, data)
}

// ValidateBatteryBytes validates raw YAML bytes against the battery
// definition schema.
func ValidateBatteryBytes(data []byte) []string {
	return validateYAMLBytes(batterySchema, data)
}

func validateJSONBytes(schema *jsonschema.Schema, data []byte) []string {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return []string{fmt.Sprintf("JSON parse error: %v", err)}
	}
	return validateAgainstSchema(schema, doc)
}

func validateYAMLBytes(schema *jsonschema.Schema, data []byte) []string {
	var yamlDoc any
	if err := yaml.Unmarshal(data, &yamlDoc); err != nil {
		return []string{fmt.Sprintf("YAML parse error: %v", err)}
	}

	// yaml.v3 decodes to map[string]any already; values just need a
	// recursive pass so nested maps and slices line up with what the
	// validator expects.
	jsonCompatible := convertToJSONCompatible(yamlDoc)

	return validateAgainstSchema(schema, jsonCompatible)
}

func validateAgainstSchema(schema *jsonschema.Schema, instance any) []string {
	err := schema.Validate(instance)
	if err == nil {
		return nil
	}
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []string{fmt.Sprintf("schema: %v", err)}
	}
	var errs []string
	collectSchemaErrors(ve, &errs)
	return errs
}

func collectSchemaErrors(ve *jsonschema.ValidationError, errs *[]string) {
	if len(ve.Causes) == 0 {
		loc := "/"
		if len(ve.InstanceLocation) > 0 {
			loc = "/" + strings.Join(ve.InstanceLocation, "/")
		}
		*errs = append(*errs, fmt.Sprintf("%s: %s", loc, ve.ErrorKind.LocalizedString(defaultPrinter)))
		return
	}
	for _, c := range ve.Causes {
		collectSchemaErrors(c, errs)
	}
}

func convertToJSONCompatible(v any) any {
	switch val := v.(type) {
	case map[string]any:
		result := make(map[string]any, len(val))
		for k, v2 := range val {
			result[k] = convertToJSONCompatible(v2)
		}
		return result
	case []any:
		result := make([]any, len(val))
		for i, v2 := range val {
			result[i] = convertToJSONCompatible(v2)
		}
		return result
	default:
		return val
	}
}
