// Package validate checks connector definitions at registration time,
// instance configuration at provisioning time, and call input against an
// endpoint's declared parameters.
package validate

import (
	"fmt"

	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/connector/core"
	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/errors"
)

// Definition checks the invariants a connector definition must hold before
// it can be registered.
func Definition(def *core.ConnectorDefinition) error {
	if def == nil {
		return errors.ConfigurationInvalid("connector definition is nil")
	}
	if def.ID == "" {
		return errors.ConfigurationInvalid("connector id is required")
	}
	if def.Name == "" {
		return errors.ConfigurationInvalid("connector name is required")
	}
	if def.Version == "" {
		return errors.ConfigurationInvalid("connector version is required")
	}
	if def.Category == "" {
		return errors.ConfigurationInvalid("connector category is required")
	}
	if len(def.Endpoints) == 0 {
		return errors.ConfigurationInvalid("connector must declare at least one endpoint")
	}

	seen := make(map[string]bool, len(def.Endpoints))
	for _, ep := range def.Endpoints {
		if ep.ID == "" {
			return errors.ConfigurationInvalid("endpoint id is required")
		}
		if seen[ep.ID] {
			return errors.ConfigurationInvalid(fmt.Sprintf("duplicate endpoint id %q", ep.ID))
		}
		seen[ep.ID] = true
		if ep.Method == "" {
			return errors.ConfigurationInvalid(fmt.Sprintf("endpoint %s declares no HTTP method", ep.ID))
		}
		if ep.Path == "" {
			return errors.ConfigurationInvalid(fmt.Sprintf("endpoint %s declares no path", ep.ID))
		}
	}

	for _, rule := range def.Mappings.All() {
		if rule.Source == "" || rule.Target == "" {
			return errors.ConfigurationInvalid("mapping rules require non-empty source and target fields")
		}
	}

	for _, hook := range def.Webhooks {
		if hook.ID == "" || hook.Path == "" {
			return errors.ConfigurationInvalid("webhook definitions require non-empty id and path")
		}
	}

	return nil
}

// Input checks that every required parameter of the endpoint is present and
// that present values match their declared types. Validation stops at the
// first failing required field and names it; the connector-level validation
// spec is applied after the endpoint's own parameters.
func Input(input core.Record, ep *core.EndpointDefinition, spec core.ValidationSpec) error {
	for _, param := range ep.Parameters {
		value, present := input[param.Name]
		if !present {
			if param.Required {
				return errors.ValidationFailed(param.Name,
					fmt.Sprintf("required parameter %s is missing", param.Name))
			}
			continue
		}
		if param.Type != "" && !typeMatches(value, param.Type) {
			return errors.ValidationFailed(param.Name,
				fmt.Sprintf("parameter %s must be of type %s", param.Name, param.Type))
		}
	}

	if ep.RequestBody != nil && ep.RequestBody.Required {
		if _, present := input["body"]; !present {
			return errors.ValidationFailed("body", "request body is required")
		}
	}

	for _, name := range spec.Required {
		if _, present := input[name]; !present {
			return errors.ValidationFailed(name,
				fmt.Sprintf("required field %s is missing", name))
		}
	}
	for name, typ := range spec.Types {
		if value, present := input[name]; present && !typeMatches(value, typ) {
			return errors.ValidationFailed(name,
				fmt.Sprintf("field %s must be of type %s", name, typ))
		}
	}

	return nil
}

// InstanceConfig checks a configuration map against the connector's declared
// schema: required fields present, declared types respected.
func InstanceConfig(config map[string]interface{}, schema []core.ConfigField) error {
	for _, field := range schema {
		value, present := config[field.Name]
		if !present {
			if field.Required {
				return errors.ConfigurationInvalid(
					fmt.Sprintf("required configuration field %s is missing", field.Name))
			}
			continue
		}
		if field.Type != "" && !typeMatches(value, field.Type) {
			return errors.ConfigurationInvalid(
				fmt.Sprintf("configuration field %s must be of type %s", field.Name, field.Type))
		}
	}
	return nil
}

func typeMatches(value interface{}, declared string) bool {
	switch declared {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		switch value.(type) {
		case float64, float32, int, int32, int64:
			return true
		}
		return false
	case "integer":
		switch v := value.(type) {
		case int, int32, int64:
			return true
		case float64:
			return v == float64(int64(v))
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "object":
		_, ok := value.(map[string]interface{})
		return ok
	case "array":
		_, ok := value.([]interface{})
		return ok
	default:
		// Unknown declared types are not enforced.
		return true
	}
}
