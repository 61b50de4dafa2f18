package tool

import (
	"fmt"
	"strings"
)

// validateArgs checks arguments against the declared parameters and
// aggregates every violation into a single error, so callers see the
// full list at once rather than fixing one field per attempt.
func validateArgs(def Definition, args map[string]any) error {
	var violations []string

	for _, p := range def.Parameters {
		value, present := args[p.Name]
		if !present {
			if p.Required {
				violations = append(violations, fmt.Sprintf("missing required parameter %q", p.Name))
			}
			continue
		}
		if value == nil {
			if p.Required {
				violations = append(violations, fmt.Sprintf("parameter %q cannot be null", p.Name))
			}
			continue
		}

		if !typeMatches(p.Type, value) {
			violations = append(violations, fmt.Sprintf("parameter %q must be of type %s, got %T", p.Name, p.Type, value))
			continue
		}

		if len(p.Enum) > 0 {
			s, _ := value.(string)
			if !contains(p.Enum, s) {
				violations = append(violations, fmt.Sprintf("parameter %q must be one of [%s], got %q",
					p.Name, strings.Join(p.Enum, ", "), s))
			}
		}
	}

	if len(violations) > 0 {
		return fmt.Errorf("invalid arguments: %s", strings.Join(violations, "; "))
	}
	return nil
}

// typeMatches checks a decoded JSON value against a declared primitive
// type. JSON numbers decode as float64, so integer accepts whole
// floats.
func typeMatches(declared string, value any) bool {
	switch declared {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		switch value.(type) {
		case float64, float32, int, int64:
			return true
		}
		return false
	case "integer":
		switch v := value.(type) {
		case int, int64:
			return true
		case float64:
			return v == float64(int64(v))
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	default:
		// Unknown declared types do not fail validation.
		return true
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
