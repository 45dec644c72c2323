// SPDX-License-Identifier: Apache-2.0
package executor

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/taskweave/taskweave/pkg/capability"
	"github.com/taskweave/taskweave/pkg/errors"
)

// ValidateParams checks params against the capability's input schema. All
// violations are accumulated into a single INVALID_PARAMS error so the user
// can correct everything in one turn. The returned map holds only declared
// fields with normalized values.
func ValidateParams(spec *capability.Spec, params map[string]any) (map[string]any, error) {
	var violations []string
	out := make(map[string]any, len(params))

	for name := range params {
		if spec.Field(name) == nil {
			violations = append(violations, fmt.Sprintf("%s: not a declared field", name))
		}
	}

	for i := range spec.InputSchema {
		f := &spec.InputSchema[i]
		value, present := params[f.Name]
		if !present || value == nil {
			if spec.IsRequired(f.Name) {
				violations = append(violations, fmt.Sprintf("%s: required field is missing", f.Name))
			}
			continue
		}
		normalized, errs := validateField(f, value)
		if len(errs) > 0 {
			violations = append(violations, errs...)
			continue
		}
		out[f.Name] = normalized
	}

	if len(violations) > 0 {
		return nil, errors.New(errors.CodeInvalidParams,
			fmt.Sprintf("%d parameter violation(s) for %s", len(violations), spec.Name), nil).
			WithContext("violations", violations).
			WithContext("capability", spec.Name)
	}
	return out, nil
}

func validateField(f *capability.FieldSchema, value any) (any, []string) {
	switch f.Type {
	case capability.TypeString:
		return validateString(f, value)
	case capability.TypeNumber:
		return validateNumber(f, value)
	case capability.TypeBoolean:
		if b, ok := value.(bool); ok {
			return b, nil
		}
		return nil, []string{fmt.Sprintf("%s: expected boolean, got %T", f.Name, value)}
	case capability.TypeArray:
		return validateArray(f, value)
	case capability.TypeObject:
		if m, ok := value.(map[string]any); ok {
			return m, nil
		}
		return nil, []string{fmt.Sprintf("%s: expected object, got %T", f.Name, value)}
	case capability.TypeDate:
		return validateTimeString(f, value, "2006-01-02", "date like 2026-08-25")
	case capability.TypeTime:
		return validateTimeString(f, value, "15:04", "time like 14:00")
	case capability.TypeDatetime:
		return validateDatetime(f, value)
	default:
		return nil, []string{fmt.Sprintf("%s: unknown field type %q", f.Name, f.Type)}
	}
}

func validateString(f *capability.FieldSchema, value any) (any, []string) {
	s, ok := value.(string)
	if !ok {
		return nil, []string{fmt.Sprintf("%s: expected string, got %T", f.Name, value)}
	}
	var violations []string
	if len(f.Enum) > 0 && !contains(f.Enum, s) {
		violations = append(violations, fmt.Sprintf("%s: %q is not one of %v", f.Name, s, f.Enum))
	}
	if v := f.Validation; v != nil {
		if v.MinLength != nil && len(s) < *v.MinLength {
			violations = append(violations, fmt.Sprintf("%s: shorter than %d characters", f.Name, *v.MinLength))
		}
		if v.MaxLength != nil && len(s) > *v.MaxLength {
			violations = append(violations, fmt.Sprintf("%s: longer than %d characters", f.Name, *v.MaxLength))
		}
		if v.Pattern != "" {
			re, err := regexp.Compile(v.Pattern)
			if err != nil {
				violations = append(violations, fmt.Sprintf("%s: invalid validation pattern", f.Name))
			} else if !re.MatchString(s) {
				violations = append(violations, fmt.Sprintf("%s: does not match %s", f.Name, v.Pattern))
			}
		}
	}
	if len(violations) > 0 {
		return nil, violations
	}
	return s, nil
}

func validateNumber(f *capability.FieldSchema, value any) (any, []string) {
	var n float64
	switch v := value.(type) {
	case float64:
		n = v
	case float32:
		n = float64(v)
	case int:
		n = float64(v)
	case int64:
		n = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return nil, []string{fmt.Sprintf("%s: %q is not a number", f.Name, v.String())}
		}
		n = parsed
	default:
		return nil, []string{fmt.Sprintf("%s: expected number, got %T", f.Name, value)}
	}
	if v := f.Validation; v != nil {
		if v.Min != nil && n < *v.Min {
			return nil, []string{fmt.Sprintf("%s: %v is below minimum %v", f.Name, n, *v.Min)}
		}
		if v.Max != nil && n > *v.Max {
			return nil, []string{fmt.Sprintf("%s: %v is above maximum %v", f.Name, n, *v.Max)}
		}
	}
	return n, nil
}

func validateArray(f *capability.FieldSchema, value any) (any, []string) {
	switch v := value.(type) {
	case []any:
		return v, nil
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, nil
	default:
		return nil, []string{fmt.Sprintf("%s: expected array, got %T", f.Name, value)}
	}
}

func validateTimeString(f *capability.FieldSchema, value any, layout, hint string) (any, []string) {
	s, ok := value.(string)
	if !ok {
		return nil, []string{fmt.Sprintf("%s: expected %s, got %T", f.Name, hint, value)}
	}
	if _, err := time.Parse(layout, s); err != nil {
		return nil, []string{fmt.Sprintf("%s: %q is not a %s", f.Name, s, hint)}
	}
	return s, nil
}

var datetimeLayouts = []string{"2006-01-02 15:04", time.RFC3339, "2006-01-02T15:04"}

func validateDatetime(f *capability.FieldSchema, value any) (any, []string) {
	s, ok := value.(string)
	if !ok {
		return nil, []string{fmt.Sprintf("%s: expected datetime string, got %T", f.Name, value)}
	}
	for _, layout := range datetimeLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return s, nil
		}
	}
	return nil, []string{fmt.Sprintf("%s: %q is not a datetime like 2026-08-25 14:00", f.Name, s)}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
