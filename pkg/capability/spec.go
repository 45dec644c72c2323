// Package capability defines the capability descriptor model and the
// registry that is the source of truth for every other orchestration
// component. Specs are immutable after registration except for the
// enable/disable flag held by the registry.
package capability

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/taskweave/taskweave/pkg/errors"
)

// FieldType enumerates the slot value types the slot-filling engine
// understands.
type FieldType string

const (
	TypeString   FieldType = "string"
	TypeNumber   FieldType = "number"
	TypeBoolean  FieldType = "boolean"
	TypeArray    FieldType = "array"
	TypeObject   FieldType = "object"
	TypeDate     FieldType = "date"
	TypeTime     FieldType = "time"
	TypeDatetime FieldType = "datetime"
)

// FieldValidation holds optional numeric/length/pattern bounds for a field.
type FieldValidation struct {
	Min       *float64 `yaml:"min,omitempty"`
	Max       *float64 `yaml:"max,omitempty"`
	MinLength *int     `yaml:"min_length,omitempty"`
	MaxLength *int     `yaml:"max_length,omitempty"`
	Pattern   string   `yaml:"pattern,omitempty"`
}

// FieldSchema describes a single input parameter of a capability.
type FieldSchema struct {
	Name                string           `yaml:"name"`
	Type                FieldType        `yaml:"type"`
	Description         string           `yaml:"description,omitempty"`
	Required            bool             `yaml:"required,omitempty"`
	Default             any              `yaml:"default,omitempty"`
	Enum                []string         `yaml:"enum,omitempty"`
	Validation          *FieldValidation `yaml:"validation,omitempty"`
	Examples            []string         `yaml:"examples,omitempty"`
	ClarificationPrompt string           `yaml:"clarification_prompt,omitempty"`
}

// ViolationPolicy tells the executor what to do when a constraint fails.
type ViolationPolicy string

const (
	PolicyReject  ViolationPolicy = "reject"
	PolicyWarn    ViolationPolicy = "warn"
	PolicyAsk     ViolationPolicy = "ask"
	PolicyAutoFix ViolationPolicy = "auto_fix"
)

// ConstraintKind distinguishes preconditions from postconditions.
type ConstraintKind string

const (
	Precondition  ConstraintKind = "precondition"
	Postcondition ConstraintKind = "postcondition"
)

// Constraint is a declarative rule over the validated parameters. Rules with
// a CheckerID are evaluated by a handler registered with the executor; the
// orchestration layer never interprets stored text as code.
type Constraint struct {
	ID        string          `yaml:"id"`
	Kind      ConstraintKind  `yaml:"kind"`
	Field     string          `yaml:"field,omitempty"`
	Operator  string          `yaml:"operator,omitempty"` // not_empty, future_date, within_hours
	CheckerID string          `yaml:"checker_id,omitempty"`
	Message   string          `yaml:"message"`
	Policy    ViolationPolicy `yaml:"policy"`
}

// ActionKind classifies a procedure step.
type ActionKind string

const (
	ActionCollect ActionKind = "collect"
	ActionConfirm ActionKind = "confirm"
	ActionExecute ActionKind = "execute"
	ActionNotify  ActionKind = "notify"
)

// ProcedureStep is one numbered step of a standard procedure.
type ProcedureStep struct {
	Number      int        `yaml:"number"`
	Description string     `yaml:"description"`
	Action      ActionKind `yaml:"action"`
}

// Procedure is a named, ordered sequence of steps. Step numbers must be
// contiguous starting at 1.
type Procedure struct {
	Name  string          `yaml:"name"`
	Steps []ProcedureStep `yaml:"steps"`
}

// ResourceType classifies an execution resource handle.
type ResourceType string

const (
	ResourceScript    ResourceType = "script"
	ResourceTemplate  ResourceType = "template"
	ResourceReference ResourceType = "reference"
	ResourceConfig    ResourceType = "config"
)

// Resource is a typed handle to supporting material. ContentRef is a pointer
// (handler id, template name, file path), never executable code that the
// orchestration layer itself interprets.
type Resource struct {
	ID          string       `yaml:"id"`
	Type        ResourceType `yaml:"type"`
	Description string       `yaml:"description,omitempty"`
	ContentRef  string       `yaml:"content_ref,omitempty"`
}

// ExecutorKind selects the execution strategy.
type ExecutorKind string

const (
	ExecutorLocal  ExecutorKind = "local"
	ExecutorAPI    ExecutorKind = "api"
	ExecutorScript ExecutorKind = "script"
)

// APIConfig configures the api execution strategy.
type APIConfig struct {
	Method       string            `yaml:"method"`
	URL          string            `yaml:"url"`
	Headers      map[string]string `yaml:"headers,omitempty"`
	AuthHeader   string            `yaml:"auth_header,omitempty"`
	ParamMapping map[string]string `yaml:"param_mapping,omitempty"`
	Timeout      time.Duration     `yaml:"timeout,omitempty"`
}

// Spec is the immutable descriptor of one capability.
type Spec struct {
	Name            string        `yaml:"name"`
	Description     string        `yaml:"description"`
	Tags            []string      `yaml:"tags,omitempty"`
	Category        string        `yaml:"category,omitempty"`
	WhenToUse       string        `yaml:"when_to_use,omitempty"`
	WhenNotToUse    string        `yaml:"when_not_to_use,omitempty"`
	InputSchema     []FieldSchema `yaml:"input_schema"`
	RequiredFields  []string      `yaml:"required_fields,omitempty"`
	Constraints     []Constraint  `yaml:"constraints,omitempty"`
	Procedure       *Procedure    `yaml:"procedure,omitempty"`
	Composable      bool          `yaml:"composable,omitempty"`
	ComposableWith  []string      `yaml:"composable_with,omitempty"`
	DeferredAllowed bool          `yaml:"deferred_allowed,omitempty"`
	DeferredTimeout time.Duration `yaml:"deferred_timeout,omitempty"`
	Resources       []Resource    `yaml:"resources,omitempty"`
	Executor        ExecutorKind  `yaml:"executor"`
	API             *APIConfig    `yaml:"api,omitempty"`
}

const (
	maxNameLen        = 64
	maxDescriptionLen = 1024
)

var namePattern = regexp.MustCompile(`^[a-z0-9]+(?:[-_][a-z0-9]+)*$`)

// Field returns the schema for the named field, or nil if absent.
func (s *Spec) Field(name string) *FieldSchema {
	for i := range s.InputSchema {
		if s.InputSchema[i].Name == name {
			return &s.InputSchema[i]
		}
	}
	return nil
}

// FieldNames returns input schema field names in declaration order.
func (s *Spec) FieldNames() []string {
	names := make([]string, 0, len(s.InputSchema))
	for _, f := range s.InputSchema {
		names = append(names, f.Name)
	}
	return names
}

// IsRequired reports whether the named field is in RequiredFields or marked
// required on its schema.
func (s *Spec) IsRequired(name string) bool {
	for _, rf := range s.RequiredFields {
		if rf == name {
			return true
		}
	}
	if f := s.Field(name); f != nil {
		return f.Required
	}
	return false
}

// Preconditions returns the precondition subset of Constraints.
func (s *Spec) Preconditions() []Constraint {
	var out []Constraint
	for _, c := range s.Constraints {
		if c.Kind == Precondition || c.Kind == "" {
			out = append(out, c)
		}
	}
	return out
}

// RequiresConfirmation reports whether the procedure includes a confirm
// step, i.e. the user must approve before execution.
func (s *Spec) RequiresConfirmation() bool {
	if s.Procedure == nil {
		return false
	}
	for _, step := range s.Procedure.Steps {
		if step.Action == ActionConfirm {
			return true
		}
	}
	return false
}

// ScriptResource returns the first script-typed resource, if any.
func (s *Spec) ScriptResource() *Resource {
	for i := range s.Resources {
		if s.Resources[i].Type == ResourceScript {
			return &s.Resources[i]
		}
	}
	return nil
}

// Validate checks the structural invariants that must hold before a spec can
// be registered. All violations are detected here, never at call time.
func (s *Spec) Validate() error {
	name := strings.TrimSpace(s.Name)
	if name == "" {
		return errors.New(errors.CodeValidationError, "capability name is required", nil)
	}
	if utf8.RuneCountInString(name) > maxNameLen {
		return errors.New(errors.CodeValidationError,
			fmt.Sprintf("capability name exceeds %d characters", maxNameLen), nil)
	}
	if !namePattern.MatchString(name) {
		return errors.New(errors.CodeValidationError,
			fmt.Sprintf("capability name must match %s", namePattern.String()), nil)
	}
	if strings.TrimSpace(s.Description) == "" {
		return errors.New(errors.CodeValidationError, "capability description is required", nil)
	}
	if utf8.RuneCountInString(s.Description) > maxDescriptionLen {
		return errors.New(errors.CodeValidationError,
			fmt.Sprintf("description exceeds %d characters", maxDescriptionLen), nil)
	}

	fieldNames := make(map[string]bool, len(s.InputSchema))
	for _, f := range s.InputSchema {
		if f.Name == "" {
			return errors.New(errors.CodeValidationError, "input schema field without name", nil)
		}
		if fieldNames[f.Name] {
			return errors.New(errors.CodeValidationError,
				fmt.Sprintf("duplicate input schema field %q", f.Name), nil)
		}
		fieldNames[f.Name] = true
		if !validFieldType(f.Type) {
			return errors.New(errors.CodeValidationError,
				fmt.Sprintf("field %q has unknown type %q", f.Name, f.Type), nil)
		}
	}

	for _, rf := range s.RequiredFields {
		if !fieldNames[rf] {
			return errors.New(errors.CodeValidationError,
				fmt.Sprintf("required field %q is not in the input schema", rf), nil)
		}
	}

	if s.Procedure != nil {
		for i, step := range s.Procedure.Steps {
			if step.Number != i+1 {
				return errors.New(errors.CodeValidationError,
					fmt.Sprintf("procedure %q: step numbers must be contiguous starting at 1 (step %d has number %d)",
						s.Procedure.Name, i+1, step.Number), nil)
			}
		}
	}

	resourceIDs := make(map[string]bool, len(s.Resources))
	for _, r := range s.Resources {
		if r.ID == "" {
			return errors.New(errors.CodeValidationError, "resource without id", nil)
		}
		if resourceIDs[r.ID] {
			return errors.New(errors.CodeValidationError,
				fmt.Sprintf("duplicate resource id %q", r.ID), nil)
		}
		resourceIDs[r.ID] = true
	}

	switch s.Executor {
	case ExecutorLocal, ExecutorScript:
	case ExecutorAPI:
		if s.API == nil || s.API.URL == "" {
			return errors.New(errors.CodeValidationError,
				"api executor requires an api configuration with a url", nil)
		}
	case "":
		return errors.New(errors.CodeValidationError, "executor kind is required", nil)
	default:
		return errors.New(errors.CodeValidationError,
			fmt.Sprintf("unknown executor kind %q", s.Executor), nil)
	}

	if s.Executor == ExecutorScript && s.ScriptResource() == nil {
		return errors.New(errors.CodeValidationError,
			"script executor requires a script resource", nil)
	}

	return nil
}

func validFieldType(t FieldType) bool {
	switch t {
	case TypeString, TypeNumber, TypeBoolean, TypeArray, TypeObject,
		TypeDate, TypeTime, TypeDatetime:
		return true
	}
	return false
}
