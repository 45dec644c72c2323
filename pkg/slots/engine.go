// Package slots extracts typed field values from natural-language input
// with a confidence score. Extractions below the configured threshold are
// never accepted: absence of sufficient confidence always produces a
// clarification candidate, never a guess.
package slots

import (
	"fmt"
	"sort"
	"strings"

	"github.com/taskweave/taskweave/pkg/capability"
	"github.com/taskweave/taskweave/pkg/session"
)

// Config tunes the engine.
type Config struct {
	// ConfidenceThreshold gates extraction acceptance. Default 0.8.
	ConfidenceThreshold float64

	// MaxQuestionsPerTurn bounds clarification questions. Default 1.
	MaxQuestionsPerTurn int
}

// DefaultConfig returns the default engine tuning.
func DefaultConfig() Config {
	return Config{ConfidenceThreshold: 0.8, MaxQuestionsPerTurn: 1}
}

// Result is the outcome of processing one input against a capability.
type Result struct {
	// Filled holds the accepted extractions.
	Filled []Extraction

	// Remaining lists required fields still unresolved, in schema order.
	Remaining []string

	// NextQuestion is the clarification to ask, empty when none is needed.
	NextQuestion string
}

// Engine performs type-directed slot extraction.
type Engine struct {
	config Config
}

// NewEngine creates an engine with the given config.
func NewEngine(config Config) *Engine {
	if config.ConfidenceThreshold <= 0 {
		config.ConfidenceThreshold = DefaultConfig().ConfidenceThreshold
	}
	if config.MaxQuestionsPerTurn <= 0 {
		config.MaxQuestionsPerTurn = DefaultConfig().MaxQuestionsPerTurn
	}
	return &Engine{config: config}
}

// SetThreshold updates the confidence gate; used by config hot-reload.
func (e *Engine) SetThreshold(threshold float64) {
	if threshold > 0 && threshold <= 1 {
		e.config.ConfidenceThreshold = threshold
	}
}

// ProcessInput extracts values for the capability's unfilled fields from the
// input, applies them to the session context, and produces the remaining
// required fields plus at most one clarification question.
func (e *Engine) ProcessInput(input string, spec *capability.Spec, sc *session.Context) Result {
	var result Result

	unfilled := make(map[string]bool)
	for _, name := range sc.UnfilledSlots() {
		unfilled[name] = true
	}

	for i := range spec.InputSchema {
		f := &spec.InputSchema[i]
		if !unfilled[f.Name] {
			continue
		}
		ex := extractField(input, f, sc.CurrentDate)
		if ex == nil || ex.Confidence < e.config.ConfidenceThreshold {
			continue
		}
		result.Filled = append(result.Filled, *ex)
	}

	// Answer-to-question path: when everything required except one free-text
	// field is already resolved and nothing else was extracted this turn,
	// the whole input is the answer.
	if len(result.Filled) == 0 {
		if ex := e.wholeInputAnswer(input, spec, sc); ex != nil {
			result.Filled = append(result.Filled, *ex)
		}
	}

	for _, ex := range result.Filled {
		sc.FillSlot(ex.Field, ex.Value, ex.Source, ex.Confidence)
	}

	_, missing := sc.CheckRequiredSlots()
	result.Remaining = missing
	if len(missing) > 0 {
		result.NextQuestion = e.Questions(spec, sc, missing)
	}
	return result
}

func (e *Engine) wholeInputAnswer(input string, spec *capability.Spec, sc *session.Context) *Extraction {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" || len(trimmed) > 120 {
		return nil
	}
	_, missing := sc.CheckRequiredSlots()
	if len(missing) != 1 {
		return nil
	}
	f := spec.Field(missing[0])
	if f == nil || f.Type != capability.TypeString || len(f.Enum) > 0 {
		return nil
	}
	return &Extraction{
		Field:      f.Name,
		Value:      trimmed,
		Confidence: 0.85,
		Source:     session.SourceUserInput,
	}
}

// Question builds the clarification question for one field: the field's own
// prompt if present, else a type-appropriate generic prompt, prefixed with a
// summary of already-known values so the user is not re-asked.
func (e *Engine) Question(spec *capability.Spec, sc *session.Context, field string) string {
	return e.Questions(spec, sc, []string{field})
}

// Questions builds the clarification for up to MaxQuestionsPerTurn of the
// missing fields, with the known-value summary prefixed once.
func (e *Engine) Questions(spec *capability.Spec, sc *session.Context, missing []string) string {
	limit := e.config.MaxQuestionsPerTurn
	if limit <= 0 || limit > len(missing) {
		limit = len(missing)
	}

	prompts := make([]string, 0, limit)
	for _, field := range missing[:limit] {
		if p := fieldPrompt(spec, field); p != "" {
			prompts = append(prompts, p)
		}
	}
	if len(prompts) == 0 {
		return ""
	}

	question := strings.Join(prompts, " ")
	if known := knownSummary(sc); known != "" {
		return known + " " + question
	}
	return question
}

func fieldPrompt(spec *capability.Spec, field string) string {
	f := spec.Field(field)
	if f == nil {
		return ""
	}
	if f.ClarificationPrompt != "" {
		return f.ClarificationPrompt
	}
	return genericPrompt(f)
}

func genericPrompt(f *capability.FieldSchema) string {
	switch f.Type {
	case capability.TypeDate:
		return fmt.Sprintf("What date should %s be?", f.Name)
	case capability.TypeTime:
		return fmt.Sprintf("What time should %s be?", f.Name)
	case capability.TypeDatetime:
		return fmt.Sprintf("When should %s be (date and time)?", f.Name)
	case capability.TypeNumber:
		return fmt.Sprintf("What number should I use for %s?", f.Name)
	case capability.TypeBoolean:
		return fmt.Sprintf("Should I set %s? (yes/no)", f.Name)
	case capability.TypeArray:
		return fmt.Sprintf("Who or what should I include for %s? You can list several, separated by commas.", f.Name)
	default:
		if len(f.Enum) > 0 {
			return fmt.Sprintf("Which %s would you like? Options: %s.", f.Name, strings.Join(f.Enum, ", "))
		}
		return fmt.Sprintf("What should I use for %s?", f.Name)
	}
}

func knownSummary(sc *session.Context) string {
	params := sc.FilledParams()
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, params[k]))
	}
	return fmt.Sprintf("So far I have %s.", strings.Join(parts, ", "))
}
