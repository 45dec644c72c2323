package selector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/taskweave/taskweave/pkg/capability"
	"github.com/taskweave/taskweave/pkg/disclosure"
	"github.com/taskweave/taskweave/pkg/llm"
	"github.com/taskweave/taskweave/pkg/session"
	"github.com/taskweave/taskweave/pkg/slots"
)

// Config tunes the selector.
type Config struct {
	// FloorConfidence is the minimum completion-service match confidence;
	// below it the deterministic keyword fallback decides. Tunable at
	// runtime because the right floor is empirical.
	FloorConfidence float64

	// LLMDeadline bounds each completion-service call.
	LLMDeadline time.Duration

	// Model overrides the provider's default model.
	Model string
}

// DefaultConfig returns the selector defaults.
func DefaultConfig() Config {
	return Config{
		FloorConfidence: 0.6,
		LLMDeadline:     10 * time.Second,
	}
}

// Selector implements the three-phase decision protocol.
type Selector struct {
	registry   *capability.Registry
	disclosure *disclosure.Manager
	slotEngine *slots.Engine
	provider   llm.Provider
	logger     *slog.Logger

	mu     sync.RWMutex
	config Config
}

// New creates a selector. provider may be nil, in which case only the
// deterministic paths run.
func New(registry *capability.Registry, dm *disclosure.Manager, slotEngine *slots.Engine, provider llm.Provider, config Config) *Selector {
	if config.FloorConfidence <= 0 {
		config.FloorConfidence = DefaultConfig().FloorConfidence
	}
	if config.LLMDeadline <= 0 {
		config.LLMDeadline = DefaultConfig().LLMDeadline
	}
	return &Selector{
		registry:   registry,
		disclosure: dm,
		slotEngine: slotEngine,
		provider:   provider,
		logger:     slog.Default(),
		config:     config,
	}
}

// SetFloorConfidence updates the match floor; used by config hot-reload.
func (s *Selector) SetFloorConfidence(floor float64) {
	if floor <= 0 || floor > 1 {
		return
	}
	s.mu.Lock()
	s.config.FloorConfidence = floor
	s.mu.Unlock()
}

func (s *Selector) floorConfidence() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config.FloorConfidence
}

// Decide runs the protocol for one turn. It mutates the session context
// (the selector is the authoritative mutation point for capability and slot
// state) and always returns exactly one Decision variant.
func (s *Selector) Decide(ctx context.Context, sc *session.Context, input string) Decision {
	// Phase 1: capability match.

	// An execution awaiting confirmation resolves first: run it, drop it, or
	// re-ask when the answer is neither.
	if sc.Active != nil && sc.Active.Status == session.StatusConfirming {
		if d, ok := s.resolveConfirmation(sc, input); ok {
			return d
		}
	}

	// An active capability mid-fill goes straight to slot validation.
	if sc.Active != nil && sc.Active.Status == session.StatusFilling {
		spec, err := s.registry.Get(sc.Active.CapabilityName)
		if err == nil {
			return s.validateSlots(ctx, sc, spec, input, 1.0, "continuing active capability")
		}
		// The capability vanished or was disabled under us; clear and fall
		// through to a fresh match.
		sc.ClearActive()
	}

	// A pending capability whose trigger matches resumes with its partial
	// params restored.
	if p := sc.CheckPendingTrigger(input); p != nil {
		spec, err := s.registry.Get(p.CapabilityName)
		if err == nil {
			sc.SetActive(spec)
			sc.FillSlots(p.PartialParams, session.SourceContext, 1.0)
			sc.RemovePending(p.CapabilityName)
			return s.validateSlots(ctx, sc, spec, input, 1.0, "resumed deferred capability")
		}
		sc.RemovePending(p.CapabilityName)
	}

	specs := s.registry.ListEnabled()
	if len(specs) == 0 {
		return newNoMatch(NoMatch{Reason: "no capabilities are registered"})
	}

	if decision, ok := s.matchWithLLM(ctx, sc, specs, input); ok {
		return decision
	}

	// Deterministic fallback: weighted keyword match.
	if spec := matchByKeywords(input, specs); spec != nil {
		sc.SetActive(spec)
		return s.validateSlots(ctx, sc, spec, input, 0.5, "keyword fallback match")
	}

	return newNoMatch(NoMatch{
		Reason:     "no capability matches the request",
		Suggestion: suggestionFrom(specs),
	})
}

// matchResponse is the strict phase-1 schema expected from the completion
// service.
type matchResponse struct {
	Capability string  `json:"capability"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
	Chain      []struct {
		Capability string         `json:"capability"`
		Params     map[string]any `json:"params"`
		DependsOn  string         `json:"depends_on"`
	} `json:"chain"`
}

func (s *Selector) matchWithLLM(ctx context.Context, sc *session.Context, specs []capability.Spec, input string) (Decision, bool) {
	if s.provider == nil {
		return Decision{}, false
	}

	system := "You route user requests to capabilities. " +
		"Reply with a single JSON object: " +
		`{"capability":"<name or none>","confidence":<0..1>,"reasoning":"<short>"} ` +
		`or, for requests needing several composable capabilities, {"chain":[{"capability":"<name>","params":{}}]}.` +
		"\n\n" + disclosure.SummaryPrompt(specs)

	resp, err := s.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: system,
		UserPrompt:   input,
		Model:        s.config.Model,
		Deadline:     s.config.LLMDeadline,
	})
	if err != nil {
		s.logger.Warn("selector.match.llm_error", slog.String("error", err.Error()))
		return Decision{}, false
	}

	raw, ok := llm.ExtractJSONObject(resp.Content)
	if !ok {
		s.logger.Warn("selector.match.unparsable")
		return Decision{}, false
	}
	var parsed matchResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Decision{}, false
	}

	if len(parsed.Chain) > 1 {
		if chain, ok := s.validateChain(parsed.Chain); ok {
			return newChain(chain), true
		}
	}

	name := strings.TrimSpace(parsed.Capability)
	if name == "" && len(parsed.Chain) == 1 {
		name = parsed.Chain[0].Capability
	}
	if name == "" || strings.EqualFold(name, "none") {
		return Decision{}, false
	}
	if parsed.Confidence < 0 || parsed.Confidence > 1 || parsed.Confidence < s.floorConfidence() {
		s.logger.Info("selector.match.below_floor",
			slog.String("capability", name),
			slog.Float64("confidence", parsed.Confidence))
		return Decision{}, false
	}
	spec, err := s.registry.Get(name)
	if err != nil {
		return Decision{}, false
	}

	sc.SetActive(spec)
	return s.validateSlots(ctx, sc, spec, input, parsed.Confidence, parsed.Reasoning), true
}

func (s *Selector) validateChain(steps []struct {
	Capability string         `json:"capability"`
	Params     map[string]any `json:"params"`
	DependsOn  string         `json:"depends_on"`
}) (Chain, bool) {
	chain := Chain{Steps: make([]ChainStep, 0, len(steps))}
	for _, step := range steps {
		spec, err := s.registry.Get(step.Capability)
		if err != nil || !spec.Composable {
			return Chain{}, false
		}
		chain.Steps = append(chain.Steps, ChainStep{
			CapabilityName: step.Capability,
			Params:         step.Params,
			DependsOn:      step.DependsOn,
		})
	}
	return chain, true
}

// slotResponse is the strict phase-2 schema expected from the completion
// service.
type slotResponse struct {
	Status         string         `json:"status"` // complete, incomplete, pending
	Params         map[string]any `json:"params"`
	Question       string         `json:"question"`
	WaitingFor     string         `json:"waiting_for"`
	TimeoutMinutes int            `json:"timeout_minutes"`
}

// validateSlots is phase 2: resolve the capability's slots from the input
// and already-known state, then emit the single decision for the turn.
func (s *Selector) validateSlots(ctx context.Context, sc *session.Context, spec *capability.Spec, input string, confidence float64, reasoning string) Decision {
	s.disclosure.AdvanceTo(spec.Name, disclosure.TierInstructions)

	if resp, ok := s.slotsWithLLM(ctx, sc, spec, input); ok {
		switch resp.Status {
		case "pending":
			if spec.DeferredAllowed && resp.WaitingFor != "" {
				return s.defer_(sc, spec, resp)
			}
			// Deferral not allowed: treat as incomplete.
			fallthrough
		case "incomplete", "complete":
			sc.FillSlots(filterToSchema(resp.Params, spec), session.SourceUserInput, 0.9)
			// Never trust a "complete" claim: re-check required slots
			// deterministically.
			if complete, missing := sc.CheckRequiredSlots(); !complete {
				question := resp.Question
				if question == "" {
					question = s.slotEngine.Questions(spec, sc, missing)
				}
				return s.clarify(sc, spec, missing, question)
			}
			return s.commit(sc, spec, confidence, reasoning)
		}
	}

	// Completion service failed or returned an unknown shape: regex and
	// type-directed extraction over the raw input.
	result := s.slotEngine.ProcessInput(input, spec, sc)
	if len(result.Remaining) > 0 {
		return s.clarify(sc, spec, result.Remaining, result.NextQuestion)
	}
	return s.commit(sc, spec, confidence, reasoning)
}

// clarify emits the clarification decision and marks the capability as
// mid-fill so the next turn resumes it.
func (s *Selector) clarify(sc *session.Context, spec *capability.Spec, missing []string, question string) Decision {
	if sc.Active != nil {
		sc.Active.Status = session.StatusFilling
	}
	return newClarification(Clarification{
		CapabilityName: spec.Name,
		MissingFields:  missing,
		Questions:      []string{question},
	})
}

func (s *Selector) slotsWithLLM(ctx context.Context, sc *session.Context, spec *capability.Spec, input string) (*slotResponse, bool) {
	if s.provider == nil {
		return nil, false
	}

	known, _ := json.Marshal(sc.FilledParams())
	system := "You extract capability parameters from user messages. " +
		"Reply with a single JSON object: " +
		`{"status":"complete|incomplete|pending","params":{...},"question":"<one question if incomplete>","waiting_for":"<condition if pending>","timeout_minutes":<n>}. ` +
		fmt.Sprintf("Today is %s.\n\n", sc.CurrentDate.Format("2006-01-02")) +
		disclosure.InstructionsPrompt(spec) +
		"\nAlready known params: " + string(known)

	resp, err := s.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: system,
		UserPrompt:   input,
		Model:        s.config.Model,
		Deadline:     s.config.LLMDeadline,
	})
	if err != nil {
		s.logger.Warn("selector.slots.llm_error", slog.String("error", err.Error()))
		return nil, false
	}
	raw, ok := llm.ExtractJSONObject(resp.Content)
	if !ok {
		return nil, false
	}
	var parsed slotResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, false
	}
	switch parsed.Status {
	case "complete", "incomplete", "pending":
		return &parsed, true
	}
	return nil, false
}

func (s *Selector) defer_(sc *session.Context, spec *capability.Spec, resp *slotResponse) Decision {
	timeout := time.Duration(resp.TimeoutMinutes) * time.Minute
	if timeout <= 0 {
		timeout = spec.DeferredTimeout
	}
	if timeout <= 0 {
		timeout = 24 * time.Hour
	}

	sc.FillSlots(filterToSchema(resp.Params, spec), session.SourceUserInput, 0.9)
	partial := sc.FilledParams()
	sc.AddPending(session.Pending{
		CapabilityName: spec.Name,
		PartialParams:  partial,
		WaitingFor:     resp.WaitingFor,
		ExpiresAt:      time.Now().UTC().Add(timeout),
	})
	sc.ClearActive()

	return newPending(PendingDecision{
		CapabilityName: spec.Name,
		PartialParams:  partial,
		WaitingFor:     resp.WaitingFor,
		Timeout:        timeout,
	})
}

// commit finalizes a fully resolved capability: resources tier in view,
// status executing, params snapshotted. A capability whose procedure carries
// a confirm step stops in the confirming state until the user approves.
func (s *Selector) commit(sc *session.Context, spec *capability.Spec, confidence float64, reasoning string) Decision {
	if spec.RequiresConfirmation() && sc.Active.Status != session.StatusConfirming {
		sc.Active.Status = session.StatusConfirming
		return newClarification(Clarification{
			CapabilityName: spec.Name,
			Questions:      []string{confirmQuestion(spec, sc)},
		})
	}

	s.disclosure.AdvanceTo(spec.Name, disclosure.TierResources)
	sc.Active.Status = session.StatusExecuting
	return newSkillCall(SkillCall{
		CapabilityName: spec.Name,
		Params:         sc.FilledParams(),
		Confidence:     confidence,
		Reasoning:      reasoning,
	})
}

// resolveConfirmation handles the turn after a confirm question. ok is false
// when the awaited capability vanished and a fresh match should run instead.
func (s *Selector) resolveConfirmation(sc *session.Context, input string) (Decision, bool) {
	spec, err := s.registry.Get(sc.Active.CapabilityName)
	if err != nil {
		sc.ClearActive()
		return Decision{}, false
	}

	answer, ok := slots.Affirmation(input)
	if !ok {
		return newClarification(Clarification{
			CapabilityName: spec.Name,
			Questions:      []string{confirmQuestion(spec, sc)},
		}), true
	}
	if answer {
		return s.commit(sc, spec, 1.0, "confirmed by user"), true
	}

	sc.ClearActive()
	s.disclosure.Reset(spec.Name)
	return newNoMatch(NoMatch{
		Reason: fmt.Sprintf("Okay, I will not run %s", spec.Name),
	}), true
}

// confirmQuestion summarizes the resolved params and asks for approval.
func confirmQuestion(spec *capability.Spec, sc *session.Context) string {
	params := sc.FilledParams()
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, params[k]))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("Shall I run %s now? (yes/no)", spec.Name)
	}
	return fmt.Sprintf("Shall I run %s with %s? (yes/no)", spec.Name, strings.Join(parts, ", "))
}

// filterToSchema drops params the schema does not declare; the completion
// service is untrusted.
func filterToSchema(params map[string]any, spec *capability.Spec) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		if spec.Field(k) != nil && v != nil {
			out[k] = v
		}
	}
	return out
}

func suggestionFrom(specs []capability.Spec) string {
	names := make([]string, 0, len(specs))
	for _, s := range specs {
		names = append(names, s.Name)
	}
	return "I can help with: " + strings.Join(names, ", ")
}
