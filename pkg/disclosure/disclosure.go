// Package disclosure implements staged capability disclosure. Capability
// metadata is revealed to the completion service in three increasing tiers
// so that only the summary tier scales with the number of registered
// capabilities; instructions and resources scale with the one capability
// currently selected.
package disclosure

import (
	"fmt"
	"strings"
	"sync"

	"github.com/taskweave/taskweave/pkg/capability"
)

// Tier is a disclosure level. Progression is monotonic per capability
// selection: summary → instructions → resources. Reset returns to summary.
type Tier int

const (
	TierSummary Tier = iota
	TierInstructions
	TierResources
)

func (t Tier) String() string {
	switch t {
	case TierInstructions:
		return "instructions"
	case TierResources:
		return "resources"
	default:
		return "summary"
	}
}

// Estimated prompt cost per tier, in context units (≈ tokens). The resources
// tier costs nothing extra because resource content is withheld; only
// id/type/description handles are listed.
const (
	summaryUnitsPerCapability = 100
	instructionsUnits         = 500
)

// Manager tracks which tier is in view per capability.
type Manager struct {
	mu    sync.RWMutex
	tiers map[string]Tier
}

// NewManager creates a disclosure manager with every capability at summary.
func NewManager() *Manager {
	return &Manager{tiers: make(map[string]Tier)}
}

// TierOf returns the tier currently in view for a capability.
func (m *Manager) TierOf(name string) Tier {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tiers[name]
}

// Advance moves a capability one tier forward. Moving past resources or
// backwards is a no-op: progression is monotonic until Reset.
func (m *Manager) Advance(name string) Tier {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.tiers[name]
	if t < TierResources {
		t++
		m.tiers[name] = t
	}
	return t
}

// AdvanceTo moves a capability forward to the given tier. Requests for a
// lower tier than the current one are ignored.
func (m *Manager) AdvanceTo(name string, tier Tier) Tier {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tier > m.tiers[name] {
		m.tiers[name] = tier
	}
	return m.tiers[name]
}

// Reset returns a capability to the summary tier.
func (m *Manager) Reset(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tiers, name)
}

// ResetAll returns every capability to the summary tier.
func (m *Manager) ResetAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tiers = make(map[string]Tier)
}

// EstimateUnits returns the approximate context cost of the current view:
// the summary tier for all listed capabilities plus the instructions tier
// for each capability advanced past summary.
func (m *Manager) EstimateUnits(specs []capability.Spec) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	units := summaryUnitsPerCapability * len(specs)
	for _, s := range specs {
		if m.tiers[s.Name] >= TierInstructions {
			units += instructionsUnits
		}
	}
	return units
}

// SummaryPrompt renders the always-visible tier for a set of capabilities:
// name, description, tags, and when-to-use guidance.
func SummaryPrompt(specs []capability.Spec) string {
	var b strings.Builder
	b.WriteString("Available capabilities:\n")
	for _, s := range specs {
		fmt.Fprintf(&b, "- %s: %s\n", s.Name, s.Description)
		if len(s.Tags) > 0 {
			fmt.Fprintf(&b, "  tags: %s\n", strings.Join(s.Tags, ", "))
		}
		if s.WhenToUse != "" {
			fmt.Fprintf(&b, "  use when: %s\n", s.WhenToUse)
		}
		if s.WhenNotToUse != "" {
			fmt.Fprintf(&b, "  do not use when: %s\n", s.WhenNotToUse)
		}
	}
	return b.String()
}

// InstructionsPrompt renders the operating-instructions tier for one
// selected capability: full input schema, required fields, constraints and
// the standard procedure.
func InstructionsPrompt(spec *capability.Spec) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Capability %s input schema:\n", spec.Name)
	for _, f := range spec.InputSchema {
		fmt.Fprintf(&b, "- %s (%s)", f.Name, f.Type)
		if spec.IsRequired(f.Name) {
			b.WriteString(" [required]")
		}
		if len(f.Enum) > 0 {
			fmt.Fprintf(&b, " one of: %s", strings.Join(f.Enum, ", "))
		}
		if f.Description != "" {
			fmt.Fprintf(&b, ": %s", f.Description)
		}
		b.WriteString("\n")
		if len(f.Examples) > 0 {
			fmt.Fprintf(&b, "  examples: %s\n", strings.Join(f.Examples, "; "))
		}
	}
	if len(spec.Constraints) > 0 {
		b.WriteString("Constraints:\n")
		for _, c := range spec.Constraints {
			fmt.Fprintf(&b, "- [%s] %s\n", c.Policy, c.Message)
		}
	}
	if spec.Procedure != nil {
		fmt.Fprintf(&b, "Procedure %s:\n", spec.Procedure.Name)
		for _, step := range spec.Procedure.Steps {
			fmt.Fprintf(&b, "%d. %s (%s)\n", step.Number, step.Description, step.Action)
		}
	}
	return b.String()
}

// ResourcesPrompt renders the execution-resources tier: handles only, never
// resource content.
func ResourcesPrompt(spec *capability.Spec) string {
	if len(spec.Resources) == 0 {
		return fmt.Sprintf("Capability %s has no execution resources.\n", spec.Name)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Capability %s execution resources:\n", spec.Name)
	for _, r := range spec.Resources {
		fmt.Fprintf(&b, "- %s (%s): %s\n", r.ID, r.Type, r.Description)
	}
	return b.String()
}
