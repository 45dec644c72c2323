// Package session holds per-conversation mutable state: the active
// capability, filled and unfilled slots, deferred capabilities and a bounded
// execution history. All mutation goes through the Manager so that turns for
// the same session are serialized.
package session

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/taskweave/taskweave/pkg/capability"
)

// Status tracks the lifecycle of the active capability.
type Status string

const (
	StatusSelecting  Status = "selecting"
	StatusFilling    Status = "filling"
	StatusExecuting  Status = "executing"
	StatusConfirming Status = "confirming"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// SlotSource records where a slot value came from.
type SlotSource string

const (
	SourceUserInput SlotSource = "user_input"
	SourceContext   SlotSource = "context"
	SourceDefault   SlotSource = "default"
	SourceInferred  SlotSource = "inferred"
)

// SlotState is the fill state of a single capability parameter.
type SlotState struct {
	Field      string     `json:"field"`
	Value      any        `json:"value,omitempty"`
	Filled     bool       `json:"filled"`
	Required   bool       `json:"required"`
	Source     SlotSource `json:"source,omitempty"`
	Confidence float64    `json:"confidence,omitempty"`
	FilledAt   time.Time  `json:"filled_at,omitempty"`
}

// ActiveCapability is the state of the capability currently being worked on.
// Its slot set is exactly the capability's input schema.
type ActiveCapability struct {
	CapabilityName string      `json:"capability_name"`
	Status         Status      `json:"status"`
	Slots          []SlotState `json:"slots"`
	StartedAt      time.Time   `json:"started_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
	RetryCount     int         `json:"retry_count"`
}

// Pending is a capability whose execution is deferred until an external
// trigger condition is later observed in user input.
type Pending struct {
	CapabilityName string         `json:"capability_name"`
	PartialParams  map[string]any `json:"partial_params,omitempty"`
	WaitingFor     string         `json:"waiting_for"`
	CreatedAt      time.Time      `json:"created_at"`
	ExpiresAt      time.Time      `json:"expires_at"`
}

// Expired reports whether the pending capability is past its expiry.
func (p *Pending) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && now.After(p.ExpiresAt)
}

// HistoryEntry is one bounded-history record of an execution outcome.
type HistoryEntry struct {
	ID         string    `json:"id"`
	Capability string    `json:"capability"`
	Status     string    `json:"status"`
	Message    string    `json:"message,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Context is the per-conversation state. It is read-modify-written once per
// turn; callers must go through Manager.Update for mutation.
type Context struct {
	SessionID     string            `json:"session_id"`
	UserID        string            `json:"user_id"`
	CurrentDate   time.Time         `json:"current_date"`
	Active        *ActiveCapability `json:"active,omitempty"`
	Pendings      []Pending         `json:"pendings,omitempty"`
	History       []HistoryEntry    `json:"history,omitempty"`
	Variables     map[string]any    `json:"variables,omitempty"`
	LastUpdatedAt time.Time         `json:"last_updated_at"`
}

// NewContext creates a fresh session context.
func NewContext(sessionID, userID string, currentDate time.Time) *Context {
	return &Context{
		SessionID:     sessionID,
		UserID:        userID,
		CurrentDate:   currentDate,
		Variables:     make(map[string]any),
		LastUpdatedAt: time.Now().UTC(),
	}
}

// SetActive installs the capability as active in the selecting state,
// building the slot set from its input schema and pre-filling defaults. The
// selector moves the state forward: filling while slots are open, confirming
// when a confirm procedure step awaits the user, executing once resolved.
func (c *Context) SetActive(spec *capability.Spec) {
	now := time.Now().UTC()
	slots := make([]SlotState, 0, len(spec.InputSchema))
	for _, f := range spec.InputSchema {
		slot := SlotState{
			Field:    f.Name,
			Required: spec.IsRequired(f.Name),
		}
		if f.Default != nil {
			slot.Value = f.Default
			slot.Filled = true
			slot.Source = SourceDefault
			slot.Confidence = 1.0
			slot.FilledAt = now
		}
		slots = append(slots, slot)
	}
	c.Active = &ActiveCapability{
		CapabilityName: spec.Name,
		Status:         StatusSelecting,
		Slots:          slots,
		StartedAt:      now,
		UpdatedAt:      now,
	}
}

// ClearActive drops the active capability so the session cannot get stuck.
func (c *Context) ClearActive() {
	c.Active = nil
}

// slot returns the slot for the named field, or nil.
func (c *Context) slot(field string) *SlotState {
	if c.Active == nil {
		return nil
	}
	for i := range c.Active.Slots {
		if c.Active.Slots[i].Field == field {
			return &c.Active.Slots[i]
		}
	}
	return nil
}

// FillSlot sets a slot value. Re-filling with the same value is idempotent
// in content; only FilledAt is refreshed.
func (c *Context) FillSlot(field string, value any, source SlotSource, confidence float64) bool {
	s := c.slot(field)
	if s == nil {
		return false
	}
	s.Value = value
	s.Filled = true
	s.Source = source
	s.Confidence = confidence
	s.FilledAt = time.Now().UTC()
	if c.Active != nil {
		c.Active.UpdatedAt = s.FilledAt
	}
	return true
}

// ClearSlot empties a slot so it can be re-filled, e.g. after a conflict on
// the value it held.
func (c *Context) ClearSlot(field string) {
	s := c.slot(field)
	if s == nil {
		return
	}
	*s = SlotState{Field: s.Field, Required: s.Required}
	if c.Active != nil {
		c.Active.UpdatedAt = time.Now().UTC()
	}
}

// FillSlots fills multiple slots from a params map with a uniform source and
// confidence. Unknown fields are ignored.
func (c *Context) FillSlots(params map[string]any, source SlotSource, confidence float64) {
	for field, value := range params {
		c.FillSlot(field, value, source, confidence)
	}
}

// UnfilledSlots returns the fields not yet filled, in schema order.
func (c *Context) UnfilledSlots() []string {
	if c.Active == nil {
		return nil
	}
	var out []string
	for _, s := range c.Active.Slots {
		if !s.Filled {
			out = append(out, s.Field)
		}
	}
	return out
}

// FilledParams returns the filled slots as a params map.
func (c *Context) FilledParams() map[string]any {
	params := make(map[string]any)
	if c.Active == nil {
		return params
	}
	for _, s := range c.Active.Slots {
		if s.Filled {
			params[s.Field] = s.Value
		}
	}
	return params
}

// CheckRequiredSlots reports whether every required slot is filled and which
// required fields are still missing, in schema order.
func (c *Context) CheckRequiredSlots() (complete bool, missing []string) {
	if c.Active == nil {
		return false, nil
	}
	for _, s := range c.Active.Slots {
		if s.Required && !s.Filled {
			missing = append(missing, s.Field)
		}
	}
	return len(missing) == 0, missing
}

// AddPending registers a deferred capability.
func (c *Context) AddPending(p Pending) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	c.Pendings = append(c.Pendings, p)
}

// PendingCapabilities returns non-expired pendings.
func (c *Context) PendingCapabilities() []Pending {
	now := time.Now().UTC()
	var out []Pending
	for _, p := range c.Pendings {
		if !p.Expired(now) {
			out = append(out, p)
		}
	}
	return out
}

// RemovePending drops the pending for the named capability.
func (c *Context) RemovePending(capabilityName string) {
	kept := c.Pendings[:0]
	for _, p := range c.Pendings {
		if p.CapabilityName != capabilityName {
			kept = append(kept, p)
		}
	}
	c.Pendings = kept
}

// PruneExpiredPendings removes pendings past their expiry and returns how
// many were dropped.
func (c *Context) PruneExpiredPendings(now time.Time) int {
	kept := c.Pendings[:0]
	dropped := 0
	for _, p := range c.Pendings {
		if p.Expired(now) {
			dropped++
			continue
		}
		kept = append(kept, p)
	}
	c.Pendings = kept
	return dropped
}

// CheckPendingTrigger returns the first non-expired pending whose trigger
// description matches the input by keyword containment.
func (c *Context) CheckPendingTrigger(input string) *Pending {
	lowered := strings.ToLower(input)
	now := time.Now().UTC()
	for i := range c.Pendings {
		p := &c.Pendings[i]
		if p.Expired(now) {
			continue
		}
		if triggerMatches(lowered, p.WaitingFor) {
			return p
		}
	}
	return nil
}

func triggerMatches(loweredInput, waitingFor string) bool {
	for _, kw := range strings.Fields(strings.ToLower(waitingFor)) {
		kw = strings.Trim(kw, ".,;:!?")
		if len(kw) < 3 {
			continue
		}
		if strings.Contains(loweredInput, kw) {
			return true
		}
	}
	return false
}

// AddHistory appends an execution record, dropping the oldest entries past
// maxEntries.
func (c *Context) AddHistory(entry HistoryEntry, maxEntries int) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	c.History = append(c.History, entry)
	if maxEntries > 0 && len(c.History) > maxEntries {
		c.History = c.History[len(c.History)-maxEntries:]
	}
}
