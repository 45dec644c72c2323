package capability

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/taskweave/taskweave/pkg/errors"
)

// EventType identifies a registry event delivered to subscribers.
// Events are observability signals, never business logic.
type EventType string

const (
	EventRegistered   EventType = "capability.registered"
	EventUnregistered EventType = "capability.unregistered"
	EventEnabled      EventType = "capability.enabled"
	EventDisabled     EventType = "capability.disabled"
	EventExecuted     EventType = "capability.executed"
)

// Event captures a registry lifecycle event.
type Event struct {
	Type       EventType
	Capability string
	Timestamp  time.Time
	Payload    map[string]any
}

// Subscriber receives registry events.
type Subscriber func(Event)

// Registry is the catalog of registered capabilities. It is read-only after
// startup except for enable/disable flags.
type Registry struct {
	mu          sync.RWMutex
	entries     map[string]*entry
	order       []string
	subscribers []Subscriber
}

type entry struct {
	spec    Spec
	enabled bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register validates and adds a spec. Registration errors are fatal to
// startup; there are no retries.
func (r *Registry) Register(spec Spec) error {
	if err := spec.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	if _, exists := r.entries[spec.Name]; exists {
		r.mu.Unlock()
		return errors.New(errors.CodeValidationError,
			fmt.Sprintf("capability %q already registered", spec.Name), nil)
	}
	r.entries[spec.Name] = &entry{spec: spec, enabled: true}
	r.order = append(r.order, spec.Name)
	r.mu.Unlock()

	r.emit(Event{Type: EventRegistered, Capability: spec.Name, Timestamp: time.Now().UTC()})
	return nil
}

// Unregister removes a capability from the catalog.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	if _, ok := r.entries[name]; !ok {
		r.mu.Unlock()
		return errors.New(errors.CodeSkillNotFound, fmt.Sprintf("capability %q is not registered", name), nil)
	}
	delete(r.entries, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	r.emit(Event{Type: EventUnregistered, Capability: name, Timestamp: time.Now().UTC()})
	return nil
}

// Get returns the spec for an enabled capability. A disabled capability
// returns SKILL_DISABLED; an unknown one SKILL_NOT_FOUND.
func (r *Registry) Get(name string) (*Spec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		return nil, errors.New(errors.CodeSkillNotFound,
			fmt.Sprintf("capability %q is not registered", name), nil)
	}
	if !e.enabled {
		return nil, errors.New(errors.CodeSkillDisabled,
			fmt.Sprintf("capability %q is disabled", name), nil)
	}
	spec := e.spec
	return &spec, nil
}

// ListEnabled returns all enabled specs in registration order.
func (r *Registry) ListEnabled() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Spec, 0, len(r.order))
	for _, name := range r.order {
		if e := r.entries[name]; e != nil && e.enabled {
			out = append(out, e.spec)
		}
	}
	return out
}

// Enable marks a capability enabled.
func (r *Registry) Enable(name string) error {
	if err := r.setEnabled(name, true); err != nil {
		return err
	}
	r.emit(Event{Type: EventEnabled, Capability: name, Timestamp: time.Now().UTC()})
	return nil
}

// Disable marks a capability disabled without removing it.
func (r *Registry) Disable(name string) error {
	if err := r.setEnabled(name, false); err != nil {
		return err
	}
	r.emit(Event{Type: EventDisabled, Capability: name, Timestamp: time.Now().UTC()})
	return nil
}

func (r *Registry) setEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return errors.New(errors.CodeSkillNotFound,
			fmt.Sprintf("capability %q is not registered", name), nil)
	}
	e.enabled = enabled
	return nil
}

// ByCategory returns enabled specs matching the category, sorted by name.
func (r *Registry) ByCategory(category string) []Spec {
	return r.filter(func(s Spec) bool { return s.Category == category })
}

// ByTag returns enabled specs carrying the tag, sorted by name.
func (r *Registry) ByTag(tag string) []Spec {
	return r.filter(func(s Spec) bool {
		for _, t := range s.Tags {
			if t == tag {
				return true
			}
		}
		return false
	})
}

func (r *Registry) filter(match func(Spec) bool) []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Spec
	for _, e := range r.entries {
		if e.enabled && match(e.spec) {
			out = append(out, e.spec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Subscribe registers an event subscriber. Subscribers are invoked
// synchronously and must be fast.
func (r *Registry) Subscribe(sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers = append(r.subscribers, sub)
}

// NotifyExecuted emits an executed event for observability.
func (r *Registry) NotifyExecuted(name string, payload map[string]any) {
	r.emit(Event{Type: EventExecuted, Capability: name, Timestamp: time.Now().UTC(), Payload: payload})
}

func (r *Registry) emit(ev Event) {
	r.mu.RLock()
	subs := make([]Subscriber, len(r.subscribers))
	copy(subs, r.subscribers)
	r.mu.RUnlock()

	for _, sub := range subs {
		sub(ev)
	}
}
