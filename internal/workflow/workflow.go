// Package workflow implements a pure in-memory phase state machine for
// flows defined in code rather than resolved from a skill corpus. A
// workflow declares ordered phases; each phase names the capabilities it
// provides, the capabilities it needs before it can start, and the tool
// intents it blocks while in progress. The enforcer consumes
// capability-satisfied events and answers IsAllowed under the same
// strictness rules as the pre-tool-use hook.
package workflow

import (
	"fmt"
	"sync"
	"time"

	"skillgate/internal/config"
	"skillgate/internal/intent"
	"skillgate/internal/logging"
)

// Event is a workflow input that may move the machine forward.
type Event string

const (
	EventCapabilitySatisfied Event = "capability_satisfied"
	EventPhaseComplete       Event = "phase_complete"
	EventReset               Event = "reset"
)

// Phase is one step of a workflow definition.
type Phase struct {
	Name string

	// Provides are the capabilities this phase is expected to produce.
	// The phase is done once all of them are satisfied.
	Provides []string

	// Requires gates entry: the machine never advances into a phase
	// whose requires are not yet satisfied.
	Requires []string

	// BlockedIntents are denied while this phase is in progress.
	BlockedIntents map[intent.Intent]string

	// AllowedIntents are exempt from this phase's blocks.
	AllowedIntents []intent.Intent
}

// Definition is a complete in-code workflow.
type Definition struct {
	Name       string
	Strictness config.Strictness
	Phases     []Phase
}

// Transition records one state change for inspection.
type Transition struct {
	FromPhase  string
	ToPhase    string
	Event      Event
	Capability string // set for capability_satisfied
	Timestamp  time.Time
}

// Decision is the outcome of IsAllowed.
type Decision struct {
	Allowed bool
	Reason  string // block reason when denied
	Warning string // advisory/permissive downgrade message
}

// Enforcer runs one workflow instance. Safe for concurrent use.
type Enforcer struct {
	mu sync.RWMutex

	def        Definition
	phaseIndex int // == len(def.Phases) when the workflow is complete
	satisfied  map[string]bool
	blocked    map[intent.Intent]string

	history []Transition
}

// NewEnforcer validates the definition and starts at the first phase.
func NewEnforcer(def Definition) (*Enforcer, error) {
	if len(def.Phases) == 0 {
		return nil, fmt.Errorf("workflow %q has no phases", def.Name)
	}
	if def.Strictness == "" {
		def.Strictness = config.StrictnessStrict
	}
	if !def.Strictness.Valid() {
		return nil, fmt.Errorf("workflow %q: invalid strictness %q", def.Name, def.Strictness)
	}
	seen := make(map[string]bool, len(def.Phases))
	for i, p := range def.Phases {
		if p.Name == "" {
			return nil, fmt.Errorf("workflow %q: phase %d has no name", def.Name, i)
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("workflow %q: duplicate phase %q", def.Name, p.Name)
		}
		seen[p.Name] = true
	}
	if reqs := def.Phases[0].Requires; len(reqs) > 0 {
		return nil, fmt.Errorf("workflow %q: first phase %q must have no requires, has %v",
			def.Name, def.Phases[0].Name, reqs)
	}

	e := &Enforcer{
		def:       def,
		satisfied: make(map[string]bool),
	}
	e.recomputeBlocked()
	logging.Workflow("enforcer %q started at phase %q (%d phases)",
		def.Name, def.Phases[0].Name, len(def.Phases))
	return e, nil
}

// CurrentPhase returns the in-progress phase name, or "" once complete.
func (e *Enforcer) CurrentPhase() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.phaseIndex >= len(e.def.Phases) {
		return ""
	}
	return e.def.Phases[e.phaseIndex].Name
}

// Complete reports whether every phase has finished.
func (e *Enforcer) Complete() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.phaseIndex >= len(e.def.Phases)
}

// Satisfied returns the capabilities marked satisfied so far.
func (e *Enforcer) Satisfied() map[string]bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]bool, len(e.satisfied))
	for k, v := range e.satisfied {
		out[k] = v
	}
	return out
}

// BlockedIntents returns the currently blocked intents and reasons.
func (e *Enforcer) BlockedIntents() map[intent.Intent]string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[intent.Intent]string, len(e.blocked))
	for k, v := range e.blocked {
		out[k] = v
	}
	return out
}

// History returns a copy of the transition log.
func (e *Enforcer) History() []Transition {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Transition(nil), e.history...)
}

// CapabilitySatisfied marks a capability satisfied and advances past the
// current phase when all of its provides are in. Unknown capabilities
// are recorded too: a later phase may require them.
func (e *Enforcer) CapabilitySatisfied(capability string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.satisfied[capability] {
		return
	}
	e.satisfied[capability] = true
	e.advance(EventCapabilitySatisfied, capability)
}

// PhaseComplete force-completes the current phase: its provides are
// marked satisfied whether or not evidence arrived.
func (e *Enforcer) PhaseComplete() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phaseIndex >= len(e.def.Phases) {
		return
	}
	for _, cap := range e.def.Phases[e.phaseIndex].Provides {
		e.satisfied[cap] = true
	}
	e.advance(EventPhaseComplete, "")
}

// Reset rewinds to the first phase and clears satisfaction. The
// transition history is kept for inspection.
func (e *Enforcer) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	from := e.currentName()
	e.phaseIndex = 0
	e.satisfied = make(map[string]bool)
	e.recomputeBlocked()
	e.history = append(e.history, Transition{
		FromPhase: from,
		ToPhase:   e.currentName(),
		Event:     EventReset,
		Timestamp: time.Now(),
	})
	logging.Workflow("enforcer %q reset to phase %q", e.def.Name, e.currentName())
}

// IsAllowed applies the current phase's policy to one intent under the
// workflow's strictness.
func (e *Enforcer) IsAllowed(it intent.Intent) Decision {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.phaseIndex >= len(e.def.Phases) {
		return Decision{Allowed: true}
	}
	phase := e.def.Phases[e.phaseIndex]
	for _, allowed := range phase.AllowedIntents {
		if allowed == it {
			return Decision{Allowed: true}
		}
	}
	reason, hit := e.blocked[it]
	if !hit {
		return Decision{Allowed: true}
	}

	switch e.def.Strictness {
	case config.StrictnessStrict:
		return Decision{Reason: reason}
	case config.StrictnessAdvisory:
		if intent.HighImpact[it] {
			return Decision{Reason: reason}
		}
		return Decision{Allowed: true, Warning: fmt.Sprintf("%s (advisory: %s)", reason, it)}
	default: // permissive
		return Decision{Allowed: true, Warning: reason}
	}
}

// advance moves past every phase whose provides are fully satisfied,
// entering only phases whose requires are met, then recomputes the
// blocked set. Caller holds the write lock.
func (e *Enforcer) advance(event Event, capability string) {
	from := e.currentName()
	moved := false

	for e.phaseIndex < len(e.def.Phases) {
		cur := e.def.Phases[e.phaseIndex]
		if !e.allSatisfied(cur.Provides) {
			break
		}
		next := len(e.def.Phases)
		for j := e.phaseIndex + 1; j < len(e.def.Phases); j++ {
			if e.allSatisfied(e.def.Phases[j].Requires) {
				next = j
				break
			}
		}
		e.phaseIndex = next
		moved = true
	}

	e.recomputeBlocked()
	e.history = append(e.history, Transition{
		FromPhase:  from,
		ToPhase:    e.currentName(),
		Event:      event,
		Capability: capability,
		Timestamp:  time.Now(),
	})
	if moved {
		logging.Workflow("enforcer %q advanced %q -> %q on %s",
			e.def.Name, from, e.currentName(), event)
	}
}

func (e *Enforcer) allSatisfied(caps []string) bool {
	for _, c := range caps {
		if !e.satisfied[c] {
			return false
		}
	}
	return true
}

func (e *Enforcer) currentName() string {
	if e.phaseIndex >= len(e.def.Phases) {
		return ""
	}
	return e.def.Phases[e.phaseIndex].Name
}

// recomputeBlocked rebuilds the blocked map from the current phase.
// A finished workflow blocks nothing. Caller holds the write lock.
func (e *Enforcer) recomputeBlocked() {
	e.blocked = make(map[intent.Intent]string)
	if e.phaseIndex >= len(e.def.Phases) {
		return
	}
	for it, reason := range e.def.Phases[e.phaseIndex].BlockedIntents {
		e.blocked[it] = reason
	}
}

// TDD is the canonical in-code workflow: a failing test before any
// implementation, a green suite before any commit.
func TDD() Definition {
	return Definition{
		Name:       "tdd",
		Strictness: config.StrictnessStrict,
		Phases: []Phase{
			{
				Name:     "red",
				Provides: []string{"test_written"},
				BlockedIntents: map[intent.Intent]string{
					intent.IntentWriteImpl: "write a failing test first",
					intent.IntentEditImpl:  "write a failing test first",
					intent.IntentCommit:    "tests must exist and pass before committing",
					intent.IntentPush:      "tests must exist and pass before pushing",
				},
				AllowedIntents: []intent.Intent{intent.IntentWriteTest, intent.IntentEditTest},
			},
			{
				Name:     "green",
				Provides: []string{"test_green"},
				Requires: []string{"test_written"},
				BlockedIntents: map[intent.Intent]string{
					intent.IntentCommit: "tests must pass before committing",
					intent.IntentPush:   "tests must pass before pushing",
				},
			},
			{
				Name:     "ship",
				Provides: []string{"committed"},
				Requires: []string{"test_written", "test_green"},
				BlockedIntents: map[intent.Intent]string{
					intent.IntentDeploy: "commit the change before deploying",
				},
			},
		},
	}
}
