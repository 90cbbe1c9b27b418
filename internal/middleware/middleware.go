// Package middleware enforces skill invocation on the model side of the
// loop. A Corrector is armed from a routing decision, prepends the
// MUST_CALL / CONSIDER_CALLING directive to the outgoing prompt, scans
// the response for skill invocations, and on a missed mandatory skill
// produces a bounded-retry compliance prompt.
package middleware

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"skillgate/internal/logging"
	"skillgate/internal/router"
)

var (
	// Skill invocation syntaxes recognised in free-text responses.
	// Compiled once at package level.
	skillDoubleQuoteRegex = regexp.MustCompile(`Skill\(\s*"([^"]+)"\s*\)`)
	skillSingleQuoteRegex = regexp.MustCompile(`Skill\(\s*'([^']+)'\s*\)`)
	skillBareRegex        = regexp.MustCompile(`Skill\(\s*([A-Za-z0-9_][A-Za-z0-9_.-]*)\s*\)`)
)

// State is the corrector's position in the check/retry loop.
type State string

const (
	StateIdle             State = "idle"
	StateInitialized      State = "initialized"
	StateAwaitingResponse State = "awaiting_response"
	StateAccepted         State = "accepted"
	StateRejected         State = "rejected"
	StateExhausted        State = "exhausted"
)

// Event labels a state transition.
type Event string

const (
	EventInitialize Event = "initialize"
	EventPromptSent Event = "prompt_sent"
	EventAccept     Event = "accept"
	EventReject     Event = "reject"
	EventRetry      Event = "retry"
	EventExhaust    Event = "exhaust"
	EventReset      Event = "reset"
)

// Transition records one state change.
type Transition struct {
	From      State
	To        State
	Event     Event
	Timestamp time.Time
	Detail    string
}

// RetryExhaustedError is the terminal outcome after max_retries
// rejections. It carries the last compliance reason for escalation.
type RetryExhaustedError struct {
	Attempts     int
	LastReason   string
	MissingTools []string
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("middleware: retries exhausted after %d attempts: %s", e.Attempts, e.LastReason)
}

// Verdict is the outcome of one response check.
type Verdict struct {
	Accepted     bool     `json:"accepted"`
	FoundTools   []string `json:"found_tools,omitempty"`
	MissingTools []string `json:"missing_tools,omitempty"`
	Reason       string   `json:"reason,omitempty"`
	Retryable    bool     `json:"retryable,omitempty"`
	RetryPrompt  string   `json:"retry_prompt,omitempty"`
	Attempt      int      `json:"attempt"`
}

// Config holds corrector tuning.
type Config struct {
	MaxRetries      int
	ImmediateFloor  float64
	SuggestionFloor float64
}

// DefaultConfig returns the standard thresholds: three retries, the
// mandatory floor at 0.70 and the suggestion floor at 0.50.
func DefaultConfig() Config {
	return Config{
		MaxRetries:      3,
		ImmediateFloor:  0.70,
		SuggestionFloor: 0.50,
	}
}

// Corrector is the per-request enforcement state machine:
// idle → initialized → awaiting_response → accepted, or
// rejected → awaiting_response while retries remain, else exhausted.
type Corrector struct {
	mu sync.RWMutex

	state      State
	mode       router.Mode
	retryCount int
	maxRetries int

	requiredTools  []string
	originalPrompt string
	lastReason     string

	// State history for debugging
	history []Transition
}

// NewCorrector creates a corrector with default configuration.
func NewCorrector() *Corrector {
	return NewCorrectorWithConfig(DefaultConfig())
}

// NewCorrectorWithConfig creates a corrector with custom configuration.
func NewCorrectorWithConfig(cfg Config) *Corrector {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	return &Corrector{
		state:      StateIdle,
		mode:       router.ModeChat,
		maxRetries: cfg.MaxRetries,
		history:    make([]Transition, 0),
	}
}

// InitializeFromRouting arms the corrector from a route decision: the
// candidates above the mode's dynamic threshold become the enforced
// tool set.
func (c *Corrector) InitializeFromRouting(decision router.RouteDecision) {
	cfg := DefaultConfig()
	var required []string
	switch decision.Mode {
	case router.ModeImmediate:
		required = toolsAboveThreshold(decision, cfg.ImmediateFloor, 0.7)
	case router.ModeSuggestion:
		required = toolsAboveThreshold(decision, cfg.SuggestionFloor, 0.5)
	}
	c.InitializeTools(decision.Mode, required)
}

// InitializeTools arms the corrector with an explicit tool set, as the
// check-response command does when the set arrives via environment.
func (c *Corrector) InitializeTools(mode router.Mode, required []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = mode
	c.requiredTools = append([]string(nil), required...)
	c.retryCount = 0
	c.lastReason = ""
	c.transition(StateInitialized, EventInitialize, fmt.Sprintf("mode=%s tools=%d", mode, len(required)))
	logging.Middleware("initialized mode=%s required=[%s]", mode, strings.Join(required, ", "))
}

// SetAttempt seeds the retry counter for stateless invocations where
// the attempt number is carried by the caller. Attempt 1 is the first
// try.
func (c *Corrector) SetAttempt(attempt int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if attempt > 0 {
		c.retryCount = attempt - 1
	}
}

// toolsAboveThreshold selects candidate skills scoring at or above
// min(floor, top·factor).
func toolsAboveThreshold(decision router.RouteDecision, floor, factor float64) []string {
	top := decision.TopScore()
	if top <= 0 {
		return nil
	}
	threshold := floor
	if dynamic := top * factor; dynamic < threshold {
		threshold = dynamic
	}
	var out []string
	for _, cand := range decision.Candidates {
		if cand.Score >= threshold {
			out = append(out, cand.SkillName)
		}
	}
	return out
}

// ============================================================================
// PROMPT AUGMENTATION
// ============================================================================

// AugmentPrompt prefixes the outgoing prompt with the enforcement
// directive for the current mode and moves the machine to
// awaiting_response. Chat mode passes the prompt through untouched.
func (c *Corrector) AugmentPrompt(prompt string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.originalPrompt = prompt
	out := c.directive() + prompt
	c.transition(StateAwaitingResponse, EventPromptSent, "")
	return out
}

// directive renders the mode's prompt prefix; empty for chat or an
// empty tool set.
func (c *Corrector) directive() string {
	if len(c.requiredTools) == 0 {
		return ""
	}
	list := strings.Join(c.requiredTools, ", ")
	switch c.mode {
	case router.ModeImmediate:
		return fmt.Sprintf("[MUST_CALL: Skill(%s)]\nYou MUST invoke each listed skill before doing anything else.\n\n", list)
	case router.ModeSuggestion:
		return fmt.Sprintf("[CONSIDER_CALLING: Skill(%s)]\nThese skills match the request; invoke them if applicable.\n\n", list)
	default:
		return ""
	}
}

// ============================================================================
// RESPONSE PROCESSING
// ============================================================================

// skillDirective is the structured invocation protocol: a response that
// is exactly this JSON object (or an array of them) counts as calling
// the named skill.
type skillDirective struct {
	Action string `json:"action"`
	Skill  string `json:"skill"`
}

// ExtractSkillCalls returns the skills invoked in a response, first
// occurrence first, deduplicated. Both the structured JSON protocol and
// the inline Skill(...) syntaxes are recognised.
func ExtractSkillCalls(response string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(name string) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		out = append(out, name)
	}

	trimmed := strings.TrimSpace(response)
	if strings.HasPrefix(trimmed, "{") {
		var d skillDirective
		if err := json.Unmarshal([]byte(trimmed), &d); err == nil && d.Action == "invoke_skill" {
			add(d.Skill)
		}
	} else if strings.HasPrefix(trimmed, "[") {
		var ds []skillDirective
		if err := json.Unmarshal([]byte(trimmed), &ds); err == nil {
			for _, d := range ds {
				if d.Action == "invoke_skill" {
					add(d.Skill)
				}
			}
		}
	}

	// Inline matches across all syntaxes, ordered by position so
	// first-seen order holds regardless of quoting style.
	type hit struct {
		pos  int
		name string
	}
	var hits []hit
	for _, re := range []*regexp.Regexp{skillDoubleQuoteRegex, skillSingleQuoteRegex, skillBareRegex} {
		for _, m := range re.FindAllStringSubmatchIndex(response, -1) {
			hits = append(hits, hit{pos: m[0], name: response[m[2]:m[3]]})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })
	for _, h := range hits {
		add(h.name)
	}
	return out
}

// CheckResponse verifies a model response against the required tool
// set. Acceptance is mode-dependent; a mandatory miss yields either a
// retryable verdict with a corrective prompt or, once retries are
// spent, a RetryExhaustedError.
func (c *Corrector) CheckResponse(response string) (Verdict, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateInitialized, StateAwaitingResponse:
	default:
		return Verdict{}, fmt.Errorf("middleware: check in state %q", c.state)
	}

	found := ExtractSkillCalls(response)
	attempt := c.retryCount + 1

	if c.mode != router.ModeImmediate {
		c.transition(StateAccepted, EventAccept, fmt.Sprintf("mode=%s", c.mode))
		logging.Middleware("response accepted (mode=%s, found=[%s])", c.mode, strings.Join(found, ", "))
		logging.Audit().ResponseCheck(true, attempt, c.maxRetries, nil)
		return Verdict{Accepted: true, FoundTools: found, Attempt: attempt}, nil
	}

	missing := missingTools(c.requiredTools, found)
	if len(missing) == 0 {
		c.transition(StateAccepted, EventAccept, "all required tools called")
		logging.Middleware("response accepted (required=[%s])", strings.Join(c.requiredTools, ", "))
		logging.Audit().ResponseCheck(true, attempt, c.maxRetries, nil)
		return Verdict{Accepted: true, FoundTools: found, Attempt: attempt}, nil
	}

	reason := fmt.Sprintf("COMPLIANCE ERROR: You MUST call Skill(%s). Attempt %d/%d",
		strings.Join(missing, ", "), attempt, c.maxRetries)
	c.lastReason = reason
	c.transition(StateRejected, EventReject, strings.Join(missing, ","))
	logging.Middleware("response rejected: missing=[%s] attempt=%d/%d",
		strings.Join(missing, ", "), attempt, c.maxRetries)
	logging.Audit().ResponseCheck(false, attempt, c.maxRetries, missing)

	if c.retryCount < c.maxRetries {
		c.retryCount++
		c.transition(StateAwaitingResponse, EventRetry, fmt.Sprintf("retry %d", c.retryCount))
		return Verdict{
			Accepted:     false,
			FoundTools:   found,
			MissingTools: missing,
			Reason:       reason,
			Retryable:    true,
			RetryPrompt:  c.retryPrompt(reason),
			Attempt:      attempt,
		}, nil
	}

	c.transition(StateExhausted, EventExhaust, reason)
	logging.Audit().RetryExhausted(attempt, reason)
	return Verdict{
			Accepted:     false,
			FoundTools:   found,
			MissingTools: missing,
			Reason:       reason,
			Attempt:      attempt,
		}, &RetryExhaustedError{
			Attempts:     attempt,
			LastReason:   reason,
			MissingTools: missing,
		}
}

// retryPrompt interleaves the rejection reason with the original,
// re-augmented request.
func (c *Corrector) retryPrompt(reason string) string {
	var b strings.Builder
	b.WriteString(reason)
	b.WriteString("\n\n")
	b.WriteString(c.directive())
	if c.originalPrompt != "" {
		b.WriteString("Original request:\n")
		b.WriteString(c.originalPrompt)
	}
	return b.String()
}

// missingTools returns required tools absent from found, in required
// order.
func missingTools(required, found []string) []string {
	have := make(map[string]bool, len(found))
	for _, f := range found {
		have[f] = true
	}
	var out []string
	for _, r := range required {
		if !have[r] {
			out = append(out, r)
		}
	}
	return out
}

// ============================================================================
// ACCESSORS
// ============================================================================

// GetState returns the current state.
func (c *Corrector) GetState() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// GetRetryCount returns the number of retries consumed.
func (c *Corrector) GetRetryCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.retryCount
}

// GetRequiredTools returns the enforced tool set.
func (c *Corrector) GetRequiredTools() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string{}, c.requiredTools...)
}

// GetHistory returns the state transition history.
func (c *Corrector) GetHistory() []Transition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Transition{}, c.history...)
}

// Reset returns the corrector to idle for reuse. History is retained.
func (c *Corrector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retryCount = 0
	c.requiredTools = nil
	c.originalPrompt = ""
	c.lastReason = ""
	c.transition(StateIdle, EventReset, "")
}

// transition records a state change. Callers hold the write lock.
func (c *Corrector) transition(to State, event Event, detail string) {
	c.history = append(c.history, Transition{
		From:      c.state,
		To:        to,
		Event:     event,
		Timestamp: time.Now(),
		Detail:    detail,
	})
	c.state = to
}
