// Package activation turns a routing decision into a live session: it
// picks the profile, resolves the skill chain, mints a session id, and
// persists the session state. Activation is idempotent per request id
// so retried hook invocations do not spawn duplicate sessions.
package activation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"skillgate/internal/config"
	"skillgate/internal/journal"
	"skillgate/internal/logging"
	"skillgate/internal/resolver"
	"skillgate/internal/router"
	"skillgate/internal/session"
)

// DefaultCacheCapacity bounds the request-id idempotency cache.
const DefaultCacheCapacity = 1000

// sharedCache serves every Activator not given its own capacity, so all
// activators in one process observe the same replay window.
var sharedCache = newRequestCache(DefaultCacheCapacity)

// UnknownProfileError reports an explicitly requested profile that does
// not exist. A selected profile name is never reinterpreted as a skill.
type UnknownProfileError struct {
	Profile string
}

func (e *UnknownProfileError) Error() string {
	return fmt.Sprintf("activation: unknown profile %q", e.Profile)
}

// Result is the outcome of one activation attempt.
type Result struct {
	Activated      bool              `json:"activated"`
	IsNew          bool              `json:"is_new,omitempty"`
	Idempotent     bool              `json:"idempotent,omitempty"`
	SessionID      string            `json:"session_id,omitempty"`
	ProfileID      string            `json:"profile_id,omitempty"`
	Chain          []string          `json:"chain,omitempty"`
	BlockedIntents map[string]string `json:"blocked_intents,omitempty"`
	Warnings       []string          `json:"warnings,omitempty"`
	Reason         string            `json:"reason,omitempty"`
	Error          string            `json:"error,omitempty"`
}

// ============================================================================
// REQUEST-ID CACHE
// ============================================================================

// requestCache is a bounded request_id → session_id map with strict
// insertion-order eviction: when full, the oldest entry leaves first.
type requestCache struct {
	mu       sync.Mutex
	capacity int
	queue    []string
	entries  map[string]string
}

func newRequestCache(capacity int) *requestCache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	return &requestCache{
		capacity: capacity,
		entries:  make(map[string]string, capacity),
	}
}

func (c *requestCache) get(requestID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.entries[requestID]
	return id, ok
}

func (c *requestCache) put(requestID, sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[requestID]; exists {
		c.entries[requestID] = sessionID
		return
	}
	for len(c.queue) >= c.capacity {
		oldest := c.queue[0]
		c.queue = c.queue[1:]
		delete(c.entries, oldest)
	}
	c.queue = append(c.queue, requestID)
	c.entries[requestID] = sessionID
}

func (c *requestCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// ============================================================================
// ACTIVATOR
// ============================================================================

// Activator creates sessions from route decisions.
type Activator struct {
	skills   *config.SkillsFile
	profiles *config.ProfilesFile
	store    *session.Store
	journal  *journal.Journal
	cache    *requestCache
}

// Options configures an Activator. Journal may be nil.
type Options struct {
	Skills        *config.SkillsFile
	Profiles      *config.ProfilesFile
	Store         *session.Store
	Journal       *journal.Journal
	CacheCapacity int
}

// New builds an Activator.
func New(opts Options) *Activator {
	cache := sharedCache
	if opts.CacheCapacity > 0 {
		cache = newRequestCache(opts.CacheCapacity)
	}
	return &Activator{
		skills:   opts.Skills,
		profiles: opts.Profiles,
		store:    opts.Store,
		journal:  opts.Journal,
		cache:    cache,
	}
}

// Activate runs the full activation flow for one route decision.
func (a *Activator) Activate(ctx context.Context, decision router.RouteDecision) (Result, error) {
	timer := logging.StartTimer(logging.CategoryActivation, "activate")
	defer timer.StopWithInfo()

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	// Idempotency: a replayed request id returns the session it minted,
	// provided that session is still the current one.
	if decision.RequestID != "" {
		if sessionID, ok := a.cache.get(decision.RequestID); ok {
			if res, ok := a.replay(decision.RequestID, sessionID); ok {
				return res, nil
			}
		}
	}

	if decision.Mode == router.ModeChat {
		logging.ActivationDebug("request %s in chat mode, skipping activation", decision.RequestID)
		logging.AuditWithRequest(decision.RequestID).Activation(logging.AuditActivationSkip, "", nil, false, "chat mode")
		a.journal.Record(journal.Entry{
			Kind:      journal.KindActivate,
			RequestID: decision.RequestID,
			Verdict:   "skipped",
			Reason:    "chat mode",
		})
		return Result{Activated: false, Reason: "chat mode"}, nil
	}

	profile, err := a.selectProfile(decision)
	if err != nil {
		logging.AuditWithRequest(decision.RequestID).Activation(logging.AuditActivationError, decision.SelectedProfile, nil, false, err.Error())
		a.journal.Record(journal.Entry{
			Kind:      journal.KindActivate,
			RequestID: decision.RequestID,
			Verdict:   "error",
			Reason:    err.Error(),
		})
		return Result{}, err
	}
	if profile == nil {
		logging.Activation("no profile matched request %s (query %q)", decision.RequestID, decision.Query)
		logging.AuditWithRequest(decision.RequestID).Activation(logging.AuditActivationSkip, "", nil, false, "profile not found")
		a.journal.Record(journal.Entry{
			Kind:      journal.KindActivate,
			RequestID: decision.RequestID,
			Verdict:   "skipped",
			Reason:    "profile not found",
		})
		return Result{Activated: false, Error: "profile not found"}, nil
	}

	resolution, err := resolver.Resolve(profile, a.skills)
	if err != nil {
		logging.AuditWithRequest(decision.RequestID).Activation(logging.AuditActivationError, profile.Name, nil, false, err.Error())
		a.journal.Record(journal.Entry{
			Kind:      journal.KindActivate,
			RequestID: decision.RequestID,
			Verdict:   "error",
			Reason:    err.Error(),
		})
		return Result{}, fmt.Errorf("activation: resolve profile %q: %w", profile.Name, err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return Result{}, fmt.Errorf("activation: mint session id: %w", err)
	}
	sessionID := id.String()

	state := &session.SessionState{
		SessionID:             sessionID,
		ProfileID:             profile.Name,
		ActivatedAt:           time.Now().UTC(),
		Chain:                 resolution.Chain,
		CapabilitiesRequired:  profile.CapabilitiesRequired,
		CapabilitiesSatisfied: []session.CapabilityEvidence{},
		CurrentSkillIndex:     0,
		Strictness:            string(profile.Strictness),
		BlockedIntents:        resolution.BlockedIntents,
	}
	if err := a.store.Create(state); err != nil {
		logging.AuditWithRequest(decision.RequestID).Activation(logging.AuditActivationError, profile.Name, resolution.Chain, false, err.Error())
		return Result{}, fmt.Errorf("activation: persist session: %w", err)
	}

	if decision.RequestID != "" {
		a.cache.put(decision.RequestID, sessionID)
	}

	logging.Activation("activated profile %q session %s chain=[%s]",
		profile.Name, sessionID, strings.Join(resolution.Chain, ", "))
	logging.AuditWithContext(sessionID, decision.RequestID, logging.CategoryActivation).
		Activation(logging.AuditActivationNew, profile.Name, resolution.Chain, true, "")
	a.journal.Record(journal.Entry{
		Kind:      journal.KindActivate,
		RequestID: decision.RequestID,
		SessionID: sessionID,
		Verdict:   "activated",
		Reason:    fmt.Sprintf("profile=%s chain=%d", profile.Name, len(resolution.Chain)),
	})

	return Result{
		Activated:      true,
		IsNew:          true,
		SessionID:      sessionID,
		ProfileID:      profile.Name,
		Chain:          resolution.Chain,
		BlockedIntents: resolution.BlockedIntents,
		Warnings:       resolution.Warnings,
	}, nil
}

// ActivateProfile activates an explicitly named profile, bypassing
// routing. Used by the activate CLI command.
func (a *Activator) ActivateProfile(ctx context.Context, name, requestID string) (Result, error) {
	decision := router.RouteDecision{
		RequestID:       requestID,
		Mode:            router.ModeImmediate,
		SelectedProfile: name,
		DecidedAt:       time.Now().UTC(),
	}
	return a.Activate(ctx, decision)
}

// replay reconstructs the idempotent result for an already-served
// request id. Misses (session deleted, superseded) fall through to a
// fresh activation.
func (a *Activator) replay(requestID, sessionID string) (Result, bool) {
	state, err := a.store.Load(sessionID)
	if err != nil || state == nil {
		logging.ActivationDebug("request %s cached session %s no longer loadable", requestID, sessionID)
		return Result{}, false
	}
	current, err := a.store.LoadCurrent()
	if err != nil || current == nil || current.SessionID != sessionID {
		logging.ActivationDebug("request %s cached session %s no longer current", requestID, sessionID)
		return Result{}, false
	}

	logging.Activation("request %s replayed session %s (idempotent)", requestID, sessionID)
	logging.AuditWithContext(sessionID, requestID, logging.CategoryActivation).
		Activation(logging.AuditActivationIdempotent, state.ProfileID, state.Chain, true, "")
	return Result{
		Activated:      true,
		IsNew:          false,
		Idempotent:     true,
		SessionID:      state.SessionID,
		ProfileID:      state.ProfileID,
		Chain:          state.Chain,
		BlockedIntents: state.BlockedIntents,
	}, true
}

// selectProfile applies the precedence ladder: explicit selection,
// then top candidate as profile name, then prompt pattern match.
func (a *Activator) selectProfile(decision router.RouteDecision) (*config.Profile, error) {
	if decision.SelectedProfile != "" {
		p := a.profiles.ByName(decision.SelectedProfile)
		if p == nil {
			return nil, &UnknownProfileError{Profile: decision.SelectedProfile}
		}
		logging.ActivationDebug("profile %q selected explicitly", p.Name)
		return p, nil
	}

	if len(decision.Candidates) > 0 {
		if p := a.profiles.ByName(decision.Candidates[0].SkillName); p != nil {
			logging.ActivationDebug("profile %q selected from top candidate", p.Name)
			return p, nil
		}
	}

	if p := a.profiles.MatchPrompt(decision.Query); p != nil {
		logging.ActivationDebug("profile %q selected by prompt match", p.Name)
		return p, nil
	}
	return nil, nil
}
