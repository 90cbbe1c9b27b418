// Package hooks implements the two enforcement gates that wrap the
// agent loop: the pre-tool-use check, which allows or denies a tool
// call against the current session's blocked intents, and the stop
// check, which holds the session open until the profile's completion
// requirements have evidence.
//
// Both gates fail open on their own faults: a hook bug or a corrupt
// session must never brick the agent, so internal errors surface to the
// caller (which logs and allows) rather than as denials.
package hooks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"skillgate/internal/config"
	"skillgate/internal/evidence"
	"skillgate/internal/intent"
	"skillgate/internal/journal"
	"skillgate/internal/logging"
	"skillgate/internal/resolver"
	"skillgate/internal/session"
)

// CheckResult is the pre-tool-use verdict. Message carries guidance
// when allowed and the denial when blocked; Warning carries denials
// downgraded by advisory or permissive strictness.
type CheckResult struct {
	Allowed        bool     `json:"allowed"`
	Message        string   `json:"message,omitempty"`
	Warning        string   `json:"warning,omitempty"`
	BlockedIntents []string `json:"blocked_intents,omitempty"`
}

// StopResult is the stop-gate verdict.
type StopResult struct {
	Allowed             bool     `json:"allowed"`
	MissingRequirements []string `json:"missing_requirements,omitempty"`
	Message             string   `json:"message,omitempty"`
}

// Hook evaluates tool calls and stop requests against the live session.
type Hook struct {
	workspace string
	skills    *config.SkillsFile
	profiles  *config.ProfilesFile
	store     *session.Store
	registry  *evidence.Registry
	journal   *journal.Journal
}

// Options configures a Hook. Journal may be nil; Registry defaults to
// the standard evaluators.
type Options struct {
	Workspace string
	Skills    *config.SkillsFile
	Profiles  *config.ProfilesFile
	Store     *session.Store
	Registry  *evidence.Registry
	Journal   *journal.Journal
}

// New builds a Hook.
func New(opts Options) *Hook {
	reg := opts.Registry
	if reg == nil {
		reg = evidence.NewRegistry()
	}
	return &Hook{
		workspace: opts.Workspace,
		skills:    opts.Skills,
		profiles:  opts.Profiles,
		store:     opts.Store,
		registry:  reg,
		journal:   opts.Journal,
	}
}

type blockedHit struct {
	intent intent.Intent
	reason string
}

// ============================================================================
// PRE-TOOL-USE GATE
// ============================================================================

// Check gates one tool invocation against the current session.
func (h *Hook) Check(ctx context.Context, inv intent.Invocation) (CheckResult, error) {
	timer := logging.StartTimer(logging.CategoryHooks, "pre_tool_use")
	defer timer.StopWithThreshold(200 * time.Millisecond)

	state, err := h.store.LoadCurrent()
	if err != nil {
		return CheckResult{Allowed: true}, fmt.Errorf("hooks: load session: %w", err)
	}
	if state == nil {
		logging.HooksDebug("no active session, %s allowed", toolName(inv))
		return CheckResult{Allowed: true}, nil
	}

	intents := intent.Map(inv)
	var hits []blockedHit
	for _, it := range intents {
		if reason, ok := state.BlockedIntents[string(it)]; ok {
			hits = append(hits, blockedHit{intent: it, reason: reason})
		}
	}

	strictness := config.Strictness(state.Strictness)
	denied, warned := partition(hits, strictness)

	if len(denied) > 0 {
		res := CheckResult{
			Allowed:        false,
			Message:        h.denial(state, denied),
			BlockedIntents: hitNames(denied),
		}
		logging.Hooks("denied %s (%s): %s", toolName(inv), strings.Join(hitNames(denied), ","), denied[0].reason)
		logging.AuditWithSession(state.SessionID).ToolCheck(toolName(inv), intentNames(intents), false, denied[0].reason)
		h.journal.Record(journal.Entry{
			Kind:      journal.KindPreToolUse,
			SessionID: state.SessionID,
			Tool:      toolName(inv),
			Intents:   intentNames(intents),
			Verdict:   "deny",
			Reason:    denied[0].reason,
		})
		return res, nil
	}

	res := CheckResult{Allowed: true, Message: h.guidance(state)}
	verdict := "allow"
	if len(warned) > 0 {
		res.Warning = h.warning(strictness, warned)
		verdict = "warn"
		logging.AuditWithSession(state.SessionID).ToolWarn(toolName(inv), intentNames(intents), warned[0].reason)
	} else {
		logging.AuditWithSession(state.SessionID).ToolCheck(toolName(inv), intentNames(intents), true, "")
	}
	h.journal.Record(journal.Entry{
		Kind:      journal.KindPreToolUse,
		SessionID: state.SessionID,
		Tool:      toolName(inv),
		Intents:   intentNames(intents),
		Verdict:   verdict,
	})

	h.refreshEvidence(ctx, state)
	return res, nil
}

// partition splits blocked hits into denials and warnings per the
// session strictness.
func partition(hits []blockedHit, strictness config.Strictness) (denied, warned []blockedHit) {
	for _, hit := range hits {
		switch strictness {
		case config.StrictnessStrict:
			denied = append(denied, hit)
		case config.StrictnessAdvisory:
			if intent.HighImpact[hit.intent] {
				denied = append(denied, hit)
			} else {
				warned = append(warned, hit)
			}
		case config.StrictnessPermissive:
			warned = append(warned, hit)
		default:
			denied = append(denied, hit)
		}
	}
	return denied, warned
}

// guidance describes where the workflow stands: current skill, next
// capability needed, and progress.
func (h *Hook) guidance(state *session.SessionState) string {
	total := len(state.CapabilitiesRequired)
	missing := state.MissingCapabilities()
	done := total - len(missing)

	if len(missing) == 0 {
		return fmt.Sprintf("workflow %s: all %d capabilities satisfied", state.ProfileID, total)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "workflow %s", state.ProfileID)
	if cur := state.CurrentSkill(); cur != "" {
		fmt.Fprintf(&b, ": current skill %q (%d/%d in chain)", cur, state.CurrentSkillIndex+1, len(state.Chain))
	}
	fmt.Fprintf(&b, " — next capability needed: %s (progress %d/%d)", missing[0], done, total)
	return b.String()
}

// denial explains a block: the rule reason, the unmet capability, the
// next chain skill, and how to proceed.
func (h *Hook) denial(state *session.SessionState, denied []blockedHit) string {
	first := denied[0]
	unmet := h.unmetCapabilityFor(state, first.intent)

	var b strings.Builder
	fmt.Fprintf(&b, "blocked intent %s: %s", first.intent, first.reason)
	if unmet != "" {
		fmt.Fprintf(&b, "\nunmet capability: %s", unmet)
	}
	if next := state.CurrentSkill(); next != "" {
		fmt.Fprintf(&b, "\nnext skill in chain: %s", next)
	}
	if unmet != "" {
		fmt.Fprintf(&b, "\nto proceed: satisfy %q (its evidence is re-checked after every allowed tool call)", unmet)
	} else {
		fmt.Fprintf(&b, "\nto proceed: complete the current skill's workflow before retrying")
	}
	if len(denied) > 1 {
		fmt.Fprintf(&b, "\nalso blocked: %s", strings.Join(hitNames(denied[1:]), ", "))
	}
	return b.String()
}

func (h *Hook) warning(strictness config.Strictness, warned []blockedHit) string {
	return fmt.Sprintf("%s strictness: %s would be blocked under strict (%s)",
		strictness, strings.Join(hitNames(warned), ", "), warned[0].reason)
}

// unmetCapabilityFor finds the capability a blocked intent is waiting
// on: the first unsatisfied deny-until over the chain, falling back to
// the first missing required capability.
func (h *Hook) unmetCapabilityFor(state *session.SessionState, it intent.Intent) string {
	satisfied := state.SatisfiedSet()
	for _, name := range state.Chain {
		sk := h.skills.ByName(name)
		if sk == nil {
			continue
		}
		if rule, ok := sk.ToolPolicy.DenyUntil[string(it)]; ok && !satisfied[rule.Until] {
			return rule.Until
		}
	}
	if missing := state.MissingCapabilities(); len(missing) > 0 {
		return missing[0]
	}
	return ""
}

// ============================================================================
// EVIDENCE REFRESH
// ============================================================================

// refreshEvidence re-checks the current skill's artifacts after an
// allowed call. Newly satisfied capabilities are recorded (append-only),
// blocked intents recomputed, and the chain index advanced. Failures
// here are logged and swallowed: the call was already allowed.
func (h *Hook) refreshEvidence(ctx context.Context, state *session.SessionState) {
	cur := state.CurrentSkill()
	if cur == "" {
		return
	}
	sk := h.skills.ByName(cur)
	if sk == nil || len(sk.Artifacts) == 0 {
		return
	}

	satisfied := state.SatisfiedSet()
	var fresh []session.CapabilityEvidence
	for _, pred := range sk.Artifacts {
		res := h.registry.Check(ctx, evidence.Request{
			Workspace: h.workspace,
			Predicate: pred,
			Satisfied: satisfied,
		})
		if !res.Satisfied {
			continue
		}
		for _, cap := range predicateCapabilities(pred, sk) {
			if satisfied[cap] {
				continue
			}
			ev := session.CapabilityEvidence{
				Capability:   cap,
				SatisfiedAt:  time.Now().UTC(),
				SatisfiedBy:  sk.Name,
				EvidenceType: res.EvidenceType,
			}
			if res.EvidenceType == config.PredicateFileExists || res.EvidenceType == config.PredicateMarkerFound {
				ev.EvidencePath = res.Details
			}
			fresh = append(fresh, ev)
			satisfied[cap] = true
			logging.AuditWithSession(state.SessionID).EvidenceCheck(cap, res.EvidenceType, true, res.Details)
		}
	}
	if len(fresh) == 0 {
		return
	}

	_, err := h.store.Update(state.SessionID, func(s *session.SessionState) error {
		for _, ev := range fresh {
			s.RecordEvidence(ev)
		}
		sat := s.SatisfiedSet()
		s.BlockedIntents = resolver.RecomputeBlockedIntents(h.skills, s.Chain, sat)
		s.CurrentSkillIndex = firstUnsatisfiedSkill(h.skills, s.Chain, sat)
		return nil
	})
	if err != nil {
		logging.HooksError("record evidence for session %s: %v", state.SessionID, err)
		return
	}
	logging.Hooks("session %s: %d capabilities newly satisfied", state.SessionID, len(fresh))
}

// predicateCapabilities returns the capabilities a satisfied predicate
// covers: its declared capability, or all of the skill's provides.
func predicateCapabilities(pred config.Predicate, sk *config.Skill) []string {
	if pred.Capability != "" {
		return []string{pred.Capability}
	}
	return sk.Provides
}

// firstUnsatisfiedSkill is the chain index of the first skill whose
// provides are not fully satisfied; len(chain) when the chain is done.
func firstUnsatisfiedSkill(skills *config.SkillsFile, chain []string, satisfied map[string]bool) int {
	for i, name := range chain {
		sk := skills.ByName(name)
		if sk == nil {
			continue
		}
		for _, cap := range sk.Provides {
			if !satisfied[cap] {
				return i
			}
		}
	}
	return len(chain)
}

// ============================================================================
// STOP GATE
// ============================================================================

// CheckStop gates the agent's stop request against the profile's
// completion requirements. Only strict sessions hold the gate; a
// session whose profile no longer exists allows the stop.
func (h *Hook) CheckStop(ctx context.Context) (StopResult, error) {
	timer := logging.StartTimer(logging.CategoryHooks, "stop")
	defer timer.StopWithInfo()

	state, err := h.store.LoadCurrent()
	if err != nil {
		return StopResult{Allowed: true}, fmt.Errorf("hooks: load session: %w", err)
	}
	if state == nil {
		return StopResult{Allowed: true}, nil
	}
	if config.Strictness(state.Strictness) != config.StrictnessStrict {
		logging.HooksDebug("stop allowed: strictness %s does not gate", state.Strictness)
		return StopResult{Allowed: true}, nil
	}

	profile := h.profiles.ByName(state.ProfileID)
	if profile == nil || len(profile.CompletionRequirements) == 0 {
		logging.AuditWithSession(state.SessionID).StopCheck(true, nil)
		h.journal.Record(journal.Entry{
			Kind:      journal.KindStop,
			SessionID: state.SessionID,
			Verdict:   "allow",
		})
		return StopResult{Allowed: true}, nil
	}

	satisfied := state.SatisfiedSet()
	var missing []string
	for _, pred := range profile.CompletionRequirements {
		res := h.registry.Check(ctx, evidence.Request{
			Workspace: h.workspace,
			Predicate: pred,
			Satisfied: satisfied,
		})
		if !res.Satisfied {
			missing = append(missing, pred.Describe())
		}
	}

	if len(missing) == 0 {
		logging.Hooks("stop allowed: all %d completion requirements satisfied", len(profile.CompletionRequirements))
		logging.AuditWithSession(state.SessionID).StopCheck(true, nil)
		h.journal.Record(journal.Entry{
			Kind:      journal.KindStop,
			SessionID: state.SessionID,
			Verdict:   "allow",
		})
		return StopResult{Allowed: true}, nil
	}

	msg := fmt.Sprintf("cannot stop: %d completion requirement(s) unsatisfied:\n  %s",
		len(missing), strings.Join(missing, "\n  "))
	logging.Hooks("stop blocked: %d requirements unsatisfied", len(missing))
	logging.AuditWithSession(state.SessionID).StopCheck(false, missing)
	h.journal.Record(journal.Entry{
		Kind:      journal.KindStop,
		SessionID: state.SessionID,
		Verdict:   "deny",
		Reason:    fmt.Sprintf("%d requirements unsatisfied", len(missing)),
	})
	return StopResult{Allowed: false, MissingRequirements: missing, Message: msg}, nil
}

// ============================================================================
// HELPERS
// ============================================================================

func toolName(inv intent.Invocation) string {
	if inv.Kind == intent.KindUnknown && inv.Name != "" {
		return inv.Name
	}
	return string(inv.Kind)
}

func hitNames(hits []blockedHit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = string(h.intent)
	}
	return out
}

func intentNames(intents []intent.Intent) []string {
	out := make([]string, len(intents))
	for i, it := range intents {
		out[i] = string(it)
	}
	return out
}
