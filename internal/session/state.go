// Package session persists the active workflow session under the
// workspace's .skillgate directory. A session records which profile is
// live, the resolved skill chain, which capabilities have evidence, and
// which tool intents are currently blocked. All mutation goes through
// Store.Update so concurrent hook invocations serialize on one state.
package session

import (
	"time"
)

// CapabilityEvidence records that a required capability was observed
// satisfied, and by what.
type CapabilityEvidence struct {
	Capability   string    `json:"capability"`
	SatisfiedAt  time.Time `json:"satisfied_at"`
	SatisfiedBy  string    `json:"satisfied_by"`             // skill name that provided it
	EvidenceType string    `json:"evidence_type"`            // file_exists | marker_found | command_success | manual
	EvidencePath string    `json:"evidence_path,omitempty"`  // matched file for file-backed evidence
}

// SessionState is the persisted state of one activation. It is written
// atomically as .skillgate/sessions/<session_id>.json; the pointer file
// .skillgate/current.json names the live session.
type SessionState struct {
	SessionID   string    `json:"session_id"`
	ProfileID   string    `json:"profile_id"`
	ActivatedAt time.Time `json:"activated_at"`

	// Chain is the resolved, topologically ordered skill chain.
	Chain []string `json:"chain"`

	CapabilitiesRequired  []string             `json:"capabilities_required"`
	CapabilitiesSatisfied []CapabilityEvidence `json:"capabilities_satisfied"`

	// CurrentSkillIndex points at the first chain skill whose provides
	// are not yet fully satisfied; equals len(Chain) when the chain is done.
	CurrentSkillIndex int `json:"current_skill_index"`

	// Strictness is copied from the profile at activation time.
	Strictness string `json:"strictness"`

	// BlockedIntents maps a tool intent to the reason it is denied.
	BlockedIntents map[string]string `json:"blocked_intents"`
}

// SatisfiedSet returns the set of capability names with recorded evidence.
func (s *SessionState) SatisfiedSet() map[string]bool {
	out := make(map[string]bool, len(s.CapabilitiesSatisfied))
	for _, ev := range s.CapabilitiesSatisfied {
		out[ev.Capability] = true
	}
	return out
}

// IsSatisfied reports whether the named capability has recorded evidence.
func (s *SessionState) IsSatisfied(capability string) bool {
	for _, ev := range s.CapabilitiesSatisfied {
		if ev.Capability == capability {
			return true
		}
	}
	return false
}

// MissingCapabilities returns required capabilities without evidence,
// in requirement order.
func (s *SessionState) MissingCapabilities() []string {
	satisfied := s.SatisfiedSet()
	var missing []string
	for _, cap := range s.CapabilitiesRequired {
		if !satisfied[cap] {
			missing = append(missing, cap)
		}
	}
	return missing
}

// RecordEvidence appends evidence for a capability unless evidence for it
// already exists. Satisfaction is monotonic: once recorded, a capability
// stays satisfied for the life of the session.
func (s *SessionState) RecordEvidence(ev CapabilityEvidence) bool {
	if s.IsSatisfied(ev.Capability) {
		return false
	}
	s.CapabilitiesSatisfied = append(s.CapabilitiesSatisfied, ev)
	return true
}

// CapabilitiesComplete reports whether every required capability has evidence.
func (s *SessionState) CapabilitiesComplete() bool {
	return len(s.MissingCapabilities()) == 0
}

// CurrentSkill returns the chain skill at the current index, or "" when
// the chain is complete.
func (s *SessionState) CurrentSkill() string {
	if s.CurrentSkillIndex < 0 || s.CurrentSkillIndex >= len(s.Chain) {
		return ""
	}
	return s.Chain[s.CurrentSkillIndex]
}
