// Package resolver turns a profile's capability requirements into a
// conflict-free, topologically ordered skill chain. Resolution is
// deterministic: the same profile and skill corpus always produce the
// same chain, explanations, and blocked-intent map.
package resolver

import (
	"fmt"
	"sort"
	"strings"

	"skillgate/internal/config"
	"skillgate/internal/logging"
)

// ResolutionError reports an unsatisfiable requirement: either a
// capability with no provider, or a cycle in the requires/provides graph.
type ResolutionError struct {
	Profile    string
	Capability string
	Cycle      []string
}

func (e *ResolutionError) Error() string {
	if len(e.Cycle) > 0 {
		return fmt.Sprintf("resolver: capability cycle in profile %q: %s",
			e.Profile, strings.Join(e.Cycle, " -> "))
	}
	return fmt.Sprintf("resolver: no skill provides %q required by profile %q",
		e.Capability, e.Profile)
}

// ConflictError reports that the tie-break winner for a capability
// conflicts with a skill already selected. Resolution stops: a chain
// containing a conflicting pair is never returned.
type ConflictError struct {
	Profile  string
	Selected string
	InChain  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("resolver: skill %q conflicts with %q already in the chain for profile %q",
		e.Selected, e.InChain, e.Profile)
}

// Explanation records why one skill entered the chain.
type Explanation struct {
	Skill    string   `json:"skill"`
	Reason   string   `json:"reason"`
	Provides []string `json:"provides"`
	Requires []string `json:"requires,omitempty"`
}

// Resolution is the output of Resolve.
type Resolution struct {
	Profile        string            `json:"profile"`
	Chain          []string          `json:"chain"`
	BlockedIntents map[string]string `json:"blocked_intents"`
	Explanations   []Explanation     `json:"explanations,omitempty"`
	Warnings       []string          `json:"warnings,omitempty"`
}

// Three-colour DFS marks for cycle detection over capabilities.
const (
	capWhite = iota // untouched
	capGrey         // resolution in progress (on the stack)
	capBlack        // resolved or recorded unreachable
)

// graph is the index-based view of the skill corpus: skills live in a
// flat array and every lookup goes through integer ids.
type graph struct {
	skills    []config.Skill
	providers map[string][]int // capability -> provider ids, name-sorted
}

func buildGraph(skills []config.Skill) *graph {
	g := &graph{
		skills:    skills,
		providers: make(map[string][]int),
	}
	for id := range skills {
		for _, cap := range skills[id].Provides {
			g.providers[cap] = append(g.providers[cap], id)
		}
	}
	for cap := range g.providers {
		ids := g.providers[cap]
		sort.Slice(ids, func(i, j int) bool {
			return g.skills[ids[i]].Name < g.skills[ids[j]].Name
		})
	}
	return g
}

// requirementClosure expands the profile's requirements with everything
// the providers of those requirements transitively require.
func (g *graph) requirementClosure(required []string) map[string]bool {
	closure := make(map[string]bool)
	stack := append([]string(nil), required...)
	for len(stack) > 0 {
		cap := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if closure[cap] {
			continue
		}
		closure[cap] = true
		for _, id := range g.providers[cap] {
			for _, r := range g.skills[id].Requires {
				if !closure[r] {
					stack = append(stack, r)
				}
			}
		}
	}
	return closure
}

type resolveState struct {
	g       *graph
	profile *config.Profile

	satisfied map[string]bool // provides of skills selected so far
	chain     []int
	colour    map[string]int

	explanations []Explanation
	warnings     []string
}

// Resolve computes the skill chain for a profile. Dependencies are
// selected before their dependents, so every skill's requires are
// provided by a skill earlier in the chain.
func Resolve(profile *config.Profile, skills *config.SkillsFile) (*Resolution, error) {
	if profile == nil {
		return nil, fmt.Errorf("resolver: nil profile")
	}
	if skills == nil {
		return nil, fmt.Errorf("resolver: nil skill corpus")
	}

	st := &resolveState{
		g:         buildGraph(skills.Skills),
		profile:   profile,
		satisfied: make(map[string]bool),
		colour:    make(map[string]int),
	}

	for _, cap := range profile.CapabilitiesRequired {
		if err := st.resolveCapability(cap, nil, ""); err != nil {
			return nil, err
		}
	}

	chainNames := make([]string, len(st.chain))
	chainSkills := make([]config.Skill, len(st.chain))
	for i, id := range st.chain {
		chainNames[i] = st.g.skills[id].Name
		chainSkills[i] = st.g.skills[id]
	}

	// Nothing is evidence-satisfied at activation time, so every
	// deny_until rule in the chain starts out active.
	blocked := BlockedIntents(chainSkills, nil)

	closure := st.g.requirementClosure(profile.CapabilitiesRequired)
	for _, sk := range chainSkills {
		for _, cap := range sk.Provides {
			if !closure[cap] {
				st.warnings = append(st.warnings,
					fmt.Sprintf("skill %q provides %q which nothing requires", sk.Name, cap))
			}
		}
	}

	logging.Resolver("profile %q -> chain=%v blocked=%d warnings=%d",
		profile.Name, chainNames, len(blocked), len(st.warnings))

	return &Resolution{
		Profile:        profile.Name,
		Chain:          chainNames,
		BlockedIntents: blocked,
		Explanations:   st.explanations,
		Warnings:       st.warnings,
	}, nil
}

// resolveCapability selects a provider for cap, resolving the provider's
// own requirements first. trail is the in-progress capability path used
// to name cycles; neededBy is the dependent skill for explanations.
func (st *resolveState) resolveCapability(cap string, trail []string, neededBy string) error {
	if st.satisfied[cap] {
		return nil
	}
	switch st.colour[cap] {
	case capGrey:
		return &ResolutionError{Profile: st.profile.Name, Cycle: cycleFrom(trail, cap)}
	case capBlack:
		// Already handled; unreachable under a lenient profile stays
		// unsatisfied without re-warning.
		return nil
	}
	st.colour[cap] = capGrey
	defer func() { st.colour[cap] = capBlack }()

	id := st.pickProvider(cap)
	if id < 0 {
		if st.profile.Strictness == config.StrictnessStrict {
			return &ResolutionError{Profile: st.profile.Name, Capability: cap}
		}
		st.warnings = append(st.warnings,
			fmt.Sprintf("no skill provides %q; continuing without it", cap))
		return nil
	}

	skill := st.g.skills[id]
	next := append(append([]string(nil), trail...), cap)
	for _, r := range skill.Requires {
		if err := st.resolveCapability(r, next, skill.Name); err != nil {
			return err
		}
	}

	// A dependency selection may have provided cap already; the winner
	// is then redundant and stays out of the chain.
	if st.satisfied[cap] {
		return nil
	}

	for _, cid := range st.chain {
		other := st.g.skills[cid]
		if conflictsWith(skill, other) || conflictsWith(other, skill) {
			return &ConflictError{Profile: st.profile.Name, Selected: skill.Name, InChain: other.Name}
		}
	}

	st.chain = append(st.chain, id)
	for _, p := range skill.Provides {
		st.satisfied[p] = true
	}

	reason := fmt.Sprintf("provides %q", cap)
	if neededBy != "" {
		reason = fmt.Sprintf("provides %q required by %s", cap, neededBy)
	}
	st.explanations = append(st.explanations, Explanation{
		Skill:    skill.Name,
		Reason:   reason,
		Provides: skill.Provides,
		Requires: skill.Requires,
	})
	logging.ResolverDebug("selected %q for %q (risk=%s cost=%s)", skill.Name, cap, skill.Risk, skill.Cost)
	return nil
}

// pickProvider returns the id of the best provider for cap, or -1.
// Tie-break order: requires already satisfied, lower risk, lower cost,
// lexicographic name. The name key makes the winner unique, so the
// result does not depend on scan order.
func (st *resolveState) pickProvider(cap string) int {
	best := -1
	for _, id := range st.g.providers[cap] {
		if best < 0 || st.better(id, best) {
			best = id
		}
	}
	return best
}

func (st *resolveState) better(a, b int) bool {
	sa, sb := st.g.skills[a], st.g.skills[b]
	aReady, bReady := st.requiresSatisfied(sa), st.requiresSatisfied(sb)
	if aReady != bReady {
		return aReady
	}
	if ra, rb := sa.Risk.Rank(), sb.Risk.Rank(); ra != rb {
		return ra < rb
	}
	if ca, cb := sa.Cost.Rank(), sb.Cost.Rank(); ca != cb {
		return ca < cb
	}
	return sa.Name < sb.Name
}

func (st *resolveState) requiresSatisfied(sk config.Skill) bool {
	for _, r := range sk.Requires {
		if !st.satisfied[r] {
			return false
		}
	}
	return true
}

func conflictsWith(a, b config.Skill) bool {
	for _, name := range a.Conflicts {
		if name == b.Name {
			return true
		}
	}
	return false
}

// cycleFrom slices the capability trail at the repeated capability so the
// error names exactly the cycle, e.g. [a b a].
func cycleFrom(trail []string, cap string) []string {
	for i, c := range trail {
		if c == cap {
			return append(append([]string(nil), trail[i:]...), cap)
		}
	}
	return append(append([]string(nil), trail...), cap)
}

// BlockedIntents applies every chain skill's deny_until rules against a
// satisfied-capability set. Earlier chain skills take precedence: the
// first reason written for an intent wins. Rules whose until capability
// is satisfied are dropped, so the map shrinks monotonically as evidence
// accumulates.
func BlockedIntents(chain []config.Skill, satisfied map[string]bool) map[string]string {
	blocked := make(map[string]string)
	for _, sk := range chain {
		if len(sk.ToolPolicy.DenyUntil) == 0 {
			continue
		}
		intents := make([]string, 0, len(sk.ToolPolicy.DenyUntil))
		for it := range sk.ToolPolicy.DenyUntil {
			intents = append(intents, it)
		}
		sort.Strings(intents)
		for _, it := range intents {
			rule := sk.ToolPolicy.DenyUntil[it]
			if satisfied[rule.Until] {
				continue
			}
			if _, exists := blocked[it]; !exists {
				blocked[it] = rule.Reason
			}
		}
	}
	return blocked
}

// RecomputeBlockedIntents is the name-based variant used by the hooks:
// chain names are looked up in the corpus and unknown names are skipped
// (validation rejects them at load time).
func RecomputeBlockedIntents(skills *config.SkillsFile, chain []string, satisfied map[string]bool) map[string]string {
	resolved := make([]config.Skill, 0, len(chain))
	for _, name := range chain {
		if sk := skills.ByName(name); sk != nil {
			resolved = append(resolved, *sk)
		} else {
			logging.ResolverDebug("chain names unknown skill %q; skipping its policy", name)
		}
	}
	return BlockedIntents(resolved, satisfied)
}
