package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Tier is an ordinal risk/cost level used as a resolver tie-break key.
type Tier string

const (
	TierLow    Tier = "low"
	TierMedium Tier = "medium"
	TierHigh   Tier = "high"
)

// Rank orders tiers for comparison: low < medium < high.
func (t Tier) Rank() int {
	switch t {
	case TierLow:
		return 0
	case TierMedium:
		return 1
	case TierHigh:
		return 2
	default:
		return -1
	}
}

// Valid reports whether the tier is one of the known levels.
func (t Tier) Valid() bool {
	return t.Rank() >= 0
}

// Evidence predicate types. See internal/evidence for evaluation semantics.
const (
	PredicateFileExists     = "file_exists"
	PredicateMarkerFound    = "marker_found"
	PredicateCommandSuccess = "command_success"
	PredicateManual         = "manual"
)

// Predicate is a declarative evidence check. Skills attach predicates as
// artifacts (satisfying their provides); profiles attach them as completion
// requirements.
type Predicate struct {
	// Type selects the evaluator: file_exists, marker_found,
	// command_success, or manual.
	Type string `yaml:"type" json:"type"`

	// Pattern is a doublestar glob for file_exists or a regex for
	// marker_found.
	Pattern string `yaml:"pattern,omitempty" json:"pattern,omitempty"`

	// File is the target file for marker_found, relative to the workspace.
	File string `yaml:"file,omitempty" json:"file,omitempty"`

	// Command and ExpectedExit configure command_success. ExpectedExit
	// defaults to 0.
	Command      string `yaml:"command,omitempty" json:"command,omitempty"`
	ExpectedExit int    `yaml:"expected_exit,omitempty" json:"expected_exit,omitempty"`

	// Timeout bounds command_success execution, e.g. "30s".
	Timeout string `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// Capability names the capability this predicate satisfies. When empty
	// on a skill artifact, satisfaction covers all of the skill's provides.
	// Required for manual predicates.
	Capability string `yaml:"capability,omitempty" json:"capability,omitempty"`
}

// Describe renders a predicate for denial and stop-gate messages.
func (p Predicate) Describe() string {
	switch p.Type {
	case PredicateFileExists:
		return fmt.Sprintf("file_exists %q", p.Pattern)
	case PredicateMarkerFound:
		return fmt.Sprintf("marker_found %q in %s", p.Pattern, p.File)
	case PredicateCommandSuccess:
		return fmt.Sprintf("command_success %q", p.Command)
	case PredicateManual:
		return fmt.Sprintf("manual evidence for %q", p.Capability)
	default:
		return fmt.Sprintf("unknown predicate %q", p.Type)
	}
}

// DenyRule blocks an intent until a capability is satisfied.
type DenyRule struct {
	Until  string `yaml:"until" json:"until"`
	Reason string `yaml:"reason,omitempty" json:"reason,omitempty"`
}

// ToolPolicy is a skill's intent deny-policy.
type ToolPolicy struct {
	DenyUntil map[string]DenyRule `yaml:"deny_until,omitempty" json:"deny_until,omitempty"`
}

// Skill is one declared capability bundle from skills.yaml.
type Skill struct {
	Name        string `yaml:"name" json:"name"`
	SkillPath   string `yaml:"skill_path,omitempty" json:"skill_path,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Router corpus inputs
	TriggerExamples []string `yaml:"trigger_examples,omitempty" json:"trigger_examples,omitempty"`
	Keywords        []string `yaml:"keywords,omitempty" json:"keywords,omitempty"`

	// Capability graph
	Provides  []string `yaml:"provides,omitempty" json:"provides,omitempty"`
	Requires  []string `yaml:"requires,omitempty" json:"requires,omitempty"`
	Conflicts []string `yaml:"conflicts,omitempty" json:"conflicts,omitempty"`

	// Resolver tie-break keys
	Risk Tier `yaml:"risk,omitempty" json:"risk,omitempty"`
	Cost Tier `yaml:"cost,omitempty" json:"cost,omitempty"`

	// Evidence predicates that auto-satisfy this skill's provides
	Artifacts []Predicate `yaml:"artifacts,omitempty" json:"artifacts,omitempty"`

	ToolPolicy ToolPolicy `yaml:"tool_policy,omitempty" json:"tool_policy,omitempty"`
}

// SkillsFile is the root of skills.yaml.
type SkillsFile struct {
	Version string  `yaml:"version,omitempty"`
	Skills  []Skill `yaml:"skills"`

	sourcePath string
}

// LoadSkills reads and strictly decodes a skills.yaml file. Unknown fields
// are errors; semantic checks belong to Validate.
func LoadSkills(path string) (*SkillsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{File: path, Err: err}
	}

	var f SkillsFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, &ConfigError{File: path, Err: fmt.Errorf("failed to parse skills: %w", err)}
	}

	f.sourcePath = path
	f.normalize()
	return &f, nil
}

// normalize fills per-skill defaults: unset tiers become low.
func (f *SkillsFile) normalize() {
	for i := range f.Skills {
		if f.Skills[i].Risk == "" {
			f.Skills[i].Risk = TierLow
		}
		if f.Skills[i].Cost == "" {
			f.Skills[i].Cost = TierLow
		}
	}
}

// ByName returns the skill with the given name, or nil.
func (f *SkillsFile) ByName(name string) *Skill {
	for i := range f.Skills {
		if f.Skills[i].Name == name {
			return &f.Skills[i]
		}
	}
	return nil
}

// Providers returns the set of skills providing a capability, in declaration
// order.
func (f *SkillsFile) Providers(capability string) []*Skill {
	var out []*Skill
	for i := range f.Skills {
		for _, c := range f.Skills[i].Provides {
			if c == capability {
				out = append(out, &f.Skills[i])
				break
			}
		}
	}
	return out
}
