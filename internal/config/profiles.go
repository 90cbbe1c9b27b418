package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Strictness controls how the hooks treat denied intents.
type Strictness string

const (
	// StrictnessStrict blocks every denied intent.
	StrictnessStrict Strictness = "strict"
	// StrictnessAdvisory blocks only high-impact intents and downgrades the
	// rest to warnings.
	StrictnessAdvisory Strictness = "advisory"
	// StrictnessPermissive never blocks; denials become warnings.
	StrictnessPermissive Strictness = "permissive"
)

// Valid reports whether the strictness is one of the known levels.
func (s Strictness) Valid() bool {
	switch s {
	case StrictnessStrict, StrictnessAdvisory, StrictnessPermissive:
		return true
	default:
		return false
	}
}

// Profile is one workflow definition from profiles.yaml.
type Profile struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Match patterns for prompt-based profile selection; substring match,
	// highest Priority wins.
	Match    []string `yaml:"match,omitempty" json:"match,omitempty"`
	Priority int      `yaml:"priority,omitempty" json:"priority,omitempty"`

	CapabilitiesRequired []string   `yaml:"capabilities_required,omitempty" json:"capabilities_required,omitempty"`
	Strictness           Strictness `yaml:"strictness,omitempty" json:"strictness,omitempty"`

	// Evidence predicates evaluated by the stop hook
	CompletionRequirements []Predicate `yaml:"completion_requirements,omitempty" json:"completion_requirements,omitempty"`
}

// ProfilesFile is the root of profiles.yaml.
type ProfilesFile struct {
	Version        string    `yaml:"version,omitempty"`
	DefaultProfile string    `yaml:"default_profile,omitempty"`
	Profiles       []Profile `yaml:"profiles"`

	sourcePath string
}

// LoadProfiles reads and strictly decodes a profiles.yaml file.
func LoadProfiles(path string) (*ProfilesFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{File: path, Err: err}
	}

	var f ProfilesFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, &ConfigError{File: path, Err: fmt.Errorf("failed to parse profiles: %w", err)}
	}

	f.sourcePath = path
	f.normalize()
	return &f, nil
}

// normalize fills per-profile defaults: unset strictness means strict, the
// enforcing default for a gate.
func (f *ProfilesFile) normalize() {
	for i := range f.Profiles {
		if f.Profiles[i].Strictness == "" {
			f.Profiles[i].Strictness = StrictnessStrict
		}
	}
}

// ByName returns the profile with the given name, or nil.
func (f *ProfilesFile) ByName(name string) *Profile {
	for i := range f.Profiles {
		if f.Profiles[i].Name == name {
			return &f.Profiles[i]
		}
	}
	return nil
}

// MatchPrompt returns the highest-priority profile whose match patterns
// appear in the prompt (case-insensitive substring), ties broken by name.
// Returns nil when nothing matches.
func (f *ProfilesFile) MatchPrompt(prompt string) *Profile {
	var best *Profile
	lower := strings.ToLower(prompt)
	for i := range f.Profiles {
		p := &f.Profiles[i]
		if !p.matches(lower) {
			continue
		}
		if best == nil || p.Priority > best.Priority ||
			(p.Priority == best.Priority && p.Name < best.Name) {
			best = p
		}
	}
	return best
}

func (p *Profile) matches(lowerPrompt string) bool {
	for _, pat := range p.Match {
		if pat == "" {
			continue
		}
		if strings.Contains(lowerPrompt, strings.ToLower(pat)) {
			return true
		}
	}
	return false
}
