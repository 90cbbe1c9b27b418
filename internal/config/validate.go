package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ValidationError is one semantic problem found in a config file.
type ValidationError struct {
	File    string `json:"file"`
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.File, e.Path, e.Message)
}

// ValidationErrors collects every problem found in a validation pass.
// Validation is fatal iff the list is non-empty.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, v := range e {
		msgs[i] = v.Error()
	}
	return fmt.Sprintf("%d validation error(s): %s", len(e), strings.Join(msgs, "; "))
}

// AsError returns the list as an error, or nil when empty.
func (e ValidationErrors) AsError() error {
	if len(e) == 0 {
		return nil
	}
	return e
}

func (e *ValidationErrors) add(file, path, format string, args ...interface{}) {
	*e = append(*e, ValidationError{
		File:    file,
		Path:    path,
		Message: fmt.Sprintf(format, args...),
	})
}

// Validate cross-checks a skill corpus against a profile set. Either argument
// may be nil when only one file is under validation.
func Validate(skills *SkillsFile, profiles *ProfilesFile) ValidationErrors {
	var errs ValidationErrors

	providers := make(map[string]bool)
	skillNames := make(map[string]bool)

	if skills != nil {
		file := skills.sourcePath
		if file == "" {
			file = "skills.yaml"
		}

		for i := range skills.Skills {
			sk := &skills.Skills[i]
			path := fmt.Sprintf("skills[%d]", i)
			if sk.Name != "" {
				path = "skills." + sk.Name
			}

			if sk.Name == "" {
				errs.add(file, path+".name", "skill name must not be empty")
			} else if skillNames[sk.Name] {
				errs.add(file, path+".name", "duplicate skill name %q", sk.Name)
			}
			skillNames[sk.Name] = true

			if !sk.Risk.Valid() {
				errs.add(file, path+".risk", "invalid risk tier %q (valid: low, medium, high)", sk.Risk)
			}
			if !sk.Cost.Valid() {
				errs.add(file, path+".cost", "invalid cost tier %q (valid: low, medium, high)", sk.Cost)
			}

			for _, cap := range sk.Provides {
				providers[cap] = true
			}

			for j, art := range sk.Artifacts {
				artPath := fmt.Sprintf("%s.artifacts[%d]", path, j)
				validatePredicate(&errs, file, artPath, art)
				if art.Capability != "" && !containsString(sk.Provides, art.Capability) {
					errs.add(file, artPath+".capability",
						"capability %q is not among the skill's provides", art.Capability)
				}
			}

			for intent, rule := range sk.ToolPolicy.DenyUntil {
				if rule.Until == "" {
					errs.add(file, fmt.Sprintf("%s.tool_policy.deny_until.%s", path, intent),
						"deny rule must name an until capability")
				}
			}
		}

		// Second pass once every provider is known.
		for i := range skills.Skills {
			sk := &skills.Skills[i]
			path := fmt.Sprintf("skills[%d]", i)
			if sk.Name != "" {
				path = "skills." + sk.Name
			}

			for _, cap := range sk.Requires {
				if !providers[cap] {
					errs.add(file, path+".requires",
						"required capability %q has no provider in the corpus", cap)
				}
			}
			for _, name := range sk.Conflicts {
				if !skillNames[name] {
					errs.add(file, path+".conflicts", "conflict names unknown skill %q", name)
				}
			}
		}
	}

	if profiles != nil {
		file := profiles.sourcePath
		if file == "" {
			file = "profiles.yaml"
		}

		profileNames := make(map[string]bool)
		for i := range profiles.Profiles {
			p := &profiles.Profiles[i]
			path := fmt.Sprintf("profiles[%d]", i)
			if p.Name != "" {
				path = "profiles." + p.Name
			}

			if p.Name == "" {
				errs.add(file, path+".name", "profile name must not be empty")
			} else if profileNames[p.Name] {
				errs.add(file, path+".name", "duplicate profile name %q", p.Name)
			}
			profileNames[p.Name] = true

			if !p.Strictness.Valid() {
				errs.add(file, path+".strictness",
					"invalid strictness %q (valid: strict, advisory, permissive)", p.Strictness)
			}

			if skills != nil {
				for _, cap := range p.CapabilitiesRequired {
					if !providers[cap] {
						errs.add(file, path+".capabilities_required",
							"required capability %q has no provider in the corpus", cap)
					}
				}
			}

			for j, req := range p.CompletionRequirements {
				validatePredicate(&errs, file, fmt.Sprintf("%s.completion_requirements[%d]", path, j), req)
			}
		}

		if profiles.DefaultProfile != "" && !profileNames[profiles.DefaultProfile] {
			errs.add(file, "default_profile", "unknown profile %q", profiles.DefaultProfile)
		}
	}

	return errs
}

// validatePredicate checks one evidence predicate for structural problems.
func validatePredicate(errs *ValidationErrors, file, path string, p Predicate) {
	switch p.Type {
	case PredicateFileExists:
		if p.Pattern == "" {
			errs.add(file, path+".pattern", "file_exists requires a glob pattern")
		}
	case PredicateMarkerFound:
		if p.File == "" {
			errs.add(file, path+".file", "marker_found requires a target file")
		}
		if p.Pattern == "" {
			errs.add(file, path+".pattern", "marker_found requires a regex pattern")
		} else if _, err := regexp.Compile(p.Pattern); err != nil {
			errs.add(file, path+".pattern", "invalid regex: %v", err)
		}
	case PredicateCommandSuccess:
		if p.Command == "" {
			errs.add(file, path+".command", "command_success requires a command")
		}
		if p.Timeout != "" {
			if _, err := time.ParseDuration(p.Timeout); err != nil {
				errs.add(file, path+".timeout", "invalid timeout: %v", err)
			}
		}
	case PredicateManual:
		if p.Capability == "" {
			errs.add(file, path+".capability", "manual evidence requires a capability name")
		}
	case "":
		errs.add(file, path+".type", "predicate type must not be empty")
	default:
		errs.add(file, path+".type",
			"unknown predicate type %q (valid: file_exists, marker_found, command_success, manual)", p.Type)
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
