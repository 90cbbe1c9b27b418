// Package config loads skillgate's declarative inputs: runtime settings
// (.skillgate/config.json), the skill corpus (skills.yaml), and workflow
// profiles (profiles.yaml). Settings layer defaults -> file -> environment;
// the YAML schemas are decoded strictly and cross-checked by Validate.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"dario.cat/mergo"

	"skillgate/internal/embedding"
)

// DirName is the per-workspace dotdir holding all skillgate state.
const DirName = ".skillgate"

// Settings holds runtime settings from .skillgate/config.json.
type Settings struct {
	// Router thresholds: the top fused score selects the activation mode
	ImmediateThreshold  float64 `json:"immediate_threshold,omitempty"`
	SuggestionThreshold float64 `json:"suggestion_threshold,omitempty"`

	// Score fusion weights (keyword + embedding blend)
	KeywordWeight   float64 `json:"keyword_weight,omitempty"`
	EmbeddingWeight float64 `json:"embedding_weight,omitempty"`

	// Vector store artifact path, joined to the workspace root unless absolute
	VectorStore string `json:"vector_store,omitempty"`

	// Capacity of the router's query-embedding cache
	EmbedCacheSize int `json:"embed_cache_size,omitempty"`

	// Corrective middleware retry budget
	MaxRetries int `json:"max_retries,omitempty"`

	// Embedding engine configuration
	Embedding *embedding.Config `json:"embedding,omitempty"`

	// Logging configuration (the same block is read by internal/logging)
	Logging *LoggingSettings `json:"logging,omitempty"`
}

// LoggingSettings mirrors the logging block of .skillgate/config.json.
type LoggingSettings struct {
	DebugMode  bool            `json:"debug_mode,omitempty"`
	Categories map[string]bool `json:"categories,omitempty"`
	Level      string          `json:"level,omitempty"`
	JSONFormat bool            `json:"json_format,omitempty"`
}

// DefaultSettings returns the built-in settings.
func DefaultSettings() *Settings {
	return &Settings{
		ImmediateThreshold:  0.85,
		SuggestionThreshold: 0.70,
		KeywordWeight:       0.3,
		EmbeddingWeight:     0.7,
		VectorStore:         filepath.Join(DirName, "vector_store.json"),
		EmbedCacheSize:      256,
		MaxRetries:          3,
	}
}

// LoadSettings loads settings from a JSON file, merging file values over
// defaults and applying environment overrides last. A missing file yields
// defaults plus environment.
func LoadSettings(path string) (*Settings, error) {
	cfg := DefaultSettings()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, &ConfigError{File: path, Err: err}
	}

	var fileCfg Settings
	if err := json.Unmarshal(data, &fileCfg); err != nil {
		return nil, &ConfigError{File: path, Err: fmt.Errorf("failed to parse settings: %w", err)}
	}

	if err := mergo.Merge(cfg, fileCfg, mergo.WithOverride); err != nil {
		return nil, &ConfigError{File: path, Err: fmt.Errorf("failed to merge settings: %w", err)}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes settings to a JSON file, creating parent directories.
func (s *Settings) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides. Unparseable or
// out-of-range values are ignored.
func (s *Settings) applyEnvOverrides() {
	if v := os.Getenv("IMMEDIATE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			s.ImmediateThreshold = f
		}
	}
	if v := os.Getenv("SUGGESTION_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			s.SuggestionThreshold = f
		}
	}
	if v := os.Getenv("VECTOR_STORE"); v != "" {
		s.VectorStore = v
	}
	if v := os.Getenv("MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			s.MaxRetries = n
		}
	}
}

// GetEmbedding returns the embedding config with defaults applied.
func (s *Settings) GetEmbedding() embedding.Config {
	def := embedding.DefaultConfig()
	if s.Embedding == nil {
		return def
	}
	cfg := *s.Embedding
	if cfg.Provider == "" {
		cfg.Provider = def.Provider
	}
	if cfg.OllamaEndpoint == "" {
		cfg.OllamaEndpoint = def.OllamaEndpoint
	}
	if cfg.OllamaModel == "" {
		cfg.OllamaModel = def.OllamaModel
	}
	if cfg.GenAIModel == "" {
		cfg.GenAIModel = def.GenAIModel
	}
	if cfg.TaskType == "" {
		cfg.TaskType = def.TaskType
	}
	if cfg.HashDimensions == 0 {
		cfg.HashDimensions = def.HashDimensions
	}
	return cfg
}

// GetLogging returns logging settings with defaults applied.
func (s *Settings) GetLogging() LoggingSettings {
	if s.Logging != nil {
		cfg := *s.Logging
		if cfg.Level == "" {
			cfg.Level = "info"
		}
		return cfg
	}
	return LoggingSettings{Level: "info"}
}

// =============================================================================
// WORKSPACE DISCOVERY & PATHS
// =============================================================================

// FindWorkspaceRoot locates the workspace root: the SKILLGATE_WORKSPACE
// environment variable if set, otherwise the nearest ancestor of the working
// directory containing a .skillgate or .git entry, otherwise the working
// directory itself.
func FindWorkspaceRoot() (string, error) {
	if ws := os.Getenv("SKILLGATE_WORKSPACE"); ws != "" {
		return filepath.Clean(ws), nil
	}

	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	originalDir := dir
	for {
		if _, err := os.Stat(filepath.Join(dir, DirName)); err == nil {
			return dir, nil
		}
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return originalDir, nil
}

// Dir returns the dotdir for a workspace.
func Dir(workspace string) string {
	return filepath.Join(workspace, DirName)
}

// SettingsPath returns the settings file path for a workspace.
func SettingsPath(workspace string) string {
	return filepath.Join(workspace, DirName, "config.json")
}

// SkillsPath returns the skill corpus path for a workspace.
func SkillsPath(workspace string) string {
	return filepath.Join(workspace, DirName, "skills.yaml")
}

// ProfilesPath returns the profiles path for a workspace.
func ProfilesPath(workspace string) string {
	return filepath.Join(workspace, DirName, "profiles.yaml")
}

// ResolveStorePath resolves the configured vector store path against a
// workspace root.
func (s *Settings) ResolveStorePath(workspace string) string {
	if filepath.IsAbs(s.VectorStore) {
		return s.VectorStore
	}
	return filepath.Join(workspace, s.VectorStore)
}

// =============================================================================
// ERRORS
// =============================================================================

// ConfigError wraps a load failure with the file it came from.
type ConfigError struct {
	File string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %v", e.File, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
