package router

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"skillgate/internal/config"
	"skillgate/internal/embedding"
	"skillgate/internal/logging"
)

// StoreSkill is one entry of the vector-store artifact: a skill's corpus
// text and its pre-computed embedding.
type StoreSkill struct {
	SkillName       string    `json:"skill_name"`
	Description     string    `json:"description,omitempty"`
	TriggerExamples []string  `json:"trigger_examples,omitempty"`
	Embedding       []float32 `json:"embedding"`
	Keywords        []string  `json:"keywords,omitempty"`
}

// Store is the vector-store JSON artifact consumed by the router and
// produced by the build-store command. Unknown fields in the file are
// ignored; missing required fields are fatal.
type Store struct {
	Version     string       `json:"version"`
	Model       string       `json:"model"`
	GeneratedAt string       `json:"generated_at,omitempty"`
	Skills      []StoreSkill `json:"skills"`
}

// LoadStore reads and validates a vector-store artifact.
func LoadStore(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &config.ConfigError{File: path, Err: err}
	}
	var store Store
	if err := json.Unmarshal(data, &store); err != nil {
		return nil, &config.ConfigError{File: path, Err: fmt.Errorf("parse vector store: %w", err)}
	}
	if err := store.validate(); err != nil {
		return nil, &config.ConfigError{File: path, Err: err}
	}
	return &store, nil
}

func (s *Store) validate() error {
	if s.Version == "" {
		return fmt.Errorf("vector store missing version")
	}
	if s.Model == "" {
		return fmt.Errorf("vector store missing model")
	}
	dim := 0
	for i, sk := range s.Skills {
		if sk.SkillName == "" {
			return fmt.Errorf("skills[%d]: missing skill_name", i)
		}
		if len(sk.Embedding) == 0 {
			return fmt.Errorf("skills[%d] (%s): missing embedding", i, sk.SkillName)
		}
		if dim == 0 {
			dim = len(sk.Embedding)
		} else if len(sk.Embedding) != dim {
			return fmt.Errorf("skills[%d] (%s): embedding has %d dimensions, store uses %d",
				i, sk.SkillName, len(sk.Embedding), dim)
		}
	}
	return nil
}

// Dimensions returns the embedding width of the store, or 0 when empty.
func (s *Store) Dimensions() int {
	if len(s.Skills) == 0 {
		return 0
	}
	return len(s.Skills[0].Embedding)
}

// Write persists the store atomically (tempfile then rename).
func (s *Store) Write(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("router: marshal vector store: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("router: create store dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".store-*.tmp")
	if err != nil {
		return fmt.Errorf("router: create tempfile: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("router: write tempfile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("router: close tempfile: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("router: chmod tempfile: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("router: rename store into place: %w", err)
	}
	return nil
}

// BuildStore embeds the skill corpus and assembles a vector-store
// artifact. Corpus text per skill is the description followed by its
// trigger examples; skills with neither fall back to their name so the
// batch stays aligned.
func BuildStore(ctx context.Context, skills *config.SkillsFile, engine embedding.Engine) (*Store, error) {
	if skills == nil || len(skills.Skills) == 0 {
		return nil, fmt.Errorf("router: no skills to embed")
	}

	texts := make([]string, len(skills.Skills))
	for i, sk := range skills.Skills {
		parts := make([]string, 0, 1+len(sk.TriggerExamples))
		if sk.Description != "" {
			parts = append(parts, sk.Description)
		}
		parts = append(parts, sk.TriggerExamples...)
		text := strings.TrimSpace(strings.Join(parts, "\n"))
		if text == "" {
			text = sk.Name
		}
		texts[i] = text
	}

	timer := logging.StartTimer(logging.CategoryRouter, "embed skill corpus")
	embeddings, err := engine.EmbedBatch(ctx, texts)
	timer.StopWithInfo()
	if err != nil {
		return nil, fmt.Errorf("router: embed skill corpus: %w", err)
	}
	if len(embeddings) != len(skills.Skills) {
		return nil, fmt.Errorf("router: engine returned %d embeddings for %d skills",
			len(embeddings), len(skills.Skills))
	}

	store := &Store{
		Version:     "1.0",
		Model:       engine.Name(),
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Skills:      make([]StoreSkill, len(skills.Skills)),
	}
	for i, sk := range skills.Skills {
		store.Skills[i] = StoreSkill{
			SkillName:       sk.Name,
			Description:     sk.Description,
			TriggerExamples: sk.TriggerExamples,
			Embedding:       embeddings[i],
			Keywords:        sk.Keywords,
		}
	}
	logging.Router("built vector store: %d skills, model=%s, dim=%d",
		len(store.Skills), store.Model, store.Dimensions())
	return store, nil
}
