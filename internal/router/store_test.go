package router

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skillgate/internal/config"
	"skillgate/internal/embedding"
)

const validStoreJSON = `{
	"version": "1.0",
	"model": "hash:fnv64:4",
	"generated_at": "2026-03-01T12:00:00Z",
	"skills": [
		{"skill_name": "tdd", "embedding": [1, 0, 0, 0], "keywords": ["test"]},
		{"skill_name": "reviewer", "embedding": [0, 1, 0, 0]}
	],
	"unknown_field": "ignored"
}`

func TestLoadStoreValid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vector_store.json")
	require.NoError(t, os.WriteFile(path, []byte(validStoreJSON), 0644))

	store, err := LoadStore(path)
	require.NoError(t, err)
	assert.Equal(t, "1.0", store.Version)
	assert.Len(t, store.Skills, 2)
	assert.Equal(t, 4, store.Dimensions())
}

func TestLoadStoreErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantMsg string
	}{
		{"missing version", `{"model": "m", "skills": []}`, "missing version"},
		{"missing model", `{"version": "1.0", "skills": []}`, "missing model"},
		{"missing skill name", `{"version": "1.0", "model": "m", "skills": [{"embedding": [1]}]}`, "missing skill_name"},
		{"missing embedding", `{"version": "1.0", "model": "m", "skills": [{"skill_name": "a"}]}`, "missing embedding"},
		{"mixed dimensions", `{"version": "1.0", "model": "m", "skills": [
			{"skill_name": "a", "embedding": [1, 0]},
			{"skill_name": "b", "embedding": [1, 0, 0]}
		]}`, "dimensions"},
		{"malformed json", `{"version": `, "parse vector store"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "store.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))

			_, err := LoadStore(path)
			require.Error(t, err)
			var cfgErr *config.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestLoadStoreMissingFile(t *testing.T) {
	_, err := LoadStore(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
	var cfgErr *config.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestStoreWriteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "store.json")
	store := &Store{
		Version: "1.0",
		Model:   "stub",
		Skills: []StoreSkill{
			{SkillName: "tdd", Embedding: []float32{1, 0}, Keywords: []string{"test"}},
		},
	}
	require.NoError(t, store.Write(path))

	loaded, err := LoadStore(path)
	require.NoError(t, err)
	assert.Equal(t, store.Skills, loaded.Skills)
	assert.Equal(t, store.Model, loaded.Model)

	// No tempfile debris next to the artifact.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestBuildStoreEmbedsCorpus(t *testing.T) {
	engine, err := embedding.NewHashEngine(32)
	require.NoError(t, err)

	skills := &config.SkillsFile{Version: "1.0", Skills: []config.Skill{
		{
			Name:            "tdd",
			Description:     "red/green TDD loop",
			TriggerExamples: []string{"fix the bug", "write a failing test"},
			Keywords:        []string{"tdd"},
		},
		{Name: "bare"}, // no description: corpus falls back to the name
	}}

	store, err := BuildStore(context.Background(), skills, engine)
	require.NoError(t, err)

	require.Len(t, store.Skills, 2)
	assert.Equal(t, "1.0", store.Version)
	assert.Equal(t, engine.Name(), store.Model)
	assert.NotEmpty(t, store.GeneratedAt)
	assert.Equal(t, 32, store.Dimensions())
	assert.Equal(t, []string{"tdd"}, store.Skills[0].Keywords)

	// Corpus text is deterministic: description + examples hash the same.
	direct, err := engine.Embed(context.Background(),
		"red/green TDD loop\nfix the bug\nwrite a failing test")
	require.NoError(t, err)
	assert.Equal(t, direct, store.Skills[0].Embedding)

	named, err := engine.Embed(context.Background(), "bare")
	require.NoError(t, err)
	assert.Equal(t, named, store.Skills[1].Embedding)
}

func TestBuildStoreEmptyCorpus(t *testing.T) {
	engine, err := embedding.NewHashEngine(8)
	require.NoError(t, err)

	_, err = BuildStore(context.Background(), &config.SkillsFile{}, engine)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no skills")
}
