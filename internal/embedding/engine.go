// Package embedding provides vector embedding generation for semantic routing.
// Supports multiple backends: Ollama (local), Google GenAI (cloud), and a
// deterministic hash fallback for offline operation.
package embedding

import (
	"context"
	"fmt"
	"math"

	"skillgate/internal/logging"
)

// =============================================================================
// EMBEDDING ENGINE INTERFACE
// =============================================================================

// Engine generates vector embeddings for text. Implementations must return
// unit-norm vectors when constructed through NewEngine.
type Engine interface {
	// Embed generates an embedding for a single text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimensionality of embeddings
	Dimensions() int

	// Name returns the engine name
	Name() string
}

// HealthChecker is an optional interface for embedding engines that support
// health checks. If an engine implements this interface, the router can
// verify availability during initialization.
type HealthChecker interface {
	// HealthCheck verifies the embedding service is reachable.
	HealthCheck(ctx context.Context) error
}

// =============================================================================
// EMBEDDING CONFIGURATION
// =============================================================================

// Config holds embedding engine configuration.
type Config struct {
	// Provider: "ollama", "genai", or "hash". Empty selects the hash
	// fallback so routing works with no local model server.
	Provider string `json:"provider"`

	// Ollama Configuration
	OllamaEndpoint string `json:"ollama_endpoint"` // Default: "http://localhost:11434"
	OllamaModel    string `json:"ollama_model"`    // Default: "embeddinggemma"

	// GenAI Configuration
	GenAIAPIKey string `json:"genai_api_key"`
	GenAIModel  string `json:"genai_model"` // Default: "gemini-embedding-001"

	// TaskType for GenAI embeddings; see task.go
	TaskType string `json:"task_type"`

	// HashDimensions sets the fallback vector width. Default: 256.
	HashDimensions int `json:"hash_dimensions"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Provider:       "hash",
		OllamaEndpoint: "http://localhost:11434",
		OllamaModel:    "embeddinggemma",
		GenAIModel:     "gemini-embedding-001",
		TaskType:       TaskSemanticSimilarity,
		HashDimensions: 256,
	}
}

// =============================================================================
// FACTORY
// =============================================================================

// NewEngine creates an embedding engine based on configuration. The returned
// engine always produces unit-norm vectors.
func NewEngine(cfg Config) (Engine, error) {
	timer := logging.StartTimer(logging.CategoryEmbedding, "NewEngine")
	defer timer.Stop()

	logging.EmbeddingLog("Creating embedding engine with provider=%s", cfg.Provider)

	var engine Engine
	var err error

	switch cfg.Provider {
	case "ollama":
		engine, err = NewOllamaEngine(cfg.OllamaEndpoint, cfg.OllamaModel)
	case "genai":
		engine, err = NewGenAIEngine(cfg.GenAIAPIKey, cfg.GenAIModel, cfg.TaskType)
	case "hash", "":
		engine, err = NewHashEngine(cfg.HashDimensions)
	default:
		err = fmt.Errorf("unsupported embedding provider: %s (use 'ollama', 'genai', or 'hash')", cfg.Provider)
	}

	if err != nil {
		logging.EmbeddingError("Failed to create embedding engine: %v", err)
		return nil, err
	}

	logging.EmbeddingLog("Embedding engine ready: name=%s, dimensions=%d", engine.Name(), engine.Dimensions())
	return &normalizing{inner: engine}, nil
}

// =============================================================================
// UNIT-NORM DECORATOR
// =============================================================================

// normalizing wraps an engine and scales every vector to unit length.
// Zero vectors pass through unchanged.
type normalizing struct {
	inner Engine
}

func (n *normalizing) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := n.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	Normalize(vec)
	return vec, nil
}

func (n *normalizing) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := n.inner.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	for _, vec := range vecs {
		Normalize(vec)
	}
	return vecs, nil
}

func (n *normalizing) Dimensions() int { return n.inner.Dimensions() }
func (n *normalizing) Name() string    { return n.inner.Name() }

// HealthCheck delegates when the inner engine supports it.
func (n *normalizing) HealthCheck(ctx context.Context) error {
	if hc, ok := n.inner.(HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}

// Normalize scales vec to unit length in place. Zero vectors are left as-is.
func Normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	mag := math.Sqrt(sum)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / mag)
	}
}
