package embedding

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// =============================================================================
// GOOGLE GENAI EMBEDDING ENGINE
// =============================================================================

// genaiBatchLimit caps the number of contents per EmbedContent call.
const genaiBatchLimit = 100

// GenAIEngine generates embeddings using Google's Gemini API.
type GenAIEngine struct {
	client   *genai.Client
	model    string
	taskType string
}

// NewGenAIEngine creates a new GenAI embedding engine.
func NewGenAIEngine(apiKey, model, taskType string) (*GenAIEngine, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = "gemini-embedding-001"
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GenAIEngine{
		client:   client,
		model:    model,
		taskType: resolveTaskType(taskType),
	}, nil
}

// resolveTaskType maps the config string to the GenAI task type constant.
func resolveTaskType(taskType string) string {
	switch taskType {
	case TaskSemanticSimilarity, "":
		return TaskSemanticSimilarity
	case TaskRetrievalQuery:
		return TaskRetrievalQuery
	case TaskRetrievalDocument:
		return TaskRetrievalDocument
	case TaskClassification:
		return TaskClassification
	default:
		return TaskSemanticSimilarity
	}
}

// Embed generates an embedding for a single text.
func (e *GenAIEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(text, genai.RoleUser),
	}

	result, err := e.client.Models.EmbedContent(ctx,
		e.model,
		contents,
		&genai.EmbedContentConfig{
			TaskType: e.taskType,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("GenAI embed failed: %w", err)
	}

	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}

	return result.Embeddings[0].Values, nil
}

// EmbedBatch generates embeddings for multiple texts, chunked to the API's
// batch limit.
func (e *GenAIEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	embeddings := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += genaiBatchLimit {
		end := start + genaiBatchLimit
		if end > len(texts) {
			end = len(texts)
		}

		contents := make([]*genai.Content, 0, end-start)
		for _, text := range texts[start:end] {
			contents = append(contents, genai.NewContentFromText(text, genai.RoleUser))
		}

		result, err := e.client.Models.EmbedContent(ctx,
			e.model,
			contents,
			&genai.EmbedContentConfig{
				TaskType: e.taskType,
			},
		)
		if err != nil {
			return nil, fmt.Errorf("GenAI batch embed failed at offset %d: %w", start, err)
		}
		if len(result.Embeddings) != end-start {
			return nil, fmt.Errorf("GenAI returned %d embeddings for %d texts", len(result.Embeddings), end-start)
		}

		for _, emb := range result.Embeddings {
			embeddings = append(embeddings, emb.Values)
		}
	}

	return embeddings, nil
}

// Dimensions returns the dimensionality of embeddings.
// gemini-embedding-001 produces 768-dimensional vectors.
func (e *GenAIEngine) Dimensions() int {
	return 768
}

// Name returns the engine name.
func (e *GenAIEngine) Name() string {
	return fmt.Sprintf("genai:%s", e.model)
}

// Close closes the GenAI client. The genai client holds no resources that
// require explicit cleanup.
func (e *GenAIEngine) Close() error {
	return nil
}
