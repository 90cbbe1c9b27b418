// Package router scores a user query against the pre-embedded skill
// corpus and decides the activation mode: immediate (the agent must
// activate skills), suggestion (it should consider them), or chat
// (no skill relevance). Scores fuse keyword hits with embedding cosine
// similarity; thresholds on the top score pick the mode.
package router

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"skillgate/internal/embedding"
	"skillgate/internal/logging"
	"skillgate/internal/vector"
)

// Mode is the activation mode derived from the top fused score.
type Mode string

const (
	ModeImmediate  Mode = "immediate"
	ModeSuggestion Mode = "suggestion"
	ModeChat       Mode = "chat"
)

// Thresholds are the mode cutoffs applied to the top score.
type Thresholds struct {
	Immediate  float64
	Suggestion float64
}

// DefaultThresholds matches the documented defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{Immediate: 0.85, Suggestion: 0.70}
}

// Match is one scored skill in a routing result.
type Match struct {
	SkillName       string   `json:"skill_name"`
	Score           float64  `json:"score"`
	KeywordScore    float64  `json:"keyword_score"`
	EmbeddingScore  float64  `json:"embedding_score"`
	MatchedPatterns []string `json:"matched_patterns,omitempty"`
}

// Signal is an observability record of what drove a score.
type Signal struct {
	Type   string  `json:"type"` // keyword | embedding
	Score  float64 `json:"score"`
	Source string  `json:"source"` // skill name
}

// RoutingResult is the full output of Route.
type RoutingResult struct {
	Query            string   `json:"query"`
	Mode             Mode     `json:"mode"`
	Matches          []Match  `json:"matches"`
	Signals          []Signal `json:"signals,omitempty"`
	ProcessingTimeMs int64    `json:"processing_time_ms"`
}

// Candidate is the activation-facing slice of a match.
type Candidate struct {
	SkillName       string   `json:"skill_name"`
	Score           float64  `json:"score"`
	MatchedPatterns []string `json:"matched_patterns,omitempty"`
}

// RouteDecision is the transient, request-scoped record handed to the
// activator. RequestID is externally supplied and drives idempotency.
type RouteDecision struct {
	RequestID       string      `json:"request_id"`
	Query           string      `json:"query"`
	Mode            Mode        `json:"mode"`
	Candidates      []Candidate `json:"candidates"`
	SelectedProfile string      `json:"selected_profile,omitempty"`
	SessionID       string      `json:"session_id,omitempty"`
	DecidedAt       time.Time   `json:"decided_at"`
}

// Decision converts a routing result into the activator's input.
func (r RoutingResult) Decision(requestID, selectedProfile string) RouteDecision {
	candidates := make([]Candidate, len(r.Matches))
	for i, m := range r.Matches {
		candidates[i] = Candidate{
			SkillName:       m.SkillName,
			Score:           m.Score,
			MatchedPatterns: m.MatchedPatterns,
		}
	}
	return RouteDecision{
		RequestID:       requestID,
		Query:           r.Query,
		Mode:            r.Mode,
		Candidates:      candidates,
		SelectedProfile: selectedProfile,
		DecidedAt:       time.Now().UTC(),
	}
}

// TopScore returns the best candidate score, or 0 with no candidates.
func (d RouteDecision) TopScore() float64 {
	if len(d.Candidates) == 0 {
		return 0
	}
	return d.Candidates[0].Score
}

// Options configures a Router. Zero values fall back to defaults.
type Options struct {
	// StorePath is read by Initialize when Store is nil.
	StorePath string
	// Store short-circuits loading, for tests and the build pipeline.
	Store *Store

	Engine     embedding.Engine
	Thresholds Thresholds
	Weights    vector.Weights

	// CacheSize bounds the query-embedding cache (default 256).
	CacheSize int
	// Workers bounds parallel skill scoring (default 8).
	Workers int
}

// Router scores queries against the vector store. Initialize must
// succeed before Route; both are safe for concurrent use.
type Router struct {
	opts Options

	mu          sync.Mutex
	initialized bool
	store       *Store
	matcher     *vector.KeywordMatcher

	cache *embedCache
	sf    singleflight.Group
}

// New creates a Router. Engine is required.
func New(opts Options) *Router {
	if opts.Thresholds == (Thresholds{}) {
		opts.Thresholds = DefaultThresholds()
	}
	if opts.Weights == (vector.Weights{}) {
		opts.Weights = vector.DefaultWeights()
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 256
	}
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	return &Router{
		opts:  opts,
		cache: newEmbedCache(opts.CacheSize),
	}
}

// Initialize loads the store, compiles keyword patterns, and verifies
// the embedding engine. Success is memoised; a failed call can be
// retried.
func (r *Router) Initialize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.initialized {
		return nil
	}
	if r.opts.Engine == nil {
		return fmt.Errorf("router: no embedding engine configured")
	}

	store := r.opts.Store
	if store == nil {
		loaded, err := LoadStore(r.opts.StorePath)
		if err != nil {
			return err
		}
		store = loaded
	}

	if hc, ok := r.opts.Engine.(embedding.HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("router: embedding engine unhealthy: %w", err)
		}
	}
	if dim := r.opts.Engine.Dimensions(); dim > 0 && store.Dimensions() > 0 && dim != store.Dimensions() {
		return fmt.Errorf("router: engine produces %d-dim vectors but store holds %d-dim (rebuild the store)",
			dim, store.Dimensions())
	}

	matcher := vector.NewKeywordMatcher()
	for _, sk := range store.Skills {
		if err := matcher.Add(sk.SkillName, sk.Keywords); err != nil {
			return fmt.Errorf("router: compile keywords: %w", err)
		}
	}

	r.store = store
	r.matcher = matcher
	r.initialized = true
	logging.Router("initialized: %d skills, model=%s, thresholds=%.2f/%.2f",
		len(store.Skills), store.Model, r.opts.Thresholds.Immediate, r.opts.Thresholds.Suggestion)
	return nil
}

// Route scores the query against every skill and derives the mode from
// the top score. Given a fixed store and embedding engine the output is
// pure, modulo ProcessingTimeMs.
func (r *Router) Route(ctx context.Context, query string) (RoutingResult, error) {
	start := time.Now()

	r.mu.Lock()
	ready := r.initialized
	store, matcher := r.store, r.matcher
	r.mu.Unlock()
	if !ready {
		return RoutingResult{}, fmt.Errorf("router: Route called before Initialize")
	}

	queryEmbedding, err := r.embedQuery(ctx, query)
	if err != nil {
		return RoutingResult{}, fmt.Errorf("router: embed query: %w", err)
	}

	keywordHits := matcher.MatchMap(query)

	matches := make([]Match, len(store.Skills))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)
	for i := range store.Skills {
		i := i
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			sk := store.Skills[i]
			cosine, err := vector.CosineSimilarity(queryEmbedding, sk.Embedding)
			if err != nil {
				return fmt.Errorf("score %s: %w", sk.SkillName, err)
			}
			hit := keywordHits[sk.SkillName]
			matches[i] = Match{
				SkillName:       sk.SkillName,
				Score:           vector.Fuse(hit.Score, cosine, r.opts.Weights),
				KeywordScore:    hit.Score,
				EmbeddingScore:  cosine,
				MatchedPatterns: hit.MatchedKeywords,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return RoutingResult{}, fmt.Errorf("router: %w", err)
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].SkillName < matches[j].SkillName
	})

	mode := ModeChat
	if len(matches) > 0 {
		switch top := matches[0].Score; {
		case top >= r.opts.Thresholds.Immediate:
			mode = ModeImmediate
		case top >= r.opts.Thresholds.Suggestion:
			mode = ModeSuggestion
		}
	}

	var signals []Signal
	for _, m := range matches {
		if m.KeywordScore > 0 {
			signals = append(signals, Signal{Type: "keyword", Score: m.KeywordScore, Source: m.SkillName})
		}
		if m.EmbeddingScore >= r.opts.Thresholds.Suggestion {
			signals = append(signals, Signal{Type: "embedding", Score: m.EmbeddingScore, Source: m.SkillName})
		}
	}

	result := RoutingResult{
		Query:            query,
		Mode:             mode,
		Matches:          matches,
		Signals:          signals,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}
	logging.RouterDebug("route %q -> mode=%s top=%.3f matches=%d (%dms)",
		query, mode, topScore(matches), len(matches), result.ProcessingTimeMs)
	return result, nil
}

func topScore(matches []Match) float64 {
	if len(matches) == 0 {
		return 0
	}
	return matches[0].Score
}

// embedQuery resolves the query embedding through the bounded cache,
// deduplicating concurrent embeds of the same query via singleflight.
func (r *Router) embedQuery(ctx context.Context, query string) ([]float32, error) {
	if emb, ok := r.cache.get(query); ok {
		return emb, nil
	}
	v, err, _ := r.sf.Do(query, func() (interface{}, error) {
		if emb, ok := r.cache.get(query); ok {
			return emb, nil
		}
		emb, err := r.opts.Engine.Embed(ctx, query)
		if err != nil {
			return nil, err
		}
		r.cache.put(query, emb)
		return emb, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}

// embedCache is a bounded map with strict insertion-order eviction:
// when full, the oldest inserted entry leaves first. Re-putting an
// existing key refreshes the value but keeps its position.
type embedCache struct {
	mu       sync.Mutex
	capacity int
	order    []string
	entries  map[string][]float32
}

func newEmbedCache(capacity int) *embedCache {
	return &embedCache{
		capacity: capacity,
		entries:  make(map[string][]float32, capacity),
	}
}

func (c *embedCache) get(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	emb, ok := c.entries[key]
	return emb, ok
}

func (c *embedCache) put(key string, value []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; exists {
		c.entries[key] = value
		return
	}
	c.entries[key] = value
	c.order = append(c.order, key)
	if len(c.order) > c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

func (c *embedCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
