package router

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"skillgate/internal/embedding"
)

// stubEngine returns a fixed vector per query, defaulting to fallback.
// Hand-rolled so mode boundaries are exact.
type stubEngine struct {
	dims     int
	vectors  map[string][]float32
	fallback []float32
}

func (s *stubEngine) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	return s.fallback, nil
}

func (s *stubEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := s.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (s *stubEngine) Dimensions() int { return s.dims }
func (s *stubEngine) Name() string    { return "stub" }

// countingEngine counts Embed calls to observe caching and deduping.
type countingEngine struct {
	inner embedding.Engine
	calls atomic.Int64
}

func (c *countingEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	return c.inner.Embed(ctx, text)
}

func (c *countingEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return c.inner.EmbedBatch(ctx, texts)
}

func (c *countingEngine) Dimensions() int { return c.inner.Dimensions() }
func (c *countingEngine) Name() string    { return "counting" }

// sickEngine fails its health check.
type sickEngine struct{ stubEngine }

func (s *sickEngine) HealthCheck(context.Context) error {
	return fmt.Errorf("model server unreachable")
}

// fourDimStore holds two skills on orthogonal axes so cosine scores are
// exactly 0 or 1.
func fourDimStore() *Store {
	return &Store{
		Version: "1.0",
		Model:   "stub",
		Skills: []StoreSkill{
			{
				SkillName: "tdd",
				Embedding: []float32{1, 0, 0, 0},
				Keywords:  []string{"tdd", "failing test"},
			},
			{
				SkillName: "reviewer",
				Embedding: []float32{0, 1, 0, 0},
				Keywords:  []string{"review"},
			},
		},
	}
}

func fourDimEngine() *stubEngine {
	return &stubEngine{
		dims: 4,
		vectors: map[string][]float32{
			"write a failing test with tdd": {1, 0, 0, 0}, // keyword + cosine 1.0
			"align with the tdd axis":       {1, 0, 0, 0}, // cosine 1.0, keyword 1.0 ("tdd")
			"pure semantic overlap":         {1, 0, 0, 0}, // cosine 1.0, no keyword
			"weak relevance":                {0.8, 0.6, 0, 0},
		},
		fallback: []float32{0, 0, 0, 1},
	}
}

func newTestRouter(t *testing.T, opts Options) *Router {
	t.Helper()
	if opts.Store == nil {
		opts.Store = fourDimStore()
	}
	if opts.Engine == nil {
		opts.Engine = fourDimEngine()
	}
	r := New(opts)
	require.NoError(t, r.Initialize(context.Background()))
	return r
}

func TestInitializeRequiresEngine(t *testing.T) {
	r := New(Options{Store: fourDimStore()})
	err := r.Initialize(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embedding engine")
}

func TestInitializeDimensionMismatch(t *testing.T) {
	r := New(Options{
		Store:  fourDimStore(),
		Engine: &stubEngine{dims: 8, fallback: make([]float32, 8)},
	})
	err := r.Initialize(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rebuild the store")
}

func TestInitializeUnhealthyEngine(t *testing.T) {
	sick := &sickEngine{stubEngine{dims: 4, fallback: make([]float32, 4)}}
	r := New(Options{Store: fourDimStore(), Engine: sick})
	err := r.Initialize(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unhealthy")
}

func TestRouteBeforeInitialize(t *testing.T) {
	r := New(Options{Store: fourDimStore(), Engine: fourDimEngine()})
	_, err := r.Route(context.Background(), "anything")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "before Initialize")
}

func TestRouteModeBoundaries(t *testing.T) {
	// go.opencensus.io starts a process-lifetime stats worker in init();
	// it is linked in transitively and is not a leak of the router.
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
	r := newTestRouter(t, Options{})
	ctx := context.Background()

	t.Run("keyword plus cosine reaches immediate", func(t *testing.T) {
		// score = 0.3·1.0 + 0.7·1.0 = 1.0 ≥ 0.85
		res, err := r.Route(ctx, "write a failing test with tdd")
		require.NoError(t, err)
		assert.Equal(t, ModeImmediate, res.Mode)
		assert.Equal(t, "tdd", res.Matches[0].SkillName)
		assert.InDelta(t, 1.0, res.Matches[0].Score, 1e-9)
	})

	t.Run("cosine alone lands exactly on the suggestion cutoff", func(t *testing.T) {
		// score = 0.3·0 + 0.7·1.0 = 0.70, inclusive boundary
		res, err := r.Route(ctx, "pure semantic overlap")
		require.NoError(t, err)
		assert.Equal(t, ModeSuggestion, res.Mode)
		assert.InDelta(t, 0.70, res.Matches[0].Score, 1e-9)
	})

	t.Run("orthogonal query is chat", func(t *testing.T) {
		res, err := r.Route(ctx, "unrelated smalltalk")
		require.NoError(t, err)
		assert.Equal(t, ModeChat, res.Mode)
	})
}

func TestRouteMatchedPatterns(t *testing.T) {
	r := newTestRouter(t, Options{})

	res, err := r.Route(context.Background(), "write a failing test with tdd")
	require.NoError(t, err)
	require.NotEmpty(t, res.Matches)
	top := res.Matches[0]
	assert.Equal(t, 1.0, top.KeywordScore)
	assert.ElementsMatch(t, []string{"tdd", "failing test"}, top.MatchedPatterns)
}

func TestRouteSignals(t *testing.T) {
	r := newTestRouter(t, Options{})

	res, err := r.Route(context.Background(), "align with the tdd axis")
	require.NoError(t, err)

	var kinds []string
	for _, sig := range res.Signals {
		if sig.Source == "tdd" {
			kinds = append(kinds, sig.Type)
		}
	}
	assert.Contains(t, kinds, "keyword")
	assert.Contains(t, kinds, "embedding")
}

func TestRouteSortTieBreaksByName(t *testing.T) {
	store := &Store{
		Version: "1.0",
		Model:   "stub",
		Skills: []StoreSkill{
			{SkillName: "zebra", Embedding: []float32{1, 0, 0, 0}},
			{SkillName: "alpha", Embedding: []float32{1, 0, 0, 0}},
		},
	}
	engine := &stubEngine{dims: 4, fallback: []float32{1, 0, 0, 0}}
	r := newTestRouter(t, Options{Store: store, Engine: engine})

	res, err := r.Route(context.Background(), "anything")
	require.NoError(t, err)
	require.Len(t, res.Matches, 2)
	assert.Equal(t, "alpha", res.Matches[0].SkillName)
	assert.Equal(t, "zebra", res.Matches[1].SkillName)
	assert.Equal(t, res.Matches[0].Score, res.Matches[1].Score)
}

func TestEmbedCacheBoundedEviction(t *testing.T) {
	counting := &countingEngine{inner: fourDimEngine()}
	r := newTestRouter(t, Options{Engine: counting, CacheSize: 2})
	ctx := context.Background()

	for _, q := range []string{"q1", "q2", "q3"} {
		_, err := r.Route(ctx, q)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, r.cache.len())

	// q1 was evicted: routing it again embeds again.
	before := counting.calls.Load()
	_, err := r.Route(ctx, "q1")
	require.NoError(t, err)
	assert.Equal(t, before+1, counting.calls.Load())

	// q3 is still cached.
	before = counting.calls.Load()
	_, err = r.Route(ctx, "q3")
	require.NoError(t, err)
	assert.Equal(t, before, counting.calls.Load())
}

func TestConcurrentRoutesEmbedOnce(t *testing.T) {
	// See TestRouteModeBoundaries: the opencensus stats worker is global.
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
	counting := &countingEngine{inner: fourDimEngine()}
	r := newTestRouter(t, Options{Engine: counting})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Route(context.Background(), "write a failing test with tdd")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// Singleflight plus the cache collapse concurrent embeds of one query.
	assert.Equal(t, int64(1), counting.calls.Load())
}

func TestDecisionConversion(t *testing.T) {
	r := newTestRouter(t, Options{})

	res, err := r.Route(context.Background(), "write a failing test with tdd")
	require.NoError(t, err)

	d := res.Decision("req-42", "bug-fix")
	assert.Equal(t, "req-42", d.RequestID)
	assert.Equal(t, "bug-fix", d.SelectedProfile)
	assert.Equal(t, res.Mode, d.Mode)
	require.Len(t, d.Candidates, len(res.Matches))
	assert.Equal(t, res.Matches[0].SkillName, d.Candidates[0].SkillName)
	assert.Equal(t, res.Matches[0].Score, d.TopScore())
	assert.False(t, d.DecidedAt.IsZero())
}

func TestTopScoreEmpty(t *testing.T) {
	assert.Equal(t, 0.0, RouteDecision{}.TopScore())
}

// TestRoutePurity checks that routing is a pure function of the query:
// identical inputs produce identical matches and mode.
func TestRoutePurity(t *testing.T) {
	hash, err := embedding.NewHashEngine(64)
	require.NoError(t, err)

	ctx := context.Background()
	corpus := []string{
		"fix the failing unit test in the parser",
		"review this pull request for style issues",
		"deploy the service to staging",
	}
	vecs, err := hash.EmbedBatch(ctx, corpus)
	require.NoError(t, err)

	store := &Store{
		Version: "1.0",
		Model:   hash.Name(),
		Skills: []StoreSkill{
			{SkillName: "tdd", Embedding: vecs[0], Keywords: []string{"test", "fix"}},
			{SkillName: "reviewer", Embedding: vecs[1], Keywords: []string{"review"}},
			{SkillName: "deployer", Embedding: vecs[2], Keywords: []string{"deploy"}},
		},
	}
	r := newTestRouter(t, Options{Store: store, Engine: hash, CacheSize: 4})

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("same query routes identically", prop.ForAll(
		func(query string) bool {
			a, err := r.Route(ctx, query)
			if err != nil {
				return false
			}
			b, err := r.Route(ctx, query)
			if err != nil {
				return false
			}
			if a.Mode != b.Mode || len(a.Matches) != len(b.Matches) {
				return false
			}
			for i := range a.Matches {
				if a.Matches[i].SkillName != b.Matches[i].SkillName ||
					a.Matches[i].Score != b.Matches[i].Score {
					return false
				}
			}
			return true
		},
		gen.AlphaString(),
	))

	properties.Property("matches are sorted by score descending", prop.ForAll(
		func(query string) bool {
			res, err := r.Route(ctx, query)
			if err != nil {
				return false
			}
			for i := 1; i < len(res.Matches); i++ {
				if res.Matches[i].Score > res.Matches[i-1].Score {
					return false
				}
			}
			return true
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
