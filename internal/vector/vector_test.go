package vector

import (
	"math"
	"reflect"
	"testing"
)

func TestCosineSimilarityIdentical(t *testing.T) {
	v := []float32{0.5, 0.5, 0.5}
	sim, err := CosineSimilarity(v, v)
	if err != nil {
		t.Fatalf("CosineSimilarity failed: %v", err)
	}
	if math.Abs(sim-1.0) > 1e-9 {
		t.Errorf("expected similarity 1.0 for identical vectors, got %f", sim)
	}
}

func TestCosineSimilarityOrthogonal(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	sim, err := CosineSimilarity(a, b)
	if err != nil {
		t.Fatalf("CosineSimilarity failed: %v", err)
	}
	if math.Abs(sim) > 1e-9 {
		t.Errorf("expected similarity 0 for orthogonal vectors, got %f", sim)
	}
}

func TestCosineSimilarityOpposite(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{-1, -2, -3}
	sim, err := CosineSimilarity(a, b)
	if err != nil {
		t.Fatalf("CosineSimilarity failed: %v", err)
	}
	if math.Abs(sim+1.0) > 1e-9 {
		t.Errorf("expected similarity -1.0 for opposite vectors, got %f", sim)
	}
}

func TestCosineSimilarityZeroVector(t *testing.T) {
	a := []float32{0, 0, 0}
	b := []float32{1, 2, 3}
	sim, err := CosineSimilarity(a, b)
	if err != nil {
		t.Fatalf("CosineSimilarity failed: %v", err)
	}
	if sim != 0 {
		t.Errorf("expected similarity 0 for zero vector, got %f", sim)
	}
}

func TestCosineSimilarityDimensionMismatch(t *testing.T) {
	a := []float32{1, 2}
	b := []float32{1, 2, 3}
	if _, err := CosineSimilarity(a, b); err == nil {
		t.Error("expected error for mismatched dimensions, got nil")
	}
}

func TestFuseDefaults(t *testing.T) {
	tests := []struct {
		name     string
		keyword  float64
		embed    float64
		expected float64
	}{
		{"both zero", 0, 0, 0},
		{"keyword only", 1.0, 0, 0.3},
		{"embedding only", 0, 1.0, 0.7},
		{"both full", 1.0, 1.0, 1.0},
		{"mixed", 1.0, 0.5, 0.65},
	}

	w := DefaultWeights()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Fuse(tt.keyword, tt.embed, w)
			if math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("Fuse(%f, %f) = %f, want %f", tt.keyword, tt.embed, got, tt.expected)
			}
		})
	}
}

func TestFuseClamps(t *testing.T) {
	w := Weights{Keyword: 1.0, Embedding: 1.0}
	if got := Fuse(1.0, 1.0, w); got != 1.0 {
		t.Errorf("expected clamp to 1.0, got %f", got)
	}
	if got := Fuse(-1.0, -1.0, w); got != 0 {
		t.Errorf("expected clamp to 0, got %f", got)
	}
}

func TestKeywordMatcherWordBoundary(t *testing.T) {
	m := NewKeywordMatcher()
	if err := m.Add("testing", []string{"test"}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	if matches := m.Match("run the test suite"); len(matches) != 1 {
		t.Errorf("expected 1 match for whole word, got %d", len(matches))
	}
	if matches := m.Match("check the latest build"); len(matches) != 0 {
		t.Errorf("expected no match inside another word, got %d", len(matches))
	}
}

func TestKeywordMatcherCaseInsensitive(t *testing.T) {
	m := NewKeywordMatcher()
	if err := m.Add("deploy", []string{"DEPLOY"}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	matches := m.Match("deploy to staging")
	if len(matches) != 1 {
		t.Fatalf("expected 1 case-insensitive match, got %d", len(matches))
	}
	if matches[0].MatchedKeywords[0] != "DEPLOY" {
		t.Errorf("expected original keyword casing in result, got %q", matches[0].MatchedKeywords[0])
	}
}

func TestKeywordMatcherEscapesMetacharacters(t *testing.T) {
	m := NewKeywordMatcher()
	if err := m.Add("gofile", []string{"main.go"}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	if matches := m.Match("edit main.go now"); len(matches) != 1 {
		t.Errorf("expected literal match for main.go, got %d matches", len(matches))
	}
	// An unescaped dot would match any character here.
	if matches := m.Match("edit mainxgo now"); len(matches) != 0 {
		t.Errorf("expected no match for mainxgo, got %d matches", len(matches))
	}
}

func TestKeywordMatcherAccumulatesAndSaturates(t *testing.T) {
	m := NewKeywordMatcher()
	if err := m.Add("tdd", []string{"test", "red", "green"}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	matches := m.Match("write a test, see it red, make it green")
	if len(matches) != 1 {
		t.Fatalf("expected 1 candidate match, got %d", len(matches))
	}
	if matches[0].Score != 1.0 {
		t.Errorf("expected score saturated at 1.0, got %f", matches[0].Score)
	}
	want := []string{"test", "red", "green"}
	if !reflect.DeepEqual(matches[0].MatchedKeywords, want) {
		t.Errorf("expected matched keywords %v, got %v", want, matches[0].MatchedKeywords)
	}
}

func TestKeywordMatcherDeterministicOrder(t *testing.T) {
	m := NewKeywordMatcher()
	for _, id := range []string{"zeta", "alpha", "mid"} {
		if err := m.Add(id, []string{"shared"}); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}

	matches := m.Match("a shared keyword")
	if len(matches) != 3 {
		t.Fatalf("expected 3 matches, got %d", len(matches))
	}
	for i, want := range []string{"alpha", "mid", "zeta"} {
		if matches[i].CandidateID != want {
			t.Errorf("position %d: expected %q, got %q", i, want, matches[i].CandidateID)
		}
	}
}

func TestKeywordMatcherMatchMap(t *testing.T) {
	m := NewKeywordMatcher()
	if err := m.Add("commit", []string{"commit"}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := m.Add("push", []string{"push"}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	byID := m.MatchMap("commit and push")
	if len(byID) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(byID))
	}
	if _, ok := byID["commit"]; !ok {
		t.Error("expected commit in match map")
	}
	if _, ok := byID["push"]; !ok {
		t.Error("expected push in match map")
	}
}

func TestKeywordMatcherSkipsEmptyKeywords(t *testing.T) {
	m := NewKeywordMatcher()
	if err := m.Add("sparse", []string{"", "real"}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	matches := m.Match("a real query")
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	if len(matches[0].MatchedKeywords) != 1 || matches[0].MatchedKeywords[0] != "real" {
		t.Errorf("expected only the real keyword, got %v", matches[0].MatchedKeywords)
	}
}
