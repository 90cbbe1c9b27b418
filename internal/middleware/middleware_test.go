package middleware

import (
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skillgate/internal/router"
)

func immediateDecision(candidates ...router.Candidate) router.RouteDecision {
	return router.RouteDecision{
		RequestID:  "req-mw",
		Query:      "fix the parser bug",
		Mode:       router.ModeImmediate,
		Candidates: candidates,
	}
}

func TestExtractSkillCallsSyntaxes(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     []string
	}{
		{"double quotes", `I will call Skill("tdd") now.`, []string{"tdd"}},
		{"single quotes", `First Skill('reviewer'), then answer.`, []string{"reviewer"}},
		{"bare name", `Skill(tdd)`, []string{"tdd"}},
		{"whitespace inside parens", `Skill( "tdd" )`, []string{"tdd"}},
		{"dotted and dashed names", `Skill(security-audit) Skill("release.notes")`, []string{"security-audit", "release.notes"}},
		{"no calls", "just prose, nothing invoked", nil},
		{"dedup keeps first", `Skill("tdd") and again Skill('tdd') and Skill(tdd)`, []string{"tdd"}},
		{"order by position across syntaxes", `Skill('b') before Skill("a")`, []string{"b", "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractSkillCalls(tt.response))
		})
	}
}

func TestExtractSkillCallsStructuredJSON(t *testing.T) {
	t.Run("single directive object", func(t *testing.T) {
		got := ExtractSkillCalls(`{"action": "invoke_skill", "skill": "tdd"}`)
		assert.Equal(t, []string{"tdd"}, got)
	})

	t.Run("array of directives", func(t *testing.T) {
		got := ExtractSkillCalls(`[
			{"action": "invoke_skill", "skill": "tdd"},
			{"action": "invoke_skill", "skill": "reviewer"}
		]`)
		assert.Equal(t, []string{"tdd", "reviewer"}, got)
	})

	t.Run("other actions ignored", func(t *testing.T) {
		got := ExtractSkillCalls(`{"action": "final_answer", "skill": "tdd"}`)
		assert.Empty(t, got)
	})

	t.Run("invalid JSON falls back to inline syntax", func(t *testing.T) {
		got := ExtractSkillCalls(`{broken json but mentions Skill("tdd")`)
		assert.Equal(t, []string{"tdd"}, got)
	})
}

func TestInitializeFromRoutingThresholds(t *testing.T) {
	t.Run("immediate floor caps at 0.70", func(t *testing.T) {
		c := NewCorrector()
		c.InitializeFromRouting(immediateDecision(
			router.Candidate{SkillName: "a", Score: 1.0},
			router.Candidate{SkillName: "b", Score: 0.71},
			router.Candidate{SkillName: "c", Score: 0.69},
		))
		assert.Equal(t, []string{"a", "b"}, c.GetRequiredTools())
	})

	t.Run("immediate threshold scales with top score", func(t *testing.T) {
		c := NewCorrector()
		// top 0.90 → threshold min(0.70, 0.63) = 0.63
		c.InitializeFromRouting(immediateDecision(
			router.Candidate{SkillName: "a", Score: 0.90},
			router.Candidate{SkillName: "b", Score: 0.64},
			router.Candidate{SkillName: "c", Score: 0.60},
		))
		assert.Equal(t, []string{"a", "b"}, c.GetRequiredTools())
	})

	t.Run("suggestion uses the lower floor", func(t *testing.T) {
		c := NewCorrector()
		c.InitializeFromRouting(router.RouteDecision{
			Mode: router.ModeSuggestion,
			Candidates: []router.Candidate{
				{SkillName: "a", Score: 0.75},
				{SkillName: "b", Score: 0.40},
				{SkillName: "c", Score: 0.35},
			},
		})
		// top 0.75 → threshold min(0.50, 0.375) = 0.375
		assert.Equal(t, []string{"a", "b"}, c.GetRequiredTools())
	})

	t.Run("chat arms nothing", func(t *testing.T) {
		c := NewCorrector()
		c.InitializeFromRouting(router.RouteDecision{
			Mode:       router.ModeChat,
			Candidates: []router.Candidate{{SkillName: "a", Score: 0.5}},
		})
		assert.Empty(t, c.GetRequiredTools())
	})
}

func TestAugmentPrompt(t *testing.T) {
	t.Run("immediate prepends MUST_CALL", func(t *testing.T) {
		c := NewCorrector()
		c.InitializeTools(router.ModeImmediate, []string{"tdd", "reviewer"})
		out := c.AugmentPrompt("fix the bug")

		assert.True(t, strings.HasPrefix(out, "[MUST_CALL: Skill(tdd, reviewer)]"))
		assert.Contains(t, out, "fix the bug")
		assert.Equal(t, StateAwaitingResponse, c.GetState())
	})

	t.Run("suggestion prepends CONSIDER_CALLING", func(t *testing.T) {
		c := NewCorrector()
		c.InitializeTools(router.ModeSuggestion, []string{"tdd"})
		out := c.AugmentPrompt("fix the bug")
		assert.True(t, strings.HasPrefix(out, "[CONSIDER_CALLING: Skill(tdd)]"))
	})

	t.Run("chat passes through", func(t *testing.T) {
		c := NewCorrector()
		c.InitializeTools(router.ModeChat, nil)
		assert.Equal(t, "what is a monad?", c.AugmentPrompt("what is a monad?"))
	})

	t.Run("empty tool set passes through", func(t *testing.T) {
		c := NewCorrector()
		c.InitializeTools(router.ModeImmediate, nil)
		assert.Equal(t, "hello", c.AugmentPrompt("hello"))
	})
}

func TestCheckResponseAcceptsWhenRequiredCalled(t *testing.T) {
	c := NewCorrector()
	c.InitializeTools(router.ModeImmediate, []string{"tdd", "reviewer"})
	c.AugmentPrompt("fix the bug")

	v, err := c.CheckResponse(`Calling Skill("tdd") and then Skill("reviewer").`)
	require.NoError(t, err)

	assert.True(t, v.Accepted)
	assert.Equal(t, []string{"tdd", "reviewer"}, v.FoundTools)
	assert.Equal(t, StateAccepted, c.GetState())
}

func TestCheckResponseRejectsMissingRequired(t *testing.T) {
	c := NewCorrector()
	c.InitializeTools(router.ModeImmediate, []string{"tdd", "reviewer"})
	c.AugmentPrompt("fix the bug")

	v, err := c.CheckResponse(`Calling Skill("tdd") only.`)
	require.NoError(t, err)

	assert.False(t, v.Accepted)
	assert.Equal(t, []string{"reviewer"}, v.MissingTools)
	assert.Equal(t, "COMPLIANCE ERROR: You MUST call Skill(reviewer). Attempt 1/3", v.Reason)
	assert.True(t, v.Retryable)
	assert.Equal(t, 1, c.GetRetryCount())
	assert.Equal(t, StateAwaitingResponse, c.GetState())

	// The corrective prompt interleaves reason, directive, and original.
	assert.Contains(t, v.RetryPrompt, "COMPLIANCE ERROR")
	assert.Contains(t, v.RetryPrompt, "[MUST_CALL: Skill(tdd, reviewer)]")
	assert.Contains(t, v.RetryPrompt, "fix the bug")
}

func TestCheckResponseSuggestionAlwaysAccepts(t *testing.T) {
	c := NewCorrector()
	c.InitializeTools(router.ModeSuggestion, []string{"tdd"})
	c.AugmentPrompt("fix the bug")

	v, err := c.CheckResponse("no skills called at all")
	require.NoError(t, err)
	assert.True(t, v.Accepted)
	assert.Empty(t, v.MissingTools)
}

func TestCheckResponseChatAlwaysAccepts(t *testing.T) {
	c := NewCorrector()
	c.InitializeTools(router.ModeChat, nil)
	c.AugmentPrompt("what is a monad?")

	v, err := c.CheckResponse("a monoid in the category of endofunctors")
	require.NoError(t, err)
	assert.True(t, v.Accepted)
}

func TestCheckResponseAcceptsOnFinalAttempt(t *testing.T) {
	c := NewCorrectorWithConfig(Config{MaxRetries: 2})
	c.InitializeTools(router.ModeImmediate, []string{"tdd"})
	c.AugmentPrompt("fix it")

	for i := 1; i <= 2; i++ {
		v, err := c.CheckResponse("still no skill call")
		require.NoError(t, err)
		assert.False(t, v.Accepted)
	}

	v, err := c.CheckResponse(`Skill("tdd")`)
	require.NoError(t, err)
	assert.True(t, v.Accepted)
	assert.Equal(t, 3, v.Attempt)
	assert.Equal(t, StateAccepted, c.GetState())
}

func TestCheckResponseExhaustsRetries(t *testing.T) {
	c := NewCorrectorWithConfig(Config{MaxRetries: 2})
	c.InitializeTools(router.ModeImmediate, []string{"tdd"})
	c.AugmentPrompt("fix it")

	// Two retryable rejections, then terminal exhaustion.
	for i := 1; i <= 2; i++ {
		v, err := c.CheckResponse("still no skill call")
		require.NoError(t, err)
		assert.True(t, v.Retryable, "rejection %d should be retryable", i)
		assert.Equal(t, fmt.Sprintf("COMPLIANCE ERROR: You MUST call Skill(tdd). Attempt %d/2", i), v.Reason)
	}

	v, err := c.CheckResponse("still no skill call")
	require.Error(t, err)

	var exhausted *RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Equal(t, []string{"tdd"}, exhausted.MissingTools)
	assert.Contains(t, exhausted.LastReason, "COMPLIANCE ERROR")
	assert.False(t, v.Retryable)
	assert.Equal(t, StateExhausted, c.GetState())
}

func TestCheckResponseProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	universe := []string{"tdd", "reviewer", "sec-audit", "lint", "docs", "release.notes"}
	pick := func(mask uint8) []string {
		var out []string
		for i, name := range universe {
			if mask&(1<<uint(i)) != 0 {
				out = append(out, name)
			}
		}
		return out
	}

	properties.Property("accepted exactly when every required skill is called", prop.ForAll(
		func(reqMask, callMask uint8) bool {
			required := pick(reqMask)
			called := pick(callMask)

			c := NewCorrector()
			c.InitializeTools(router.ModeImmediate, required)
			c.AugmentPrompt("fix the parser bug")

			var b strings.Builder
			b.WriteString("Working on it. ")
			for _, name := range called {
				fmt.Fprintf(&b, "Skill(%q) ", name)
			}
			v, err := c.CheckResponse(b.String())
			if err != nil {
				return false // first attempt is never terminal
			}

			have := make(map[string]bool, len(called))
			for _, name := range called {
				have[name] = true
			}
			var wantMissing []string
			for _, name := range required {
				if !have[name] {
					wantMissing = append(wantMissing, name)
				}
			}

			if v.Accepted != (len(wantMissing) == 0) {
				return false
			}
			if v.Accepted {
				return len(v.MissingTools) == 0
			}
			return v.Retryable && reflect.DeepEqual(wantMissing, v.MissingTools)
		},
		gen.UInt8(), gen.UInt8(),
	))

	properties.TestingRun(t)
}

func TestCheckResponseInvalidState(t *testing.T) {
	c := NewCorrector()
	_, err := c.CheckResponse("anything")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "idle")
}

func TestSetAttemptSeedsCounter(t *testing.T) {
	c := NewCorrector()
	c.InitializeTools(router.ModeImmediate, []string{"tdd"})
	c.SetAttempt(3)

	v, err := c.CheckResponse("nope")
	require.NoError(t, err)
	assert.Equal(t, "COMPLIANCE ERROR: You MUST call Skill(tdd). Attempt 3/3", v.Reason)
	assert.True(t, v.Retryable)
}

func TestTransitionHistory(t *testing.T) {
	c := NewCorrector()
	c.InitializeTools(router.ModeImmediate, []string{"tdd"})
	c.AugmentPrompt("fix")
	_, err := c.CheckResponse("no call")
	require.NoError(t, err)
	_, err = c.CheckResponse(`Skill("tdd")`)
	require.NoError(t, err)

	var events []Event
	for _, tr := range c.GetHistory() {
		events = append(events, tr.Event)
	}
	assert.Equal(t, []Event{
		EventInitialize,
		EventPromptSent,
		EventReject,
		EventRetry,
		EventAccept,
	}, events)
}

func TestResetRetainsHistory(t *testing.T) {
	c := NewCorrector()
	c.InitializeTools(router.ModeImmediate, []string{"tdd"})
	before := len(c.GetHistory())

	c.Reset()

	assert.Equal(t, StateIdle, c.GetState())
	assert.Equal(t, 0, c.GetRetryCount())
	assert.Empty(t, c.GetRequiredTools())
	assert.Equal(t, before+1, len(c.GetHistory()))
}
