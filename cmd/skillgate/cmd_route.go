// Package main implements the router activation command for skillgate.
// This file handles the stdin-driven route pipeline: score the prompt,
// pick the mode, and emit the enforcement directive for injection.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"skillgate/internal/embedding"
	"skillgate/internal/journal"
	"skillgate/internal/middleware"
	"skillgate/internal/router"
	"skillgate/internal/vector"
)

// =============================================================================
// ROUTE COMMAND
// =============================================================================

var routeAsJSON bool

// routeCmd scores a prompt against the skill corpus
var routeCmd = &cobra.Command{
	Use:   "route",
	Short: "Route a prompt to skills and emit the activation block",
	Long: `Reads {"prompt": "...", "sessionId": "..."} from stdin, scores the
prompt against the embedded skill corpus, and prints the activation
block to inject ahead of the agent prompt. With --json the output is
{mode, requiredSkills, topScore, processingTimeMs} instead.

Modes by top fused score: >= 0.85 immediate (the agent must call the
listed skills), >= 0.70 suggestion, below chat.`,
	RunE: runRoute,
}

// routeInput is the stdin contract.
type routeInput struct {
	Prompt    string `json:"prompt"`
	SessionID string `json:"sessionId,omitempty"`
}

// routeOutput is the --json contract.
type routeOutput struct {
	Mode             router.Mode `json:"mode"`
	RequiredSkills   []string    `json:"requiredSkills"`
	TopScore         float64     `json:"topScore"`
	ProcessingTimeMs int64       `json:"processingTimeMs"`
}

func runRoute(cmd *cobra.Command, args []string) error {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	var in routeInput
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("route input: %w", err)
	}
	if strings.TrimSpace(in.Prompt) == "" {
		return fmt.Errorf("route input: empty prompt")
	}

	rt, err := loadRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	engine, err := embedding.NewEngine(rt.settings.GetEmbedding())
	if err != nil {
		return err
	}

	r := router.New(router.Options{
		StorePath: rt.settings.ResolveStorePath(rt.workspace),
		Engine:    engine,
		Thresholds: router.Thresholds{
			Immediate:  rt.settings.ImmediateThreshold,
			Suggestion: rt.settings.SuggestionThreshold,
		},
		Weights: vector.Weights{
			Keyword:   rt.settings.KeywordWeight,
			Embedding: rt.settings.EmbeddingWeight,
		},
		CacheSize: rt.settings.EmbedCacheSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := r.Initialize(ctx); err != nil {
		return err
	}
	result, err := r.Route(ctx, in.Prompt)
	if err != nil {
		return err
	}

	// The corrector's dynamic thresholds decide which matches the agent
	// is actually held to.
	corrector := middleware.NewCorrectorWithConfig(middleware.Config{MaxRetries: rt.settings.MaxRetries})
	decision := result.Decision("", "")
	corrector.InitializeFromRouting(decision)
	required := corrector.GetRequiredTools()
	if required == nil {
		required = []string{}
	}

	rt.journal.Record(journal.Entry{
		Kind:      journal.KindRoute,
		SessionID: in.SessionID,
		Intents:   required,
		Verdict:   string(result.Mode),
		Reason:    fmt.Sprintf("top=%.2f in %dms", decision.TopScore(), result.ProcessingTimeMs),
	})

	if routeAsJSON {
		return json.NewEncoder(os.Stdout).Encode(routeOutput{
			Mode:             result.Mode,
			RequiredSkills:   required,
			TopScore:         decision.TopScore(),
			ProcessingTimeMs: result.ProcessingTimeMs,
		})
	}

	st := newStyles(isTerminal(os.Stdout))
	fmt.Printf("%s %s (top score %.2f, %dms)\n",
		st.label.Render("mode:"), renderMode(st, result.Mode), decision.TopScore(), result.ProcessingTimeMs)
	if len(result.Matches) > 0 {
		fmt.Println(st.label.Render("matches:"))
		for _, m := range result.Matches {
			fmt.Printf("  %-20s %.2f\n", m.SkillName, m.Score)
		}
	}
	if block := strings.TrimRight(corrector.AugmentPrompt(""), "\n"); block != "" {
		fmt.Println()
		fmt.Println(block)
	}
	return nil
}

func renderMode(st styles, mode router.Mode) string {
	switch mode {
	case router.ModeImmediate:
		return st.alert.Render(string(mode))
	case router.ModeSuggestion:
		return st.warn.Render(string(mode))
	default:
		return st.muted.Render(string(mode))
	}
}

func init() {
	routeCmd.Flags().BoolVar(&routeAsJSON, "json", false, "Emit JSON instead of the activation block")
}
