// Package main implements session management CLI commands for skillgate.
// This file handles profile activation, session status, the next-step
// hint, and clearing the active session.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"skillgate/internal/config"
	"skillgate/internal/journal"
	"skillgate/internal/session"
)

// =============================================================================
// SESSION MANAGEMENT COMMANDS
// =============================================================================

var (
	activateRequestID string
	nextAsJSON        bool
	clearForce        bool
)

// activateCmd activates a workflow profile by name
var activateCmd = &cobra.Command{
	Use:   "activate <profile>",
	Short: "Activate a workflow profile",
	Long: `Resolves the named profile's required capabilities into a skill chain,
computes the blocked intents, and persists a new session as the current
one.

A --request-id makes the call idempotent: replaying the same id returns
the session it minted instead of creating another.`,
	Args: cobra.ExactArgs(1),
	RunE: runActivate,
}

// statusCmd shows the active session
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the active session and capability progress",
	RunE:  runStatus,
}

// nextCmd shows what the workflow needs next
var nextCmd = &cobra.Command{
	Use:   "next",
	Short: "Show the next capability the workflow needs",
	RunE:  runNext,
}

// clearCmd deactivates the current session
var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the active session",
	Long: `Removes the current-session pointer. Session files are retained under
.skillgate/sessions/ as history. Requires --force.`,
	RunE: runClear,
}

func runActivate(cmd *cobra.Command, args []string) error {
	rt, err := loadRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	res, err := rt.activator().ActivateProfile(ctx, args[0], activateRequestID)
	if err != nil {
		return err
	}
	if !res.Activated {
		reason := res.Error
		if reason == "" {
			reason = res.Reason
		}
		fmt.Fprintf(os.Stderr, "not activated: %s\n", reason)
		exitCode = 1
		return nil
	}

	suffix := ""
	if res.Idempotent {
		suffix = " (idempotent replay)"
	}
	fmt.Printf("✅ activated profile '%s'%s\n", res.ProfileID, suffix)
	fmt.Printf("session: %s\n", res.SessionID)
	if len(res.Chain) > 0 {
		fmt.Printf("chain: %s\n", strings.Join(res.Chain, " -> "))
	} else {
		fmt.Println("chain: (empty)")
	}
	if len(res.BlockedIntents) > 0 {
		fmt.Println("blocked intents:")
		for _, it := range sortedKeys(res.BlockedIntents) {
			fmt.Printf("  %s: %s\n", it, res.BlockedIntents[it])
		}
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	ws, err := resolveWorkspace()
	if err != nil {
		return err
	}
	st := newStyles(isTerminal(os.Stdout))

	state, err := session.NewStore(ws).LoadCurrent()
	if err != nil {
		logger.Warn("session state unreadable", zap.Error(err))
	}
	if state == nil {
		fmt.Println(st.muted.Render("no active session"))
		return nil
	}

	fmt.Println(st.title.Render("skillgate session"))
	printField(st, "session", state.SessionID)
	printField(st, "profile", fmt.Sprintf("%s %s", state.ProfileID,
		st.strictness(config.Strictness(state.Strictness)).Render("["+state.Strictness+"]")))
	printField(st, "activated", state.ActivatedAt.Format(time.RFC3339))
	printField(st, "chain", renderChain(st, state))
	printField(st, "progress", fmt.Sprintf("%d/%d capabilities",
		len(state.CapabilitiesSatisfied), len(state.CapabilitiesRequired)))

	if len(state.CapabilitiesRequired) > 0 {
		fmt.Println(st.label.Render("  capabilities"))
		for _, cap := range state.CapabilitiesRequired {
			if state.IsSatisfied(cap) {
				fmt.Printf("    %s %s\n", st.success.Render("✓"), cap)
			} else {
				fmt.Printf("    %s %s\n", st.alert.Render("✗"), cap)
			}
		}
	}
	if len(state.BlockedIntents) > 0 {
		fmt.Println(st.label.Render("  blocked intents"))
		for _, it := range sortedKeys(state.BlockedIntents) {
			fmt.Printf("    %s: %s\n", st.alert.Render(it), st.muted.Render(state.BlockedIntents[it]))
		}
	}
	return nil
}

// nextStep is the JSON shape of the next command.
type nextStep struct {
	Active         bool     `json:"active"`
	SessionID      string   `json:"session_id,omitempty"`
	ProfileID      string   `json:"profile_id,omitempty"`
	CurrentSkill   string   `json:"current_skill,omitempty"`
	NextCapability string   `json:"next_capability,omitempty"`
	Missing        []string `json:"missing,omitempty"`
	Evidence       []string `json:"evidence,omitempty"`
	Satisfied      int      `json:"satisfied"`
	Required       int      `json:"required"`
}

func runNext(cmd *cobra.Command, args []string) error {
	ws, err := resolveWorkspace()
	if err != nil {
		return err
	}

	state, err := session.NewStore(ws).LoadCurrent()
	if err != nil {
		logger.Warn("session state unreadable", zap.Error(err))
	}
	if state == nil {
		if nextAsJSON {
			return json.NewEncoder(os.Stdout).Encode(nextStep{Active: false})
		}
		fmt.Println("no active session")
		return nil
	}

	skills, err := config.LoadSkills(config.SkillsPath(ws))
	if err != nil {
		return err
	}

	missing := state.MissingCapabilities()
	step := nextStep{
		Active:    true,
		SessionID: state.SessionID,
		ProfileID: state.ProfileID,
		Missing:   missing,
		Satisfied: len(state.CapabilitiesSatisfied),
		Required:  len(state.CapabilitiesRequired),
	}
	if len(missing) > 0 {
		step.CurrentSkill = state.CurrentSkill()
		step.NextCapability = missing[0]
		step.Evidence = evidenceHints(skills, state.Chain, missing[0])
	}

	if nextAsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(step)
	}

	st := newStyles(isTerminal(os.Stdout))
	if len(missing) == 0 {
		fmt.Println(st.success.Render("workflow complete: all capabilities satisfied"))
		return nil
	}
	fmt.Printf("%s %s\n", st.label.Render("next capability:"), st.title.Render(step.NextCapability))
	if step.CurrentSkill != "" {
		fmt.Printf("%s %s\n", st.label.Render("current skill:"), step.CurrentSkill)
	}
	if len(step.Evidence) > 0 {
		fmt.Println(st.label.Render("satisfied by:"))
		for _, hint := range step.Evidence {
			fmt.Printf("  %s\n", hint)
		}
	}
	fmt.Printf("%s %d/%d capabilities\n", st.label.Render("progress:"), step.Satisfied, step.Required)
	return nil
}

func runClear(cmd *cobra.Command, args []string) error {
	if !clearForce {
		return fmt.Errorf("clear deactivates the current workflow session; pass --force to confirm")
	}

	ws, err := resolveWorkspace()
	if err != nil {
		return err
	}

	store := session.NewStore(ws)
	state, err := store.LoadCurrent()
	if err != nil {
		logger.Warn("session state unreadable", zap.Error(err))
	}
	if err := store.Clear(); err != nil {
		return err
	}

	if j, err := journal.Open(ws); err == nil {
		defer j.Close()
		entry := journal.Entry{Kind: journal.KindClear, Verdict: "cleared"}
		if state != nil {
			entry.SessionID = state.SessionID
			entry.Reason = fmt.Sprintf("profile=%s", state.ProfileID)
		}
		j.Record(entry)
	}

	fmt.Println("session cleared")
	return nil
}

// =============================================================================
// RENDER HELPERS
// =============================================================================

// renderChain marks the current skill in the resolved chain.
func renderChain(st styles, state *session.SessionState) string {
	if len(state.Chain) == 0 {
		return st.muted.Render("(empty)")
	}
	parts := make([]string, len(state.Chain))
	for i, sk := range state.Chain {
		if i == state.CurrentSkillIndex {
			parts[i] = st.info.Render(sk + "*")
		} else {
			parts[i] = sk
		}
	}
	return strings.Join(parts, " -> ")
}

// evidenceHints describes the artifact predicates that would satisfy a
// capability, drawn from the chain skills providing it.
func evidenceHints(skills *config.SkillsFile, chain []string, capability string) []string {
	var hints []string
	for _, name := range chain {
		sk := skills.ByName(name)
		if sk == nil || !providesCapability(sk, capability) {
			continue
		}
		for _, pred := range sk.Artifacts {
			if pred.Capability == "" || pred.Capability == capability {
				hints = append(hints, pred.Describe())
			}
		}
	}
	return hints
}

func providesCapability(sk *config.Skill, capability string) bool {
	for _, c := range sk.Provides {
		if c == capability {
			return true
		}
	}
	return false
}

func printField(st styles, label, value string) {
	fmt.Printf("  %s %s\n", st.label.Render(fmt.Sprintf("%-10s", label)), value)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func init() {
	activateCmd.Flags().StringVar(&activateRequestID, "request-id", "", "Idempotency key for this activation")
	nextCmd.Flags().BoolVar(&nextAsJSON, "json", false, "Emit JSON instead of text")
	clearCmd.Flags().BoolVar(&clearForce, "force", false, "Confirm clearing the session")
}
