// Package main implements the corrective middleware command for skillgate.
// This file handles compliance checking of an agent response against the
// skill calls routing demanded.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"skillgate/internal/config"
	"skillgate/internal/journal"
	"skillgate/internal/middleware"
	"skillgate/internal/router"
	"skillgate/internal/session"
)

// =============================================================================
// CHECK-RESPONSE COMMAND
// =============================================================================

// checkResponseCmd verifies an agent response called the required skills
var checkResponseCmd = &cobra.Command{
	Use:   "check-response",
	Short: "Check an agent response for required skill calls",
	Long: `Reads the agent's response from stdin and verifies it invoked the
skills routing demanded. The enforcement set arrives via environment:

  REQUIRED_SKILLS   comma-separated; non-empty means immediate mode
  SUGGESTED_SKILLS  comma-separated; suggestion mode (never rejects)
  MAX_RETRIES       retry budget (default 3)
  ATTEMPT_NUMBER    1-based attempt this response represents

Accepted responses exit 0. Rejections exit 1 with the corrective retry
prompt on stderr; once retries are exhausted the failure is terminal.`,
	RunE: runCheckResponse,
}

func runCheckResponse(cmd *cobra.Command, args []string) error {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}

	ws, err := resolveWorkspace()
	if err != nil {
		return err
	}
	// Missing config.json degrades to defaults; MAX_RETRIES still applies.
	settings, err := config.LoadSettings(config.SettingsPath(ws))
	if err != nil {
		return err
	}

	mode := router.ModeChat
	var enforced []string
	if required := splitList(os.Getenv("REQUIRED_SKILLS")); len(required) > 0 {
		mode = router.ModeImmediate
		enforced = required
	} else if suggested := splitList(os.Getenv("SUGGESTED_SKILLS")); len(suggested) > 0 {
		mode = router.ModeSuggestion
		enforced = suggested
	}

	corrector := middleware.NewCorrectorWithConfig(middleware.Config{MaxRetries: settings.MaxRetries})
	corrector.InitializeTools(mode, enforced)
	if n, err := strconv.Atoi(os.Getenv("ATTEMPT_NUMBER")); err == nil && n > 0 {
		corrector.SetAttempt(n)
	}

	verdict, checkErr := corrector.CheckResponse(string(data))
	recordResponseCheck(ws, verdict, checkErr)

	if checkErr != nil {
		var exhausted *middleware.RetryExhaustedError
		if errors.As(checkErr, &exhausted) {
			fmt.Fprintln(os.Stderr, exhausted.Error())
			exitCode = 1
			return nil
		}
		return checkErr
	}

	if !verdict.Accepted {
		fmt.Fprintln(os.Stderr, verdict.RetryPrompt)
		exitCode = 1
		return nil
	}

	if verbose && len(verdict.FoundTools) > 0 {
		logger.Info("response accepted", zap.Strings("found", verdict.FoundTools))
	}
	return nil
}

// recordResponseCheck journals the verdict, correlated with the current
// session when one exists. Unconfigured workspaces are left untouched.
func recordResponseCheck(ws string, verdict middleware.Verdict, checkErr error) {
	if !configured(ws) {
		return
	}
	j, err := journal.Open(ws)
	if err != nil {
		logger.Warn("decision journal unavailable", zap.Error(err))
		return
	}
	defer j.Close()

	entry := journal.Entry{Kind: journal.KindResponseCheck, Reason: verdict.Reason}
	switch {
	case verdict.Accepted:
		entry.Verdict = "accept"
		entry.Intents = verdict.FoundTools
	case checkErr != nil:
		entry.Verdict = "exhausted"
		entry.Intents = verdict.MissingTools
	default:
		entry.Verdict = "reject"
		entry.Intents = verdict.MissingTools
	}
	if state, err := session.NewStore(ws).LoadCurrent(); err == nil && state != nil {
		entry.SessionID = state.SessionID
	}
	j.Record(entry)
}

// splitList parses a comma-separated environment value.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
