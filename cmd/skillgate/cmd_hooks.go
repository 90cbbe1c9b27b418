// Package main implements the enforcement hook commands for skillgate.
// This file handles the pre-tool-use and stop gates the agent wires into
// its tool loop.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"skillgate/internal/intent"
)

// =============================================================================
// ENFORCEMENT HOOK COMMANDS
// =============================================================================

var toolJSON string

// preToolUseCmd gates one tool invocation against the active session
var preToolUseCmd = &cobra.Command{
	Use:   "pre-tool-use",
	Short: "Gate a tool invocation against the active session",
	Long: `Evaluates one tool invocation against the active session's blocked
intents. Allowed calls exit 0 with guidance on stdout; denied calls
exit 1 with the denial on stderr.

The invocation is the JSON the agent hands to its pre-tool-use hook:

  skillgate pre-tool-use --tool '{"tool":"Write","input":{"file_path":"src/gate.ts"}}'

Without an active session (or without a .skillgate directory) every
call is allowed.`,
	RunE: runPreToolUse,
}

// stopCmd gates an agent stop request against completion requirements
var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Gate an agent stop request against completion requirements",
	Long: `Checks whether the active profile's completion requirements are all
satisfied. Only strict sessions hold the gate: exit 0 allows the agent
to stop, exit 1 blocks it and lists the unmet requirements on stderr.`,
	RunE: runStop,
}

func runPreToolUse(cmd *cobra.Command, args []string) error {
	inv, err := intent.Parse([]byte(toolJSON))
	if err != nil {
		return err
	}

	ws, err := resolveWorkspace()
	if err != nil {
		return err
	}
	if !configured(ws) {
		return nil
	}

	rt, err := loadRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	res, err := rt.hook().Check(ctx, inv)
	if err != nil {
		// The verdict still stands. An enforcement hook that trips over
		// its own state must not strand the agent.
		logger.Warn("pre-tool-use check degraded", zap.Error(err))
	}

	if !res.Allowed {
		fmt.Fprintln(os.Stderr, res.Message)
		exitCode = 1
		return nil
	}
	if res.Warning != "" {
		fmt.Fprintln(os.Stderr, res.Warning)
	}
	if res.Message != "" {
		fmt.Println(res.Message)
	}
	return nil
}

func runStop(cmd *cobra.Command, args []string) error {
	ws, err := resolveWorkspace()
	if err != nil {
		return err
	}
	if !configured(ws) {
		return nil
	}

	rt, err := loadRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	res, err := rt.hook().CheckStop(ctx)
	if err != nil {
		logger.Warn("stop check degraded", zap.Error(err))
	}

	if !res.Allowed {
		fmt.Fprintln(os.Stderr, res.Message)
		exitCode = 1
	}
	return nil
}

func init() {
	preToolUseCmd.Flags().StringVar(&toolJSON, "tool", "", "Tool invocation JSON (required)")
	_ = preToolUseCmd.MarkFlagRequired("tool")
}
