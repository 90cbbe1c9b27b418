// Package main implements the skillgate CLI: the routing, activation and
// enforcement hook surface a coding agent wires into its tool loop.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"skillgate/internal/config"
	"skillgate/internal/logging"
)

var (
	// Global flags
	verbose   bool
	workspace string
	timeout   time.Duration

	// Logger
	logger *zap.Logger

	// exitCode carries the allow/deny outcome for commands whose contract
	// speaks through the process exit status rather than through an error.
	exitCode int
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "skillgate",
	Short: "skillgate - workflow enforcement gate for coding agents",
	Long: `skillgate decides which skills a coding agent must activate for a prompt
and then holds the agent to the declared workflow: tool calls are gated
against the active session's blocked intents, stop requests against the
profile's completion requirements, and responses against the skill calls
routing demanded.

Configuration lives under <workspace>/.skillgate/:
  config.json    runtime settings (thresholds, vector store, retries)
  skills.yaml    the skill corpus (capabilities, artifacts, deny rules)
  profiles.yaml  workflow profiles (required capabilities, strictness)

Wire 'skillgate pre-tool-use' and 'skillgate stop' into the agent's hook
points; exit status 0 allows the action, 1 denies it.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize logger
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		// File logging is a no-op unless debug_mode is set in config.json.
		ws, err := resolveWorkspace()
		if err != nil {
			return err
		}
		if err := logging.Initialize(ws); err != nil {
			logger.Warn("file logging unavailable", zap.Error(err))
		}
		if err := logging.InitAudit(); err != nil {
			logger.Warn("audit logging unavailable", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAudit()
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// resolveWorkspace returns the --workspace flag when set, otherwise the
// discovered workspace root (SKILLGATE_WORKSPACE, nearest .skillgate or
// .git ancestor, else the working directory).
func resolveWorkspace() (string, error) {
	if workspace != "" {
		return workspace, nil
	}
	return config.FindWorkspaceRoot()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: discovered from cwd)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "Operation timeout")

	// Add commands to root
	rootCmd.AddCommand(preToolUseCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(activateCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(nextCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(routeCmd)
	rootCmd.AddCommand(checkResponseCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(buildStoreCmd)
	rootCmd.AddCommand(historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(exitCode)
}
