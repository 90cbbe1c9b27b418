// Package main implements the configuration commands for skillgate.
// This file handles schema validation (one-shot and watch mode) and
// building the vector-store artifact from the skill corpus.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"skillgate/internal/config"
	"skillgate/internal/embedding"
	"skillgate/internal/router"
)

// =============================================================================
// CONFIG COMMANDS
// =============================================================================

var (
	validateWatch    bool
	buildStoreOutput string
)

// validateCmd checks skills.yaml and profiles.yaml
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate skills.yaml and profiles.yaml",
	Long: `Loads both schemas and cross-checks them: capability references must
resolve to a provider, names must be unique, tiers and strictness must
be known values. Exit 0 when clean, 1 with the violation list on stderr.

With --watch, revalidates on every change to either file until
interrupted.`,
	RunE: runValidate,
}

// buildStoreCmd embeds the skill corpus into the vector store
var buildStoreCmd = &cobra.Command{
	Use:   "build-store",
	Short: "Embed the skill corpus into the vector-store artifact",
	Long: `Embeds every skill's description and trigger examples with the
configured embedding backend and writes the vector-store JSON the
router loads at startup. The store is written atomically.`,
	RunE: runBuildStore,
}

func runValidate(cmd *cobra.Command, args []string) error {
	ws, err := resolveWorkspace()
	if err != nil {
		return err
	}

	res := config.Revalidate(ws)
	printValidation(res)
	if !validateWatch {
		if res.Err != nil {
			exitCode = 1
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	ch, err := config.Watch(ctx, ws)
	if err != nil {
		return err
	}
	fmt.Println("watching for config changes (ctrl-c to stop)")
	for res := range ch {
		printValidation(res)
	}
	return nil
}

func printValidation(res config.WatchResult) {
	stamp := res.At.Format("15:04:05")
	if res.Err == nil {
		fmt.Printf("%s ✅ ok: %d skills, %d profiles\n",
			stamp, len(res.Skills.Skills), len(res.Profiles.Profiles))
		return
	}

	var verrs config.ValidationErrors
	if errors.As(res.Err, &verrs) {
		fmt.Fprintf(os.Stderr, "%s %d validation error(s):\n", stamp, len(verrs))
		for _, e := range verrs {
			fmt.Fprintf(os.Stderr, "  %s: %s: %s\n", e.File, e.Path, e.Message)
		}
		return
	}
	fmt.Fprintf(os.Stderr, "%s %v\n", stamp, res.Err)
}

func runBuildStore(cmd *cobra.Command, args []string) error {
	rt, err := loadRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	// A store built from an invalid corpus would route to skills the
	// resolver rejects.
	if err := config.Validate(rt.skills, rt.profiles).AsError(); err != nil {
		return err
	}

	engine, err := embedding.NewEngine(rt.settings.GetEmbedding())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	store, err := router.BuildStore(ctx, rt.skills, engine)
	if err != nil {
		return err
	}

	out := buildStoreOutput
	if out == "" {
		out = rt.settings.ResolveStorePath(rt.workspace)
	}
	if err := store.Write(out); err != nil {
		return err
	}

	fmt.Printf("✅ wrote %s: %d skills, %d dimensions, model %s\n",
		out, len(store.Skills), store.Dimensions(), store.Model)
	return nil
}

func init() {
	validateCmd.Flags().BoolVar(&validateWatch, "watch", false, "Revalidate on config changes until interrupted")
	buildStoreCmd.Flags().StringVarP(&buildStoreOutput, "output", "o", "", "Store path (default: vector_store from config)")
}
