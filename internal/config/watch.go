package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"skillgate/internal/logging"
)

// watchDebounce coalesces editor save bursts into one revalidation.
const watchDebounce = 250 * time.Millisecond

// WatchResult is one revalidation outcome. Err carries load or
// validation failures; on success Skills and Profiles hold the freshly
// loaded files.
type WatchResult struct {
	Skills   *SkillsFile
	Profiles *ProfilesFile
	Err      error
	At       time.Time
}

// Watch revalidates skills.yaml and profiles.yaml whenever either
// changes, emitting results on the returned channel until ctx is done.
// The dotdir is watched rather than the files: editors replace files by
// rename, which would silently drop a per-file watch.
func Watch(ctx context.Context, workspace string) (<-chan WatchResult, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create watcher: %w", err)
	}
	dir := Dir(workspace)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("config: watch %s: %w", dir, err)
	}

	ch := make(chan WatchResult, 1)
	go watchLoop(ctx, watcher, workspace, ch)
	logging.Config("watching %s for config changes", dir)
	return ch, nil
}

func watchLoop(ctx context.Context, watcher *fsnotify.Watcher, workspace string, ch chan<- WatchResult) {
	defer close(ch)
	defer watcher.Close()

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	emit := func() {
		result := Revalidate(workspace)
		if result.Err != nil {
			logging.ConfigWarn("revalidation failed: %v", result.Err)
		} else {
			logging.Config("configuration revalidated: %d skills, %d profiles",
				len(result.Skills.Skills), len(result.Profiles.Profiles))
		}
		select {
		case ch <- result:
		default:
			// A result is already pending; the consumer will revalidate
			// against the latest files anyway.
		}
	}

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !isConfigFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(watchDebounce, emit)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logging.ConfigWarn("watcher error: %v", err)
		}
	}
}

func isConfigFile(path string) bool {
	switch filepath.Base(path) {
	case "skills.yaml", "profiles.yaml":
		return true
	default:
		return false
	}
}

// Revalidate loads and validates both config files, as the watcher does
// on every change.
func Revalidate(workspace string) WatchResult {
	now := time.Now().UTC()

	skills, err := LoadSkills(SkillsPath(workspace))
	if err != nil {
		return WatchResult{Err: err, At: now}
	}
	profiles, err := LoadProfiles(ProfilesPath(workspace))
	if err != nil {
		return WatchResult{Err: err, At: now}
	}
	if verr := Validate(skills, profiles).AsError(); verr != nil {
		return WatchResult{Err: verr, At: now}
	}
	return WatchResult{Skills: skills, Profiles: profiles, At: now}
}
