package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const watchTestSkills = `version: "1.0"
skills:
  - name: tdd
    provides: [tests_written]
`

const watchTestProfiles = `version: "1.0"
profiles:
  - name: bug-fix
    capabilities_required: [tests_written]
`

func writeConfigDir(t *testing.T) string {
	t.Helper()
	ws := t.TempDir()
	dir := Dir(ws)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(SkillsPath(ws), []byte(watchTestSkills), 0644))
	require.NoError(t, os.WriteFile(ProfilesPath(ws), []byte(watchTestProfiles), 0644))
	return ws
}

func waitResult(t *testing.T, ch <-chan WatchResult, timeout time.Duration) WatchResult {
	t.Helper()
	select {
	case res, ok := <-ch:
		require.True(t, ok, "watch channel closed early")
		return res
	case <-time.After(timeout):
		t.Fatal("no watch result within timeout")
		return WatchResult{}
	}
}

func TestRevalidateValidConfig(t *testing.T) {
	ws := writeConfigDir(t)

	res := Revalidate(ws)
	require.NoError(t, res.Err)
	require.NotNil(t, res.Skills)
	require.NotNil(t, res.Profiles)
	assert.Len(t, res.Skills.Skills, 1)
	assert.Len(t, res.Profiles.Profiles, 1)
}

func TestRevalidateMissingFile(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.MkdirAll(Dir(ws), 0755))

	res := Revalidate(ws)
	require.Error(t, res.Err)
	var cfgErr *ConfigError
	assert.ErrorAs(t, res.Err, &cfgErr)
}

func TestRevalidateSemanticError(t *testing.T) {
	ws := writeConfigDir(t)
	// tests_written loses its provider
	broken := `version: "1.0"
profiles:
  - name: bug-fix
    capabilities_required: [nonexistent_cap]
`
	require.NoError(t, os.WriteFile(ProfilesPath(ws), []byte(broken), 0644))

	res := Revalidate(ws)
	require.Error(t, res.Err)
	var verrs ValidationErrors
	require.ErrorAs(t, res.Err, &verrs)
	assert.Contains(t, verrs.Error(), "nonexistent_cap")
}

func TestWatchEmitsOnSkillsChange(t *testing.T) {
	ws := writeConfigDir(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := Watch(ctx, ws)
	require.NoError(t, err)

	updated := watchTestSkills + `  - name: reviewer
    provides: [review_done]
`
	require.NoError(t, os.WriteFile(SkillsPath(ws), []byte(updated), 0644))

	res := waitResult(t, ch, 3*time.Second)
	require.NoError(t, res.Err)
	assert.Len(t, res.Skills.Skills, 2)
}

func TestWatchReportsInvalidConfig(t *testing.T) {
	ws := writeConfigDir(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := Watch(ctx, ws)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(SkillsPath(ws), []byte("skills: [broken"), 0644))

	res := waitResult(t, ch, 3*time.Second)
	assert.Error(t, res.Err)
}

func TestWatchIgnoresUnrelatedFiles(t *testing.T) {
	ws := writeConfigDir(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := Watch(ctx, ws)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(Dir(ws), "scratch.txt"), []byte("noise"), 0644))

	select {
	case res := <-ch:
		t.Fatalf("unexpected result for unrelated file: %+v", res)
	case <-time.After(600 * time.Millisecond):
	}
}

func TestWatchClosesOnCancel(t *testing.T) {
	ws := writeConfigDir(t)
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := Watch(ctx, ws)
	require.NoError(t, err)

	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should close after cancel")
	case <-time.After(2 * time.Second):
		t.Fatal("channel did not close after cancel")
	}
}

func TestWatchMissingDirErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := Watch(ctx, filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}
