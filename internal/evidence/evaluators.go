package evidence

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar"

	"skillgate/internal/config"
)

// maxCommandOutput bounds how much command output lands in result details.
const maxCommandOutput = 1024

// fileExistsEvaluator satisfies a predicate when at least one workspace
// file matches the glob. Paths are matched workspace-relative with
// forward slashes, so "**/*.test.ts" means "any test file anywhere".
type fileExistsEvaluator struct{}

func (e *fileExistsEvaluator) Name() string { return "file_exists" }

func (e *fileExistsEvaluator) CanEvaluate(t string) bool { return t == config.PredicateFileExists }

func (e *fileExistsEvaluator) Evaluate(ctx context.Context, req Request) Result {
	pred := req.Predicate
	if pred.Pattern == "" {
		return failure(pred, fmt.Errorf("file_exists predicate has no pattern"))
	}
	if _, err := doublestar.Match(pred.Pattern, "probe"); err != nil {
		return failure(pred, fmt.Errorf("bad glob %q: %w", pred.Pattern, err))
	}

	var found string
	walkErr := filepath.WalkDir(req.Workspace, func(p string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return nil // unreadable entry, keep walking
		}
		if d.IsDir() {
			// Internal state and VCS metadata never count as evidence.
			name := d.Name()
			if p != req.Workspace && (name == ".git" || name == config.DirName || name == "node_modules") {
				return fs.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(req.Workspace, p)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		ok, matchErr := doublestar.Match(pred.Pattern, rel)
		if matchErr != nil {
			return matchErr
		}
		if ok {
			found = rel
			return fs.SkipAll
		}
		return nil
	})
	if walkErr != nil {
		return failure(pred, walkErr)
	}
	if found == "" {
		return Result{
			EvidenceType: pred.Type,
			Details:      fmt.Sprintf("no file matches %q", pred.Pattern),
		}
	}
	return Result{
		Satisfied:    true,
		EvidenceType: pred.Type,
		Details:      found,
	}
}

// markerFoundEvaluator satisfies a predicate when the designated file
// exists and contains at least one regex match.
type markerFoundEvaluator struct{}

func (e *markerFoundEvaluator) Name() string { return "marker_found" }

func (e *markerFoundEvaluator) CanEvaluate(t string) bool { return t == config.PredicateMarkerFound }

func (e *markerFoundEvaluator) Evaluate(ctx context.Context, req Request) Result {
	pred := req.Predicate
	if pred.File == "" {
		return failure(pred, fmt.Errorf("marker_found predicate has no file"))
	}
	if pred.Pattern == "" {
		return failure(pred, fmt.Errorf("marker_found predicate has no pattern"))
	}
	re, err := regexp.Compile(pred.Pattern)
	if err != nil {
		return failure(pred, fmt.Errorf("bad regex %q: %w", pred.Pattern, err))
	}

	path := pred.File
	if !filepath.IsAbs(path) {
		path = filepath.Join(req.Workspace, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{
				EvidenceType: pred.Type,
				Details:      fmt.Sprintf("%s does not exist", pred.File),
			}
		}
		return failure(pred, err)
	}

	loc := re.FindIndex(data)
	if loc == nil {
		return Result{
			EvidenceType: pred.Type,
			Details:      fmt.Sprintf("no match for %q in %s", pred.Pattern, pred.File),
		}
	}
	return Result{
		Satisfied:    true,
		EvidenceType: pred.Type,
		Details:      fmt.Sprintf("marker at byte %d of %s", loc[0], pred.File),
	}
}

// commandSuccessEvaluator runs a shell command under the workspace and
// compares its exit code. It is the only side-effecting predicate;
// callers serialise evaluations sharing a workspace.
type commandSuccessEvaluator struct{}

func (e *commandSuccessEvaluator) Name() string { return "command_success" }

func (e *commandSuccessEvaluator) CanEvaluate(t string) bool {
	return t == config.PredicateCommandSuccess
}

func (e *commandSuccessEvaluator) Evaluate(ctx context.Context, req Request) Result {
	pred := req.Predicate
	if pred.Command == "" {
		return failure(pred, fmt.Errorf("command_success predicate has no command"))
	}

	timeout := DefaultCommandTimeout
	if pred.Timeout != "" {
		d, err := time.ParseDuration(pred.Timeout)
		if err != nil {
			return failure(pred, fmt.Errorf("bad timeout %q: %w", pred.Timeout, err))
		}
		timeout = d
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	shell, flag := "sh", "-c"
	if runtime.GOOS == "windows" {
		shell, flag = "cmd", "/C"
	}
	cmd := exec.CommandContext(ctx, shell, flag, pred.Command)
	cmd.Dir = req.Workspace

	output, err := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return failure(pred, fmt.Errorf("timed out after %s", timeout))
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return failure(pred, err)
		}
	}

	detail := fmt.Sprintf("exit %d (want %d)", exitCode, pred.ExpectedExit)
	if trimmed := strings.TrimSpace(string(bound(output))); trimmed != "" {
		detail += ": " + trimmed
	}
	return Result{
		Satisfied:    exitCode == pred.ExpectedExit,
		EvidenceType: pred.Type,
		Details:      detail,
	}
}

func bound(output []byte) []byte {
	if len(output) <= maxCommandOutput {
		return output
	}
	return output[:maxCommandOutput]
}

// manualEvaluator satisfies a predicate when the session already holds
// an evidence record for the named capability.
type manualEvaluator struct{}

func (e *manualEvaluator) Name() string { return "manual" }

func (e *manualEvaluator) CanEvaluate(t string) bool { return t == config.PredicateManual }

func (e *manualEvaluator) Evaluate(_ context.Context, req Request) Result {
	pred := req.Predicate
	if pred.Capability == "" {
		return failure(pred, fmt.Errorf("manual predicate has no capability"))
	}
	if req.Satisfied[pred.Capability] {
		return Result{
			Satisfied:    true,
			EvidenceType: pred.Type,
			Details:      fmt.Sprintf("session holds evidence for %q", pred.Capability),
		}
	}
	return Result{
		EvidenceType: pred.Type,
		Details:      fmt.Sprintf("no session evidence for %q", pred.Capability),
	}
}
