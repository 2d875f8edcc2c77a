package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"flowci/internal/cache"
	"flowci/internal/config"
	"flowci/pkg/utils"
)

// CacheStore is what the step runner needs from the cache. *cache.Store
// satisfies it; tests substitute fakes.
type CacheStore interface {
	Restore(key, dest string) (*cache.Entry, error)
	Save(key, root string, paths []string) (*cache.Entry, error)
}

// StepResult is the outcome of one executed step
type StepResult struct {
	Name       string
	ExitCode   int
	DurationMs int64
	Output     string
}

// StepRunner executes a single pipeline step and reports success/failure.
// Environment handling: job env is merged over the runtime env, step-local
// env merged over that (step-local wins). Nothing a step exports leaks
// outside its own job run: every job run gets a private Workspace, and the
// cache store is the only thing shared across jobs.
type StepRunner struct {
	Source    string        // checked-out source tree a checkout step materializes from
	Workspace string        // this job run's private working directory
	Cache     CacheStore    // nil disables cache steps (restore is then always a miss)
	Timeout   time.Duration // per-step wall clock bound; zero means none
	Logf      func(format string, args ...any)
}

func (r *StepRunner) logf(format string, args ...any) {
	if r.Logf != nil {
		r.Logf(format, args...)
	}
}

// RunStep executes one step under the supplied environment overlay and
// returns its result. A non-nil error is fatal to the job unless it is a
// *CacheUnavailableError.
func (r *StepRunner) RunStep(step config.Step, env map[string]string) (StepResult, error) {
	start := time.Now()
	res := StepResult{Name: step.DisplayName()}

	var err error
	switch step.Type {
	case config.StepCheckout:
		err = r.checkout()
	case config.StepRun:
		res.Output, res.ExitCode, err = r.runCommand(step.Run, env)
	case config.StepRestoreCache:
		err = r.restoreCache(step.RestoreCache)
	case config.StepSaveCache:
		err = r.saveCache(step.SaveCache)
	default:
		err = fmt.Errorf("unknown step type %q", step.Type)
	}

	res.DurationMs = time.Since(start).Milliseconds()
	if err != nil && res.ExitCode == 0 {
		var cacheErr *CacheUnavailableError
		if !errors.As(err, &cacheErr) {
			// fatal failure outside a command (checkout etc.): mark the
			// result so history records are distinguishable from exit 0
			res.ExitCode = -1
		}
	}
	return res, err
}

// checkout materializes the source tree into this job run's workspace. The
// actual fetch mechanism is an external collaborator; here the source is
// expected to already be on disk (the CLI runs against a checked-out tree,
// the server is handed one).
func (r *StepRunner) checkout() error {
	info, err := os.Stat(r.Source)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: source %s", ErrSourceUnavailable, r.Source)
	}
	if _, err := utils.CopyTree(r.Source, r.Workspace, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	return nil
}

func (r *StepRunner) runCommand(run *config.RunStep, env map[string]string) (string, int, error) {
	ctx := context.Background()
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	// Run the step in a shell (sh -c "cmd")
	cmd := exec.CommandContext(ctx, "sh", "-c", run.Command)

	cmd.Dir = r.Workspace
	if run.WorkingDirectory != "" {
		if filepath.IsAbs(run.WorkingDirectory) {
			cmd.Dir = run.WorkingDirectory
		} else {
			cmd.Dir = filepath.Join(r.Workspace, run.WorkingDirectory)
		}
	}

	cmd.Env = os.Environ()
	for k, v := range mergeEnv(env, run.Environment) {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if err == nil {
		return out.String(), 0, nil
	}
	if ctx.Err() == context.DeadlineExceeded {
		return out.String(), -1, fmt.Errorf("%w after %s", ErrTimeout, r.Timeout)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		return out.String(), code, &NonZeroExitError{Code: code}
	}
	return out.String(), -1, fmt.Errorf("start command: %w", err)
}

// restoreCache tries candidate keys in order, first hit wins. A miss on every
// key is fine.
func (r *StepRunner) restoreCache(step *config.RestoreCacheStep) error {
	if r.Cache == nil {
		return nil
	}
	for _, key := range step.CandidateKeys() {
		entry, err := r.Cache.Restore(key, r.Workspace)
		if err != nil {
			return &CacheUnavailableError{Err: err}
		}
		if entry != nil {
			r.logf("Restored cache key %q (%d files)\n", key, entry.Files)
			return nil
		}
	}
	r.logf("Cache miss, continuing\n")
	return nil
}

func (r *StepRunner) saveCache(step *config.SaveCacheStep) error {
	if r.Cache == nil {
		return nil
	}
	entry, err := r.Cache.Save(step.Key, r.Workspace, step.Paths)
	if err != nil {
		return &CacheUnavailableError{Err: err}
	}
	r.logf("Saved cache key %q (%d files, digest %.16s)\n", step.Key, entry.Files, entry.Digest)
	return nil
}

// mergeEnv overlays b on top of a without touching either
func mergeEnv(a, b map[string]string) map[string]string {
	out := make(map[string]string, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}
