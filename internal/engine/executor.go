package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"flowci/internal/config"
	"flowci/internal/storage"
)

// Status is the lifecycle state of a job run or pipeline run
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// JobResult is the outcome of one job run: the terminal status plus the
// ordered results of every step that actually executed, up to and including
// the first failure.
type JobResult struct {
	Name   string
	Status Status
	Steps  []StepResult
	Err    error // the fatal step error, nil when Succeeded
}

// JobExecutor runs the ordered steps of one job under fail-fast semantics.
// Runner is a template: each job run executes through its own copy with a
// private workspace under WorkDir, so concurrently dispatched jobs share no
// mutable state except the cache store.
type JobExecutor struct {
	Runner  *StepRunner
	WorkDir string              // root for per-job-run workspaces
	Logs    *storage.LogStorage // nil disables log persistence
	Logf    func(format string, args ...any)
}

func (e *JobExecutor) logf(format string, args ...any) {
	if e.Logf != nil {
		e.Logf(format, args...)
	}
}

// Execute runs every step of the job in declared order. The first fatal step
// error stops the job immediately: later steps, cache saves included, never
// run, so a failed job cannot poison the cache with partial state. Cache
// store I/O errors are absorbed here (logged, job continues). A job with
// zero steps trivially succeeds.
func (e *JobExecutor) Execute(runID, name string, job config.Job, runtimeEnv map[string]string) JobResult {
	result := JobResult{Name: name, Status: StatusRunning}
	env := mergeEnv(runtimeEnv, job.Environment)

	runner := *e.Runner
	runner.Workspace = filepath.Join(e.WorkDir, runID, name)
	if err := os.MkdirAll(runner.Workspace, 0755); err != nil {
		e.logf("[%s] cannot create workspace: %v\n", name, err)
		result.Status = StatusFailed
		result.Err = fmt.Errorf("create workspace: %w", err)
		return result
	}

	for i, step := range job.Steps {
		e.logf("[%s] Running step: %s\n", name, step.DisplayName())

		stepRes, err := runner.RunStep(step, env)
		result.Steps = append(result.Steps, stepRes)

		if e.Logs != nil && stepRes.Output != "" {
			if _, logErr := e.Logs.SaveStepLog(runID, name, i, stepRes.Name, stepRes.Output); logErr != nil {
				e.logf("WARN: [%s] cannot save step log: %v\n", name, logErr)
			}
		}

		if err != nil {
			var cacheErr *CacheUnavailableError
			if errors.As(err, &cacheErr) {
				e.logf("WARN: [%s] %v (continuing)\n", name, cacheErr)
				continue
			}
			e.logf("[%s] Step failed: %v\n", name, err)
			result.Status = StatusFailed
			result.Err = err
			return result
		}
	}

	result.Status = StatusSucceeded
	return result
}
