package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"flowci/internal/cache"
	"flowci/internal/config"
	"flowci/internal/history"
	"flowci/internal/storage"
	"flowci/pkg/utils"

	"github.com/google/uuid"
)

// Options configures a pipeline engine
type Options struct {
	Workspace   string        // checked-out source tree checkout steps copy from
	WorkDir     string        // root for per-job-run workspaces; empty uses the system temp dir
	CacheDir    string        // cache store root; empty disables caching
	LogDir      string        // step log directory; empty disables log files
	HistoryPath string        // JSONL run history; empty disables history
	StepTimeout time.Duration // per-step wall clock bound; zero means none
	Logf        func(format string, args ...any)
}

// PipelineResult is the outcome of one pipeline run. Status is Succeeded iff
// every dispatched job succeeded.
type PipelineResult struct {
	RunID      string
	Branch     string
	Status     Status
	Jobs       []JobResult
	StartedAt  time.Time
	FinishedAt time.Time
}

// Engine ties together Scheduler + Executor + cache + storage + history
type Engine struct {
	Scheduler *Scheduler
	Executor  *JobExecutor
	History   *history.Store
	logf      func(format string, args ...any)
}

// New builds an engine from options. History is fail-open like the rest of
// the bookkeeping: if the file cannot be read we warn and run without it.
func New(opts Options) *Engine {
	logf := opts.Logf
	if logf == nil {
		logf = func(format string, args ...any) { fmt.Printf(format, args...) }
	}

	var store CacheStore
	if opts.CacheDir != "" {
		store = cache.NewStore(opts.CacheDir)
	}
	var logs *storage.LogStorage
	if opts.LogDir != "" {
		logs = storage.NewLogStorage(opts.LogDir)
	}

	var hist *history.Store
	if opts.HistoryPath != "" {
		h, err := history.Open(opts.HistoryPath)
		if err != nil {
			logf("WARN: cannot open history: %v\n", err)
		} else {
			hist = h
		}
	}

	workDir := opts.WorkDir
	if workDir == "" {
		workDir = filepath.Join(os.TempDir(), "flowci-work")
	}

	runner := &StepRunner{
		Source:  opts.Workspace,
		Cache:   store,
		Timeout: opts.StepTimeout,
		Logf:    logf,
	}
	return &Engine{
		Scheduler: NewScheduler(),
		Executor:  &JobExecutor{Runner: runner, WorkDir: workDir, Logs: logs, Logf: logf},
		History:   hist,
		logf:      logf,
	}
}

// Run interprets the pipeline for the trigger branch: every workflow's
// eligible jobs are dispatched concurrently, then per-job statuses are
// aggregated into the overall red/green signal.
func (e *Engine) Run(pipeline *config.Pipeline, branch string) *PipelineResult {
	result := &PipelineResult{
		RunID:     uuid.NewString(),
		Branch:    branch,
		StartedAt: time.Now().UTC(),
	}
	e.logf("Starting pipeline run %s (branch %s)\n", result.RunID, branch)

	// sorted workflow names keep dispatch order deterministic
	wfNames := make([]string, 0, len(pipeline.Workflows))
	for name := range pipeline.Workflows {
		wfNames = append(wfNames, name)
	}
	sort.Strings(wfNames)

	for _, wfName := range wfNames {
		wf := pipeline.Workflows[wfName]
		eligible := e.Scheduler.EligibleJobs(wf, branch)
		if len(eligible) == 0 {
			e.logf("Workflow %s: no jobs eligible on branch %s\n", wfName, branch)
			continue
		}
		e.logf("Workflow %s: dispatching %d job(s)\n", wfName, len(eligible))
		results := e.Scheduler.Dispatch(e.Executor, result.RunID, pipeline.Jobs, eligible, nil)
		result.Jobs = append(result.Jobs, results...)
	}

	result.Status = StatusSucceeded
	for _, job := range result.Jobs {
		if job.Status != StatusSucceeded {
			result.Status = StatusFailed
		}
	}
	result.FinishedAt = time.Now().UTC()

	if e.History != nil {
		if err := e.History.Append(toRecord(result)); err != nil {
			e.logf("WARN: cannot append history: %v\n", err)
		}
	}

	for _, job := range result.Jobs {
		e.logf("  %s: %s\n", job.Name, job.Status)
	}
	e.logf("Pipeline %s: %s\n", result.RunID, result.Status)
	return result
}

func toRecord(res *PipelineResult) *history.Record {
	rec := &history.Record{
		RunID:      res.RunID,
		Branch:     res.Branch,
		Status:     string(res.Status),
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
	}
	for _, job := range res.Jobs {
		jr := history.JobRecord{Name: job.Name, Status: string(job.Status)}
		for _, step := range job.Steps {
			sr := history.StepRecord{
				Name:       step.Name,
				ExitCode:   step.ExitCode,
				DurationMs: step.DurationMs,
			}
			if step.Output != "" {
				sr.LogDigest = utils.HashString(step.Output)
			}
			jr.Steps = append(jr.Steps, sr)
		}
		rec.Jobs = append(rec.Jobs, jr)
	}
	return rec
}
