package engine

import (
	"sync"

	"flowci/internal/config"
)

// Scheduler decides which workflow jobs are eligible for a trigger branch
// and dispatches them concurrently
type Scheduler struct{}

// NewScheduler creates a new scheduler
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// EligibleJobs returns the names of the workflow's jobs whose branch filter
// matches the trigger branch, in declared order. A job without a filter is
// always eligible.
func (s *Scheduler) EligibleJobs(wf config.Workflow, branch string) []string {
	var names []string
	for _, ref := range wf.Jobs {
		if ref.Filters.Matches(branch) {
			names = append(names, ref.Name)
		}
	}
	return names
}

// Dispatch runs the named jobs concurrently and waits for all of them to
// reach a terminal status. Jobs are independent: one job failing neither
// cancels nor affects its siblings. Results come back in the given order.
func (s *Scheduler) Dispatch(exec *JobExecutor, runID string, jobs map[string]config.Job, names []string, runtimeEnv map[string]string) []JobResult {
	results := make([]JobResult, len(names))

	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			results[i] = exec.Execute(runID, name, jobs[name], runtimeEnv)
		}(i, name)
	}
	wg.Wait()

	return results
}
