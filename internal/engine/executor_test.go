package engine

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"flowci/internal/cache"
	"flowci/internal/config"
	"flowci/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCache counts cache traffic and can simulate a dead store
type fakeCache struct {
	mu       sync.Mutex
	entries  map[string]bool
	restored []string
	saves    int
	failAll  bool
}

func (f *fakeCache) Restore(key, dest string) (*cache.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return nil, errors.New("store unreachable")
	}
	f.restored = append(f.restored, key)
	if f.entries[key] {
		return &cache.Entry{Key: key}, nil
	}
	return nil, nil
}

func (f *fakeCache) Save(key, root string, paths []string) (*cache.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return nil, errors.New("store unreachable")
	}
	f.saves++
	if f.entries == nil {
		f.entries = map[string]bool{}
	}
	f.entries[key] = true
	return &cache.Entry{Key: key}, nil
}

func newTestExecutor(t *testing.T, store CacheStore) *JobExecutor {
	t.Helper()
	return &JobExecutor{
		Runner:  &StepRunner{Source: t.TempDir(), Cache: store},
		WorkDir: t.TempDir(),
		Logf:    t.Logf,
	}
}

func TestExecuteFailFast(t *testing.T) {
	exec := newTestExecutor(t, nil)
	// the job's private workspace is WorkDir/<runID>/<job>
	marker := filepath.Join(exec.WorkDir, "run-1", "build", "marker")

	job := config.Job{Steps: []config.Step{
		runStep("ok", "echo first"),
		runStep("boom", "exit 1"),
		runStep("never", "touch marker"),
	}}
	result := exec.Execute("run-1", "build", job, nil)

	assert.Equal(t, StatusFailed, result.Status)
	require.Error(t, result.Err)
	// only the steps up to and including the failure ran
	require.Len(t, result.Steps, 2)
	assert.Equal(t, "ok", result.Steps[0].Name)
	assert.Equal(t, "boom", result.Steps[1].Name)

	_, err := os.Stat(marker)
	assert.True(t, os.IsNotExist(err), "step after the failure must not run")
}

func TestExecuteZeroStepsSucceeds(t *testing.T) {
	exec := newTestExecutor(t, nil)
	result := exec.Execute("run-1", "empty", config.Job{}, nil)
	assert.Equal(t, StatusSucceeded, result.Status)
	assert.Empty(t, result.Steps)
	assert.NoError(t, result.Err)
}

func TestExecuteSkipsCacheSaveAfterFailure(t *testing.T) {
	fake := &fakeCache{}
	exec := newTestExecutor(t, fake)

	job := config.Job{Steps: []config.Step{
		runStep("boom", "exit 1"),
		{Type: config.StepSaveCache, SaveCache: &config.SaveCacheStep{
			Key: "dependencies", Paths: []string{"deps"},
		}},
	}}
	result := exec.Execute("run-1", "build", job, nil)

	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, 0, fake.saves, "a failed job must never poison the cache")
}

func TestExecuteCacheUnavailableIsNonFatal(t *testing.T) {
	fake := &fakeCache{failAll: true}
	exec := newTestExecutor(t, fake)

	job := config.Job{Steps: []config.Step{
		{Type: config.StepRestoreCache, RestoreCache: &config.RestoreCacheStep{Keys: []string{"dependencies"}}},
		runStep("after", "echo still running"),
	}}
	result := exec.Execute("run-1", "build", job, nil)

	assert.Equal(t, StatusSucceeded, result.Status)
	require.Len(t, result.Steps, 2)
	assert.Contains(t, result.Steps[1].Output, "still running")
}

func TestExecuteJobEnvInjected(t *testing.T) {
	exec := newTestExecutor(t, nil)

	job := config.Job{
		Environment: map[string]string{"BUILD_MODE": "release"},
		Steps:       []config.Step{runStep("env", `echo "mode=$BUILD_MODE"`)},
	}
	result := exec.Execute("run-1", "build", job, nil)

	require.Equal(t, StatusSucceeded, result.Status)
	assert.Contains(t, result.Steps[0].Output, "mode=release")
}

func TestExecuteJobsGetPrivateWorkspaces(t *testing.T) {
	exec := newTestExecutor(t, nil)

	a := exec.Execute("run-1", "a", config.Job{Steps: []config.Step{
		runStep("write", "echo a > f.txt"),
	}}, nil)
	require.Equal(t, StatusSucceeded, a.Status)

	// a sibling job must not see files another job wrote
	b := exec.Execute("run-1", "b", config.Job{Steps: []config.Step{
		runStep("read", "test ! -e f.txt"),
	}}, nil)
	assert.Equal(t, StatusSucceeded, b.Status)
}

func TestExecutePersistsStepLogs(t *testing.T) {
	logDir := t.TempDir()
	exec := newTestExecutor(t, nil)
	exec.Logs = storage.NewLogStorage(logDir)

	job := config.Job{Steps: []config.Step{runStep("Build", "echo logged output")}}
	result := exec.Execute("run-1", "build", job, nil)
	require.Equal(t, StatusSucceeded, result.Status)

	path := filepath.Join(logDir, "run-1", "build", "01_Build.log")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "logged output")
}
