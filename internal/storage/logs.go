package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// LogStorage manages saving captured step output to files
type LogStorage struct {
	BaseDir string
}

// NewLogStorage creates a new log storage handler
func NewLogStorage(baseDir string) *LogStorage {
	return &LogStorage{BaseDir: baseDir}
}

// SaveStepLog saves the output of one step under <base>/<runID>/<job>/NN_step.log
func (ls *LogStorage) SaveStepLog(runID, job string, stepIndex int, stepName, output string) (string, error) {
	dir := filepath.Join(ls.BaseDir, sanitize(runID), sanitize(job))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	filename := fmt.Sprintf("%02d_%s.log", stepIndex+1, sanitize(stepName))
	filePath := filepath.Join(dir, filename)

	if err := os.WriteFile(filePath, []byte(output), 0644); err != nil {
		return "", err
	}
	return filePath, nil
}

// sanitize removes special characters from names for filenames
func sanitize(name string) string {
	clean := ""
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' {
			clean += string(r)
		}
	}
	if clean == "" {
		return "step"
	}
	return clean
}
