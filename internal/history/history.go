package history

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Record is one completed pipeline run.
// History file format: JSON lines (one record per line), append only.
type Record struct {
	RunID      string      `json:"runId"`
	Branch     string      `json:"branch"`
	Status     string      `json:"status"`
	StartedAt  time.Time   `json:"startedAt"`
	FinishedAt time.Time   `json:"finishedAt"`
	Jobs       []JobRecord `json:"jobs"`
}

// JobRecord is the outcome of one job inside a run
type JobRecord struct {
	Name   string       `json:"name"`
	Status string       `json:"status"`
	Steps  []StepRecord `json:"steps"`
}

// StepRecord is the outcome of one executed step
type StepRecord struct {
	Name       string `json:"name"`
	ExitCode   int    `json:"exitCode"`
	DurationMs int64  `json:"durationMs"`
	LogDigest  string `json:"logDigest,omitempty"` // blake3 of the captured output
}

// Store persists run records to a JSONL file and keeps them in memory
type Store struct {
	mu      sync.Mutex
	records []*Record
	path    string
}

// Open loads an existing history file or starts an empty one
func Open(path string) (*Store, error) {
	s := &Store{
		records: make([]*Record, 0),
		path:    path,
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return s, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("decode history entry: %w", err)
		}
		s.records = append(s.records, &rec)
	}
	return s, nil
}

// Append persists a record to disk and keeps it in memory
func (s *Store) Append(rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open history file: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(rec); err != nil {
		return fmt.Errorf("write history file: %w", err)
	}

	s.records = append(s.records, rec)
	return nil
}

// Records returns all loaded records, oldest first
func (s *Store) Records() []*Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Record, len(s.records))
	copy(out, s.records)
	return out
}

// Find returns the record for a run ID, or nil
func (s *Store) Find(runID string) *Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		if rec.RunID == runID {
			return rec
		}
	}
	return nil
}
