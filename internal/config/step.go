package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// StepType tags the closed set of step variants we recognize
type StepType string

const (
	StepCheckout     StepType = "checkout"
	StepRun          StepType = "run"
	StepRestoreCache StepType = "restore_cache"
	StepSaveCache    StepType = "save_cache"
)

// Step is one atomic action inside a job. Exactly one payload field is set,
// matching Type. The run command body is an opaque shell script; we never
// parse it.
type Step struct {
	Type         StepType
	Run          *RunStep
	RestoreCache *RestoreCacheStep
	SaveCache    *SaveCacheStep
}

// RunStep executes a shell command block
type RunStep struct {
	Name             string            `yaml:"name"`
	Command          string            `yaml:"command"`
	WorkingDirectory string            `yaml:"working_directory"`
	Environment      map[string]string `yaml:"environment"` // step-local, wins over job env
}

// RestoreCacheStep restores the first key that hits
type RestoreCacheStep struct {
	Key  string     `yaml:"key"`
	Keys stringList `yaml:"keys"`
}

// CandidateKeys returns the ordered key list, folding the single-key form in
func (r *RestoreCacheStep) CandidateKeys() []string {
	if len(r.Keys) > 0 {
		return r.Keys
	}
	if r.Key != "" {
		return []string{r.Key}
	}
	return nil
}

// SaveCacheStep saves a set of path globs under one key
type SaveCacheStep struct {
	Key   string   `yaml:"key"`
	Paths []string `yaml:"paths"`
}

// DisplayName returns what we print for this step in logs
func (s Step) DisplayName() string {
	switch s.Type {
	case StepRun:
		if s.Run.Name != "" {
			return s.Run.Name
		}
		// fall back to the first line of the command
		cmd := strings.TrimSpace(s.Run.Command)
		if i := strings.IndexByte(cmd, '\n'); i >= 0 {
			cmd = cmd[:i]
		}
		return cmd
	default:
		return string(s.Type)
	}
}

func (s *Step) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		// bare step name, e.g. "- checkout"
		var name string
		if err := node.Decode(&name); err != nil {
			return err
		}
		if StepType(name) != StepCheckout {
			return fmt.Errorf("unknown step %q (line %d)", name, node.Line)
		}
		s.Type = StepCheckout
		return nil

	case yaml.MappingNode:
		if len(node.Content) != 2 {
			return fmt.Errorf("step must be a single-key mapping (line %d)", node.Line)
		}
		var kind string
		if err := node.Content[0].Decode(&kind); err != nil {
			return err
		}
		body := node.Content[1]

		switch StepType(kind) {
		case StepRun:
			s.Type = StepRun
			s.Run = &RunStep{}
			if body.Kind == yaml.ScalarNode {
				// run shorthand: "- run: make build"
				return body.Decode(&s.Run.Command)
			}
			return body.Decode(s.Run)

		case StepRestoreCache:
			s.Type = StepRestoreCache
			s.RestoreCache = &RestoreCacheStep{}
			return body.Decode(s.RestoreCache)

		case StepSaveCache:
			s.Type = StepSaveCache
			s.SaveCache = &SaveCacheStep{}
			return body.Decode(s.SaveCache)

		default:
			return fmt.Errorf("unknown step %q (line %d)", kind, node.Line)
		}
	}
	return fmt.Errorf("invalid step entry (line %d)", node.Line)
}
