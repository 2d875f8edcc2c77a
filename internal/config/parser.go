package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ParsePipeline parses YAML content into a Pipeline object and validates it.
// YAML anchors and merge keys are expanded here at decode time; the engine
// never sees them.
func ParsePipeline(data []byte) (*Pipeline, error) {
	var pipeline Pipeline
	if err := yaml.Unmarshal(data, &pipeline); err != nil {
		return nil, fmt.Errorf("parse pipeline: %w", err)
	}
	if err := pipeline.Validate(); err != nil {
		return nil, err
	}
	return &pipeline, nil
}

// LoadPipeline reads a pipeline YAML file and returns a Pipeline object
func LoadPipeline(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParsePipeline(data)
}

// Validate checks the structural invariants of a loaded pipeline
func (p *Pipeline) Validate() error {
	if p.Version == "" {
		return fmt.Errorf("pipeline: missing version")
	}
	if len(p.Jobs) == 0 {
		return fmt.Errorf("pipeline: no jobs defined")
	}

	for name, job := range p.Jobs {
		if len(job.Docker) > 0 && job.Machine != nil {
			return fmt.Errorf("job %q: docker and machine executors are mutually exclusive", name)
		}
		for i, step := range job.Steps {
			if err := validateStep(step); err != nil {
				return fmt.Errorf("job %q step %d: %w", name, i+1, err)
			}
		}
	}

	for wfName, wf := range p.Workflows {
		if len(wf.Jobs) == 0 {
			return fmt.Errorf("workflow %q: no jobs", wfName)
		}
		for _, ref := range wf.Jobs {
			if _, ok := p.Jobs[ref.Name]; !ok {
				return fmt.Errorf("workflow %q references unknown job %q", wfName, ref.Name)
			}
		}
	}
	return nil
}

func validateStep(step Step) error {
	switch step.Type {
	case StepCheckout:
		return nil
	case StepRun:
		if step.Run.Command == "" {
			return fmt.Errorf("run step has no command")
		}
	case StepRestoreCache:
		if len(step.RestoreCache.CandidateKeys()) == 0 {
			return fmt.Errorf("restore_cache step has no keys")
		}
	case StepSaveCache:
		if step.SaveCache.Key == "" {
			return fmt.Errorf("save_cache step has no key")
		}
		if len(step.SaveCache.Paths) == 0 {
			return fmt.Errorf("save_cache step has no paths")
		}
	default:
		return fmt.Errorf("unknown step type %q", step.Type)
	}
	return nil
}
