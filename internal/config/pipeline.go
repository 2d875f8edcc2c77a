package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Pipeline represents the entire CI/CD pipeline description
type Pipeline struct {
	Version   string              `yaml:"version"`   // config schema version (e.g. "2")
	Jobs      map[string]Job      `yaml:"jobs"`      // job name -> job spec
	Workflows map[string]Workflow `yaml:"workflows"` // workflow name -> workflow spec
}

// Job is an independently schedulable unit: an executor, an env, and ordered steps
type Job struct {
	Docker      []DockerExecutor  `yaml:"docker"`      // container executor (first image is the primary one)
	Machine     *MachineExecutor  `yaml:"machine"`     // machine executor (mutually exclusive with docker)
	Environment map[string]string `yaml:"environment"` // injected into every run step of this job
	Steps       []Step            `yaml:"steps"`       // executed strictly in order
}

// DockerExecutor references a container image
type DockerExecutor struct {
	Image string `yaml:"image"`
}

// MachineExecutor references a VM image
type MachineExecutor struct {
	Image string `yaml:"image"`
}

// Workflow composes jobs plus branch-eligibility filters
type Workflow struct {
	Jobs []WorkflowJob `yaml:"jobs"`
}

// WorkflowJob is one job reference inside a workflow, optionally filtered.
// In YAML it is either a bare job name or a single-key mapping
// {name: {filters: ...}}.
type WorkflowJob struct {
	Name    string
	Filters *Filters
}

// Filters holds branch eligibility for a workflow job
type Filters struct {
	Branches BranchFilter `yaml:"branches"`
}

// BranchFilter is an allow-list of branch names
type BranchFilter struct {
	Only stringList `yaml:"only"`
}

// Matches reports whether branch is eligible. No filter means always run.
func (f *Filters) Matches(branch string) bool {
	if f == nil || len(f.Branches.Only) == 0 {
		return true
	}
	for _, b := range f.Branches.Only {
		if b == branch {
			return true
		}
	}
	return false
}

func (wj *WorkflowJob) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		return node.Decode(&wj.Name)

	case yaml.MappingNode:
		if len(node.Content) != 2 {
			return fmt.Errorf("workflow job entry must be a name or a single {name: {...}} mapping (line %d)", node.Line)
		}
		if err := node.Content[0].Decode(&wj.Name); err != nil {
			return err
		}
		var body struct {
			Filters *Filters `yaml:"filters"`
		}
		if err := node.Content[1].Decode(&body); err != nil {
			return fmt.Errorf("workflow job %q: %w", wj.Name, err)
		}
		wj.Filters = body.Filters
		return nil
	}
	return fmt.Errorf("invalid workflow job entry (line %d)", node.Line)
}

// stringList accepts both a YAML scalar and a YAML sequence of scalars
type stringList []string

func (l *stringList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		*l = stringList{s}
		return nil
	}
	var items []string
	if err := node.Decode(&items); err != nil {
		return err
	}
	*l = stringList(items)
	return nil
}
