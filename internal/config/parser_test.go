package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullPipeline = `
version: "2"

master_only: &branch_filters
  filters:
    branches:
      only:
        - master

jobs:
  no_env:
    docker:
      - image: cimg/base:stable
    steps:
      - checkout
      - restore_cache:
          keys:
            - dependencies
      - run:
          name: Build
          command: make build
      - save_cache:
          key: dependencies
          paths:
            - .cache/deps
  env:
    docker:
      - image: cimg/base:stable
    environment:
      CI: "true"
      BUILD_MODE: release
    steps:
      - checkout
      - run: make test

workflows:
  build_and_test:
    jobs:
      - no_env
      - env:
          <<: *branch_filters
`

func TestParseFullPipeline(t *testing.T) {
	p, err := ParsePipeline([]byte(fullPipeline))
	require.NoError(t, err)

	assert.Equal(t, "2", p.Version)
	require.Len(t, p.Jobs, 2)

	noEnv := p.Jobs["no_env"]
	require.Len(t, noEnv.Steps, 4)
	assert.Equal(t, StepCheckout, noEnv.Steps[0].Type)
	assert.Equal(t, StepRestoreCache, noEnv.Steps[1].Type)
	assert.Equal(t, []string{"dependencies"}, noEnv.Steps[1].RestoreCache.CandidateKeys())
	assert.Equal(t, StepRun, noEnv.Steps[2].Type)
	assert.Equal(t, "Build", noEnv.Steps[2].Run.Name)
	assert.Equal(t, "make build", noEnv.Steps[2].Run.Command)
	assert.Equal(t, StepSaveCache, noEnv.Steps[3].Type)
	assert.Equal(t, "dependencies", noEnv.Steps[3].SaveCache.Key)
	assert.Equal(t, []string{".cache/deps"}, noEnv.Steps[3].SaveCache.Paths)
	assert.Equal(t, "cimg/base:stable", noEnv.Docker[0].Image)

	env := p.Jobs["env"]
	assert.Equal(t, map[string]string{"CI": "true", "BUILD_MODE": "release"}, env.Environment)
	// run shorthand: bare string becomes the command
	assert.Equal(t, "make test", env.Steps[1].Run.Command)
	assert.Equal(t, "make test", env.Steps[1].DisplayName())

	wf := p.Workflows["build_and_test"]
	require.Len(t, wf.Jobs, 2)
	assert.Equal(t, "no_env", wf.Jobs[0].Name)
	assert.Nil(t, wf.Jobs[0].Filters)
	assert.Equal(t, "env", wf.Jobs[1].Name)
	// the anchor merge must have expanded into a real filter
	require.NotNil(t, wf.Jobs[1].Filters)
	assert.Equal(t, []string{"master"}, []string(wf.Jobs[1].Filters.Branches.Only))
}

func TestFilterMatching(t *testing.T) {
	var none *Filters
	assert.True(t, none.Matches("anything"))

	f := &Filters{Branches: BranchFilter{Only: stringList{"master"}}}
	assert.True(t, f.Matches("master"))
	assert.False(t, f.Matches("feature"))
}

func TestRestoreCacheSingleKeyForm(t *testing.T) {
	p, err := ParsePipeline([]byte(`
version: "2"
jobs:
  build:
    steps:
      - restore_cache:
          key: dependencies
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"dependencies"}, p.Jobs["build"].Steps[0].RestoreCache.CandidateKeys())
}

func TestBranchFilterScalarOnly(t *testing.T) {
	p, err := ParsePipeline([]byte(`
version: "2"
jobs:
  build:
    steps: []
workflows:
  main:
    jobs:
      - build:
          filters:
            branches:
              only: master
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"master"}, []string(p.Workflows["main"].Jobs[0].Filters.Branches.Only))
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "unknown step",
			yaml: "version: \"2\"\njobs:\n  b:\n    steps:\n      - teleport\n",
			want: "unknown step",
		},
		{
			name: "run without command",
			yaml: "version: \"2\"\njobs:\n  b:\n    steps:\n      - run:\n          name: Build\n",
			want: "no command",
		},
		{
			name: "save_cache without paths",
			yaml: "version: \"2\"\njobs:\n  b:\n    steps:\n      - save_cache:\n          key: deps\n",
			want: "no paths",
		},
		{
			name: "workflow references unknown job",
			yaml: "version: \"2\"\njobs:\n  b:\n    steps: []\nworkflows:\n  w:\n    jobs:\n      - ghost\n",
			want: "unknown job",
		},
		{
			name: "missing version",
			yaml: "jobs:\n  b:\n    steps: []\n",
			want: "missing version",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParsePipeline([]byte(tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestZeroStepJobIsValid(t *testing.T) {
	p, err := ParsePipeline([]byte("version: \"2\"\njobs:\n  empty:\n    steps: []\n"))
	require.NoError(t, err)
	assert.Empty(t, p.Jobs["empty"].Steps)
}
