package gitlab

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePipeline = `
stages:
  - pre-commit
  - test
  - deploy

variables:
  DJANGO_SETTINGS_MODULE: testauth.settings

default:
  image: python:3.8-slim
  before_script:
    - pip install tox

.template:
  script:
    - echo hidden

pre-commit:
  stage: pre-commit
  script: pre-commit run --all-files

test:
  stage: test
  variables:
    TOX_WORK_DIR: .tox
  cache:
    key: pip-$CI_PROJECT_DIR
    paths:
      - .cache/pip
  parallel:
    matrix:
      - PYTHON: ["3.7", "3.8", "3.9"]
        DJANGO: ["2.2", "3.1"]
  script:
    - tox -e py${PYTHON}-django${DJANGO}

deploy:
  stage: deploy
  image: python:3.8
  only:
    - tags
  services:
    - docker:dind
  script:
    - twine upload dist/*
`

func TestDecodePipeline(t *testing.T) {
	pl, err := decodePipeline(strings.NewReader(samplePipeline), "ci.yml")
	require.NoError(t, err)

	require.Len(t, pl.Stages, 3)
	assert.Equal(t, "pre-commit", pl.Stages[0].Name)
	assert.Equal(t, 0, pl.Stages[0].Position)
	assert.Equal(t, "deploy", pl.Stages[2].Name)
	assert.Equal(t, 2, pl.Stages[2].Position)

	assert.Equal(t, "testauth.settings", pl.Variables["DJANGO_SETTINGS_MODULE"])

	// one pre-commit job + six matrix jobs + one deploy job; hidden
	// template jobs are ignored
	require.Len(t, pl.Jobs, 8)

	pre := pl.Jobs[0]
	assert.Equal(t, "pre-commit", pre.Name)
	assert.Equal(t, "pre-commit", pre.Stage)
	assert.Equal(t, []string{"pre-commit run --all-files"}, pre.Script)
	assert.Equal(t, "python:3.8-slim", pre.Image, "default image applies")
	assert.Equal(t, []string{"pip install tox"}, pre.BeforeScript)
}

func TestDecodePipelineMatrixExpansion(t *testing.T) {
	pl, err := decodePipeline(strings.NewReader(samplePipeline), "ci.yml")
	require.NoError(t, err)

	matrix := pl.JobsByStage("test")
	require.Len(t, matrix, 6)

	wantNames := []string{
		"test [3.7, 2.2]",
		"test [3.7, 3.1]",
		"test [3.8, 2.2]",
		"test [3.8, 3.1]",
		"test [3.9, 2.2]",
		"test [3.9, 3.1]",
	}
	for i, job := range matrix {
		assert.Equal(t, wantNames[i], job.Name)
		assert.Equal(t, ".tox", job.Variables["TOX_WORK_DIR"])
		require.NotNil(t, job.Cache)
		assert.Equal(t, "pip-$CI_PROJECT_DIR", job.Cache.Key)
	}

	first := matrix[0]
	assert.Equal(t, "3.7", first.Variables["PYTHON"])
	assert.Equal(t, "2.2", first.Variables["DJANGO"])
	assert.Equal(t, map[string]string{"PYTHON": "3.7", "DJANGO": "2.2"}, first.MatrixValues)
}

func TestDecodePipelineTriggerRulesAndWarnings(t *testing.T) {
	pl, err := decodePipeline(strings.NewReader(samplePipeline), "ci.yml")
	require.NoError(t, err)

	deploys := pl.JobsByStage("deploy")
	require.Len(t, deploys, 1)
	assert.Equal(t, []string{"tags"}, deploys[0].Only)
	assert.Equal(t, "python:3.8", deploys[0].Image, "job image overrides default")

	require.Len(t, pl.Warnings, 1)
	assert.Equal(t, "deploy", pl.Warnings[0].Job)
	assert.Contains(t, pl.Warnings[0].Message, "services")
}

func TestDecodePipelineDefaultStages(t *testing.T) {
	doc := `
compile:
  script:
    - make
`
	pl, err := decodePipeline(strings.NewReader(doc), "ci.yml")
	require.NoError(t, err)

	require.Len(t, pl.Stages, 3)
	assert.Equal(t, "build", pl.Stages[0].Name)
	require.Len(t, pl.Jobs, 1)
	assert.Equal(t, "test", pl.Jobs[0].Stage, "jobs default to the test stage")
}

func TestDecodePipelineUndeclaredStage(t *testing.T) {
	doc := `
stages:
  - test

release:
  stage: publish
  script:
    - make release
`
	_, err := decodePipeline(strings.NewReader(doc), "ci.yml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "undeclared stage")
}

func TestDecodePipelineMissingScript(t *testing.T) {
	doc := `
noop:
  stage: test
`
	_, err := decodePipeline(strings.NewReader(doc), "ci.yml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no script")
}

func TestDecodePipelineScalarTopLevel(t *testing.T) {
	_, err := decodePipeline(strings.NewReader("just a string"), "ci.yml")
	require.Error(t, err)
}

func TestDecodePipelineUnquotedVersions(t *testing.T) {
	doc := `
stages:
  - test

unit:
  stage: test
  variables:
    PYTHON: 3.8
  script:
    - pytest
`
	pl, err := decodePipeline(strings.NewReader(doc), "ci.yml")
	require.NoError(t, err)
	assert.Equal(t, "3.8", pl.Jobs[0].Variables["PYTHON"])
}
