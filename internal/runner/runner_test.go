package runner

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bgricker/stagehand/internal/provider"
	"github.com/bgricker/stagehand/internal/report"
	"github.com/bgricker/stagehand/internal/runner/executor"
	"github.com/bgricker/stagehand/internal/trigger"
)

// fakeExecutor records every job it runs and fails the jobs listed in fail.
type fakeExecutor struct {
	mu    sync.Mutex
	calls []string
	envs  map[string][]string
	fail  map[string]int
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{envs: make(map[string][]string), fail: make(map[string]int)}
}

func (f *fakeExecutor) Run(_ context.Context, spec executor.Spec) (executor.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, spec.Name)
	f.envs[spec.Name] = spec.Env
	f.mu.Unlock()

	if code, ok := f.fail[spec.Name]; ok {
		return executor.Result{ExitCode: code}, fmt.Errorf("job %q: exit status %d", spec.Name, code)
	}
	return executor.Result{}, nil
}

func (f *fakeExecutor) ran(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, call := range f.calls {
		if call == name {
			return true
		}
	}
	return false
}

func testPipeline() provider.Pipeline {
	return provider.Pipeline{
		Path: "ci.yml",
		Stages: []provider.Stage{
			{Name: "pre-commit", Position: 0},
			{Name: "test", Position: 1},
			{Name: "deploy", Position: 2},
		},
		Variables: map[string]string{"APP_ENV": "ci"},
		Jobs: []provider.Job{
			{Name: "lint", Stage: "pre-commit", Script: []string{"run lint"}},
			{Name: "unit", Stage: "test", Script: []string{"run unit"}},
			{Name: "integration", Stage: "test", Script: []string{"run integration"}},
			{Name: "release", Stage: "deploy", Script: []string{"run release"}, Only: []string{"tags"}},
		},
	}
}

func newTestRunner(exec executor.Executor, opts Options) *Runner {
	opts.Shell = exec
	if opts.Root == "" {
		opts.Root = "/tmp/project"
	}
	return New(opts)
}

func TestRunAllStagesSucceed(t *testing.T) {
	exec := newFakeExecutor()
	r := newTestRunner(exec, Options{Event: trigger.Event{Type: trigger.EventTag, Ref: "v1.0.0"}})

	stages, summary, err := r.Run(context.Background(), testPipeline())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(stages) != 3 {
		t.Fatalf("expected 3 stage results, got %d", len(stages))
	}
	for _, sr := range stages {
		if sr.Status != report.StatusSuccess {
			t.Fatalf("stage %s: expected success, got %s", sr.Name, sr.Status)
		}
	}
	if summary.Succeeded != 4 || summary.Failed != 0 || summary.Skipped != 0 {
		t.Fatalf("unexpected counts: %+v", summary)
	}
	if summary.Status != report.RunSucceeded || summary.ExitCode != 0 {
		t.Fatalf("expected succeeded run, got %+v", summary)
	}
	if !exec.ran("release") {
		t.Fatalf("release must execute on tag events")
	}
}

func TestRunStageOrdering(t *testing.T) {
	exec := newFakeExecutor()
	r := newTestRunner(exec, Options{Event: trigger.Event{Type: trigger.EventTag, Ref: "v1.0.0"}})

	if _, _, err := r.Run(context.Background(), testPipeline()); err != nil {
		t.Fatalf("run: %v", err)
	}

	position := func(name string) int {
		for i, call := range exec.calls {
			if call == name {
				return i
			}
		}
		t.Fatalf("job %s never ran", name)
		return -1
	}

	if position("lint") > position("unit") || position("lint") > position("integration") {
		t.Fatalf("pre-commit must finish before test starts: %v", exec.calls)
	}
	if position("release") < position("unit") || position("release") < position("integration") {
		t.Fatalf("deploy must start after test finishes: %v", exec.calls)
	}
}

func TestRunFailureHaltsLaterStages(t *testing.T) {
	exec := newFakeExecutor()
	exec.fail["unit"] = 2
	r := newTestRunner(exec, Options{Event: trigger.Event{Type: trigger.EventTag, Ref: "v1.0.0"}})

	stages, summary, err := r.Run(context.Background(), testPipeline())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if exec.ran("release") {
		t.Fatalf("deploy job must never begin after a test stage failure")
	}

	deploy := stages[2]
	if deploy.Status != report.StatusSkipped {
		t.Fatalf("expected deploy skipped, got %s", deploy.Status)
	}
	if deploy.Jobs[0].Reason != "previous stage failed" {
		t.Fatalf("unexpected skip reason: %q", deploy.Jobs[0].Reason)
	}

	test := stages[1]
	if test.Status != report.StatusFailed {
		t.Fatalf("expected test stage failed, got %s", test.Status)
	}
	if !exec.ran("integration") {
		t.Fatalf("sibling jobs in the failing stage still run to completion")
	}

	if summary.Status != report.RunFailed || summary.ExitCode != 1 {
		t.Fatalf("expected failed run, got %+v", summary)
	}
	if summary.Failed != 1 || summary.Skipped != 1 || summary.Succeeded != 2 {
		t.Fatalf("unexpected counts: %+v", summary)
	}

	for _, jr := range test.Jobs {
		if jr.Job == "unit" && jr.ExitCode != 2 {
			t.Fatalf("expected exit code 2, got %d", jr.ExitCode)
		}
	}
}

func TestRunTriggerGatesDeploy(t *testing.T) {
	exec := newFakeExecutor()
	r := newTestRunner(exec, Options{Event: trigger.Event{Type: trigger.EventPush, Ref: "main"}})

	stages, summary, err := r.Run(context.Background(), testPipeline())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if exec.ran("release") {
		t.Fatalf("release must not run on push events")
	}

	deploy := stages[2]
	if deploy.Status != report.StatusSkipped {
		t.Fatalf("an all-skipped stage is skipped, got %s", deploy.Status)
	}
	if !strings.Contains(deploy.Jobs[0].Reason, "push") {
		t.Fatalf("skip reason should name the event type: %q", deploy.Jobs[0].Reason)
	}

	if summary.Status != report.RunSucceeded || summary.ExitCode != 0 {
		t.Fatalf("a trigger-skipped deploy must not fail the run: %+v", summary)
	}
	if summary.Skipped != 1 || summary.Succeeded != 3 {
		t.Fatalf("unexpected counts: %+v", summary)
	}
}

func TestRunAllowFailure(t *testing.T) {
	exec := newFakeExecutor()
	exec.fail["flaky"] = 1

	p := provider.Pipeline{
		Path:   "ci.yml",
		Stages: []provider.Stage{{Name: "test"}, {Name: "deploy", Position: 1}},
		Jobs: []provider.Job{
			{Name: "flaky", Stage: "test", Script: []string{"run flaky"}, AllowFailure: true},
			{Name: "unit", Stage: "test", Script: []string{"run unit"}},
			{Name: "release", Stage: "deploy", Script: []string{"run release"}},
		},
	}

	r := newTestRunner(exec, Options{})
	stages, summary, err := r.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if stages[0].Status != report.StatusSuccess {
		t.Fatalf("allowed failures must not fail the stage, got %s", stages[0].Status)
	}
	if !exec.ran("release") {
		t.Fatalf("deploy must still run after an allowed failure")
	}
	if summary.Status != report.RunSucceeded {
		t.Fatalf("expected succeeded run, got %+v", summary)
	}
	if summary.Failed != 1 {
		t.Fatalf("allowed failures still count as failed jobs: %+v", summary)
	}
}

func TestRunDryRun(t *testing.T) {
	exec := newFakeExecutor()
	r := newTestRunner(exec, Options{DryRun: true, Event: trigger.Event{Type: trigger.EventTag, Ref: "v1.0.0"}})

	stages, summary, err := r.Run(context.Background(), testPipeline())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(exec.calls) != 0 {
		t.Fatalf("dry run must not execute anything, ran %v", exec.calls)
	}
	for _, sr := range stages {
		for _, jr := range sr.Jobs {
			if !jr.DryRun || jr.Status != report.StatusSkipped {
				t.Fatalf("expected dry-run skip for %s, got %+v", jr.Job, jr)
			}
			if jr.Command == "" {
				t.Fatalf("dry run should report the command for %s", jr.Job)
			}
		}
	}
	if summary.Status != report.RunSucceeded || summary.Skipped != 4 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestRunEnvMerge(t *testing.T) {
	exec := newFakeExecutor()

	p := provider.Pipeline{
		Path:      "ci.yml",
		Stages:    []provider.Stage{{Name: "test"}},
		Variables: map[string]string{"APP_ENV": "ci", "DB": "sqlite"},
		Jobs: []provider.Job{
			{
				Name:         "unit [3.8]",
				Stage:        "test",
				Script:       []string{"run unit"},
				Variables:    map[string]string{"DB": "postgres"},
				MatrixValues: map[string]string{"PYTHON": "3.8"},
			},
		},
	}

	r := newTestRunner(exec, Options{
		Root:  "/builds/app",
		RunID: "run-1",
		Env:   []string{"HOME=/root"},
		Event: trigger.Event{Type: trigger.EventTag, Ref: "v2.0.0"},
	})
	if _, _, err := r.Run(context.Background(), p); err != nil {
		t.Fatalf("run: %v", err)
	}

	env := exec.envs["unit [3.8]"]
	want := []string{
		"APP_ENV=ci",
		"DB=postgres",
		"PYTHON=3.8",
		"HOME=/root",
		"CI_PROJECT_DIR=/builds/app",
		"CI_PIPELINE_ID=run-1",
		"CI_JOB_NAME=unit [3.8]",
		"CI_JOB_STAGE=test",
		"CI_COMMIT_REF_NAME=v2.0.0",
		"CI_COMMIT_TAG=v2.0.0",
	}
	for _, kv := range want {
		if !containsString(env, kv) {
			t.Fatalf("env missing %q in %v", kv, env)
		}
	}
	if containsString(env, "DB=sqlite") {
		t.Fatalf("job variables must override pipeline variables: %v", env)
	}
}

func TestRunDockerSelection(t *testing.T) {
	shell := newFakeExecutor()
	docker := newFakeExecutor()

	p := provider.Pipeline{
		Path:   "ci.yml",
		Stages: []provider.Stage{{Name: "test"}},
		Jobs: []provider.Job{
			{Name: "host", Stage: "test", Script: []string{"run host"}},
			{Name: "containerised", Stage: "test", Script: []string{"run container"}, Image: "python:3.8-slim"},
		},
	}

	r := New(Options{Root: "/tmp/project", Shell: shell, Docker: docker})
	if _, _, err := r.Run(context.Background(), p); err != nil {
		t.Fatalf("run: %v", err)
	}

	if !shell.ran("host") || shell.ran("containerised") {
		t.Fatalf("host job must use the shell executor: %v", shell.calls)
	}
	if !docker.ran("containerised") || docker.ran("host") {
		t.Fatalf("image job must use the docker executor: %v", docker.calls)
	}
}

// slowExecutor counts in-flight runs to observe the concurrency bound.
type slowExecutor struct {
	mu       sync.Mutex
	inFlight int
	peak     int
}

func (s *slowExecutor) Run(_ context.Context, _ executor.Spec) (executor.Result, error) {
	s.mu.Lock()
	s.inFlight++
	if s.inFlight > s.peak {
		s.peak = s.inFlight
	}
	s.mu.Unlock()

	time.Sleep(10 * time.Millisecond)

	s.mu.Lock()
	s.inFlight--
	s.mu.Unlock()
	return executor.Result{}, nil
}

func TestRunConcurrencyBound(t *testing.T) {
	exec := &slowExecutor{}

	jobs := make([]provider.Job, 0, 6)
	for i := 0; i < 6; i++ {
		jobs = append(jobs, provider.Job{
			Name:   fmt.Sprintf("job-%d", i),
			Stage:  "test",
			Script: []string{"sleep"},
		})
	}
	p := provider.Pipeline{
		Path:   "ci.yml",
		Stages: []provider.Stage{{Name: "test"}},
		Jobs:   jobs,
	}

	r := New(Options{Root: "/tmp/project", Shell: exec, Concurrency: 2})
	if _, summary, err := r.Run(context.Background(), p); err != nil {
		t.Fatalf("run: %v", err)
	} else if summary.Succeeded != 6 {
		t.Fatalf("expected all jobs to run, got %+v", summary)
	}

	if exec.peak > 2 {
		t.Fatalf("concurrency bound exceeded: peak %d", exec.peak)
	}
}

func TestRunSummaryCountsPopulatedStages(t *testing.T) {
	exec := newFakeExecutor()

	p := provider.Pipeline{
		Path: "ci.yml",
		Stages: []provider.Stage{
			{Name: "build"},
			{Name: "test", Position: 1},
			{Name: "deploy", Position: 2},
		},
		Jobs: []provider.Job{
			{Name: "unit", Stage: "test", Script: []string{"run unit"}},
		},
	}

	r := newTestRunner(exec, Options{})
	stages, summary, err := r.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(stages) != 1 {
		t.Fatalf("empty stages must emit no result, got %d", len(stages))
	}
	if summary.TotalStages != 1 || summary.TotalJobs != 1 {
		t.Fatalf("summary must count only stages with jobs: %+v", summary)
	}
}

func TestMergeEnv(t *testing.T) {
	got := mergeEnv(
		[]string{"A=1", "B=2", "novalue"},
		map[string]string{"B": "3", "C": "4"},
		map[string]string{"C": "5"},
	)
	want := []string{"A=1", "B=3", "C=5"}
	if len(got) != len(want) {
		t.Fatalf("unexpected env: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("env[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestTailLines(t *testing.T) {
	cases := []struct {
		name  string
		input string
		max   int
		want  string
	}{
		{name: "empty", input: "", max: 3, want: ""},
		{name: "under limit", input: "a\nb\n", max: 3, want: "a\nb"},
		{name: "over limit", input: "a\nb\nc\nd\n", max: 2, want: "c\nd"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tailLines(tc.input, tc.max); got != tc.want {
				t.Fatalf("tailLines(%q, %d) = %q, want %q", tc.input, tc.max, got, tc.want)
			}
		})
	}
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
