package steps

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipejob/internal/pipeline"
)

// newJob registers f in a one-step pipeline and creates a job for it.
func newJob(t *testing.T, f pipeline.TaskFactory, jt *DefinedJobType, params map[string]string) *pipeline.Job {
	t.Helper()
	reg := pipeline.NewRegistry()
	require.NoError(t, reg.RegisterFactory(f))
	p, err := pipeline.NewTaskPipeline("p", "", f.ID())
	require.NoError(t, err)
	require.NoError(t, reg.RegisterPipeline(p))
	if jt == nil {
		jt = &DefinedJobType{}
	}
	jt.TypeName, jt.PipelineName = "p", "p"
	require.NoError(t, reg.RegisterJobType(jt))

	svc := &pipeline.Service{Registry: reg, LogDir: t.TempDir()}
	job, err := svc.NewJob("p", pipeline.BackgroundInfo{}, t.TempDir(), params)
	require.NoError(t, err)
	t.Cleanup(func() { job.Close() })
	return job
}

func runContext(job *pipeline.Job, wd *pipeline.WorkDirectory) *pipeline.RunContext {
	return &pipeline.RunContext{Job: job, Log: logrus.NewEntry(logrus.New()), WorkDir: wd}
}

func TestCommandTaskRun(t *testing.T) {
	f := &CommandFactory{
		FactorySettings: pipeline.FactorySettings{TaskID: pipeline.NewTaskID("p", "convert")},
		Run:             `echo "$GREETING ${sample}" > ${input}.out`,
		Env:             map[string]string{"GREETING": "hello"},
		Inputs:          []string{"${input}"},
		Outputs:         []string{"${input}.out"},
	}
	job := newJob(t, f, nil, map[string]string{"sample": "s1", "input": "run1"})

	complete, err := f.IsJobComplete(job)
	require.NoError(t, err)
	assert.False(t, complete)

	task, err := f.CreateTask(job)
	require.NoError(t, err)
	actions, err := task.Run(context.Background(), runContext(job, nil))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(job.PipelineRoot(), "run1.out"))
	require.NoError(t, err)
	assert.Equal(t, " s1\n", string(data), "shell variables are not job params")

	require.Equal(t, 1, actions.Len())
	act := actions.Actions()[0]
	assert.Equal(t, "convert", act.Name)
	assert.Equal(t, []string{"run1"}, act.Inputs)
	assert.Equal(t, []string{"run1.out"}, act.Outputs)
	assert.False(t, act.End.Before(act.Start))

	complete, err = f.IsJobComplete(job)
	require.NoError(t, err)
	assert.True(t, complete, "outputs exist")
}

func TestCommandTaskEnvAndWorkDir(t *testing.T) {
	f := &CommandFactory{
		FactorySettings: pipeline.FactorySettings{TaskID: pipeline.NewTaskID("p", "env"), WorkDir: true},
		Command:         "/bin/sh",
		Args:            []string{"-c", "env > out.txt"},
		Env:             map[string]string{"GREETING": "hi ${sample}"},
	}
	job := newJob(t, f, nil, map[string]string{"sample": "s2"})
	wdPath := t.TempDir()
	wd := pipeline.NewWorkDirectory(wdPath, nil)

	task, err := f.CreateTask(job)
	require.NoError(t, err)
	_, err = task.Run(context.Background(), runContext(job, wd))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(wdPath, "out.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "GREETING=hi s2\n")
}

func TestCommandTaskFailure(t *testing.T) {
	f := &CommandFactory{
		FactorySettings: pipeline.FactorySettings{TaskID: pipeline.NewTaskID("p", "fail")},
		Run:             "exit 7",
	}
	job := newJob(t, f, nil, nil)
	task, err := f.CreateTask(job)
	require.NoError(t, err)

	_, err = task.Run(context.Background(), runContext(job, nil))
	var exitErr *pipeline.ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 7, exitErr.Code)
}

func TestCommandOutputFile(t *testing.T) {
	f := &CommandFactory{
		FactorySettings: pipeline.FactorySettings{TaskID: pipeline.NewTaskID("p", "list")},
		Run:             "echo a; echo b",
		OutputFile:      "${guid}.txt",
	}
	job := newJob(t, f, nil, nil)
	task, err := f.CreateTask(job)
	require.NoError(t, err)
	_, err = task.Run(context.Background(), runContext(job, nil))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(job.PipelineRoot(), job.GUID()+".txt"))
	require.NoError(t, err)
	assert.Equal(t, "a\nb\n", string(data))
}

func TestParticipation(t *testing.T) {
	f := &CommandFactory{
		FactorySettings: pipeline.FactorySettings{TaskID: pipeline.NewTaskID("p", "opt")},
		Run:             "true",
		When:            "purge",
	}
	tests := []struct {
		value string
		want  bool
	}{
		{"", false},
		{"false", false},
		{"FALSE", false},
		{"true", true},
		{"yes", true},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			job := newJob(t, f, nil, map[string]string{"purge": tt.value})
			got, err := f.IsParticipant(job)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFuncFactory(t *testing.T) {
	called := false
	f := &FuncFactory{
		FactorySettings: pipeline.FactorySettings{TaskID: pipeline.NewTaskID("p", "fn"), Description: "does things"},
		Fn: func(_ context.Context, rc *pipeline.RunContext) (*pipeline.RecordedActionSet, error) {
			called = true
			return nil, nil
		},
	}
	job := newJob(t, f, nil, nil)
	task, err := f.CreateTask(job)
	require.NoError(t, err)

	actions, err := task.Run(context.Background(), runContext(job, nil))
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, []string{"fn"}, actions.Names())
	assert.Equal(t, pipeline.KindFunc, f.Kind())

	f.Complete = func(*pipeline.Job) (bool, error) { return true, nil }
	complete, err := f.IsJobComplete(job)
	require.NoError(t, err)
	assert.True(t, complete)
}

func TestDefinedJobTypeSplit(t *testing.T) {
	jt := &DefinedJobType{SplitParam: "files", Summary: "Convert"}
	f := &FuncFactory{FactorySettings: pipeline.FactorySettings{TaskID: pipeline.NewTaskID("p", "fn")}}
	job := newJob(t, f, jt, map[string]string{"files": "a.raw, b.raw,,c.raw"})

	sets, err := jt.CreateSplitParams(job)
	require.NoError(t, err)
	assert.Equal(t, []map[string]string{{"input": "a.raw"}, {"input": "b.raw"}, {"input": "c.raw"}}, sets)
	assert.Equal(t, "Convert (a.raw, b.raw,,c.raw)", jt.Description(job))

	empty := newJob(t, f, &DefinedJobType{SplitParam: "files"}, nil)
	_, err = jt.CreateSplitParams(empty)
	assert.ErrorContains(t, err, "nothing to split")

	_, err = (&DefinedJobType{}).CreateSplitParams(job)
	assert.ErrorIs(t, err, pipeline.ErrNotSplittable)
}
