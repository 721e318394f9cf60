package steps

import (
	"context"
	"time"

	"pipejob/internal/pipeline"
)

// Func is the body of an in-process task. A nil action set records a single
// action named after the task.
type Func func(ctx context.Context, rc *pipeline.RunContext) (*pipeline.RecordedActionSet, error)

// FuncFactory wraps a Go function as a pipeline step.
type FuncFactory struct {
	pipeline.FactorySettings

	Fn Func
	// Complete and Participant override the FactorySettings defaults when set.
	Complete    func(job *pipeline.Job) (bool, error)
	Participant func(job *pipeline.Job) (bool, error)
	When        string
}

var _ pipeline.WorkDirTaskFactory = (*FuncFactory)(nil)

func (f *FuncFactory) Kind() pipeline.TaskKind { return pipeline.KindFunc }

func (f *FuncFactory) CreateTask(*pipeline.Job) (pipeline.Task, error) {
	return &funcTask{factory: f}, nil
}

func (f *FuncFactory) IsParticipant(job *pipeline.Job) (bool, error) {
	if f.Participant != nil {
		return f.Participant(job)
	}
	return participates(f.When, job), nil
}

func (f *FuncFactory) IsJobComplete(job *pipeline.Job) (bool, error) {
	if f.Complete != nil {
		return f.Complete(job)
	}
	return false, nil
}

type funcTask struct {
	factory *FuncFactory
}

func (t *funcTask) Factory() pipeline.TaskFactory { return t.factory }

func (t *funcTask) Run(ctx context.Context, rc *pipeline.RunContext) (*pipeline.RecordedActionSet, error) {
	start := time.Now().UTC()
	var set *pipeline.RecordedActionSet
	if t.factory.Fn != nil {
		var err error
		if set, err = t.factory.Fn(ctx, rc); err != nil {
			return set, err
		}
	}
	if set == nil {
		set = pipeline.NewRecordedActionSet(pipeline.RecordedAction{
			Name:        t.factory.TaskID.Name,
			Description: t.factory.Description,
			Start:       start,
			End:         time.Now().UTC(),
		})
	}
	return set, nil
}

// Builtins are the Go functions a definitions file can name with "func:".
func Builtins() map[string]Func {
	return map[string]Func{
		"noop": func(context.Context, *pipeline.RunContext) (*pipeline.RecordedActionSet, error) {
			return nil, nil
		},
		"log-params": func(_ context.Context, rc *pipeline.RunContext) (*pipeline.RecordedActionSet, error) {
			rc.Log.WithField("params", rc.Job.Params()).Info("Job params")
			return nil, nil
		},
		"check-interrupted": func(_ context.Context, rc *pipeline.RunContext) (*pipeline.RecordedActionSet, error) {
			return nil, rc.Job.CheckInterrupted()
		},
	}
}
