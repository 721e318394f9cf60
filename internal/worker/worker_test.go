package worker

import (
	"context"
	"encoding/json"
	"io"
	"sync/atomic"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipejob/internal/jobstore"
	"pipejob/internal/pipeline"
	"pipejob/internal/steps"
	"pipejob/internal/store/local"
	"pipejob/internal/tasks"
)

// recordQueue accepts jobs without running them.
type recordQueue struct {
	location string
	added    []*pipeline.Job
}

func (q *recordQueue) Location() string { return q.location }

func (q *recordQueue) Add(_ context.Context, job *pipeline.Job) error {
	q.added = append(q.added, job)
	return nil
}

func (q *recordQueue) Cancel(context.Context, string) (bool, error) { return false, nil }

type fixture struct {
	svc     *pipeline.Service
	js      *jobstore.JobStore
	st      *local.StoreImpl
	cluster *recordQueue
	local   *recordQueue
	calls   atomic.Int32
}

// newFixture registers pipeline "convert": step a on the cluster, then step b
// locally.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := local.NewLocalStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	errLog := logrus.New()
	errLog.SetOutput(io.Discard)
	svc := &pipeline.Service{Registry: pipeline.NewRegistry(), LogDir: t.TempDir(), ErrorLog: errLog}
	js := jobstore.New(svc, st, nil)
	svc.Jobs, svc.Status = js, js

	fx := &fixture{
		svc:     svc,
		js:      js,
		st:      st,
		cluster: &recordQueue{location: "cluster"},
		local:   &recordQueue{location: pipeline.LocationLocal},
	}
	js.AddQueue(fx.cluster)
	js.AddQueue(fx.local)

	a := &steps.FuncFactory{
		FactorySettings: pipeline.FactorySettings{TaskID: pipeline.NewTaskID("test", "a"), Location: "cluster"},
		Fn: func(context.Context, *pipeline.RunContext) (*pipeline.RecordedActionSet, error) {
			fx.calls.Add(1)
			return nil, nil
		},
	}
	b := &steps.FuncFactory{FactorySettings: pipeline.FactorySettings{TaskID: pipeline.NewTaskID("test", "b")}}
	require.NoError(t, svc.Registry.RegisterFactory(a))
	require.NoError(t, svc.Registry.RegisterFactory(b))
	p, err := pipeline.NewTaskPipeline("convert", "", a.TaskID, b.TaskID)
	require.NoError(t, err)
	require.NoError(t, svc.Registry.RegisterPipeline(p))
	require.NoError(t, svc.Registry.RegisterJobType(&pipeline.BasicJobType{TypeName: "convert", PipelineName: "convert"}))
	return fx
}

// storeJob checkpoints a new job waiting at step a.
func (fx *fixture) storeJob(t *testing.T) *pipeline.Job {
	t.Helper()
	ctx := context.Background()
	job, err := fx.svc.NewJob("convert", pipeline.BackgroundInfo{}, t.TempDir(), nil)
	require.NoError(t, err)
	require.NoError(t, fx.js.CreateStatus(ctx, job.StatusRecord()))
	require.NoError(t, fx.js.StoreJob(ctx, job))
	return job
}

func runTask(t *testing.T, guid, task string) *asynq.Task {
	t.Helper()
	payload, err := json.Marshal(tasks.RunJobPayload{JobGUID: guid, Task: task})
	require.NoError(t, err)
	return asynq.NewTask(tasks.TypeRunJob, payload)
}

func TestHandleRunJob(t *testing.T) {
	fx := newFixture(t)
	job := fx.storeJob(t)
	h := HandleRunJob(RunJobDeps{Jobs: fx.js, Queue: fx.cluster})

	require.NoError(t, h(context.Background(), runTask(t, job.GUID(), "test:a")))

	assert.EqualValues(t, 1, fx.calls.Load())
	require.Len(t, fx.local.added, 1)
	assert.Equal(t, job.GUID(), fx.local.added[0].GUID())
	assert.Equal(t, "test:b", fx.local.added[0].ActiveTaskID().String())

	rec, err := fx.st.GetStatus(context.Background(), job.GUID())
	require.NoError(t, err)
	assert.Equal(t, "B WAITING", rec.Status)
}

func TestHandleRunJobStaleTask(t *testing.T) {
	fx := newFixture(t)
	job := fx.storeJob(t)
	h := HandleRunJob(RunJobDeps{Jobs: fx.js, Queue: fx.cluster})

	require.NoError(t, h(context.Background(), runTask(t, job.GUID(), "test:b")))
	assert.Zero(t, fx.calls.Load())
	assert.Empty(t, fx.local.added)
}

func TestHandleRunJobSkipsRetry(t *testing.T) {
	fx := newFixture(t)
	h := HandleRunJob(RunJobDeps{Jobs: fx.js, Queue: fx.cluster})

	tests := []struct {
		name string
		task *asynq.Task
	}{
		{"bad payload", asynq.NewTask(tasks.TypeRunJob, []byte("{"))},
		{"missing job", runTask(t, "missing", "test:a")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h(context.Background(), tt.task)
			assert.ErrorIs(t, err, asynq.SkipRetry)
		})
	}
}

func TestHandleRunJobLostRecord(t *testing.T) {
	fx := newFixture(t)
	job := fx.storeJob(t)
	require.NoError(t, fx.st.DeleteStatus(context.Background(), job.GUID()))
	h := HandleRunJob(RunJobDeps{Jobs: fx.js, Queue: fx.cluster})

	err := h(context.Background(), runTask(t, job.GUID(), "test:a"))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Zero(t, fx.calls.Load())
}

func TestRegisterHandlers(t *testing.T) {
	fx := newFixture(t)
	mux := asynq.NewServeMux()
	RegisterHandlers(mux, RunJobDeps{Jobs: fx.js, Queue: fx.cluster})

	h, pattern := mux.Handler(asynq.NewTask(tasks.TypeRunJob, nil))
	assert.NotNil(t, h)
	assert.Equal(t, tasks.TypeRunJob, pattern)
}
