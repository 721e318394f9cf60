package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipejob/internal/models"
)

func TestNewJob(t *testing.T) {
	fx := newFixture(t)
	fx.register("convert", nil, newStub("a"), newStub("b"))

	job, err := fx.svc.NewJob("convert", BackgroundInfo{Container: "/home", User: "alice"}, "/data", map[string]string{"x": "1"})
	require.NoError(t, err)

	assert.NotEmpty(t, job.GUID())
	assert.Equal(t, NewTaskID("test", "a"), job.ActiveTaskID())
	assert.Equal(t, TaskWaiting, job.ActiveTaskStatus())
	assert.Equal(t, "convert", job.Provider())
	assert.Equal(t, "1", job.Param("x"))
	assert.Contains(t, job.LogFile(), job.GUID()+".log")
	assert.False(t, job.IsSplitJob())

	_, err = fx.svc.NewJob("missing", BackgroundInfo{}, "", nil)
	assert.ErrorIs(t, err, ErrUnknownJobType)
}

func TestNewJobRejectsParamsXMLCannotHold(t *testing.T) {
	fx := newFixture(t)
	fx.register("convert", nil, newStub("a"))

	tests := []struct {
		name   string
		params map[string]string
	}{
		{"control byte in value", map[string]string{"msg": "bell\x07"}},
		{"nul in name", map[string]string{"a\x00b": "1"}},
		{"invalid utf-8", map[string]string{"msg": "\xff\xfe"}},
		{"empty name", map[string]string{"": "1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fx.svc.NewJob("convert", BackgroundInfo{}, "", tt.params)
			assert.ErrorIs(t, err, ErrInvalidParam)
		})
	}

	// Tabs, newlines and non-ASCII text survive a checkpoint unchanged.
	params := map[string]string{"msg": "tab\there\nnext line", "name": "Zoë ✓"}
	job, err := fx.svc.NewJob("convert", BackgroundInfo{}, "", params)
	require.NoError(t, err)
	data, err := ToXML(job)
	require.NoError(t, err)
	restored, err := FromXML(fx.svc, data)
	require.NoError(t, err)
	assert.Equal(t, params["msg"], restored.Param("msg"))
	assert.Equal(t, params["name"], restored.Param("name"))
}

func TestSetActiveTaskIDResetsRetries(t *testing.T) {
	fx := newFixture(t)
	fx.register("convert", nil, newStub("a"), newStub("b"))
	job, err := fx.svc.NewJob("convert", BackgroundInfo{}, "", nil)
	require.NoError(t, err)

	job.state.ActiveTaskRetries = 2
	job.SetActiveTaskID(NewTaskID("test", "a"))
	assert.Equal(t, 2, job.ActiveTaskRetries(), "same task keeps its retry count")

	job.SetActiveTaskID(NewTaskID("test", "b"))
	assert.Equal(t, 0, job.ActiveTaskRetries(), "new task starts over")
}

func TestClearedTaskIsComplete(t *testing.T) {
	fx := newFixture(t)
	fx.register("convert", nil, newStub("a"))
	job, err := fx.svc.NewJob("convert", BackgroundInfo{}, "", nil)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, fx.store.CreateStatus(ctx, job.StatusRecord()))

	for _, st := range []TaskStatus{TaskWaiting, TaskRunning, TaskError} {
		job.state.ActiveTaskStatus = st
		job.SetActiveTaskID(TaskID{})
		assert.Equal(t, TaskComplete, job.ActiveTaskStatus())

		require.NoError(t, job.SetActiveTaskStatus(ctx, st))
		assert.Equal(t, TaskComplete, job.ActiveTaskStatus())
		assert.Equal(t, models.JobStatusComplete, fx.store.status(job.GUID()))
	}
}

func TestStatusStrings(t *testing.T) {
	fx := newFixture(t)
	a := newStub("a")
	a.Status = "Convert Files"
	fx.register("convert", nil, a)
	job, err := fx.svc.NewJob("convert", BackgroundInfo{}, "", nil)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, fx.store.CreateStatus(ctx, job.StatusRecord()))

	tests := []struct {
		status TaskStatus
		want   string
	}{
		{TaskWaiting, "CONVERT FILES WAITING"},
		{TaskRunning, "CONVERT FILES RUNNING"},
		{TaskComplete, "CONVERT FILES COMPLETE"},
		{TaskError, models.JobStatusError},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			require.NoError(t, job.SetActiveTaskStatus(ctx, tt.status))
			assert.Equal(t, tt.want, fx.store.status(job.GUID()))
		})
	}

	require.NoError(t, job.SetStatus(ctx, models.JobStatusError, "bad input"))
	assert.Equal(t, TaskError, job.ActiveTaskStatus())
}

func TestRestoreQueue(t *testing.T) {
	fx := newFixture(t)
	fx.register("convert", nil, newStub("a"))
	job, err := fx.svc.NewJob("convert", BackgroundInfo{}, "", nil)
	require.NoError(t, err)

	q1, q2 := &memQueue{}, &memQueue{}
	require.NoError(t, job.RestoreQueue(q1))
	require.NoError(t, job.RestoreQueue(q1), "same queue again is a no-op")
	assert.ErrorIs(t, job.RestoreQueue(q2), ErrQueueAssigned)
	assert.Same(t, q1, job.Queue())
}

func TestInterrupt(t *testing.T) {
	fx := newFixture(t)
	fx.register("fixed", nil, newStub("a"))
	fx.register("stoppable", &BasicJobType{Interruptible: true}, newStub("b"))

	fixed, err := fx.svc.NewJob("fixed", BackgroundInfo{}, "", nil)
	require.NoError(t, err)
	assert.ErrorIs(t, fixed.Interrupt(), ErrNotInterruptible)
	assert.NoError(t, fixed.CheckInterrupted())

	stoppable, err := fx.svc.NewJob("stoppable", BackgroundInfo{}, "", nil)
	require.NoError(t, err)
	require.NoError(t, stoppable.Interrupt())
	assert.ErrorIs(t, stoppable.CheckInterrupted(), ErrInterrupted)
}

func TestLostStatusRecord(t *testing.T) {
	fx := newFixture(t)
	fx.register("convert", nil, newStub("a"))
	job, err := fx.svc.NewJob("convert", BackgroundInfo{}, "", nil)
	require.NoError(t, err)

	err = job.SetActiveTaskStatus(context.Background(), TaskRunning)
	var lost *LostJobError
	require.ErrorAs(t, err, &lost)
	assert.Equal(t, job.GUID(), lost.JobGUID)
}
