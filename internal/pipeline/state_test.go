package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckpointRoundTrip(t *testing.T) {
	fx := newFixture(t)
	fx.register("convert", &BasicJobType{SplitFunc: splitByInputs}, newStub("a"), newStub("b"))

	job, err := fx.svc.NewJob("convert", BackgroundInfo{Container: "/lab", User: "carol", URL: "http://lims/run"}, "/data/run1",
		map[string]string{"inputs": "x,y", "note": "a <b> & c"})
	require.NoError(t, err)
	job.SetActiveTaskID(NewTaskID("test", "b"))
	job.state.ActiveTaskRetries = 2
	job.state.Errors = 3
	job.state.SplitCount = 2
	job.state.Created = time.Date(2024, 3, 1, 9, 59, 0, 0, time.UTC)
	job.addActions(NewRecordedActionSet(RecordedAction{
		Name:    "a",
		Inputs:  []string{"x.raw"},
		Outputs: []string{"x.mzXML"},
		Params:  []Param{{Name: "threads", Value: "4"}},
		Start:   time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		End:     time.Date(2024, 3, 1, 10, 5, 0, 0, time.UTC),
	}))

	data, err := ToXML(job)
	require.NoError(t, err)
	assert.Contains(t, string(data), `<activeTask>test:b</activeTask>`)

	restored, err := FromXML(fx.svc, data)
	require.NoError(t, err)
	got := restored.State()
	got.XMLName = job.State().XMLName
	assert.Equal(t, job.State(), got)
	assert.Equal(t, "a <b> & c", restored.Param("note"))
	assert.Equal(t, "convert", restored.Type().Name())
}

func TestFromXMLErrors(t *testing.T) {
	fx := newFixture(t)
	fx.register("convert", nil, newStub("a"))

	_, err := FromXML(fx.svc, []byte("<job"))
	assert.Error(t, err)

	_, err = FromXML(fx.svc, []byte(`<job type="convert"></job>`))
	assert.ErrorContains(t, err, "missing guid")

	_, err = FromXML(fx.svc, []byte(`<job guid="1" type="other"></job>`))
	assert.ErrorIs(t, err, ErrUnknownJobType)

	job, err := FromXML(fx.svc, []byte(`<job guid="1" type="convert"><activeTask>test:a</activeTask></job>`))
	require.NoError(t, err)
	assert.Equal(t, TaskWaiting, job.ActiveTaskStatus())
}

func TestParseTaskID(t *testing.T) {
	tests := []struct {
		in      string
		want    TaskID
		wantErr bool
	}{
		{"ms2:convert", NewTaskID("ms2", "convert"), false},
		{"convert", NewTaskID("", "convert"), false},
		{"", TaskID{}, false},
		{"ms2:", TaskID{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTaskID(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, got.String())
		})
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	a := newStub("a")
	require.NoError(t, r.RegisterFactory(a))
	assert.ErrorIs(t, r.RegisterFactory(a), ErrDuplicate)

	p, err := NewTaskPipeline("p", "", a.TaskID, NewTaskID("test", "missing"))
	require.NoError(t, err)
	assert.ErrorIs(t, r.RegisterPipeline(p), ErrUnknownTask)

	_, err = NewTaskPipeline("dup", "", a.TaskID, a.TaskID)
	assert.Error(t, err)

	assert.ErrorIs(t, r.RegisterJobType(&BasicJobType{TypeName: "t", PipelineName: "nope"}), ErrUnknownPipeline)

	_, err = r.Factory(NewTaskID("test", "missing"))
	assert.ErrorIs(t, err, ErrUnknownTask)
}
