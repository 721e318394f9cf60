package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"pipejob/internal/models"
)

// memStore is an in-memory JobStore and StatusWriter. Jobs it would dispatch
// (retries, split children, joined parents) collect in pending for the test
// to drive.
type memStore struct {
	t   *testing.T
	svc *Service

	mu          sync.Mutex
	checkpoints map[string][]byte
	statuses    map[string]models.StatusRecord
	history     map[string][]string
	joined      map[string]int
	pending     []*Job
	ran         []*Job
	retries     int
}

func newMemStore(t *testing.T) *memStore {
	return &memStore{
		t:           t,
		checkpoints: make(map[string][]byte),
		statuses:    make(map[string]models.StatusRecord),
		history:     make(map[string][]string),
		joined:      make(map[string]int),
	}
}

func (s *memStore) StoreJob(_ context.Context, job *Job) error {
	data, err := ToXML(job)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.checkpoints[job.GUID()] = data
	s.mu.Unlock()
	return nil
}

func (s *memStore) GetJob(_ context.Context, guid string) (*Job, error) {
	s.mu.Lock()
	data, ok := s.checkpoints[guid]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, guid)
	}
	return FromXML(s.svc, data)
}

func (s *memStore) Retry(ctx context.Context, guid string) error {
	job, err := s.GetJob(ctx, guid)
	if err != nil {
		return err
	}
	job.RetryUpdate()
	job.PrepareRetry()
	if err := job.SetActiveTaskStatus(ctx, TaskWaiting); err != nil {
		return err
	}
	if err := s.StoreJob(ctx, job); err != nil {
		return err
	}
	s.mu.Lock()
	s.retries++
	s.pending = append(s.pending, job)
	s.mu.Unlock()
	return nil
}

func (s *memStore) Split(ctx context.Context, job *Job) error {
	children, err := job.CreateSplitJobs()
	if err != nil {
		return err
	}
	job.SetSplitCount(len(children))
	if err := s.StoreJob(ctx, job); err != nil {
		return err
	}
	if err := job.MarkSplitWaiting(ctx); err != nil {
		return err
	}
	for _, c := range children {
		if err := s.CreateStatus(ctx, c.StatusRecord()); err != nil {
			return err
		}
		if err := s.StoreJob(ctx, c); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.pending = append(s.pending, children...)
	s.mu.Unlock()
	return nil
}

func (s *memStore) Join(ctx context.Context, child *Job) error {
	if err := s.StoreJob(ctx, child); err != nil {
		return err
	}
	parent, err := s.GetJob(ctx, child.ParentGUID())
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.joined[parent.GUID()]++
	fired := s.joined[parent.GUID()] == parent.SplitCount()
	s.mu.Unlock()
	if !fired {
		return nil
	}
	for guid := range s.snapshotCheckpoints() {
		c, err := s.GetJob(ctx, guid)
		require.NoError(s.t, err)
		if c.ParentGUID() == parent.GUID() {
			parent.MergeSplitJob(c)
		}
	}
	if err := parent.CompleteJoin(ctx, child.ActiveTaskID()); err != nil {
		return err
	}
	if err := s.StoreJob(ctx, parent); err != nil {
		return err
	}
	if !parent.IsDone() {
		s.mu.Lock()
		s.pending = append(s.pending, parent)
		s.mu.Unlock()
	}
	return nil
}

func (s *memStore) snapshotCheckpoints() map[string][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]byte, len(s.checkpoints))
	for k, v := range s.checkpoints {
		out[k] = v
	}
	return out
}

func (s *memStore) CreateStatus(_ context.Context, rec models.StatusRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[rec.JobGUID] = rec
	s.history[rec.JobGUID] = append(s.history[rec.JobGUID], rec.Status)
	return nil
}

func (s *memStore) SetStatus(ctx context.Context, rec models.StatusRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.statuses[rec.JobGUID]; !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, rec.JobGUID)
	}
	s.statuses[rec.JobGUID] = rec
	s.history[rec.JobGUID] = append(s.history[rec.JobGUID], rec.Status)
	return nil
}

// childStatuses returns the current status of every split child of parent.
func (s *memStore) childStatuses(parent string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, rec := range s.statuses {
		if rec.ParentGUID == parent {
			out = append(out, rec.Status)
		}
	}
	return out
}

func (s *memStore) EnsureError(ctx context.Context, guid string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.statuses[guid]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, guid)
	}
	if rec.Status != models.JobStatusError {
		rec.Status = models.JobStatusError
		s.statuses[guid] = rec
		s.history[guid] = append(s.history[guid], rec.Status)
	}
	return nil
}

func (s *memStore) deleteStatus(guid string) {
	s.mu.Lock()
	delete(s.statuses, guid)
	s.mu.Unlock()
}

func (s *memStore) status(guid string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statuses[guid].Status
}

func (s *memStore) takePending() []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pending
	s.pending = nil
	return out
}

func (s *memStore) lastRun() *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(s.t, s.ran)
	return s.ran[len(s.ran)-1]
}

// drain runs dispatched jobs until none remain.
func (s *memStore) drain(ctx context.Context) {
	for i := 0; i < 100; i++ {
		jobs := s.takePending()
		if len(jobs) == 0 {
			return
		}
		for _, j := range jobs {
			require.NoError(s.t, j.Run(ctx))
			s.mu.Lock()
			s.ran = append(s.ran, j)
			s.mu.Unlock()
		}
	}
	s.t.Fatal("jobs did not settle")
}

// memQueue records the jobs handed to it.
type memQueue struct {
	location string
	added    []*Job
}

func (q *memQueue) Location() string {
	if q.location == "" {
		return LocationLocal
	}
	return q.location
}

func (q *memQueue) Add(_ context.Context, job *Job) error {
	q.added = append(q.added, job)
	return nil
}

func (q *memQueue) Cancel(context.Context, string) (bool, error) { return false, nil }

// stubFactory is a TaskFactory driven by plain functions.
type stubFactory struct {
	FactorySettings
	run         func(ctx context.Context, rc *RunContext) error
	complete    func(job *Job) bool
	participant func(job *Job) (bool, error)
	calls       int
}

func (f *stubFactory) Kind() TaskKind { return KindFunc }

func (f *stubFactory) CreateTask(*Job) (Task, error) {
	return &stubTask{factory: f}, nil
}

func (f *stubFactory) IsJobComplete(job *Job) (bool, error) {
	if f.complete == nil {
		return false, nil
	}
	return f.complete(job), nil
}

func (f *stubFactory) IsParticipant(job *Job) (bool, error) {
	if f.participant == nil {
		return true, nil
	}
	return f.participant(job)
}

type stubTask struct {
	factory *stubFactory
}

func (t *stubTask) Factory() TaskFactory { return t.factory }

func (t *stubTask) Run(ctx context.Context, rc *RunContext) (*RecordedActionSet, error) {
	t.factory.calls++
	if t.factory.run != nil {
		if err := t.factory.run(ctx, rc); err != nil {
			return nil, err
		}
	}
	now := time.Now()
	return NewRecordedActionSet(RecordedAction{
		Name:   t.factory.TaskID.Name,
		Inputs: []string{rc.Job.Param("input")},
		Start:  now,
		End:    now,
	}), nil
}

func newStub(name string) *stubFactory {
	return &stubFactory{FactorySettings: FactorySettings{TaskID: NewTaskID("test", name)}}
}

type fixture struct {
	t     *testing.T
	svc   *Service
	store *memStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newMemStore(t)
	errLog := logrus.New()
	errLog.SetOutput(new(nopWriter))
	svc := &Service{
		Registry: NewRegistry(),
		Jobs:     store,
		Status:   store,
		LogDir:   filepath.Join(t.TempDir(), "logs"),
		ErrorLog: errLog,
	}
	store.svc = svc
	return &fixture{t: t, svc: svc, store: store}
}

// register adds the factories, a pipeline of them in order and a job type
// named after the pipeline.
func (fx *fixture) register(name string, jt *BasicJobType, factories ...*stubFactory) {
	fx.t.Helper()
	ids := make([]TaskID, 0, len(factories))
	for _, f := range factories {
		require.NoError(fx.t, fx.svc.Registry.RegisterFactory(f))
		ids = append(ids, f.TaskID)
	}
	p, err := NewTaskPipeline(name, "", ids...)
	require.NoError(fx.t, err)
	require.NoError(fx.t, fx.svc.Registry.RegisterPipeline(p))
	if jt == nil {
		jt = &BasicJobType{}
	}
	jt.TypeName = name
	jt.PipelineName = name
	require.NoError(fx.t, fx.svc.Registry.RegisterJobType(jt))
}

// submit creates a job and submits it to a local queue, then runs whatever
// was queued to completion.
func (fx *fixture) submit(typeName string, params map[string]string) *Job {
	fx.t.Helper()
	ctx := context.Background()
	job, err := fx.svc.NewJob(typeName, BackgroundInfo{Container: "/home"}, fx.t.TempDir(), params)
	require.NoError(fx.t, err)
	t := fx.t
	t.Cleanup(func() { job.Close() })

	q := &memQueue{}
	require.NoError(fx.t, fx.svc.Submit(ctx, job, q))
	for _, j := range q.added {
		require.NoError(fx.t, j.Run(ctx))
	}
	fx.store.drain(ctx)
	return job
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }
