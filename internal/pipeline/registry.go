package pipeline

import (
	"fmt"
	"sort"
	"sync"
)

// Registry resolves task ids to factories and names to pipelines and job
// types. It is filled at configuration time and read concurrently afterwards.
type Registry struct {
	mu        sync.RWMutex
	factories map[TaskID]TaskFactory
	pipelines map[string]*TaskPipeline
	jobTypes  map[string]JobType
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[TaskID]TaskFactory),
		pipelines: make(map[string]*TaskPipeline),
		jobTypes:  make(map[string]JobType),
	}
}

func (r *Registry) RegisterFactory(f TaskFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := f.ID()
	if id.IsZero() {
		return fmt.Errorf("register factory: empty task id")
	}
	if _, ok := r.factories[id]; ok {
		return fmt.Errorf("%w: task %s", ErrDuplicate, id)
	}
	r.factories[id] = f
	return nil
}

// RegisterPipeline adds p. Every task it names must already be registered.
func (r *Registry) RegisterPipeline(p *TaskPipeline) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pipelines[p.Name()]; ok {
		return fmt.Errorf("%w: pipeline %s", ErrDuplicate, p.Name())
	}
	for _, id := range p.progression {
		if _, ok := r.factories[id]; !ok {
			return fmt.Errorf("pipeline %s: %w: %s", p.Name(), ErrUnknownTask, id)
		}
	}
	r.pipelines[p.Name()] = p
	return nil
}

func (r *Registry) RegisterJobType(t JobType) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobTypes[t.Name()]; ok {
		return fmt.Errorf("%w: job type %s", ErrDuplicate, t.Name())
	}
	if _, ok := r.pipelines[t.Pipeline()]; !ok {
		return fmt.Errorf("job type %s: %w: %s", t.Name(), ErrUnknownPipeline, t.Pipeline())
	}
	r.jobTypes[t.Name()] = t
	return nil
}

func (r *Registry) Factory(id TaskID) (TaskFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}
	return f, nil
}

func (r *Registry) Pipeline(name string) (*TaskPipeline, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pipelines[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPipeline, name)
	}
	return p, nil
}

func (r *Registry) JobType(name string) (JobType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.jobTypes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJobType, name)
	}
	return t, nil
}

// JobTypes lists registered job types sorted by name.
func (r *Registry) JobTypes() []JobType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]JobType, 0, len(r.jobTypes))
	for _, t := range r.jobTypes {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}
