package pipeline

import (
	"errors"
	"fmt"
)

// TaskPipeline is the immutable, ordered task progression of a job type.
type TaskPipeline struct {
	name        string
	description string
	progression []TaskID
}

// NewTaskPipeline builds a pipeline. Task ids must be unique so a job's
// position in the progression is unambiguous.
func NewTaskPipeline(name, description string, ids ...TaskID) (*TaskPipeline, error) {
	if name == "" {
		return nil, errors.New("task pipeline name cannot be empty")
	}
	seen := make(map[TaskID]struct{}, len(ids))
	progression := make([]TaskID, 0, len(ids))
	for _, id := range ids {
		if id.IsZero() {
			return nil, fmt.Errorf("task pipeline %s: empty task id", name)
		}
		if _, ok := seen[id]; ok {
			return nil, fmt.Errorf("task pipeline %s: task %s listed twice", name, id)
		}
		seen[id] = struct{}{}
		progression = append(progression, id)
	}
	return &TaskPipeline{name: name, description: description, progression: progression}, nil
}

func (p *TaskPipeline) Name() string        { return p.name }
func (p *TaskPipeline) Description() string { return p.description }
func (p *TaskPipeline) Len() int            { return len(p.progression) }
func (p *TaskPipeline) At(i int) TaskID     { return p.progression[i] }

// Progression returns a copy of the ordered task ids.
func (p *TaskPipeline) Progression() []TaskID {
	out := make([]TaskID, len(p.progression))
	copy(out, p.progression)
	return out
}

// IndexOf returns the position of id, or -1.
func (p *TaskPipeline) IndexOf(id TaskID) int {
	for i, t := range p.progression {
		if t == id {
			return i
		}
	}
	return -1
}
