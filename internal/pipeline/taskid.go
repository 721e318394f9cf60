package pipeline

import (
	"fmt"
	"strings"
)

// TaskID identifies a task type within a namespace. The zero value means "no task".
type TaskID struct {
	Namespace string
	Name      string
}

// NewTaskID builds a TaskID.
func NewTaskID(namespace, name string) TaskID {
	return TaskID{Namespace: namespace, Name: name}
}

// ParseTaskID parses the "namespace:name" form produced by String. A bare name
// has an empty namespace.
func ParseTaskID(s string) (TaskID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return TaskID{}, nil
	}
	ns, name, found := strings.Cut(s, ":")
	if !found {
		return TaskID{Name: ns}, nil
	}
	if name == "" {
		return TaskID{}, fmt.Errorf("invalid task id %q: empty name", s)
	}
	return TaskID{Namespace: ns, Name: name}, nil
}

func (id TaskID) String() string {
	if id.Namespace == "" {
		return id.Name
	}
	return id.Namespace + ":" + id.Name
}

// IsZero reports whether id identifies no task.
func (id TaskID) IsZero() bool {
	return id.Namespace == "" && id.Name == ""
}

func (id TaskID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *TaskID) UnmarshalText(b []byte) error {
	parsed, err := ParseTaskID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
