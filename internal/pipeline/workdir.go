package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// WorkDirFactory allocates the scoped directory a task runs in.
type WorkDirFactory interface {
	Create(job *Job, task TaskID) (*WorkDirectory, error)
}

// WorkDirectory is a directory owned by one task execution. Release runs the
// cleanup once; Keep turns later releases into no-ops.
type WorkDirectory struct {
	path    string
	release func() error

	mu       sync.Mutex
	keep     bool
	released bool
}

func NewWorkDirectory(path string, release func() error) *WorkDirectory {
	return &WorkDirectory{path: path, release: release}
}

func (w *WorkDirectory) Path() string { return w.path }

// Keep retains the directory after the task finishes.
func (w *WorkDirectory) Keep() {
	w.mu.Lock()
	w.keep = true
	w.mu.Unlock()
}

func (w *WorkDirectory) Release() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.released || w.keep || w.release == nil {
		w.released = true
		return nil
	}
	w.released = true
	return w.release()
}

// TempWorkDirFactory creates <root>/.work/<guid>/<task> directories. Root
// defaults to the job's pipeline root, then the system temp directory.
type TempWorkDirFactory struct {
	Root   string
	Retain bool
}

func (f *TempWorkDirFactory) Create(job *Job, task TaskID) (*WorkDirectory, error) {
	root := f.Root
	if root == "" {
		root = job.PipelineRoot()
	}
	if root == "" {
		root = os.TempDir()
	}
	name := task.Name
	if task.Namespace != "" {
		name = task.Namespace + "-" + task.Name
	}
	dir := filepath.Join(root, ".work", job.GUID(), name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create work directory %s: %w", dir, err)
	}
	wd := NewWorkDirectory(dir, func() error {
		return os.RemoveAll(dir)
	})
	if f.Retain {
		wd.Keep()
	}
	return wd, nil
}
