package pipeline

// JobType supplies the per-type behaviour of a job: which pipeline it follows,
// whether it fans out into split jobs, and whether it can be interrupted.
type JobType interface {
	Name() string
	Pipeline() string
	Splittable() bool
	// CreateSplitParams returns one param set per split child. Each set is
	// layered over the parent's params.
	CreateSplitParams(job *Job) ([]map[string]string, error)
	CanInterrupt() bool
	Description(job *Job) string
}

// BasicJobType is a JobType built from plain fields, for programmatic pipelines.
type BasicJobType struct {
	TypeName      string
	PipelineName  string
	Interruptible bool
	SplitFunc     func(job *Job) ([]map[string]string, error)
	Describe      func(job *Job) string
}

func (t *BasicJobType) Name() string       { return t.TypeName }
func (t *BasicJobType) Pipeline() string   { return t.PipelineName }
func (t *BasicJobType) Splittable() bool   { return t.SplitFunc != nil }
func (t *BasicJobType) CanInterrupt() bool { return t.Interruptible }

func (t *BasicJobType) CreateSplitParams(job *Job) ([]map[string]string, error) {
	if t.SplitFunc == nil {
		return nil, ErrNotSplittable
	}
	return t.SplitFunc(job)
}

func (t *BasicJobType) Description(job *Job) string {
	if t.Describe != nil {
		return t.Describe(job)
	}
	return t.TypeName
}
