package steps

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"pipejob/internal/pipeline"
)

// Definitions is the YAML document declaring task pipelines.
//
//	pipelines:
//	  - name: ms2
//	    split_param: files
//	    steps:
//	      - name: convert
//	        command: msconvert
//	        args: ["${input}", "-o", "${workdir}"]
//	        outputs: ["${input}.mzXML"]
//	        auto_retry: 2
//	      - name: merge
//	        join: true
//	        run: cat *.mzXML > merged.txt
type Definitions struct {
	Pipelines []PipelineDef `yaml:"pipelines"`
}

// PipelineDef declares one pipeline and the job type that runs it.
type PipelineDef struct {
	Name          string    `yaml:"name"`
	Description   string    `yaml:"description"`
	Interruptible bool      `yaml:"interruptible"`
	SplitParam    string    `yaml:"split_param"`
	Steps         []StepDef `yaml:"steps"`
}

// StepDef declares one task of a pipeline.
type StepDef struct {
	Name        string            `yaml:"name"`
	Namespace   string            `yaml:"namespace"`
	Kind        string            `yaml:"kind"`
	Description string            `yaml:"description"`
	Status      string            `yaml:"status"`
	Location    string            `yaml:"location"`
	Join        bool              `yaml:"join"`
	AutoRetry   int               `yaml:"auto_retry"`
	WorkDir     bool              `yaml:"work_dir"`
	When        string            `yaml:"when"`
	Run         string            `yaml:"run"`
	Command     string            `yaml:"command"`
	Args        []string          `yaml:"args"`
	Env         map[string]string `yaml:"env"`
	Inputs      []string          `yaml:"inputs"`
	Outputs     []string          `yaml:"outputs"`
	OutputFile  string            `yaml:"output_file"`
	Func        string            `yaml:"func"`
}

// Load reads a definitions file.
func Load(path string) (*Definitions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline definitions %s: %w", path, err)
	}
	defs, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return defs, nil
}

// Parse decodes and validates a definitions document.
func Parse(data []byte) (*Definitions, error) {
	var defs Definitions
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("parse pipeline definitions: %w", err)
	}
	if err := defs.Validate(); err != nil {
		return nil, err
	}
	return &defs, nil
}

// Validate checks the definitions without registering anything.
func (d *Definitions) Validate() error {
	var errs []error
	seen := make(map[string]bool)
	for i, p := range d.Pipelines {
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("pipeline %d: name is required", i))
			continue
		}
		if seen[p.Name] {
			errs = append(errs, fmt.Errorf("pipeline %s: defined twice", p.Name))
		}
		seen[p.Name] = true
		steps := make(map[string]bool)
		for j, s := range p.Steps {
			if s.Name == "" {
				errs = append(errs, fmt.Errorf("pipeline %s step %d: name is required", p.Name, j))
				continue
			}
			if steps[s.Name] {
				errs = append(errs, fmt.Errorf("pipeline %s: step %s defined twice", p.Name, s.Name))
			}
			steps[s.Name] = true
			kind, err := pipeline.ParseTaskKind(s.Kind)
			if err != nil {
				errs = append(errs, fmt.Errorf("pipeline %s step %s: %w", p.Name, s.Name, err))
				continue
			}
			switch {
			case kind == pipeline.KindCommand && s.Run == "" && s.Command == "" && s.Func == "":
				errs = append(errs, fmt.Errorf("pipeline %s step %s: one of run or command is required", p.Name, s.Name))
			case kind == pipeline.KindFunc && s.Func == "":
				errs = append(errs, fmt.Errorf("pipeline %s step %s: func is required", p.Name, s.Name))
			}
			if s.AutoRetry < 0 {
				errs = append(errs, fmt.Errorf("pipeline %s step %s: auto_retry cannot be negative", p.Name, s.Name))
			}
		}
	}
	return errors.Join(errs...)
}

// Register adds every pipeline's factories, the pipeline itself and a job type
// of the same name to reg. funcs resolves "func:" steps.
func (d *Definitions) Register(reg *pipeline.Registry, funcs map[string]Func) error {
	for _, p := range d.Pipelines {
		ids := make([]pipeline.TaskID, 0, len(p.Steps))
		for _, s := range p.Steps {
			f, err := s.factory(p.Name, funcs)
			if err != nil {
				return fmt.Errorf("pipeline %s: %w", p.Name, err)
			}
			if err := reg.RegisterFactory(f); err != nil {
				return err
			}
			ids = append(ids, f.ID())
		}
		tp, err := pipeline.NewTaskPipeline(p.Name, p.Description, ids...)
		if err != nil {
			return err
		}
		if err := reg.RegisterPipeline(tp); err != nil {
			return err
		}
		jt := &DefinedJobType{
			TypeName:      p.Name,
			PipelineName:  p.Name,
			SplitParam:    p.SplitParam,
			Interruptible: p.Interruptible,
			Summary:       p.Description,
		}
		if err := reg.RegisterJobType(jt); err != nil {
			return err
		}
	}
	return nil
}

func (s StepDef) factory(pipelineName string, funcs map[string]Func) (pipeline.TaskFactory, error) {
	ns := s.Namespace
	if ns == "" {
		ns = pipelineName
	}
	settings := pipeline.FactorySettings{
		TaskID:      pipeline.NewTaskID(ns, s.Name),
		Location:    s.Location,
		Join:        s.Join,
		Retries:     s.AutoRetry,
		Status:      s.Status,
		WorkDir:     s.WorkDir,
		Description: s.Description,
	}
	kind, err := pipeline.ParseTaskKind(s.Kind)
	if err != nil {
		return nil, err
	}
	if kind == pipeline.KindFunc || s.Func != "" {
		fn, ok := funcs[s.Func]
		if !ok {
			return nil, fmt.Errorf("step %s: unknown func %q", s.Name, s.Func)
		}
		return &FuncFactory{FactorySettings: settings, Fn: fn, When: s.When}, nil
	}
	return &CommandFactory{
		FactorySettings: settings,
		Run:             s.Run,
		Command:         s.Command,
		Args:            s.Args,
		Env:             s.Env,
		Inputs:          s.Inputs,
		Outputs:         s.Outputs,
		OutputFile:      s.OutputFile,
		When:            s.When,
	}, nil
}

// DefinedJobType is the job type of a pipeline from a definitions file.
// A split job type fans out into one child per value of its split param,
// a comma separated list; each child receives its value as "input".
type DefinedJobType struct {
	TypeName      string
	PipelineName  string
	SplitParam    string
	Interruptible bool
	Summary       string
}

var _ pipeline.JobType = (*DefinedJobType)(nil)

func (t *DefinedJobType) Name() string       { return t.TypeName }
func (t *DefinedJobType) Pipeline() string   { return t.PipelineName }
func (t *DefinedJobType) Splittable() bool   { return t.SplitParam != "" }
func (t *DefinedJobType) CanInterrupt() bool { return t.Interruptible }

func (t *DefinedJobType) CreateSplitParams(job *pipeline.Job) ([]map[string]string, error) {
	if t.SplitParam == "" {
		return nil, pipeline.ErrNotSplittable
	}
	var sets []map[string]string
	for _, v := range strings.Split(job.Param(t.SplitParam), ",") {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		sets = append(sets, map[string]string{"input": v})
	}
	if len(sets) == 0 {
		return nil, fmt.Errorf("job param %q lists nothing to split", t.SplitParam)
	}
	return sets, nil
}

func (t *DefinedJobType) Description(job *pipeline.Job) string {
	desc := t.Summary
	if desc == "" {
		desc = t.TypeName
	}
	if t.SplitParam != "" {
		if v := job.Param(t.SplitParam); v != "" {
			return fmt.Sprintf("%s (%s)", desc, v)
		}
	}
	return desc
}
