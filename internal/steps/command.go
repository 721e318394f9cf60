package steps

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"pipejob/internal/pipeline"
)

// CommandFactory runs an external tool. Arguments, inputs, outputs and the
// output file may reference ${param} placeholders plus ${input}, ${root},
// ${workdir} and ${guid}.
type CommandFactory struct {
	pipeline.FactorySettings

	// Run is a shell command line, run with "sh -c". It takes precedence over
	// Command and Args.
	Run        string
	Command    string
	Args       []string
	Env        map[string]string
	Inputs     []string
	Outputs    []string
	OutputFile string
	// When names a job param; the step only applies to jobs where it is set
	// to something other than "false".
	When string
}

var _ pipeline.WorkDirTaskFactory = (*CommandFactory)(nil)

func (f *CommandFactory) Kind() pipeline.TaskKind { return pipeline.KindCommand }

func (f *CommandFactory) CreateTask(*pipeline.Job) (pipeline.Task, error) {
	return &commandTask{factory: f}, nil
}

func (f *CommandFactory) IsParticipant(job *pipeline.Job) (bool, error) {
	return participates(f.When, job), nil
}

// IsJobComplete is true when every declared output already exists.
func (f *CommandFactory) IsJobComplete(job *pipeline.Job) (bool, error) {
	if len(f.Outputs) == 0 {
		return false, nil
	}
	vars := jobVars(job, nil)
	for _, out := range f.Outputs {
		path := resolve(job.PipelineRoot(), expand(out, vars))
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				return false, nil
			}
			return false, err
		}
	}
	return true, nil
}

type commandTask struct {
	factory *CommandFactory
}

func (t *commandTask) Factory() pipeline.TaskFactory { return t.factory }

func (t *commandTask) Run(ctx context.Context, rc *pipeline.RunContext) (*pipeline.RecordedActionSet, error) {
	f := t.factory
	job := rc.Job
	vars := jobVars(job, rc.WorkDir)

	var spec pipeline.ProcessSpec
	if f.Run != "" {
		spec.Path = "/bin/sh"
		spec.Args = []string{"-c", expand(f.Run, vars)}
	} else {
		spec.Path = expand(f.Command, vars)
		for _, a := range f.Args {
			spec.Args = append(spec.Args, expand(a, vars))
		}
	}
	if rc.WorkDir != nil {
		spec.Dir = rc.WorkDir.Path()
	}
	if f.OutputFile != "" {
		spec.OutputFile = resolve(job.PipelineRoot(), expand(f.OutputFile, vars))
	}
	keys := make([]string, 0, len(f.Env))
	for k := range f.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		spec.Env = append(spec.Env, k+"="+expand(f.Env[k], vars))
	}

	action := pipeline.RecordedAction{
		Name:        f.TaskID.Name,
		Description: f.Description,
		Inputs:      expandAll(f.Inputs, vars),
		Outputs:     expandAll(f.Outputs, vars),
		Start:       time.Now().UTC(),
	}
	for _, a := range spec.Args {
		action.Params = append(action.Params, pipeline.Param{Name: "arg", Value: a})
	}

	if err := job.RunSubProcess(ctx, spec); err != nil {
		return nil, err
	}
	action.End = time.Now().UTC()
	return pipeline.NewRecordedActionSet(action), nil
}

func participates(param string, job *pipeline.Job) bool {
	if param == "" {
		return true
	}
	v := strings.TrimSpace(job.Param(param))
	return v != "" && !strings.EqualFold(v, "false")
}

func jobVars(job *pipeline.Job, wd *pipeline.WorkDirectory) map[string]string {
	vars := job.Params()
	vars["root"] = job.PipelineRoot()
	vars["guid"] = job.GUID()
	if wd != nil {
		vars["workdir"] = wd.Path()
	} else {
		vars["workdir"] = job.PipelineRoot()
	}
	return vars
}

// expand substitutes ${name} and $name references. Unknown names expand to "".
func expand(s string, vars map[string]string) string {
	return os.Expand(s, func(name string) string { return vars[name] })
}

func expandAll(in []string, vars map[string]string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = expand(s, vars)
	}
	return out
}

func resolve(root, path string) string {
	if path == "" || filepath.IsAbs(path) || root == "" {
		return path
	}
	return filepath.Join(root, path)
}
