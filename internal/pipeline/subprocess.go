package pipeline

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ProcessSpec describes an external tool invocation.
type ProcessSpec struct {
	Path string
	Args []string
	// Dir is the working directory. Empty uses the pipeline root.
	Dir string
	// Env entries are added to the inherited environment.
	Env []string
	// OutputFile receives the combined output instead of the job log.
	OutputFile string
}

// RunSubProcess runs an external tool to completion. Combined stdout and
// stderr go to the job log, or to OutputFile with periodic progress messages.
func (j *Job) RunSubProcess(ctx context.Context, spec ProcessSpec) error {
	exe := j.resolveExecutable(spec.Path)
	name := filepath.Base(exe)
	log := j.Logger().WithField("command", name)

	cmd := exec.CommandContext(ctx, exe, spec.Args...)
	cmd.Dir = spec.Dir
	if cmd.Dir == "" {
		cmd.Dir = j.state.PipelineRoot
	}
	cmd.Env = processEnv(os.Environ(), spec.Env, BuildPath(j.svc.ToolsDir, exe, os.Getenv("PATH")))

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &ProcessStartError{Command: name, Err: err}
	}
	cmd.Stderr = cmd.Stdout

	var sink io.WriteCloser
	if spec.OutputFile != "" {
		f, err := os.Create(spec.OutputFile)
		if err != nil {
			return fmt.Errorf("open output file %s: %w", spec.OutputFile, err)
		}
		sink = f
	}

	log.Infof("Running: %s %s", exe, strings.Join(spec.Args, " "))
	if err := cmd.Start(); err != nil {
		if sink != nil {
			sink.Close()
		}
		return &ProcessStartError{Command: name, Denied: errors.Is(err, fs.ErrPermission), Err: err}
	}

	lines, copyErr := j.streamOutput(stdout, sink, spec.OutputFile)
	waitErr := cmd.Wait()
	if sink != nil {
		if err := sink.Close(); err != nil && copyErr == nil {
			copyErr = fmt.Errorf("close output file %s: %w", spec.OutputFile, err)
		}
		log.Infof("%d lines written to %s", lines, spec.OutputFile)
	}

	if ctx.Err() != nil {
		return &InterruptedError{Command: name, Err: ctx.Err()}
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return &ExitError{Command: name, Code: exitErr.ExitCode()}
		}
		return fmt.Errorf("wait for %s: %w", name, waitErr)
	}
	if err := j.CheckInterrupted(); err != nil {
		return &InterruptedError{Command: name, Err: err}
	}
	return copyErr
}

// streamOutput copies the process output line by line. Lines have no length
// limit; a final line without a newline still counts.
func (j *Job) streamOutput(r io.Reader, sink io.Writer, target string) (int, error) {
	log := j.Logger()
	every := j.svc.progressLines()
	br := bufio.NewReader(r)

	var (
		lines    int
		writeErr error
	)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			lines++
			line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
			switch {
			case sink == nil:
				log.Info(line)
			case writeErr != nil:
				// Keep reading so the process can exit.
			default:
				if _, werr := fmt.Fprintln(sink, line); werr != nil {
					writeErr = fmt.Errorf("write output file %s: %w", target, werr)
				} else if lines%every == 0 {
					log.Infof("%d lines written to %s", lines, target)
				}
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			// Drain so the process is not blocked on a full pipe.
			_, _ = io.Copy(io.Discard, r)
			if writeErr == nil {
				writeErr = fmt.Errorf("read process output: %w", err)
			}
			break
		}
	}
	return lines, writeErr
}

// resolveExecutable prefers a bare command name found in the tools directory.
func (j *Job) resolveExecutable(path string) string {
	if strings.ContainsRune(path, os.PathSeparator) || j.svc.ToolsDir == "" {
		return path
	}
	candidate := filepath.Join(j.svc.ToolsDir, path)
	if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
		return candidate
	}
	return path
}

// BuildPath returns the PATH a subprocess runs with: the tools directory, then
// the executable's own directory when it differs, then current.
func BuildPath(toolsDir, exe, current string) string {
	var parts []string
	if toolsDir != "" {
		parts = append(parts, toolsDir)
	}
	if strings.ContainsRune(exe, os.PathSeparator) {
		dir := filepath.Dir(exe)
		if dir != "" && filepath.Clean(dir) != filepath.Clean(toolsDir) {
			parts = append(parts, dir)
		}
	}
	if current != "" {
		parts = append(parts, current)
	}
	return strings.Join(parts, string(os.PathListSeparator))
}

func processEnv(base, extra []string, path string) []string {
	env := make([]string, 0, len(base)+len(extra)+1)
	for _, kv := range base {
		if strings.HasPrefix(kv, "PATH=") {
			continue
		}
		env = append(env, kv)
	}
	env = append(env, extra...)
	return append(env, "PATH="+path)
}
