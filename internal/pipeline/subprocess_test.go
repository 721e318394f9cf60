package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func newSubprocessJob(t *testing.T) (*fixture, *Job) {
	t.Helper()
	fx := newFixture(t)
	fx.register("convert", nil, newStub("a"))
	job, err := fx.svc.NewJob("convert", BackgroundInfo{}, t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { job.Close() })
	return fx, job
}

func TestRunSubProcessLogsOutput(t *testing.T) {
	_, job := newSubprocessJob(t)

	err := job.RunSubProcess(context.Background(), ProcessSpec{
		Path: "/bin/sh",
		Args: []string{"-c", "echo to-stdout; echo to-stderr 1>&2"},
	})
	require.NoError(t, err)
	require.NoError(t, job.Close())

	data, err := os.ReadFile(job.LogFile())
	require.NoError(t, err)
	assert.Contains(t, string(data), "to-stdout")
	assert.Contains(t, string(data), "to-stderr")
}

func TestRunSubProcessOutputFile(t *testing.T) {
	fx, job := newSubprocessJob(t)
	fx.svc.ProgressLines = 2
	out := filepath.Join(t.TempDir(), "out.txt")

	err := job.RunSubProcess(context.Background(), ProcessSpec{
		Path:       "/bin/sh",
		Args:       []string{"-c", "for i in 1 2 3 4 5; do echo line$i; done"},
		OutputFile: out,
	})
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "line1\nline2\nline3\nline4\nline5\n", string(data))

	require.NoError(t, job.Close())
	logData, err := os.ReadFile(job.LogFile())
	require.NoError(t, err)
	assert.Contains(t, string(logData), "2 lines written to")
	assert.Contains(t, string(logData), "4 lines written to")
	assert.Contains(t, string(logData), "5 lines written to")
	assert.NotContains(t, string(logData), "line3")
}

func TestRunSubProcessLongLine(t *testing.T) {
	_, job := newSubprocessJob(t)
	out := filepath.Join(t.TempDir(), "out.txt")

	err := job.RunSubProcess(context.Background(), ProcessSpec{
		Path:       "/bin/sh",
		Args:       []string{"-c", "head -c 2000000 /dev/zero | tr '\\0' x; echo; printf tail"},
		OutputFile: out,
	})
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Len(t, lines[0], 2000000)
	assert.Equal(t, strings.Repeat("x", 10), lines[0][:10])
	assert.Equal(t, "tail", lines[1])
}

func TestRunSubProcessExitCode(t *testing.T) {
	_, job := newSubprocessJob(t)

	err := job.RunSubProcess(context.Background(), ProcessSpec{Path: "/bin/sh", Args: []string{"-c", "exit 3"}})

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 3, exitErr.Code)
	assert.Equal(t, "sh", exitErr.Command)
}

func TestRunSubProcessStartFailures(t *testing.T) {
	_, job := newSubprocessJob(t)
	dir := t.TempDir()

	t.Run("missing", func(t *testing.T) {
		err := job.RunSubProcess(context.Background(), ProcessSpec{Path: filepath.Join(dir, "nope")})
		var startErr *ProcessStartError
		require.ErrorAs(t, err, &startErr)
		assert.False(t, startErr.Denied)
	})

	t.Run("not executable", func(t *testing.T) {
		if os.Geteuid() == 0 {
			t.Skip("root ignores execute permission checks")
		}
		path := filepath.Join(dir, "plain")
		require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o644))
		err := job.RunSubProcess(context.Background(), ProcessSpec{Path: path})
		var startErr *ProcessStartError
		require.ErrorAs(t, err, &startErr)
		assert.True(t, startErr.Denied)
	})
}

func TestRunSubProcessInterrupted(t *testing.T) {
	_, job := newSubprocessJob(t)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := job.RunSubProcess(ctx, ProcessSpec{Path: "/bin/sh", Args: []string{"-c", "exec sleep 10"}})

	assert.ErrorIs(t, err, ErrInterrupted)
	var intr *InterruptedError
	assert.ErrorAs(t, err, &intr)
}

func TestRunSubProcessToolsDir(t *testing.T) {
	fx, job := newSubprocessJob(t)
	tools := t.TempDir()
	fx.svc.ToolsDir = tools
	writeScript(t, tools, "helper", `echo helped`)
	writeScript(t, tools, "convert", `helper; echo "PATH=$PATH"`)
	out := filepath.Join(t.TempDir(), "out.txt")

	err := job.RunSubProcess(context.Background(), ProcessSpec{Path: "convert", OutputFile: out})
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "helped")
	assert.True(t, strings.Contains(string(data), "PATH="+tools+string(os.PathListSeparator)))
}

func TestBuildPath(t *testing.T) {
	sep := string(os.PathListSeparator)
	tests := []struct {
		name    string
		tools   string
		exe     string
		current string
		want    string
	}{
		{"tools and exe dir", "/opt/tools", "/opt/bin/convert", "/usr/bin", "/opt/tools" + sep + "/opt/bin" + sep + "/usr/bin"},
		{"exe in tools dir", "/opt/tools", "/opt/tools/convert", "/usr/bin", "/opt/tools" + sep + "/usr/bin"},
		{"bare name", "/opt/tools", "convert", "/usr/bin", "/opt/tools" + sep + "/usr/bin"},
		{"no tools dir", "", "/opt/bin/convert", "/usr/bin", "/opt/bin" + sep + "/usr/bin"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildPath(tt.tools, tt.exe, tt.current))
		})
	}
}
