package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T) (cfgPath, dbPath string) {
	t.Helper()
	dir := t.TempDir()
	defs := filepath.Join(dir, "pipelines.yaml")
	require.NoError(t, os.WriteFile(defs, []byte(`
pipelines:
  - name: hello
    steps:
      - name: greet
        kind: func
        func: log-params
`), 0o644))

	dbPath = filepath.Join(dir, "pipejob.db")
	cfgPath = filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(`
database:
  dsn: %s
pipeline:
  definitions: %s
  root: %s
log:
  level: error
`, dbPath, defs, dir)), 0o644))
	return cfgPath, dbPath
}

func execute(t *testing.T, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(context.Background())
}

func TestRunCommand(t *testing.T) {
	cfgPath, dbPath := writeTestConfig(t)

	require.NoError(t, execute(t, "--config", cfgPath, "run", "hello", "name=world", "--container", "/lab"))

	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	defer db.Close()

	var guid, status, container string
	require.NoError(t, db.QueryRow(`SELECT job_guid, status, container FROM pipeline_status`).Scan(&guid, &status, &container))
	assert.Equal(t, "COMPLETE", status)
	assert.Equal(t, "/lab", container)

	require.NoError(t, execute(t, "--config", cfgPath, "status", guid))
	require.NoError(t, execute(t, "--config", cfgPath, "list", "--status", "COMPLETE"))
	require.NoError(t, execute(t, "--config", cfgPath, "pipelines"))
	require.NoError(t, execute(t, "--config", cfgPath, "doctor"))
}

func TestCommandErrors(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown job type", []string{"run", "nope"}, "failed to submit job"},
		{"bad param", []string{"run", "hello", "novalue"}, "expected key=value"},
		{"missing job", []string{"status", "missing"}, "job missing not found"},
		{"retry missing job", []string{"retry", "missing"}, "job missing not found"},
		{"worker without redis", []string{"worker"}, "worker requires redis.address"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := execute(t, append([]string{"--config", cfgPath}, tt.args...)...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestMissingConfigFile(t *testing.T) {
	err := execute(t, "--config", filepath.Join(t.TempDir(), "nope.yaml"), "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")
}
