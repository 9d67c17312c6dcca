package app

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/vgateway/pkg/vgateway/sessionfile"
)

func TestExitCode_MapsExitErrAndFallsBackToGeneric(t *testing.T) {
	t.Parallel()

	assert.Equal(t, exitOK, ExitCode(nil))
	assert.Equal(t, exitGenericError, ExitCode(errors.New("boom")))
	assert.Equal(t, exitConfigError, ExitCode(exitErr{code: exitConfigError, err: errors.New("bad config")}))
}

func TestLoadAndValidate_RejectsMissingFile(t *testing.T) {
	t.Parallel()

	_, err := loadAndValidate(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoadAndValidate_AcceptsMinimalDocument(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "gateway.yaml")
	doc := `
server:
  host: 127.0.0.1
  port: 4483
  transport: streamable-http
backends:
  alpha:
    type: stdio
    command: echo
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	resolved, err := loadAndValidate(path)
	require.NoError(t, err)
	assert.Equal(t, 4483, resolved.Server.Port)
	require.Len(t, resolved.Backends, 1)
}

func TestSessionsDir_HonorsEnvironmentOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("VGATEWAY_SESSIONS_DIR", dir)
	assert.Equal(t, dir, sessionsDir())
}

func TestRenderSessionsTable_HandlesEmptyAndPopulated(t *testing.T) {
	t.Parallel()

	require.NoError(t, renderSessionsTable(nil))
	require.NoError(t, renderSessionsTable([]sessionfile.Info{
		{Name: "a", PID: 1, Host: "127.0.0.1", Port: 4483, StartedAt: time.Now()},
	}))
}
