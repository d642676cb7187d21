package fabric

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeDockerBinary(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "docker")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

func TestDockerInspectorIsRunning(t *testing.T) {
	d := &DockerInspector{Binary: fakeDockerBinary(t, `echo "true"`)}
	running, err := d.IsRunning(context.Background(), "gaia-core")
	require.NoError(t, err)
	assert.True(t, running)

	d = &DockerInspector{Binary: fakeDockerBinary(t, `echo "false"`)}
	running, err = d.IsRunning(context.Background(), "gaia-core")
	require.NoError(t, err)
	assert.False(t, running)
}

func TestDockerInspectorIsRunningCommandFailure(t *testing.T) {
	d := &DockerInspector{Binary: fakeDockerBinary(t, "exit 1")}
	_, err := d.IsRunning(context.Background(), "gaia-core")
	require.Error(t, err)
}

func TestDockerInspectorEnvOverrideNeedsComposeFile(t *testing.T) {
	d := &DockerInspector{Binary: fakeDockerBinary(t, "exit 0")}
	err := d.RestartWithEnv(context.Background(), "gaia-core", map[string]string{"DEBUG": "1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compose file")
}

func TestDockerInspectorPlainRestart(t *testing.T) {
	d := &DockerInspector{Binary: fakeDockerBinary(t, "exit 0")}
	require.NoError(t, d.RestartWithEnv(context.Background(), "gaia-core", nil))
}
