package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigInitAndVet(t *testing.T) {
	newTestEnv(t)
	path := filepath.Join(os.Getenv("HOME"), ".hpkg", "config.yaml")

	_, err := run(t, "config", "vet")
	assert.Equal(t, ExitNotFound, ExitCodeFromError(err))

	out, err := run(t, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, path)

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "workers: 1")
	assert.Contains(t, string(data), "compiler: gcc")

	_, err = run(t, "config", "init")
	assert.Equal(t, ExitValidationError, ExitCodeFromError(err), "existing config needs --force")

	_, err = run(t, "config", "init", "--force")
	require.NoError(t, err)

	out, err = run(t, "config", "vet")
	require.NoError(t, err)
	assert.Contains(t, out, "configuration is valid")
}

func TestConfigVetInvalid(t *testing.T) {
	newTestEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: 0\nnamespace: default\n"), 0o644))

	_, err := run(t, "config", "vet", "--config", path)
	require.Error(t, err)
	assert.Equal(t, ExitValidationError, ExitCodeFromError(err))
}

func TestBrokenConfigBlocksOtherCommands(t *testing.T) {
	newTestEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: [\n"), 0o644))

	_, err := run(t, "spec", "hello", "--config", path)
	assert.Equal(t, ExitValidationError, ExitCodeFromError(err))

	_, err = run(t, "version", "--short", "--config", path)
	assert.NoError(t, err)
}
