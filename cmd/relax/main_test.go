package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Turalchik/halo-relax/transport/mpicgo"
)

func execute(args ...string) error {
	cmd := newCommand()
	cmd.SetArgs(args)
	return cmd.Execute()
}

func TestLocalRun(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, execute("-p", "4", "-n", "3", "-t", "2", "-o", "--output-dir", dir, "--log-level", "error"))
	_, err := os.Stat(filepath.Join(dir, "rank3_2"))
	assert.NoError(t, err)
}

func TestNonSquareFails(t *testing.T) {
	assert.Error(t, execute("-p", "5", "-n", "2", "-t", "1", "--log-level", "error"))
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relax.yaml")
	require.NoError(t, os.WriteFile(path, []byte("n: 0\n"), 0o644))
	assert.Error(t, execute("-c", path), "file value must be validated")
	assert.NoError(t, execute("-c", path, "-n", "2", "-t", "1", "-p", "1", "--log-level", "error"))
}

func TestMPIWithoutTag(t *testing.T) {
	if mpicgo.Built {
		t.Skip("MPI bindings compiled in")
	}
	assert.Error(t, execute("--transport", "mpi", "--log-level", "error"))
}
