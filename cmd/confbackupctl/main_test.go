package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDiffCommand(t *testing.T) {
	dir := t.TempDir()
	old := writeFile(t, dir, "old.cfg", "hostname r1\nvlan 10\n")
	cur := writeFile(t, dir, "new.cfg", "hostname r1\nvlan 20\n")

	out, err := run(t, "diff", old, cur)
	require.NoError(t, err)
	assert.Contains(t, out, "-vlan 10\n+vlan 20\n")
	assert.Contains(t, out, "changes: 2 (+0 -0 ~1)")

	out, err = run(t, "diff", "--summary", old, old)
	require.NoError(t, err)
	assert.Equal(t, "changes: 0 (+0 -0 ~0)\n", out)

	_, err = run(t, "diff", old)
	assert.Error(t, err)
}

func TestArtifactCommands(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "config.yaml", "database:\n  sqlite:\n    path: "+filepath.Join(dir, "ctl.db")+
		"\n    log_level: silent\nstorage:\n  local:\n    base_dir: "+filepath.Join(dir, "artifacts")+"\n")
	snap := writeFile(t, dir, "snap.cfg", "hostname r1\n")

	out, err := run(t, "--config", cfgPath, "artifact", "put", snap)
	require.NoError(t, err)
	fields := bytes.Fields([]byte(out))
	require.GreaterOrEqual(t, len(fields), 4)
	hash := string(fields[0])
	assert.Len(t, hash, 64)
	assert.Contains(t, out, "created")

	out, err = run(t, "--config", cfgPath, "artifact", "put", snap)
	require.NoError(t, err)
	assert.Contains(t, out, "existing")

	out, err = run(t, "--config", cfgPath, "artifact", "get", hash)
	require.NoError(t, err)
	assert.Equal(t, "hostname r1\n", out)

	out, err = run(t, "--config", cfgPath, "artifact", "verify", hash)
	require.NoError(t, err)
	assert.Contains(t, out, "OK")

	_, err = run(t, "--config", cfgPath, "artifact", "verify", hash, "deadbeef")
	assert.Error(t, err)

	out, err = run(t, "--config", cfgPath, "artifact", "usage")
	require.NoError(t, err)
	assert.Contains(t, out, "snapshots: 1")
}
