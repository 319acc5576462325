package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testYAML = `
dataset:
  sensor: ssmi
  path: /data/ssmi
  hemisphere: north
  frequency: "19"
  polarization: h
runs:
  - name: january
    start: "2011-01-01"
    end: "2014-01-31"
    increment: multiyear-month
  - name: decade
    start: "2001-01-01"
    end: "2010-12-31"
    strategy: streaming
output:
  directory: /tmp/climatology
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "climatology.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testYAML), 0o600))
	return path
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "climatology "+version)
}

func TestConfigCheck(t *testing.T) {
	out, err := execute(t, "--config", writeConfig(t), "config", "check")
	require.NoError(t, err)
	assert.Contains(t, out, "january")
	assert.Contains(t, out, "same-month")
	assert.Contains(t, out, "streaming")
}

func TestConfigImportThenLoadFromSQLite(t *testing.T) {
	yamlPath := writeConfig(t)
	db := filepath.Join(t.TempDir(), "config.db")

	out, err := execute(t, "config", "import", yamlPath, "--db", db, "--profile", "ssmi-north")
	require.NoError(t, err)
	assert.Contains(t, out, `imported 2 run(s) into profile "ssmi-north"`)

	_, err = execute(t, "config", "import", yamlPath, "--db", db, "--profile", "ssmi-north")
	assert.Error(t, err, "an existing profile is not overwritten without --force")

	_, err = execute(t, "config", "import", yamlPath, "--db", db, "--profile", "ssmi-north", "--force")
	require.NoError(t, err)

	out, err = execute(t, "--config", db, "--config-backend", "sqlite", "--profile", "ssmi-north", "config", "check")
	require.NoError(t, err)
	assert.Contains(t, out, "decade")
}

func TestConfigErrors(t *testing.T) {
	_, err := execute(t, "--config", writeConfig(t), "--config-backend", "toml", "config", "check")
	assert.ErrorContains(t, err, "unsupported configuration backend")

	_, err = execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "config", "check")
	assert.Error(t, err)

	_, err = execute(t, "config", "import", writeConfig(t))
	assert.ErrorIs(t, err, ErrMissingFlag)
}

func TestDetectNeedsStart(t *testing.T) {
	_, err := execute(t, "--config", writeConfig(t), "detect", "january")
	assert.ErrorIs(t, err, ErrMissingFlag)

	_, err = execute(t, "--config", writeConfig(t), "detect", "january", "--start", "2014/01/05")
	assert.Error(t, err)
}
