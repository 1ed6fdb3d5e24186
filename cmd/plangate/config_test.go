package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omarluq/plangate/internal/config"
)

func initFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("output", "o", "", "output path")
	cmd.Flags().Bool("force", false, "overwrite existing")
}

func TestConfigValidate(t *testing.T) {
	path := useConfig(t, testConfig)

	cmd, out := newTestCmd(nil)
	require.NoError(t, runConfigValidate(cmd, nil))
	assert.Contains(t, out.String(), "✓ "+path+" is valid (3 plans, 1 keys)")
}

func TestConfigValidateReportsErrors(t *testing.T) {
	useConfig(t, testConfig+"  - key: orphan\n    plan: platinum\n")

	cmd, out := newTestCmd(nil)
	err := runConfigValidate(cmd, nil)
	require.Error(t, err)
	assert.Contains(t, out.String(), `keys[1].plan references unknown plan "platinum"`)
}

func TestConfigValidateMissingFile(t *testing.T) {
	prev := cfgFile
	cfgFile = filepath.Join(t.TempDir(), "missing.yaml")
	t.Cleanup(func() { cfgFile = prev })

	cmd, out := newTestCmd(nil)
	require.Error(t, runConfigValidate(cmd, nil))
	assert.Contains(t, out.String(), "✗ Config validation failed")
}

func TestConfigInitWritesExample(t *testing.T) {
	t.Parallel()

	output := filepath.Join(t.TempDir(), "nested", "plangate.yaml")
	cmd, out := newTestCmd(initFlags)
	require.NoError(t, cmd.Flags().Set("output", output))

	require.NoError(t, runConfigInit(cmd, nil))
	assert.Contains(t, out.String(), "Config file created at "+output)

	info, err := os.Stat(output)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	cfg, err := config.Load(output)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
}

func TestConfigInitRefusesOverwrite(t *testing.T) {
	t.Parallel()

	output := filepath.Join(t.TempDir(), "plangate.yaml")
	require.NoError(t, os.WriteFile(output, []byte("existing: content"), 0o600))

	cmd, _ := newTestCmd(initFlags)
	require.NoError(t, cmd.Flags().Set("output", output))
	err := runConfigInit(cmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--force")

	require.NoError(t, cmd.Flags().Set("force", "true"))
	require.NoError(t, runConfigInit(cmd, nil))

	data, err := os.ReadFile(filepath.Clean(output))
	require.NoError(t, err)
	assert.Equal(t, config.Example(), data)
}

func TestConfigInitDefaultPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cmd, _ := newTestCmd(initFlags)
	require.NoError(t, runConfigInit(cmd, nil))

	_, err := os.Stat(filepath.Join(home, ".config", appName, defaultConfigFile))
	require.NoError(t, err)
}
