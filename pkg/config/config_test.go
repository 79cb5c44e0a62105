package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rpfix.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
ignoreDiskNumbers: false
allowTrailingData: true
outDir: fixed
extensions: [zip, ".MCPACK"]
journal: /var/log/rpfix.jsonl
logs:
  file: logs/rpfix.log
  maxSizeMB: 5
  maxBackups: 2
  compress: true
`)
	base := filepath.Dir(path)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.False(t, cfg.IgnoreDiskNumbers)
	assert.True(t, cfg.AllowTrailingData)
	assert.Equal(t, filepath.Join(base, "fixed"), cfg.OutDir)
	assert.Equal(t, []string{".zip", ".mcpack"}, cfg.Extensions)
	assert.Equal(t, "/var/log/rpfix.jsonl", cfg.Journal)
	assert.Equal(t, filepath.Join(base, "logs", "rpfix.log"), cfg.Logs.File)
	assert.Equal(t, 5, cfg.Logs.MaxSizeMB)
	assert.Equal(t, 2, cfg.Logs.MaxBackups)
	assert.Equal(t, 28, cfg.Logs.MaxAgeDays)
	assert.True(t, cfg.Logs.Compress)
}

func TestLoadKeepsDefaultsForMissingKeys(t *testing.T) {
	cfg, err := Load(writeConfig(t, "allowTrailingData: true\n"))
	require.NoError(t, err)

	assert.True(t, cfg.IgnoreDiskNumbers)
	assert.True(t, cfg.AllowTrailingData)
	assert.Equal(t, []string{".zip", ".mcpack"}, cfg.Extensions)
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, "outDir: [unterminated\n"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, "unknownKey: 1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknownKey")
}
