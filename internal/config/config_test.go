package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(&CommandLineArgs{TargetDir: "/data", SourceDir: "/src"})
	require.NoError(t, err)
	assert.EqualValues(t, 8192, cfg.PageSize)
	assert.EqualValues(t, 131072, cfg.RelsegSize)
	assert.Equal(t, "none", cfg.ChecksumHook)
}

func TestLoadRejectsNeitherSourceFlag(t *testing.T) {
	_, err := Load(&CommandLineArgs{TargetDir: "/data"})
	require.Error(t, err)
}

func TestLoadRejectsBothSourceFlags(t *testing.T) {
	_, err := Load(&CommandLineArgs{TargetDir: "/data", SourceDir: "/src", SourceConn: "conn"})
	require.Error(t, err)
}

func TestLoadRejectsMissingTargetDir(t *testing.T) {
	_, err := Load(&CommandLineArgs{SourceDir: "/src"})
	require.Error(t, err)
}

func TestLoadOverlaysIniFileThenCLIFlagsWin(t *testing.T) {
	dir := t.TempDir()
	iniPath := filepath.Join(dir, "pg-rewind.ini")
	content := "[rewind]\npage_size = 4096\nrelseg_size = 65536\nchecksum_hook = xxhash\nsource_dir = /from-ini\n"
	require.NoError(t, os.WriteFile(iniPath, []byte(content), 0644))

	cfg, err := Load(&CommandLineArgs{TargetDir: "/data", ConfigFile: iniPath})
	require.NoError(t, err)
	assert.EqualValues(t, 4096, cfg.PageSize)
	assert.EqualValues(t, 65536, cfg.RelsegSize)
	assert.Equal(t, "xxhash", cfg.ChecksumHook)
	assert.Equal(t, "/from-ini", cfg.SourceDir)

	cfg2, err := Load(&CommandLineArgs{TargetDir: "/data", ConfigFile: iniPath, SourceDir: "/from-cli"})
	require.NoError(t, err)
	assert.Equal(t, "/from-cli", cfg2.SourceDir)
}

func TestLoadRejectsUnknownChecksumHook(t *testing.T) {
	dir := t.TempDir()
	iniPath := filepath.Join(dir, "pg-rewind.ini")
	require.NoError(t, os.WriteFile(iniPath, []byte("[rewind]\nchecksum_hook = md5\n"), 0644))

	_, err := Load(&CommandLineArgs{TargetDir: "/data", SourceDir: "/src", ConfigFile: iniPath})
	require.Error(t, err)
}
