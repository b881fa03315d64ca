package cmd

import (
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/docflow/internal/config"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docflow.yaml")

	out, _, err := executeCommand(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	loaded, err := config.NewLoaderWithViper(viper.New()).LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig().Server.Port, loaded.Server.Port)
	assert.Equal(t, config.DefaultConfig().OCR.Engine, loaded.OCR.Engine)
}

func TestConfigShow(t *testing.T) {
	useFakeEnv(t)

	out, _, err := executeCommand(t, "config", "show", "--root", "/lib")
	require.NoError(t, err)

	var shown config.Config
	require.NoError(t, yaml.Unmarshal([]byte(out), &shown))
	assert.Equal(t, "fake", shown.OCR.Engine)
	assert.Equal(t, "/lib", shown.Explorer.Root)
}

func TestServeCommandFlags(t *testing.T) {
	flags := serveCmd.Flags()
	for _, name := range []string{"host", "port", "cors-origin", "max-upload-size", "timeout", "shutdown-timeout", "requests-per-minute", "preset"} {
		assert.NotNil(t, flags.Lookup(name), "missing flag %s", name)
	}
}

func TestServeCommandInvalidPort(t *testing.T) {
	useFakeEnv(t)

	_, _, err := executeCommand(t, "serve", "--port", "70000")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid port number")
}
