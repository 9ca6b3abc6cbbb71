package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/i5heu/ouroboros-keybroker/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keybroker.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
paths: [/from/file]
listen: 127.0.0.1:1
vetkd:
  url: http://file/
`), 0o600))

	fc, err := loadConfig(daemonConfig{
		configPath: path,
		dataPath:   dir,
		listenAddr: "127.0.0.1:2",
		inMemory:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{dir}, fc.Paths)
	assert.Equal(t, "127.0.0.1:2", fc.Listen)
	assert.Equal(t, "http://file/", fc.VetKD.URL)
	assert.True(t, fc.InMemory)
}

func TestLoadConfig_Defaults(t *testing.T) {
	fc, err := loadConfig(daemonConfig{vetkdURL: "http://flag/"})
	require.NoError(t, err)
	assert.Equal(t, []string{"./data"}, fc.Paths)
	assert.Equal(t, ":4280", fc.Listen)
	assert.Equal(t, "http://flag/", fc.VetKD.URL)
}

func TestRun_NeedsDerivationService(t *testing.T) {
	err := run(t.Context(), daemonConfig{dataPath: t.TempDir(), inMemory: true}, logging.New(io.Discard, slog.LevelError, true))
	assert.ErrorContains(t, err, "no key derivation service")
}
