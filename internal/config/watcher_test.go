package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestWatcherReloadReachesCallbacks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfigFile(t, path, "environment: development\nmemory:\n  volumeThreshold: 50\n")

	initial, err := Load(path)
	require.NoError(t, err)

	w, err := NewWatcher(path, initial, nil)
	require.NoError(t, err)
	defer w.Stop()

	reloaded := make(chan *Config, 1)
	w.OnReload(func(cfg *Config) { reloaded <- cfg })

	writeConfigFile(t, path, "environment: development\nmemory:\n  volumeThreshold: 25\n")

	select {
	case cfg := <-reloaded:
		assert.Equal(t, 25, cfg.Memory.VolumeThreshold)
		assert.Equal(t, 25, w.Current().Memory.VolumeThreshold)
	case <-time.After(5 * time.Second):
		t.Fatal("reload callback never fired")
	}
}

func TestWatcherKeepsPreviousConfigOnInvalidReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfigFile(t, path, "environment: development\nmemory:\n  volumeThreshold: 50\n")

	initial, err := Load(path)
	require.NoError(t, err)

	w, err := NewWatcher(path, initial, nil)
	require.NoError(t, err)
	defer w.Stop()

	reloaded := make(chan *Config, 1)
	w.OnReload(func(cfg *Config) { reloaded <- cfg })

	// Review above approve fails cross-field validation.
	writeConfigFile(t, path, "environment: development\naccess:\n  reviewThreshold: 0.9\n  approveThreshold: 0.8\n")

	select {
	case <-reloaded:
		t.Fatal("an invalid config must not reach callbacks")
	case <-time.After(1500 * time.Millisecond):
	}
	assert.Equal(t, 50, w.Current().Memory.VolumeThreshold)
}

func TestWatcherInertOutsideDevelopment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfigFile(t, path, "environment: production\n")

	cfg := Default()
	cfg.Environment = Production

	w, err := NewWatcher(path, cfg, nil)
	require.NoError(t, err)
	defer w.Stop()

	assert.Equal(t, cfg, w.Current(), "outside development the watcher only serves the initial config")
}
