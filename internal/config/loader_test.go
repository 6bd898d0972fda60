package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_ParsesYAMLAndAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "listen-port: 9090\nauth-mode: STRICT\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.ListenPort)
	require.Equal(t, AuthStrict, cfg.AuthMode)
	require.Equal(t, 120*time.Second, cfg.RequestTimeout)
}

func TestLoad_RejectsInvalidAuthMode(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "auth-mode: NOT_A_MODE\n")

	_, err := Load(path)
	require.Error(t, err)
}

func TestNewWatcher_ReloadsOnFileChange(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "listen-port: 1111\nauth-mode: STRICT\n")

	w, err := NewWatcher(path)
	require.NoError(t, err)
	defer w.Close()
	require.Equal(t, 1111, w.Current().ListenPort)

	writeConfig(t, dir, "listen-port: 2222\nauth-mode: STRICT\n")

	require.Eventually(t, func() bool {
		return w.Current().ListenPort == 2222
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNewWatcher_KeepsPreviousSnapshotOnBadReload(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "listen-port: 3333\nauth-mode: STRICT\n")

	w, err := NewWatcher(path)
	require.NoError(t, err)
	defer w.Close()

	writeConfig(t, dir, "auth-mode: GARBAGE\n")

	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 3333, w.Current().ListenPort)
}
