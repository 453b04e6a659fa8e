package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestLoadFile_MissingIsEmpty(t *testing.T) {
	c, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.Equal(t, Config{}, c)
	require.False(t, c.Configured())
	require.Equal(t, DefaultTimeout, c.Timeout())
}

func TestSaveFile_RoundTrip(t *testing.T) {
	p := filepath.Join(t.TempDir(), "sub", "config.yaml")
	c := Config{URL: "https://x.test", AnonKey: "key", ListID: "l1", RequestTimeout: 5 * time.Second}
	require.NoError(t, c.SaveFile(p))
	_, err := uuid.Parse(c.MemberID)
	require.NoError(t, err)

	st, err := os.Stat(p)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), st.Mode().Perm())

	got, err := LoadFile(p)
	require.NoError(t, err)
	require.Equal(t, c, got)
	require.True(t, got.Configured())
	require.Equal(t, 5*time.Second, got.Timeout())
}

func TestLoadFile_BadYAML(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte("url: [unclosed"), 0o600))
	_, err := LoadFile(p)
	require.ErrorContains(t, err, "parse config")
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("GROCERIES_HOME", dir)
	c := Config{URL: "https://file.test", AnonKey: "file-key", ListID: "file-list"}
	require.NoError(t, c.Save())

	t.Setenv("GROCERIES_URL", "https://env.test")
	t.Setenv("GROCERIES_LIST", "env-list")
	got, err := Load()
	require.NoError(t, err)
	require.Equal(t, "https://env.test", got.URL)
	require.Equal(t, "file-key", got.AnonKey)
	require.Equal(t, "env-list", got.ListID)

	onDisk, err := LoadFile(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	require.Equal(t, "https://file.test", onDisk.URL)
}

func TestSet(t *testing.T) {
	var c Config
	require.NoError(t, c.Set("URL", "https://x.test/"))
	require.Equal(t, "https://x.test", c.URL)
	require.NoError(t, c.Set("request_timeout", "3s"))
	require.Equal(t, 3*time.Second, c.RequestTimeout)

	require.Error(t, c.Set("url", "x.test"))
	require.Error(t, c.Set("request_timeout", "-1s"))
	require.Error(t, c.Set("member_id", "not-a-uuid"))
	require.ErrorContains(t, c.Set("colour", "red"), "unknown key")
}

func TestFields_MasksKey(t *testing.T) {
	c := Config{AnonKey: "eyJhbGciOiJIUzI1NiJ9.payload.sig"}
	for _, kv := range c.Fields() {
		if kv[0] == "anon_key" {
			require.Equal(t, "eyJh****.sig", kv[1])
		}
	}
	require.Equal(t, "***", mask("abc"))
}
