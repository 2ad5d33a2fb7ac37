package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  port: 9090\n"))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Mode)
	assert.Equal(t, 72*time.Hour, cfg.Security.JWTTTLH)
	assert.Equal(t, 12, cfg.Security.BcryptCost)
	assert.Equal(t, "default.png", cfg.Profile.DefaultIcon)
	assert.True(t, cfg.Profile.HasIcon("rocket.png"))
	assert.Equal(t, 500*time.Millisecond, cfg.Script.Timeout)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("PHYSQUEST_SECURITY_JWT_SECRET", "from-env")
	cfg, err := Load(writeConfig(t, "security:\n  jwt_secret: from-file\n"))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Security.JWTSecret)
}

func TestLoad_DefaultIconAddedToList(t *testing.T) {
	cfg, err := Load(writeConfig(t, "profile:\n  default_icon: owl.png\n  icons: [atom.png]\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"owl.png", "atom.png"}, cfg.Profile.Icons)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NotNil(t, cfg)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 100, cfg.Ranking.Top)
	assert.False(t, cfg.Profile.HasIcon("nope.png"))
}

func TestLoad_DotEnvFiles(t *testing.T) {
	const localKey, sharedKey = "PHYSQUEST_SERVER_ADMIN_KEY", "PHYSQUEST_SECURITY_JWT_SECRET"
	for _, k := range []string{localKey, sharedKey} {
		k := k
		require.NoError(t, os.Unsetenv(k))
		t.Cleanup(func() { _ = os.Unsetenv(k) })
	}
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env.local"), []byte(localKey+"=from-local\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(localKey+"=from-env-file\n"+sharedKey+"=shared\n"), 0o644))
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load(writeConfig(t, "server:\n  admin_key: file\nsecurity:\n  jwt_secret: file\n"))
	require.NoError(t, err)
	// .env.local is read first and .env does not override it.
	assert.Equal(t, "from-local", cfg.Server.AdminKey)
	assert.Equal(t, "shared", cfg.Security.JWTSecret)
}
