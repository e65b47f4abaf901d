package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setRequired sets the minimum environment for a loadable config and clears
// the optional knobs so earlier tests cannot leak in.
func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("BACKEND_URL", "http://backend.test")
	t.Setenv("API_KEY", "secret")
	for _, key := range []string{
		"FUNCD_LISTEN_ADDR", "PORT", "FUNCTIONS_DIR", "FUNCTION_RUNNER",
		"FUNCTION_TIMEOUT", "CORS_ORIGINS", "POSTGRES_HOST", "POSTGRES_PORT",
		"POSTGRES_USER", "POSTGRES_PASSWORD", "POSTGRES_DB", "FUNCD_CONFIG",
		"FUNCD_API_KEY",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "http://backend.test", cfg.BackendURL)
	assert.Equal(t, "secret", cfg.APIKey)
	assert.Equal(t, ":8001", cfg.ListenAddr)
	assert.Equal(t, "./functions", cfg.FunctionsDir)
	assert.Equal(t, []string{"deno", "run", "-A"}, cfg.Runner)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.False(t, cfg.Postgres.Enabled())
}

func TestLoadMissingRequired(t *testing.T) {
	setRequired(t)
	t.Setenv("BACKEND_URL", "")
	os.Unsetenv("BACKEND_URL")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BACKEND_URL")

	setRequired(t)
	t.Setenv("API_KEY", "")
	os.Unsetenv("API_KEY")

	_, err = Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API_KEY")
}

func TestLoadTimeoutMilliseconds(t *testing.T) {
	setRequired(t)
	t.Setenv("FUNCTION_TIMEOUT", "1500")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, cfg.Timeout)
}

func TestLoadInvalidTimeout(t *testing.T) {
	setRequired(t)
	for _, v := range []string{"abc", "-5", "0", "1.5s"} {
		t.Setenv("FUNCTION_TIMEOUT", v)
		_, err := Load("")
		assert.Error(t, err, "FUNCTION_TIMEOUT=%q", v)
	}
}

func TestLoadListenAddrPrecedence(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "9090")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.ListenAddr)

	t.Setenv("FUNCD_LISTEN_ADDR", "127.0.0.1:7070")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7070", cfg.ListenAddr)
}

func TestLoadInvalidListenAddr(t *testing.T) {
	setRequired(t)
	t.Setenv("FUNCD_LISTEN_ADDR", "no-port")

	_, err := Load("")
	assert.Error(t, err)
}

func TestLoadRunnerSplit(t *testing.T) {
	setRequired(t)
	t.Setenv("FUNCTION_RUNNER", "node --experimental-strip-types")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"node", "--experimental-strip-types"}, cfg.Runner)
}

func TestLoadCORSOrigins(t *testing.T) {
	setRequired(t)
	t.Setenv("CORS_ORIGINS", "http://a.test, http://b.test ,")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORSOrigins)
}

func TestLoadPostgres(t *testing.T) {
	setRequired(t)
	t.Setenv("POSTGRES_HOST", "db.internal")
	t.Setenv("POSTGRES_PASSWORD", "pw")

	cfg, err := Load("")
	require.NoError(t, err)
	require.True(t, cfg.Postgres.Enabled())
	assert.Equal(t, "db.internal", cfg.Postgres.Host)
	assert.Equal(t, 5432, cfg.Postgres.Port)
	assert.Equal(t, "postgres", cfg.Postgres.User)
	assert.Equal(t, "postgres", cfg.Postgres.Database)

	t.Setenv("POSTGRES_PORT", "5433")
	t.Setenv("POSTGRES_USER", "funcd")
	t.Setenv("POSTGRES_DB", "functions")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, 5433, cfg.Postgres.Port)
	assert.Equal(t, "funcd", cfg.Postgres.User)
	assert.Equal(t, "functions", cfg.Postgres.Database)
}

func TestLoadInvalidPostgresPort(t *testing.T) {
	setRequired(t)
	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("POSTGRES_PORT", "not-a-port")

	_, err := Load("")
	assert.Error(t, err)
}

func TestLoadYAMLFile(t *testing.T) {
	setRequired(t)

	path := filepath.Join(t.TempDir(), "funcd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_addr: ":9001"
functions_dir: /srv/functions
runner: bun run
cors_origins:
  - http://admin.test
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9001", cfg.ListenAddr)
	assert.Equal(t, "/srv/functions", cfg.FunctionsDir)
	assert.Equal(t, []string{"bun", "run"}, cfg.Runner)
	assert.Equal(t, []string{"http://admin.test"}, cfg.CORSOrigins)
}

func TestEnvOverridesYAML(t *testing.T) {
	setRequired(t)
	t.Setenv("FUNCTIONS_DIR", "/env/wins")

	path := filepath.Join(t.TempDir(), "funcd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("functions_dir: /file/loses\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/env/wins", cfg.FunctionsDir)
}

func TestLoadBadYAML(t *testing.T) {
	setRequired(t)

	path := filepath.Join(t.TempDir(), "funcd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen_addr: [unclosed"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestResolvePath(t *testing.T) {
	setRequired(t)
	t.Setenv("FUNCD_CONFIG", "/etc/funcd/funcd.yaml")
	assert.Equal(t, "/etc/funcd/funcd.yaml", ResolvePath())
}
