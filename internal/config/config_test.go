package config

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoad_YAMLWithDefaults(t *testing.T) {
	p := writeFile(t, "fixpoint.yaml", `
server:
  addr: ":9090"
storage:
  driver: SQLite
  data_dir: /var/lib/fixpoint
dashboard:
  page_size: 25
features:
  show_list_tasks_query_status: true
`)
	cfg, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, filepath.Join("/var/lib/fixpoint", "tasks.db"), cfg.Storage.SQLitePath)
	assert.Equal(t, 25, cfg.Dashboard.PageSize)
	assert.True(t, cfg.Features.ShowListTasksQueryStatus)
	assert.True(t, cfg.Features.SeedDemoTasks)
	assert.Equal(t, 10*time.Minute, cfg.Auth.OTPTTL())
	assert.Equal(t, 7*24*time.Hour, cfg.Auth.SessionTTL())
	assert.Equal(t, "fixpoint_session", cfg.Auth.Cookie.Name)
}

func TestLoad_EmptyPathIsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Server, cfg.Server)
	assert.Equal(t, DriverFile, cfg.Storage.Driver)
	assert.Equal(t, 50, cfg.Dashboard.PageSize)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	p := writeFile(t, "bad.yaml", `
storage:
  driver: postgres
dashboard:
  page_size: 500
auth:
  cookie:
    same_site: sideways
`)
	_, err := Load(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.driver")
	assert.Contains(t, err.Error(), "dashboard.page_size")
	assert.Contains(t, err.Error(), "same_site")
}

func TestApplyEnv_Overrides(t *testing.T) {
	env := map[string]string{
		"FIXPOINT_ADDR":                         "127.0.0.1:7000",
		"FIXPOINT_STORAGE_DRIVER":               "memory",
		"FIXPOINT_PAGE_SIZE":                    "10",
		"FIXPOINT_SHOW_LIST_TASKS_QUERY_STATUS": "true",
		"FIXPOINT_SEED_DEMO_TASKS":              "false",
		"FIXPOINT_COOKIE_SAMESITE":              "strict",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	require.NoError(t, ApplyEnv(cfg, lookup))
	assert.Equal(t, "127.0.0.1:7000", cfg.Server.Addr)
	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
	assert.Equal(t, 10, cfg.Dashboard.PageSize)
	assert.True(t, cfg.Features.ShowListTasksQueryStatus)
	assert.False(t, cfg.Features.SeedDemoTasks)

	mode, err := cfg.Auth.Cookie.SameSiteMode()
	require.NoError(t, err)
	assert.Equal(t, http.SameSiteStrictMode, mode)

	env["FIXPOINT_PAGE_SIZE"] = "ten"
	assert.Error(t, ApplyEnv(cfg, lookup))
}

func TestLoad_DotEnvFeedsOverrides(t *testing.T) {
	p := writeFile(t, ".env", "FIXPOINT_OTP_TTL_MINUTES=3\n")
	t.Setenv("FIXPOINT_OTP_TTL_MINUTES", "")
	require.NoError(t, os.Unsetenv("FIXPOINT_OTP_TTL_MINUTES"))

	require.NoError(t, LoadDotEnv(p, filepath.Join(t.TempDir(), "missing.env")))
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3*time.Minute, cfg.Auth.OTPTTL())
}
