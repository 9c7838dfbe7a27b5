package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const EnvPrefix = "FIXPOINT_"

// LoadDotEnv loads .env style files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides c with FIXPOINT_* variables found through lookup.
func ApplyEnv(c *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		v, ok := lookup(EnvPrefix + key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
			return
		}
		*dst = n
	}
	flag := func(key string, dst *bool) {
		v, ok := lookup(EnvPrefix + key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
			return
		}
		*dst = b
	}

	str("ADDR", &c.Server.Addr)
	str("STORAGE_DRIVER", &c.Storage.Driver)
	str("DATA_DIR", &c.Storage.DataDir)
	str("SQLITE_PATH", &c.Storage.SQLitePath)

	num("OTP_TTL_MINUTES", &c.Auth.OTPTTLMinutes)
	num("SESSION_TTL_HOURS", &c.Auth.SessionTTLHours)
	num("OTP_MAX_ATTEMPTS", &c.Auth.MaxOTPAttempts)
	str("COOKIE_NAME", &c.Auth.Cookie.Name)
	str("COOKIE_PATH", &c.Auth.Cookie.Path)
	str("COOKIE_DOMAIN", &c.Auth.Cookie.Domain)
	str("COOKIE_SAMESITE", &c.Auth.Cookie.SameSite)
	str("COOKIE_SECURE", &c.Auth.Cookie.Secure)

	num("PAGE_SIZE", &c.Dashboard.PageSize)
	num("FETCH_TIMEOUT_SECS", &c.Dashboard.FetchTimeoutSecs)
	flag("SHOW_LIST_TASKS_QUERY_STATUS", &c.Features.ShowListTasksQueryStatus)
	flag("SEED_DEMO_TASKS", &c.Features.SeedDemoTasks)

	str("LOG_LEVEL", &c.Log.Level)
	flag("LOG_DEVELOPMENT", &c.Log.Development)

	return errors.Join(errs...)
}
