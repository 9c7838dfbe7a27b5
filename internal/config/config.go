package config

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

type Config struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	Storage   StorageConfig   `yaml:"storage" json:"storage"`
	Auth      AuthConfig      `yaml:"auth" json:"auth"`
	Dashboard DashboardConfig `yaml:"dashboard" json:"dashboard"`
	Features  Features        `yaml:"features" json:"features"`
	Log       LogConfig       `yaml:"log" json:"log"`
}

type ServerConfig struct {
	Addr                  string `yaml:"addr" json:"addr"`
	ReadHeaderTimeoutSecs int    `yaml:"read_header_timeout_secs" json:"read_header_timeout_secs"`
	ShutdownTimeoutSecs   int    `yaml:"shutdown_timeout_secs" json:"shutdown_timeout_secs"`
	SessionSweepMinutes   int    `yaml:"session_sweep_minutes" json:"session_sweep_minutes"`
}

type StorageConfig struct {
	Driver     string `yaml:"driver" json:"driver"`
	DataDir    string `yaml:"data_dir" json:"data_dir"`
	SQLitePath string `yaml:"sqlite_path" json:"sqlite_path"`
}

type AuthConfig struct {
	OTPTTLMinutes   int          `yaml:"otp_ttl_minutes" json:"otp_ttl_minutes"`
	SessionTTLHours int          `yaml:"session_ttl_hours" json:"session_ttl_hours"`
	MaxOTPAttempts  int          `yaml:"max_otp_attempts" json:"max_otp_attempts"`
	Cookie          CookieConfig `yaml:"cookie" json:"cookie"`
}

type CookieConfig struct {
	Name     string `yaml:"name" json:"name"`
	Path     string `yaml:"path" json:"path"`
	Domain   string `yaml:"domain" json:"domain"`
	SameSite string `yaml:"same_site" json:"same_site"`
	// Secure is "auto", "always" or "never".
	Secure string `yaml:"secure" json:"secure"`
}

type DashboardConfig struct {
	PageSize         int    `yaml:"page_size" json:"page_size"`
	FetchTimeoutSecs int    `yaml:"fetch_timeout_secs" json:"fetch_timeout_secs"`
	NoResultsMessage string `yaml:"no_results_message" json:"no_results_message"`
}

type Features struct {
	ShowListTasksQueryStatus bool `yaml:"show_list_tasks_query_status" json:"show_list_tasks_query_status"`
	SeedDemoTasks            bool `yaml:"seed_demo_tasks" json:"seed_demo_tasks"`
}

type LogConfig struct {
	Level       string `yaml:"level" json:"level"`
	Development bool   `yaml:"development" json:"development"`
}

func Default() *Config {
	c := &Config{Features: Features{SeedDemoTasks: true}}
	c.ApplyDefaults()
	return c
}

func (c *Config) ApplyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ReadHeaderTimeoutSecs <= 0 {
		c.Server.ReadHeaderTimeoutSecs = 5
	}
	if c.Server.ShutdownTimeoutSecs <= 0 {
		c.Server.ShutdownTimeoutSecs = 10
	}
	if c.Server.SessionSweepMinutes <= 0 {
		c.Server.SessionSweepMinutes = 15
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverFile
	}
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "data"
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = filepath.Join(c.Storage.DataDir, "tasks.db")
	}

	if c.Auth.OTPTTLMinutes <= 0 {
		c.Auth.OTPTTLMinutes = 10
	}
	if c.Auth.SessionTTLHours <= 0 {
		c.Auth.SessionTTLHours = 7 * 24
	}
	if c.Auth.MaxOTPAttempts <= 0 {
		c.Auth.MaxOTPAttempts = 5
	}
	if c.Auth.Cookie.Name == "" {
		c.Auth.Cookie.Name = "fixpoint_session"
	}
	if c.Auth.Cookie.Path == "" {
		c.Auth.Cookie.Path = "/"
	}
	if c.Auth.Cookie.SameSite == "" {
		c.Auth.Cookie.SameSite = "lax"
	}
	if c.Auth.Cookie.Secure == "" {
		c.Auth.Cookie.Secure = "auto"
	}

	if c.Dashboard.PageSize <= 0 {
		c.Dashboard.PageSize = 50
	}
	if c.Dashboard.FetchTimeoutSecs <= 0 {
		c.Dashboard.FetchTimeoutSecs = 10
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case DriverMemory, DriverFile, DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	if c.Dashboard.PageSize > 200 {
		errs = append(errs, fmt.Errorf("dashboard.page_size: %d exceeds 200", c.Dashboard.PageSize))
	}
	if _, err := c.Auth.Cookie.SameSiteMode(); err != nil {
		errs = append(errs, err)
	}
	switch c.Auth.Cookie.Secure {
	case "auto", "always", "never":
	default:
		errs = append(errs, fmt.Errorf("auth.cookie.secure: unknown mode %q", c.Auth.Cookie.Secure))
	}
	return errors.Join(errs...)
}

func (c CookieConfig) SameSiteMode() (http.SameSite, error) {
	switch strings.ToLower(strings.TrimSpace(c.SameSite)) {
	case "", "lax":
		return http.SameSiteLaxMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	default:
		return 0, fmt.Errorf("auth.cookie.same_site: unknown mode %q", c.SameSite)
	}
}

func (a AuthConfig) OTPTTL() time.Duration { return time.Duration(a.OTPTTLMinutes) * time.Minute }

func (a AuthConfig) SessionTTL() time.Duration {
	return time.Duration(a.SessionTTLHours) * time.Hour
}

func (d DashboardConfig) FetchTimeout() time.Duration {
	return time.Duration(d.FetchTimeoutSecs) * time.Second
}

// Load reads the YAML file at path, applies FIXPOINT_* environment
// overrides and fills defaults. An empty path skips the file.
func Load(path string) (*Config, error) {
	r := Config{Features: Features{SeedDemoTasks: true}}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &r); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := ApplyEnv(&r, os.LookupEnv); err != nil {
		return nil, err
	}
	r.ApplyDefaults()
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}
