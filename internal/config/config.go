// Package config loads client settings from defaults, config.yaml, .env files,
// RMC_* environment variables and command-line flags, in increasing priority.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.yaml.in/yaml/v4"

	"github.com/and161185/resumatch/internal/gateway"
)

// Store backends.
const (
	StoreFile     = "file"
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

const (
	envPrefix = "RMC_"
	fileName  = "config.yaml"
)

// Config is the resolved client configuration.
type Config struct {
	APIOrigin     string        `yaml:"api_origin"`
	LocalOrigin   string        `yaml:"local_origin"`
	Timeout       time.Duration `yaml:"timeout"`
	Store         string        `yaml:"store"`
	DSN           string        `yaml:"dsn"`
	Profile       string        `yaml:"profile"`
	SuccessWindow time.Duration `yaml:"success_window"`
	PageSize      int           `yaml:"page_size"`

	// Dir holds config.yaml, .env, the vault key and file slots.
	Dir string `yaml:"-"`
	// Base is the API base URL, resolved once by Load.
	Base string `yaml:"-"`
}

// Defaults returns the built-in configuration rooted at dir.
func Defaults(dir string) Config {
	return Config{
		LocalOrigin:   "http://localhost:8080",
		Timeout:       gateway.DefaultTimeout,
		Store:         StoreFile,
		Profile:       "default",
		SuccessWindow: 2 * time.Second,
		PageSize:      50,
		Dir:           dir,
	}
}

// DefaultDir is $RMC_CONFIG_DIR, else $XDG_CONFIG_HOME/resumatch, else ~/.config/resumatch.
func DefaultDir() string {
	if v := os.Getenv(envPrefix + "CONFIG_DIR"); v != "" {
		return v
	}
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "resumatch")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "resumatch")
}

// Load layers defaults, dir/config.yaml, .env files, RMC_* variables and the
// explicitly set flags of f (which may be nil), then resolves the result.
func Load(dir string, f *Flags) (Config, error) {
	if dir == "" {
		dir = DefaultDir()
	}
	cfg := Defaults(dir)

	b, err := os.ReadFile(filepath.Join(dir, fileName))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", filepath.Join(dir, fileName), err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return Config{}, err
	}

	// existing environment wins over .env files
	for _, p := range []string{filepath.Join(dir, ".env"), ".env"} {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", p, err)
		}
	}
	if err := cfg.fromEnv(); err != nil {
		return Config{}, err
	}
	cfg.Dir = dir
	if f != nil {
		f.Apply(&cfg)
	}
	return cfg, cfg.Resolve()
}

func (c *Config) fromEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := os.LookupEnv(envPrefix + key)
		if !ok {
			return nil
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, key, err)
		}
		*dst = d
		return nil
	}
	str("API_ORIGIN", &c.APIOrigin)
	str("LOCAL_ORIGIN", &c.LocalOrigin)
	str("STORE", &c.Store)
	str("DSN", &c.DSN)
	str("PROFILE", &c.Profile)
	if err := dur("TIMEOUT", &c.Timeout); err != nil {
		return err
	}
	if err := dur("SUCCESS_WINDOW", &c.SuccessWindow); err != nil {
		return err
	}
	if v, ok := os.LookupEnv(envPrefix + "PAGE_SIZE"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%sPAGE_SIZE: %w", envPrefix, err)
		}
		c.PageSize = n
	}
	return nil
}

// Resolve validates the configuration and computes Base.
func (c *Config) Resolve() error {
	switch c.Store {
	case StoreFile, StoreMemory:
	case StorePostgres:
		if c.DSN == "" {
			return errors.New("store postgres requires a dsn")
		}
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if c.SuccessWindow <= 0 {
		return fmt.Errorf("success_window must be positive, got %s", c.SuccessWindow)
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("page_size must be positive, got %d", c.PageSize)
	}
	base, err := gateway.ResolveBase(c.APIOrigin, c.LocalOrigin)
	if err != nil {
		return err
	}
	c.Base = base.String()
	return nil
}

// Gateway returns the gateway settings.
func (c Config) Gateway() gateway.Config {
	return gateway.Config{Origin: c.APIOrigin, LocalOrigin: c.LocalOrigin, Timeout: c.Timeout}
}

// Flags are the global command-line overrides.
type Flags struct {
	fs *flag.FlagSet

	dir     *string
	origin  *string
	store   *string
	dsn     *string
	profile *string
	timeout *time.Duration
}

// RegisterFlags defines the override flags on fs.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	return &Flags{
		fs:      fs,
		dir:     fs.String("config-dir", "", "config directory (default $XDG_CONFIG_HOME/resumatch)"),
		origin:  fs.String("api", "", "API origin, e.g. https://api.example.com"),
		store:   fs.String("store", "", "session store: file|memory|postgres"),
		dsn:     fs.String("dsn", "", "postgres DSN for -store postgres"),
		profile: fs.String("profile", "", "session profile (postgres store)"),
		timeout: fs.Duration("timeout", 0, "per-request timeout"),
	}
}

// Dir returns the -config-dir value, "" when unset.
func (f *Flags) Dir() string { return *f.dir }

// Apply copies explicitly set flags onto c.
func (f *Flags) Apply(c *Config) {
	f.fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "api":
			c.APIOrigin = *f.origin
		case "store":
			c.Store = *f.store
		case "dsn":
			c.DSN = *f.dsn
		case "profile":
			c.Profile = *f.profile
		case "timeout":
			c.Timeout = *f.timeout
		}
	})
}
