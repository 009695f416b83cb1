// Package config loads application configuration.
//
// Sources, highest precedence first:
//  1. environment variables, PORTAL_ prefix, "." replaced by "_"
//     (PORTAL_SERVER_PORT, PORTAL_SUPABASE_KEY, ...)
//  2. a .env file, loaded into the environment without overriding it
//  3. an optional YAML/TOML/JSON config file
//  4. the defaults below
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "PORTAL"

// DefaultEnvFile is read when Options.EnvFile is empty.
const DefaultEnvFile = ".env"

type Config struct {
	Server    Server    `mapstructure:"server"`
	Log       Log       `mapstructure:"log"`
	Store     Store     `mapstructure:"store"`
	Users     Users     `mapstructure:"users"`
	Pages     Pages     `mapstructure:"pages"`
	Auth      Auth      `mapstructure:"auth"`
	RateLimit RateLimit `mapstructure:"ratelimit"`
	Projects  Projects  `mapstructure:"projects"`
	Supabase  Supabase  `mapstructure:"supabase"`
	Postgres  Postgres  `mapstructure:"postgres"`
	Metrics   Metrics   `mapstructure:"metrics"`
}

type Server struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr is the listen address.
func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Store selects the credential store: "json" or "sqlite".
type Store struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

type Users struct {
	Dir string `mapstructure:"dir"`
}

type Pages struct {
	Dir string `mapstructure:"dir"`
}

type Auth struct {
	BcryptCost int `mapstructure:"bcrypt_cost"`
}

type RateLimit struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

// Projects selects the project backend: "postgrest" or "postgres".
type Projects struct {
	Backend string        `mapstructure:"backend"`
	Table   string        `mapstructure:"table"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type Supabase struct {
	URL string `mapstructure:"url"`
	Key string `mapstructure:"key"`
}

type Postgres struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

type Metrics struct {
	Enabled bool `mapstructure:"enabled"`
}

// Options controls where Load looks.
type Options struct {
	// ConfigFile is an optional config file; empty means none.
	ConfigFile string
	// EnvFile is the dotenv file; empty means DefaultEnvFile. A missing
	// file is not an error.
	EnvFile string
	// Scope selects which sections must be valid. The zero value checks
	// everything the server needs.
	Scope Scope
}

// Scope names the part of the configuration a command depends on.
type Scope int

const (
	// ScopeServer validates every section, including the project backend.
	ScopeServer Scope = iota
	// ScopeLocal skips the project backend; used by commands that only
	// touch the credential store.
	ScopeLocal
	// ScopeMigrate is ScopeLocal plus the postgres connection, whatever
	// projects.backend says.
	ScopeMigrate
)

// Load reads configuration with typed defaults and validates it.
func Load(opts Options) (*Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = DefaultEnvFile
	}
	if envMap, err := godotenv.Read(envFile); err == nil {
		for k, val := range envMap {
			if _, exists := os.LookupEnv(k); !exists {
				_ = os.Setenv(k, val)
			}
		}
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindEnvs(v)

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", opts.ConfigFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.validate(opts.Scope); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("store.driver", "json")
	v.SetDefault("store.path", "data/users.json")

	v.SetDefault("users.dir", "data/users")
	v.SetDefault("pages.dir", "web/pages")

	v.SetDefault("auth.bcrypt_cost", 12)

	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.rps", 5.0)
	v.SetDefault("ratelimit.burst", 10)

	v.SetDefault("projects.backend", "postgrest")
	v.SetDefault("projects.table", "projects")
	v.SetDefault("projects.timeout", 10*time.Second)

	v.SetDefault("supabase.url", "")
	v.SetDefault("supabase.key", "")

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 0)

	v.SetDefault("metrics.enabled", true)
}

func bindEnvs(v *viper.Viper) {
	keys := []string{
		"server.host",
		"server.port",
		"server.read_timeout",
		"server.write_timeout",
		"server.idle_timeout",
		"server.shutdown_timeout",
		"log.level",
		"log.format",
		"store.driver",
		"store.path",
		"users.dir",
		"pages.dir",
		"auth.bcrypt_cost",
		"ratelimit.enabled",
		"ratelimit.rps",
		"ratelimit.burst",
		"projects.backend",
		"projects.table",
		"projects.timeout",
		"supabase.url",
		"supabase.key",
		"postgres.dsn",
		"postgres.max_conns",
		"postgres.min_conns",
		"metrics.enabled",
	}

	for _, k := range keys {
		_ = v.BindEnv(k)
	}
}

// Validate rejects values the server cannot start with. It does not check
// connectivity.
func (c *Config) Validate() error {
	return c.validate(ScopeServer)
}

func (c *Config) validate(scope Scope) error {
	var errs []error

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must be positive"))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}

	switch c.Store.Driver {
	case "json", "sqlite":
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver must be json or sqlite, got %q", c.Store.Driver))
	}

	if c.Users.Dir == "" {
		errs = append(errs, errors.New("users.dir is required"))
	}
	if c.Pages.Dir == "" {
		errs = append(errs, errors.New("pages.dir is required"))
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		errs = append(errs, fmt.Errorf("auth.bcrypt_cost must be between 4 and 31, got %d", c.Auth.BcryptCost))
	}
	if c.RateLimit.Enabled && (c.RateLimit.RPS <= 0 || c.RateLimit.Burst < 1) {
		errs = append(errs, errors.New("ratelimit.rps must be positive and ratelimit.burst at least 1"))
	}

	switch scope {
	case ScopeServer:
		errs = append(errs, c.projectErrors()...)
	case ScopeMigrate:
		errs = append(errs, c.postgresErrors()...)
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func (c *Config) projectErrors() []error {
	var errs []error
	switch c.Projects.Backend {
	case "postgrest":
		if c.Supabase.URL == "" || c.Supabase.Key == "" {
			errs = append(errs, errors.New("supabase.url and supabase.key are required for the postgrest backend"))
		}
		if c.Projects.Table == "" {
			errs = append(errs, errors.New("projects.table is required"))
		}
	case "postgres":
		errs = append(errs, c.postgresErrors()...)
	default:
		errs = append(errs, fmt.Errorf("projects.backend must be postgrest or postgres, got %q", c.Projects.Backend))
	}
	return errs
}

func (c *Config) postgresErrors() []error {
	var errs []error
	if c.Postgres.DSN == "" {
		errs = append(errs, errors.New("postgres.dsn is required"))
	}
	if c.Postgres.MinConns > c.Postgres.MaxConns {
		errs = append(errs, errors.New("postgres.min_conns must not exceed postgres.max_conns"))
	}
	return errs
}

// SlogLevel parses log.level.
func (l Log) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
