// Package config loads flowrun settings.
//
// Priority: env vars (FLOWRUN_*) > config file > defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rendis/flowrun/internal/engine"
	"github.com/rendis/flowrun/internal/tools"
)

// EnvPrefix prefixes every environment override; "db.path" is FLOWRUN_DB_PATH.
const EnvPrefix = "FLOWRUN"

// Config holds all flowrun settings.
type Config struct {
	Log    LogConfig    `mapstructure:"log"`
	DB     DBConfig     `mapstructure:"db"`
	Engine EngineConfig `mapstructure:"engine"`
	Tools  ToolsConfig  `mapstructure:"tools"`
	HTTP   HTTPConfig   `mapstructure:"http"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DBConfig locates the libSQL database. An empty Path disables persistence.
type DBConfig struct {
	Path string `mapstructure:"path"`
}

type EngineConfig struct {
	DefaultTimeout      time.Duration `mapstructure:"default_timeout"`
	StrictTemplates     bool          `mapstructure:"strict_templates"`
	SkipTerminalRetries bool          `mapstructure:"skip_terminal_retries"`
	MaxConcurrentRuns   int           `mapstructure:"max_concurrent_runs"`
}

type ToolsConfig struct {
	FSRoot         string        `mapstructure:"fs_root"`
	SQLDriver      string        `mapstructure:"sql_driver"`
	SQLDSN         string        `mapstructure:"sql_dsn"`
	IntegrationURL string        `mapstructure:"integration_url"`
	IntegrationKey string        `mapstructure:"integration_key"`
	CodeTimeout    time.Duration `mapstructure:"code_timeout"`
	HTTPTimeout    time.Duration `mapstructure:"http_timeout"`

	// Catalog declares tools served by the platform without a local handler.
	Catalog []CatalogEntry `mapstructure:"catalog"`
}

// CatalogEntry is one declared tool. A known category without a handler for
// the name reports TOOL_NOT_IMPLEMENTED; any other category is acknowledged
// by the generic handler.
type CatalogEntry struct {
	Name        string `mapstructure:"name"`
	Category    string `mapstructure:"category"`
	Description string `mapstructure:"description"`
}

type HTTPConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr"`
	IdempotencyTTL  time.Duration `mapstructure:"idempotency_ttl"`
	IdempotencySize int           `mapstructure:"idempotency_size"`
}

// Dir returns the flowrun home directory (~/.flowrun).
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".flowrun"
	}
	return filepath.Join(home, ".flowrun")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("db.path", filepath.Join(Dir(), "flowrun.db"))
	v.SetDefault("engine.default_timeout", 30*time.Second)
	v.SetDefault("engine.strict_templates", false)
	v.SetDefault("engine.skip_terminal_retries", false)
	v.SetDefault("engine.max_concurrent_runs", engine.DefaultMaxConcurrentRuns)
	v.SetDefault("tools.fs_root", "")
	v.SetDefault("tools.sql_driver", tools.DriverLibSQL)
	v.SetDefault("tools.sql_dsn", "")
	v.SetDefault("tools.integration_url", "")
	v.SetDefault("tools.integration_key", "")
	v.SetDefault("tools.code_timeout", 30*time.Second)
	v.SetDefault("tools.http_timeout", 30*time.Second)
	v.SetDefault("http.listen_addr", ":4100")
	v.SetDefault("http.idempotency_ttl", 10*time.Minute)
	v.SetDefault("http.idempotency_size", 1000)
}

// New returns a viper instance with defaults and env bindings set. Callers
// may bind CLI flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configuration into a Config. file may be empty, in which case
// config.yaml is looked up in the working directory and the flowrun home;
// a missing lookup file is not an error, a missing explicit file is.
func Load(v *viper.Viper, file string) (*Config, error) {
	if v == nil {
		v = New()
	}
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(Dir())
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read %s: %w", v.ConfigFileUsed(), err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("config: log.format must be text or json, got %q", c.Log.Format)
	}
	switch c.Tools.SQLDriver {
	case tools.DriverLibSQL, tools.DriverPostgres:
	default:
		return fmt.Errorf("config: tools.sql_driver must be %q or %q, got %q", tools.DriverLibSQL, tools.DriverPostgres, c.Tools.SQLDriver)
	}
	if c.Engine.DefaultTimeout < 0 {
		return errors.New("config: engine.default_timeout must not be negative")
	}
	if c.HTTP.IdempotencyTTL < 0 {
		return errors.New("config: http.idempotency_ttl must not be negative")
	}
	for i, e := range c.Tools.Catalog {
		if e.Name == "" || e.Category == "" {
			return fmt.Errorf("config: tools.catalog[%d] needs a name and a category", i)
		}
	}
	return nil
}

// EngineSettings maps the engine section onto engine.Config.
func (c *Config) EngineSettings() engine.Config {
	return engine.Config{
		DefaultTimeout:      c.Engine.DefaultTimeout,
		StrictTemplates:     c.Engine.StrictTemplates,
		SkipTerminalRetries: c.Engine.SkipTerminalRetries,
		MaxConcurrentRuns:   c.Engine.MaxConcurrentRuns,
	}
}

// ToolSettings maps the tools section onto tools.Config. The platform
// integration is only wired when integration_url is set.
func (c *Config) ToolSettings() tools.Config {
	cfg := tools.Config{
		FS:   tools.FSConfig{Root: c.Tools.FSRoot},
		Code: tools.CodeConfig{DefaultTimeout: c.Tools.CodeTimeout},
		HTTP: tools.HTTPConfig{DefaultTimeout: c.Tools.HTTPTimeout},
		SQL:  tools.SQLConfig{Driver: c.Tools.SQLDriver, DSN: c.Tools.SQLDSN},
	}
	if c.Tools.IntegrationURL != "" {
		cfg.Integration = &tools.HTTPIntegration{
			BaseURL: c.Tools.IntegrationURL,
			APIKey:  c.Tools.IntegrationKey,
		}
	}
	return cfg
}

// ToolCatalog returns the declared tool definitions.
func (c *Config) ToolCatalog() []tools.Definition {
	defs := make([]tools.Definition, 0, len(c.Tools.Catalog))
	for _, e := range c.Tools.Catalog {
		defs = append(defs, tools.Definition{
			Name:        e.Name,
			Category:    tools.Category(e.Category),
			Description: e.Description,
		})
	}
	return defs
}
