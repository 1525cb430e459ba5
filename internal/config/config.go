// Package config loads the ormcore configuration file.
//
// The file is YAML; every key can be overridden from the environment with
// the ORMCORE_ prefix and dots replaced by underscores
// (ORMCORE_DRIVER_DSN, ORMCORE_LOG_LEVEL). Durations accept Go syntax
// ("3s", "200ms") and list values accept comma-separated strings.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Driver kinds.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
	DriverMongo  = "mongo"
)

var logLevels = []string{"debug", "info", "warn", "error", "dpanic", "panic", "fatal"}

type Config struct {
	Schema  SchemaConfig  `yaml:"schema" mapstructure:"schema"`
	Driver  DriverConfig  `yaml:"driver" mapstructure:"driver"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
	Runtime RuntimeConfig `yaml:"runtime" mapstructure:"runtime"`
}

type SchemaConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

type DriverConfig struct {
	Kind           string        `yaml:"kind" mapstructure:"kind"`
	DSN            string        `yaml:"dsn" mapstructure:"dsn"`
	Database       string        `yaml:"database" mapstructure:"database"` // mongo only
	MaxOpenConns   int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" mapstructure:"connect_timeout"`
	SlowThreshold  time.Duration `yaml:"slow_threshold" mapstructure:"slow_threshold"`
}

type LogConfig struct {
	Level      string `yaml:"level" mapstructure:"level"` // debug/info/warn/error...
	File       string `yaml:"file" mapstructure:"file"`
	MaxSize    int    `yaml:"max_size" mapstructure:"max_size"` // MB
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAge     int    `yaml:"max_age" mapstructure:"max_age"` // days
	Compress   bool   `yaml:"compress" mapstructure:"compress"`
	Dev        bool   `yaml:"dev" mapstructure:"dev"`
}

type RuntimeConfig struct {
	// ForceConstructor runs descriptor constructors for entities loaded
	// from storage too.
	ForceConstructor bool `yaml:"force_constructor" mapstructure:"force_constructor"`

	// Populate lists relation paths exported by default.
	Populate []string `yaml:"populate" mapstructure:"populate"`
}

// Default returns the configuration used for keys the file leaves out.
func Default() Config {
	return Config{
		Schema: SchemaConfig{Dir: "./schema"},
		Driver: DriverConfig{
			Kind:           DriverSQLite,
			DSN:            "ormcore.db",
			MaxOpenConns:   4,
			ConnectTimeout: 3 * time.Second,
			SlowThreshold:  200 * time.Millisecond,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     7,
		},
	}
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

// Watch loads the file like Load and calls onChange with the re-read
// configuration whenever the file changes. A change that fails to decode or
// validate is reported through err and the previous configuration stays in
// effect for the caller.
func Watch(path string, onChange func(cfg *Config, err error)) (*Config, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	v.OnConfigChange(func(fsnotify.Event) {
		onChange(decode(v))
	})
	v.WatchConfig()
	return cfg, nil
}

// Validate checks enumerations and ranges.
func (c *Config) Validate() error {
	switch c.Driver.Kind {
	case DriverSQLite, DriverMySQL, DriverMongo:
	default:
		return fmt.Errorf("driver.kind %q: want sqlite, mysql or mongo", c.Driver.Kind)
	}
	if c.Driver.DSN == "" {
		return fmt.Errorf("driver.dsn is required")
	}
	if c.Driver.Kind == DriverMongo && c.Driver.Database == "" {
		return fmt.Errorf("driver.database is required for mongo")
	}
	if c.Driver.MaxOpenConns < 0 {
		return fmt.Errorf("driver.max_open_conns must not be negative")
	}
	if !slices.Contains(logLevels, strings.ToLower(c.Log.Level)) {
		return fmt.Errorf("log.level %q: want one of %s", c.Log.Level, strings.Join(logLevels, ", "))
	}
	return nil
}

func newViper(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("ORMCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, Default())

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return v, nil
}

// setDefaults registers every key so environment overrides apply even when
// the file omits it.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("schema.dir", d.Schema.Dir)
	v.SetDefault("driver.kind", d.Driver.Kind)
	v.SetDefault("driver.dsn", d.Driver.DSN)
	v.SetDefault("driver.database", d.Driver.Database)
	v.SetDefault("driver.max_open_conns", d.Driver.MaxOpenConns)
	v.SetDefault("driver.connect_timeout", d.Driver.ConnectTimeout)
	v.SetDefault("driver.slow_threshold", d.Driver.SlowThreshold)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size", d.Log.MaxSize)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age", d.Log.MaxAge)
	v.SetDefault("log.compress", d.Log.Compress)
	v.SetDefault("log.dev", d.Log.Dev)
	v.SetDefault("runtime.force_constructor", d.Runtime.ForceConstructor)
	v.SetDefault("runtime.populate", d.Runtime.Populate)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
