package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kevinxiao27/listsync/internal/store"
)

const EnvPrefix = "LISTSYNC"

type Config struct {
	Listen        string `mapstructure:"listen"`
	DataDir       string `mapstructure:"data-dir"`
	InMemory      bool   `mapstructure:"in-memory"`
	LogLevel      string `mapstructure:"log-level"`
	Dev           bool   `mapstructure:"dev"`
	UpdateRetries int    `mapstructure:"update-retries"`
}

func DefaultConfig() Config {
	return Config{
		Listen:        ":8080",
		DataDir:       "./data",
		LogLevel:      "info",
		UpdateRetries: 5,
	}
}

// SetDefaults registers every key with v so that environment variables are
// picked up even without a matching flag or config file entry.
func SetDefaults(v *viper.Viper) {
	def := DefaultConfig()
	v.SetDefault("listen", def.Listen)
	v.SetDefault("data-dir", def.DataDir)
	v.SetDefault("in-memory", def.InMemory)
	v.SetDefault("log-level", def.LogLevel)
	v.SetDefault("dev", def.Dev)
	v.SetDefault("update-retries", def.UpdateRetries)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

// Load reads the optional config file and decodes v into a validated Config.
func Load(v *viper.Viper, file string) (Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Listen == "" {
		return errors.New("listen address is empty")
	}
	if !c.InMemory && c.DataDir == "" {
		return errors.New("data-dir is required unless in-memory is set")
	}
	if c.UpdateRetries < 1 {
		return fmt.Errorf("update-retries must be positive, got %d", c.UpdateRetries)
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log-level: %w", err)
	}
	return nil
}

func (c Config) Store() store.Config {
	return store.Config{Dir: c.DataDir, InMemory: c.InMemory, Retries: c.UpdateRetries}
}

func (c Config) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}

	zc := zap.NewProductionConfig()
	if c.Dev {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
