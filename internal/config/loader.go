package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/spf13/viper"

	apperrors "github.com/edgard/liveinbox/internal/errors"
)

// EnvPrefix prefixes environment overrides, e.g. LIVEINBOX_DATABASE_PATH.
const EnvPrefix = "LIVEINBOX"

// LoadConfig loads and validates configuration from, in increasing priority:
//  1. Default values
//  2. The YAML file at path (optional; a missing file is not an error)
//  3. LIVEINBOX_* environment variables
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, apperrors.NewConfigError("failed to read config file", err)
		}
		slog.Debug("Config file not found, using defaults and environment", "path", path)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, apperrors.NewConfigError("failed to parse config", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}
