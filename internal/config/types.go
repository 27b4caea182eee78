package config

import "time"

// Config is the complete application configuration.
type Config struct {
	Log         LogConfig         `mapstructure:"log"`
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	LiveConnect LiveConnectConfig `mapstructure:"liveconnect"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"                validate:"min=1,max=65535"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" validate:"min=1s"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"    validate:"min=1s,max=5m"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// LiveConnectConfig holds the upstream chat API settings. Credentials are
// optional; without them only ingestion and the inbox work.
type LiveConnectConfig struct {
	BaseURL         string        `mapstructure:"base_url"         validate:"required,url"`
	CKey            string        `mapstructure:"c_key"            validate:"required_with=PrivateKey"`
	PrivateKey      string        `mapstructure:"private_key"      validate:"required_with=CKey"`
	Timeout         time.Duration `mapstructure:"timeout"          validate:"min=1s,max=5m"`
	BreakerFailures int           `mapstructure:"breaker_failures" validate:"min=1"`
	BreakerReset    time.Duration `mapstructure:"breaker_reset"    validate:"min=1s"`
}

// HasCredentials reports whether both LiveConnect keys are set.
func (c LiveConnectConfig) HasCredentials() bool {
	return c.CKey != "" && c.PrivateKey != ""
}

// SchedulerConfig maps task names to their settings.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks" validate:"dive"`
}

// TaskConfig enables a task and sets its cron schedule (with seconds field).
// Timeout bounds a single run; zero means the task's own default.
type TaskConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Schedule string        `mapstructure:"schedule" validate:"required_if=Enabled true"`
	Timeout  time.Duration `mapstructure:"timeout"  validate:"omitempty,min=1s"`
}

// TaskTimeout returns the configured timeout for name, or fallback when unset.
func (c *SchedulerConfig) TaskTimeout(name string, fallback time.Duration) time.Duration {
	if c == nil {
		return fallback
	}
	if task, ok := c.Tasks[name]; ok && task.Timeout > 0 {
		return task.Timeout
	}
	return fallback
}
