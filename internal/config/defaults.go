package config

import (
	"time"

	"github.com/spf13/viper"
)

// Default values for configuration
const (
	DefaultLogLevel = "info"
	DefaultLogJSON  = false

	DefaultServerHost              = "0.0.0.0"
	DefaultServerPort              = 3000
	DefaultServerReadHeaderTimeout = 10 * time.Second
	DefaultServerShutdownTimeout   = 15 * time.Second

	DefaultDBPath = "liveinbox.db"

	DefaultLiveConnectBaseURL         = "https://api.liveconnect.chat/prod"
	DefaultLiveConnectTimeout         = 20 * time.Second
	DefaultLiveConnectBreakerFailures = 5
	DefaultLiveConnectBreakerReset    = 60 * time.Second

	DefaultSQLMaintenanceSchedule = "0 0 4 * * *"
	DefaultBalanceRefreshSchedule = "0 */30 * * * *"
	DefaultSQLMaintenanceTimeout  = 10 * time.Minute
	DefaultBalanceRefreshTimeout  = time.Minute
)

// Task names known to the scheduler.
const (
	TaskSQLMaintenance = "sql_maintenance"
	TaskBalanceRefresh = "balance_refresh"
)

// setDefaults sets default values for every configuration key so that
// environment overrides resolve for all of them.
func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.json", DefaultLogJSON)

	v.SetDefault("server.host", DefaultServerHost)
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.read_header_timeout", DefaultServerReadHeaderTimeout)
	v.SetDefault("server.shutdown_timeout", DefaultServerShutdownTimeout)

	v.SetDefault("database.path", DefaultDBPath)

	v.SetDefault("liveconnect.base_url", DefaultLiveConnectBaseURL)
	v.SetDefault("liveconnect.c_key", "")
	v.SetDefault("liveconnect.private_key", "")
	v.SetDefault("liveconnect.timeout", DefaultLiveConnectTimeout)
	v.SetDefault("liveconnect.breaker_failures", DefaultLiveConnectBreakerFailures)
	v.SetDefault("liveconnect.breaker_reset", DefaultLiveConnectBreakerReset)

	v.SetDefault("scheduler.tasks."+TaskSQLMaintenance+".enabled", true)
	v.SetDefault("scheduler.tasks."+TaskSQLMaintenance+".schedule", DefaultSQLMaintenanceSchedule)
	v.SetDefault("scheduler.tasks."+TaskSQLMaintenance+".timeout", DefaultSQLMaintenanceTimeout)
	v.SetDefault("scheduler.tasks."+TaskBalanceRefresh+".enabled", true)
	v.SetDefault("scheduler.tasks."+TaskBalanceRefresh+".schedule", DefaultBalanceRefreshSchedule)
	v.SetDefault("scheduler.tasks."+TaskBalanceRefresh+".timeout", DefaultBalanceRefreshTimeout)
}
