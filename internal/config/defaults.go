package config

const (
	defaultDataDir              = "~/.local/share/telbill/data"
	defaultLogDir               = "~/.local/share/telbill/logs"
	defaultAPIBind              = "127.0.0.1:7583"
	defaultRedisAddr            = "127.0.0.1:6379"
	defaultRedisKeyPrefix       = "telbill"
	defaultPoolWidth            = 10
	defaultDispatchInterval     = 3600
	defaultSweepInterval        = 10800
	defaultMaterializeInterval  = 86400
	defaultStaleAfterMinutes    = 120
	defaultErrorRetryInterval   = 30
	defaultShutdownGraceSeconds = 10
	defaultTaskMaxAttempts      = 3
	defaultTaskRetryDelay       = 300
	defaultSoftTimeLimit        = 1500
	defaultHardTimeLimit        = 1800
	defaultResultTTLMinutes     = 1440
	defaultNotifyRequestTimeout = 10
	defaultNotifyRatePerMinute  = 30
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultOperatorTimeout      = 120
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Redis: Redis{
			Addr:      defaultRedisAddr,
			KeyPrefix: defaultRedisKeyPrefix,
		},
		Workflow: Workflow{
			PoolWidth:            defaultPoolWidth,
			DispatchInterval:     defaultDispatchInterval,
			SweepInterval:        defaultSweepInterval,
			MaterializeInterval:  defaultMaterializeInterval,
			StaleAfterMinutes:    defaultStaleAfterMinutes,
			ErrorRetryInterval:   defaultErrorRetryInterval,
			ShutdownGraceSeconds: defaultShutdownGraceSeconds,
		},
		Tasks: Tasks{
			MaxAttempts:      defaultTaskMaxAttempts,
			RetryDelay:       defaultTaskRetryDelay,
			SoftTimeLimit:    defaultSoftTimeLimit,
			HardTimeLimit:    defaultHardTimeLimit,
			ResultTTLMinutes: defaultResultTTLMinutes,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Completed:      true,
			Submitted:      true,
			Failed:         true,
			Approval:       true,
			RatePerMinute:  defaultNotifyRatePerMinute,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
