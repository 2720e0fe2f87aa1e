package config

const (
	defaultDataDir            = "~/.local/share/platter"
	defaultLogDir             = "~/.local/share/platter/logs"
	defaultAPIBind            = "127.0.0.1:7415"
	defaultCoreUnit           = "owntone.service"
	defaultPipeUnit           = "owntone-record_player-input.service"
	defaultOwntoneEndpoint    = "http://127.0.0.1:3689/api"
	defaultOwntoneTimeout     = 5
	defaultPollIntervalMillis = 1500
	defaultWaitActiveTimeout  = 25
	defaultWaitOutputsTimeout = 20
	defaultOutputsRetryMillis = 500
	defaultSubscriberBuffer   = 16
	defaultNotifyTimeout      = 10
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Units: Units{
			Core: defaultCoreUnit,
			Pipe: defaultPipeUnit,
		},
		Owntone: Owntone{
			Endpoint:       defaultOwntoneEndpoint,
			TimeoutSeconds: defaultOwntoneTimeout,
		},
		Reconciler: Reconciler{
			PollIntervalMillis:   defaultPollIntervalMillis,
			WaitActiveTimeout:    defaultWaitActiveTimeout,
			WaitOutputsTimeout:   defaultWaitOutputsTimeout,
			OutputsRetryMillis:   defaultOutputsRetryMillis,
			SubscriberBufferSize: defaultSubscriberBuffer,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			Lifecycle:      true,
			Defaults:       false,
			Errors:         true,
		},
		Monitor: Monitor{
			SoundHotplug: true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
