package config

const (
	defaultDataDir               = "~/.local/share/custodia/data"
	defaultLogDir                = "~/.local/share/custodia/logs"
	defaultMaxRetries            = 3
	defaultAdapterTimeoutSeconds = 30
	defaultEvidenceTimeout       = 15
	defaultInferenceTimeout      = 60
	defaultInferenceModel        = "legal-bert-integrity"
	defaultNotifyRequestTimeout  = 10
	defaultLogLevel              = "info"
	defaultLogFormat             = "console"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Engine: Engine{
			MaxRetries:            defaultMaxRetries,
			AdapterTimeoutSeconds: defaultAdapterTimeoutSeconds,
		},
		Evidence: Evidence{
			TimeoutSeconds: defaultEvidenceTimeout,
		},
		Inference: Inference{
			Enabled:        true,
			Model:          defaultInferenceModel,
			TimeoutSeconds: defaultInferenceTimeout,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Workflow:       true,
			Approvals:      true,
			Transfers:      true,
			Errors:         true,
		},
		Logging: Logging{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
	}
}
