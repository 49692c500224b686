package config

type Config interface {
	EnvConfig
	SessionConfig
	OIDCConfig
	SecurityConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetDataFolder() string
	GetBaseURL() string
	GetEnv() string
}

type mainConfig struct {
	EnvVars
	SessionVars
	OIDCVars
	Security
}

func New() Config {
	return mainConfig{}
}
