package config

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

type Config interface {
	EnvConfig
	RemoteConfig
	CacheConfig
	ActivityConfig
}

type EnvConfig interface {
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
}

type mainConfig struct {
	EnvVars
	Remote
	Cache
	Activity
}

func New() Config {
	return mainConfig{}
}

// Load reads KEY=value pairs from files into the environment. Variables
// already set are kept. With no files it reads ./.env when present.
func Load(files ...string) error {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); errors.Is(err, os.ErrNotExist) {
			return nil
		}
	}
	if err := godotenv.Load(files...); err != nil {
		return errors.Wrap(err, "[config Load] reading env file")
	}
	return nil
}
