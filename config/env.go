package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every configuration environment variable.
const EnvPrefix = "NODEREG_"

// EnvName returns the environment variable for a config key.
func EnvName(key string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// LoadEnv loads a .env file into the process environment without
// overriding variables that are already set. An empty path tries ./.env;
// a missing default file is not an error.
func LoadEnv(path string) error {
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// ApplyEnv applies NODEREG_* variables to cfg.
func ApplyEnv(cfg *Config) error {
	for _, key := range Keys {
		value, ok := lookupEnv(key)
		if !ok {
			continue
		}
		if err := setConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("%s: %w", EnvName(key), err)
		}
	}
	return nil
}

func lookupEnv(key string) (string, bool) {
	return os.LookupEnv(EnvName(key))
}
