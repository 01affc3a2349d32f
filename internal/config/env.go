package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// newEnvLookup resolves variables from the process environment, falling back
// to a .env file in dir when there is one.
func newEnvLookup(dir string) (func(string) (string, bool), error) {
	dotenv := viper.New()
	envFile := filepath.Join(dir, ".env")
	if _, err := os.Stat(envFile); err == nil {
		dotenv.SetConfigFile(envFile)
		dotenv.SetConfigType("env")
		if err := dotenv.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read %s: %w", envFile, err)
		}
	}
	return func(name string) (string, bool) {
		if v, ok := os.LookupEnv(name); ok {
			return v, true
		}
		if dotenv.IsSet(name) {
			return dotenv.GetString(name), true
		}
		return "", false
	}, nil
}
