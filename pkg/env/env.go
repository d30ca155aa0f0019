package env

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/fragvault/fragvault/pkg/logging"
)

// LoadEnv pulls a local .env file into the process environment if one
// exists. Missing files are fine; system envs still apply.
func LoadEnv() {
	if err := godotenv.Load(); err != nil {
		logging.Log.Debug("No .env file found, using system envs")
	}
}

// GetEnv returns the value of key, or fallback when the variable is unset.
func GetEnv(key string, fallback string) string {
	if value, exist := os.LookupEnv(key); exist {
		return value
	}
	return fallback
}
