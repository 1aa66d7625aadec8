// Package config provides configuration loading for datapipe jobs.
package config

import (
	"os"
	"strconv"

	"github.com/nucleus/datapipe/internal/core"
	"github.com/nucleus/datapipe/pkg/staging"
)

// Environment holds the deployment-level settings shared by every job:
// where the target store and the staging object store live. Job-level
// settings (tables, schemas, modes) come from the job file.
type Environment struct {
	// Target store connection
	Driver string
	DSN    string
	User   string

	// Object store settings. LocalRoot switches staging to a directory on
	// disk, for development and tests; when empty the S3 settings are used.
	LocalRoot       string
	EndpointURL     string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	UseSSL          bool
	RateLimit       float64
	RateBurst       int
}

// LoadEnvironment loads deployment configuration from environment variables.
func LoadEnvironment() *Environment {
	return &Environment{
		Driver:          getEnv("DATAPIPE_DB_DRIVER", "pgx"),
		DSN:             getEnv("DATAPIPE_DB_DSN", ""),
		User:            getEnv("DATAPIPE_DB_USER", ""),
		LocalRoot:       getEnv("DATAPIPE_STAGING_LOCAL_ROOT", ""),
		EndpointURL:     getEnv("DATAPIPE_S3_ENDPOINT", "localhost:9000"),
		AccessKeyID:     getEnv("DATAPIPE_S3_ACCESS_KEY", ""),
		SecretAccessKey: getEnv("DATAPIPE_S3_SECRET_KEY", ""),
		Region:          getEnv("DATAPIPE_S3_REGION", ""),
		UseSSL:          getEnvBool("DATAPIPE_S3_USE_SSL", false),
		RateLimit:       getEnvFloat("DATAPIPE_S3_RATE_LIMIT", 0),
		RateBurst:       getEnvInt("DATAPIPE_S3_RATE_BURST", 0),
	}
}

// Connection renders the environment as a target-store connection config.
func (e *Environment) Connection() core.ConnectionConfig {
	return core.ConnectionConfig{Driver: e.Driver, DSN: e.DSN, User: e.User}
}

// ObjectStore builds the staging object store the environment describes.
func (e *Environment) ObjectStore() (staging.ObjectStore, error) {
	if e.LocalRoot != "" {
		return staging.NewLocalStore(e.LocalRoot), nil
	}
	return staging.NewS3Client(&staging.S3Config{
		EndpointURL:     e.EndpointURL,
		AccessKeyID:     e.AccessKeyID,
		SecretAccessKey: e.SecretAccessKey,
		Region:          e.Region,
		UseSSL:          e.UseSSL,
		RateLimit:       e.RateLimit,
		RateBurst:       e.RateBurst,
	})
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
