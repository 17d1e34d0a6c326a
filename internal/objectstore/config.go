// Package objectstore publishes results files to an S3-compatible bucket.
package objectstore

import (
	"errors"
	"strings"

	"github.com/deixis/loadmatrix/internal/env"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
	Prefix    string
}

// ConfigFromEnv reads LOADMATRIX_S3_* settings. An empty endpoint leaves
// publishing disabled.
func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("LOADMATRIX_S3_USE_SSL", true)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:  env.String("LOADMATRIX_S3_ENDPOINT", ""),
		AccessKey: env.String("LOADMATRIX_S3_ACCESS_KEY", ""),
		SecretKey: env.String("LOADMATRIX_S3_SECRET_KEY", ""),
		Region:    env.String("LOADMATRIX_S3_REGION", "us-east-1"),
		UseSSL:    useSSL,
		Bucket:    env.String("LOADMATRIX_S3_BUCKET", "loadmatrix"),
		Prefix:    env.String("LOADMATRIX_S3_PREFIX", "runs"),
	}
	if !cfg.Enabled() {
		return cfg, nil
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Enabled reports whether an endpoint is configured.
func (c Config) Enabled() bool {
	return c.Endpoint != ""
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("LOADMATRIX_S3_ENDPOINT is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return errors.New("LOADMATRIX_S3_ENDPOINT must be host[:port] without a scheme")
	}
	if c.AccessKey == "" || c.SecretKey == "" {
		return errors.New("LOADMATRIX_S3_ACCESS_KEY and LOADMATRIX_S3_SECRET_KEY are required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("LOADMATRIX_S3_BUCKET is required")
	}
	return nil
}

// Key returns the object key for a run's results file.
func (c Config) Key(runID string) string {
	prefix := strings.Trim(c.Prefix, "/")
	if prefix == "" {
		return runID + "/table.json"
	}
	return prefix + "/" + runID + "/table.json"
}
