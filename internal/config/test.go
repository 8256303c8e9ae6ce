package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// TestConfig carries settings only the test suite reads.
type TestConfig struct {
	TestPostgresDSN string `env:"TEST_POSTGRES_DSN,notEmpty"`
}

// LoadTest reads test settings from the environment. It fails when
// TEST_POSTGRES_DSN is unset so database tests can skip themselves.
func LoadTest() (TestConfig, error) {
	var cfg TestConfig
	if err := env.Parse(&cfg); err != nil {
		return TestConfig{}, fmt.Errorf("parse test config: %w", err)
	}
	return cfg, nil
}
