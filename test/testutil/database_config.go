package testutil

import (
	"fmt"
	"os"
)

// DatabaseConfig holds configuration for connecting to an existing server.
type DatabaseConfig struct {
	// URL is an admin connection to a server the tests may create and drop
	// databases on. Empty means start a container.
	URL string
}

// GetDatabaseConfig reads database configuration from environment variables.
// REMIGRATE_TEST_DATABASE_URL takes priority over the discrete
// REMIGRATE_TEST_DATABASE_* variables. Without either, testcontainers is used.
func GetDatabaseConfig() DatabaseConfig {
	if url := os.Getenv("REMIGRATE_TEST_DATABASE_URL"); url != "" {
		return DatabaseConfig{URL: url}
	}

	host := os.Getenv("REMIGRATE_TEST_DATABASE_HOST")
	if host == "" {
		return DatabaseConfig{}
	}
	return DatabaseConfig{
		URL: buildDatabaseURL(
			getEnv("REMIGRATE_TEST_DATABASE_USER", "postgres"),
			getEnv("REMIGRATE_TEST_DATABASE_PASSWORD", ""),
			host,
			getEnv("REMIGRATE_TEST_DATABASE_PORT", "5432"),
			getEnv("REMIGRATE_TEST_DATABASE_NAME", "postgres"),
			getEnv("REMIGRATE_TEST_DATABASE_SSLMODE", "disable"),
		),
	}
}

// buildDatabaseURL constructs a PostgreSQL connection string.
func buildDatabaseURL(user, password, host, port, dbname, sslmode string) string {
	if password != "" {
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
			user, password, host, port, dbname, sslmode)
	}
	return fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s",
		user, host, port, dbname, sslmode)
}

// getEnv gets an environment variable with a fallback default value.
func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
