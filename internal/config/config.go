package config

import (
	"os"
	"strconv"
	"strings"
)

// DatabaseConfig holds the connection settings of the PostgreSQL registry
// database. Host and Port accept comma separated lists for multihost setups.
type DatabaseConfig struct {
	Host               string
	Port               string
	User               string
	Password           string
	Name               string
	SSLMode            string
	TargetSessionAttrs string
	MaxOpenConns       int
	MaxIdleConns       int
	ConnMaxLifetimeSec int
}

// ProvisionConfig lists the main database URLs followers are created from
// and the extra drivers to expand them with.
type ProvisionConfig struct {
	File    string
	URLs    []string
	Drivers []string
}

// AppConfig is the centralized configuration struct for the application.
// It is populated from environment variables. Sensitive values are not hardcoded.
// MigrateOnStart creates the registry schema when it is missing.
type AppConfig struct {
	AppHost        string
	Port           string
	LogLevel       string
	MigrateOnStart bool
	Database       DatabaseConfig
	Provision      ProvisionConfig
}

// Load reads configuration from environment variables.
// A .env file can be auto-loaded by importing: _ "github.com/joho/godotenv/autoload"
// Real environment variables take precedence. When PROVISION_FILE is set,
// its URLs and drivers are appended after the ones from the environment.
func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		AppHost:        getEnv("APP_HOST", "localhost:8080"),
		Port:           getEnv("PORT", "8080"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		MigrateOnStart: getEnvBool("DB_MIGRATE_ON_START", true),
		Database: DatabaseConfig{
			Host:               getEnv("DB_HOST", ""),
			Port:               getEnv("DB_PORT", "5432"),
			User:               getEnv("DB_USER", ""),
			Password:           getEnv("DB_PASSWORD", ""),
			Name:               getEnv("DB_NAME", ""),
			SSLMode:            getEnv("DB_SSLMODE", "disable"),
			TargetSessionAttrs: getEnv("DB_TARGET_SESSION_ATTRS", ""),
			MaxOpenConns:       getEnvInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:       getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetimeSec: getEnvInt("DB_CONN_MAX_LIFETIME_SEC", 300),
		},
		Provision: ProvisionConfig{
			File:    getEnv("PROVISION_FILE", ""),
			URLs:    getEnvFields("PROVISION_URLS"),
			Drivers: getEnvFields("PROVISION_DRIVERS"),
		},
	}

	if cfg.Provision.File != "" {
		pf, err := LoadProvisionFile(cfg.Provision.File)
		if err != nil {
			return nil, err
		}
		cfg.Provision.URLs = append(cfg.Provision.URLs, pf.URLs...)
		cfg.Provision.Drivers = append(cfg.Provision.Drivers, pf.Drivers...)
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

// getEnvFields splits a variable on whitespace. URLs may contain commas, so
// commas are not separators here.
func getEnvFields(key string) []string {
	return strings.Fields(os.Getenv(key))
}
