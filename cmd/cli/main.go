package main

import (
	"os"
	"strings"

	"github.com/brightsend/campaign-dispatcher/internal/config"
	"github.com/brightsend/campaign-dispatcher/pkg/logger"
	"github.com/brightsend/campaign-dispatcher/pkg/pg"
)

// Applies goose migrations against the write database.
// Usage: cli [--env=./.env] [--dir=./migrations]
func main() {
	err := config.Load(getEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	pgConf := pg.Config{
		User:     config.Get().PostgresWriteUser,
		Host:     config.Get().PostgresWriteHost,
		Port:     config.Get().PostgresWritePort,
		Password: config.Get().PostgresWritePassword,
		Database: config.Get().PostgresWriteDatabase,
	}
	if err := pg.Migrate(pgConf, getMigrationPath()); err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}
	logger.Info("migrations applied", "dir", getMigrationPath())
}

func getEnvPath() string {
	path := argValue("--env=", ".env")
	if _, err := os.Stat(path); err != nil {
		logger.Warn("env file not found, relying on process environment", "path", path)
		return ""
	}
	return path
}

func getMigrationPath() string {
	path := argValue("--dir=", "./migrations")
	if _, err := os.Stat(path); err != nil {
		logger.Error("migration directory not found", "path", path)
		os.Exit(1)
	}
	return path
}

func argValue(prefix, fallback string) string {
	for _, v := range os.Args[1:] {
		if strings.HasPrefix(v, prefix) {
			return strings.TrimPrefix(v, prefix)
		}
	}
	return fallback
}
