package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/alihussnain1122/mail-back/internal/config"
	"github.com/alihussnain1122/mail-back/internal/db"
)

// Applies the schema and any seed files. Safe to re-run: the schema is
// idempotent and the seeds guard their own inserts.
func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Str("service", "seeder").Logger()

	if err := godotenv.Load(); err != nil {
		logger.Info().Msg("no .env file found, relying on OS environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	conn, err := db.Open(cfg.DSN())
	if err != nil {
		logger.Fatal().Err(err).Msg("could not connect to database")
	}
	defer conn.Close()

	files := []string{
		"schema.sql",
		"seed/demo.sql",
	}

	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			if os.IsNotExist(err) {
				logger.Warn().Str("file", file).Msg("seed file missing, skipping")
				continue
			}
			logger.Fatal().Err(err).Str("file", file).Msg("could not read seed file")
		}
		if _, err := conn.Exec(string(content)); err != nil {
			logger.Fatal().Err(err).Str("file", file).Msg("could not execute seed file")
		}
		logger.Info().Str("file", file).Msg("applied")
	}

	logger.Info().Msg("database seeding completed")
}
