package database

import (
	"database/sql"
	"time"

	"annotationstore/config"
	"annotationstore/pkg/logger"

	_ "github.com/lib/pq"
)

// Connect opens the index database, retrying the first ping a few times
// in case of temporary DNS or network blips.
func Connect(cfg *config.Config) *sql.DB {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		logger.Sugar.Fatalf("Failed to open database connection: %v", err)
	}

	for i := 0; i < 5; i++ {
		if err = db.Ping(); err == nil {
			logger.Sugar.Info("Successfully connected to the database")
			return db
		}
		logger.Sugar.Infof("Database connection failed, retrying in 2s... (%v)", err)
		time.Sleep(2 * time.Second)
	}
	logger.Sugar.Fatalf("Could not connect to database %s after retries: %v", cfg.DBHost, err)
	return nil
}
