package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"leadwire/internal/migrations"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

func main() {
	dbPath := flag.String("db", "./data/leadwire.db", "Path to the database file")
	dir := flag.String("migrations", "", "Directory holding NNN_name.sql migration files")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	if *dir != "" {
		migrations.MigrationsDir = *dir
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("sqlite3", *dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		logger.WithError(err).Fatal("Failed to open database")
	}
	defer db.Close()

	applied, err := migrations.Apply(ctx, db)
	if err != nil {
		logger.WithError(err).WithField("applied", applied).Fatal("Migration failed")
	}
	if len(applied) == 0 {
		logger.WithField("db", *dbPath).Info("Schema is up to date")
		return
	}
	logger.WithFields(logrus.Fields{"db": *dbPath, "applied": applied}).Info("Migrations applied")
}
