package main

import (
	"database/sql"
	"errors"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/clinic-reminders/internal/config"
	"github.com/hackgods/clinic-reminders/internal/logger"
	"github.com/hackgods/clinic-reminders/migrations"
)

// usage: migrate [up|down|version|force <version>]
func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("config load")
	}
	log := logger.New(cfg.Env, cfg.LogLevel)

	cmd := "up"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	m, closeDB, err := open(cfg.PostgresDSN)
	if err != nil {
		log.WithError(err).Fatal("open migrations")
	}
	defer closeDB()

	switch cmd {
	case "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.WithError(err).Fatal("migrate up")
		}
	case "down":
		if err := m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.WithError(err).Fatal("migrate down")
		}
	case "force":
		if len(os.Args) < 3 {
			log.Fatal("force needs a version")
		}
		v, err := strconv.Atoi(os.Args[2])
		if err != nil {
			log.WithError(err).Fatal("invalid version")
		}
		if err := m.Force(v); err != nil {
			log.WithError(err).Fatal("migrate force")
		}
	case "version":
	default:
		log.Fatalf("unknown command %q", cmd)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		log.WithError(err).Fatal("read version")
	}
	log.WithFields(logrus.Fields{"command": cmd, "version": version, "dirty": dirty}).Info("migrations done")
}

func open(dsn string) (*migrate.Migrate, func(), error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, nil, err
	}
	drv, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", drv)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return m, func() { _, _ = m.Close() }, nil
}
