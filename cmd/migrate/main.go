package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"schooldesk/auth-identity/internal/config"
	"schooldesk/auth-identity/internal/db"
	"schooldesk/auth-identity/internal/logging"
)

func main() {
	down := flag.Int("down", 0, "roll back this many migrations instead of applying")
	showVersion := flag.Bool("version", false, "print the current schema version and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: 2})
	if err != nil {
		log.Fatalf("db connection failed: %v", err)
	}
	defer pool.Close()

	switch {
	case *showVersion:
		version, dirty, err := db.Version(pool)
		if err != nil {
			log.Fatalf("read version: %v", err)
		}
		log.WithFields(logrus.Fields{"version": version, "dirty": dirty}).Info("schema version")
	case *down > 0:
		if err := db.MigrateDown(pool, *down); err != nil {
			log.Fatalf("rollback failed: %v", err)
		}
		log.WithField("steps", *down).Info("migrations rolled back")
	default:
		if err := db.Migrate(pool); err != nil {
			log.Fatalf("migrations failed: %v", err)
		}
		log.Info("migrations applied")
	}
}
