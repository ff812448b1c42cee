package main

import (
	"context"
	"fmt"
	"ms-tiket/internal/config"
	"ms-tiket/internal/database/migrations"
	ledgerdb "ms-tiket/internal/ledger/db"
	"ms-tiket/internal/logger"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"
)

func main() {
	command := flag.StringP("cmd", "c", "up", "migration command: up, down, to or version")
	target := flag.UintP("version", "v", 0, "target schema version for --cmd=to")
	dir := flag.StringP("dir", "d", "", "migrations directory (defaults to MIGRATIONS_DIR)")
	flag.Parse()

	envErr := godotenv.Load()
	cfg := config.Load()

	log := logger.NewLogger(cfg.Logging.Dir, "migrate")
	defer log.Close()
	if envErr != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	}

	if cfg.Store.PostgresDSN == "" {
		log.Fatal("CONFIG", "POSTGRES_DSN not set")
	}
	cfg.Store.Driver = config.DriverPostgres
	if *dir != "" {
		cfg.Store.MigrationsDir = *dir
	}

	bunDB, err := ledgerdb.Open(context.Background(), cfg.Store, log)
	if err != nil {
		log.Fatal("DATABASE", err.Error())
	}

	runner := migrations.NewRunner(bunDB, migrations.Options{MigrationsDir: cfg.Store.MigrationsDir}, log)
	defer runner.Close()

	switch *command {
	case "up":
		err = runner.MigrateUp()
	case "down":
		err = runner.MigrateDown()
	case "to":
		err = runner.MigrateTo(*target)
	case "version":
		var version uint
		var dirty bool
		version, dirty, err = runner.Version()
		if err == nil {
			log.Info("MIGRATE", fmt.Sprintf("Schema version %d (dirty=%t)", version, dirty))
		}
	default:
		err = fmt.Errorf("unknown command %q", *command)
	}

	if err != nil {
		runner.Close()
		log.Fatal("MIGRATE", err.Error())
	}
	log.Info("MIGRATE", fmt.Sprintf("✅ %s complete", *command))
}
