package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"tokoledger/backend/internal/config"
	"tokoledger/backend/internal/logger"
	pgstore "tokoledger/backend/internal/store/postgres"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run executes one migration command and returns the process exit code.
func run(argv []string) int {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	logLevel := fs.String("log-level", "info", "Log level (debug, info, warn, error)")
	fs.Usage = func() { printUsage(fs) }
	if err := fs.Parse(argv); err != nil {
		return 2
	}

	args := fs.Args()
	if len(args) == 0 {
		printUsage(fs)
		return 2
	}

	_ = godotenv.Load()
	cfg := config.Load()
	log := logger.New(logger.Config{Env: "development", Level: *logLevel})
	if cfg.DatabaseURL == "" {
		log.Error().Msg("DATABASE_URL is required")
		return 1
	}

	var steps int
	switch args[0] {
	case "up", "down", "version":
	case "steps":
		if len(args) < 2 {
			log.Error().Msg("usage: migrate steps <n>")
			return 2
		}
		n, err := strconv.Atoi(args[1])
		if err != nil {
			log.Error().Err(err).Msg("steps must be an integer")
			return 2
		}
		steps = n
	default:
		printUsage(fs)
		return 2
	}

	m, err := pgstore.NewMigrator(cfg.DatabaseURL, log)
	if err != nil {
		log.Error().Err(err).Msg("create migrator")
		return 1
	}
	defer func() {
		if err := m.Close(); err != nil {
			log.Error().Err(err).Msg("close migrator")
		}
	}()

	switch args[0] {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	case "steps":
		err = m.Steps(steps)
	case "version":
		var (
			version uint
			dirty   bool
		)
		if version, dirty, err = m.Version(); err == nil {
			fmt.Printf("version %d (dirty: %t)\n", version, dirty)
		}
	}
	if err != nil {
		log.Error().Err(err).Str("command", args[0]).Msg("migration failed")
		return 1
	}
	return 0
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintln(fs.Output(), `Usage: migrate [flags] <command>

Commands:
  up          apply all pending migrations
  down        roll back all migrations
  steps <n>   apply n migrations, negative n rolls back
  version     print the current schema version

Flags:`)
	fs.PrintDefaults()
}
