// migrate applies the embedded schema migrations: go run ./cmd/migrate -direction up
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/ovaphlow/pitchfork/service-membership/pkg/database"
	"github.com/ovaphlow/pitchfork/service-membership/pkg/utilities"
)

func main() {
	os.Exit(run())
}

func run() int {
	direction := flag.String("direction", "up", "up, down or version")
	steps := flag.Int("steps", 1, "number of migrations to roll back with -direction down")
	dsn := flag.String("dsn", "", "database URL (defaults to DATABASE_URL)")
	flag.Parse()

	_ = godotenv.Load()
	if *dsn == "" {
		*dsn = os.Getenv("DATABASE_URL")
	}
	if *dsn == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is not set; pass -dsn or create a .env")
		return 1
	}

	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		return 1
	}
	defer lg.Sync()
	sugar := lg.Sugar()

	switch *direction {
	case "up":
		err = database.MigrateUp(*dsn)
	case "down":
		err = database.MigrateDown(*dsn, *steps)
	case "version":
		v, dirty, verr := database.MigrationVersion(*dsn)
		if verr == nil {
			sugar.Infow("schema version", "version", v, "dirty", dirty)
		}
		err = verr
	default:
		err = fmt.Errorf("direction must be up, down or version, got %q", *direction)
	}
	if err != nil {
		sugar.Errorw("migrate failed", "direction", *direction, "err", err)
		return 1
	}
	if *direction != "version" {
		sugar.Infow("migrate done", "direction", *direction)
	}
	return 0
}
