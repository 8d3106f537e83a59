// Command funnel-seed writes the default scoring rules and nurture sequences
// for one tenant. Re-running it replaces the rules and updates the default
// sequences in place.
package main

import (
	"context"
	"flag"
	"os"

	"funnel_backend/internal/events"
	"funnel_backend/internal/funnel/automation"
	"funnel_backend/internal/funnel/defaults"
	"funnel_backend/internal/funnel/repository"
	"funnel_backend/internal/funnel/scoring"
	"funnel_backend/platform/config"
	"funnel_backend/platform/db"
	"funnel_backend/platform/logger"

	"github.com/google/uuid"
)

func main() {
	tenant := flag.String("tenant", "", "tenant id to seed")
	path := flag.String("defaults", "", "defaults YAML file (overrides FUNNEL_DEFAULTS_PATH; built-in when both empty)")
	dryRun := flag.Bool("dry-run", false, "validate the defaults file without writing")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)

	defaultsPath := cfg.GetFunnelDefaultsPath()
	if *path != "" {
		defaultsPath = *path
	}
	file, err := defaults.Load(defaultsPath)
	if err != nil {
		log.Error("invalid funnel defaults", "path", defaultsPath, "error", err)
		os.Exit(1)
	}
	if *dryRun {
		log.Info("funnel defaults are valid", "rules", len(file.Scoring.Rules), "sequences", len(file.Sequences))
		return
	}

	tenantID, err := uuid.Parse(*tenant)
	if err != nil {
		log.Error("a valid -tenant is required", "value", *tenant)
		os.Exit(2)
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()

	repo := repository.New(pool)
	bus := events.NewInMemoryBus(log)
	seeder := defaults.NewSeeder(file, scoring.New(repo, bus, log), automation.NewSequenceService(repo, log), log)

	rules, sequences, err := seeder.SeedAll(ctx, tenantID)
	if err != nil {
		log.Error("failed to seed funnel defaults", "tenantId", tenantID, "error", err)
		pool.Close()
		os.Exit(1)
	}
	log.Info("funnel defaults seeded", "tenantId", tenantID, "rules", len(rules.Rules), "sequences", len(sequences))
}
