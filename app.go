package main

import (
	"context"
	"fmt"

	"github.com/giygas/drug-registry/config"
	"github.com/giygas/drug-registry/consultation"
	"github.com/giygas/drug-registry/database"
	"github.com/giygas/drug-registry/handlers"
	"github.com/giygas/drug-registry/health"
	"github.com/giygas/drug-registry/identity"
	"github.com/giygas/drug-registry/ingest"
	"github.com/giygas/drug-registry/interfaces"
	"github.com/giygas/drug-registry/knowledge"
	"github.com/giygas/drug-registry/registry"
	"github.com/giygas/drug-registry/scheduler"
	"github.com/giygas/drug-registry/staging"
	"github.com/giygas/drug-registry/validation"
)

// app is the wired object graph shared by the commands.
type app struct {
	db        *database.DB
	resolver  *identity.Resolver
	matcher   *knowledge.Matcher
	machine   *staging.Machine
	registry  *registry.Service
	consult   *consultation.Service
	ingestor  *knowledge.Ingestor
	runner    *ingest.Runner
	scheduler *scheduler.Scheduler
	health    *health.HealthCheckerImpl
}

// newApp wires every service on an open, migrated database.
func newApp(cfg *config.Config, db *database.DB) *app {
	a := &app{db: db}

	a.resolver = identity.NewResolver(db, identity.Options{
		FuzzyThreshold:  cfg.IdentityFuzzyThreshold,
		VectorThreshold: cfg.IdentityVectorThreshold,
	})
	a.matcher = knowledge.NewMatcher(db, knowledge.Options{
		FuzzyThreshold:  cfg.KBFuzzyThreshold,
		VectorThreshold: cfg.KBVectorThreshold,
	})
	a.machine = staging.NewMachine(db, a.resolver)

	var web registry.WebLookup
	if cfg.WebLookupURL != "" {
		web = registry.NewHTTPLookup(cfg.WebLookupURL, cfg.WebLookupTimeout)
	}
	a.registry = registry.NewService(db, a.resolver, a.machine, web)
	a.consult = consultation.NewService(a.matcher, 0)

	a.ingestor = knowledge.NewIngestor(db)
	a.runner = ingest.NewRunner(a.ingestor, a.matcher, 0)

	indexes := []interfaces.Indexer{a.resolver, a.matcher}
	a.scheduler = scheduler.NewScheduler(indexes, cfg.ReindexAt)
	a.health = health.NewHealthChecker(db, indexes, a.machine, cfg.ReindexAt)

	return a
}

// openApp opens and migrates the configured database, then wires the services.
func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	db, err := database.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return newApp(cfg, db), nil
}

func (a *app) httpHandler() *handlers.HTTPHandlerImpl {
	return handlers.NewHTTPHandler(handlers.Dependencies{
		Registry:     a.registry,
		Staging:      a.machine,
		Consultation: a.consult,
		Ingester:     a.runner,
		Reindexer:    a.scheduler,
		Health:       a.health,
		Validator:    validation.NewDataValidator(),
	})
}

func (a *app) Close() error {
	return a.db.Close()
}
