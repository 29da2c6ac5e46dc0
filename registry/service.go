// Package registry is the entry point for drug identity lookups and administrative
// changes to the canonical table.
package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/giygas/drug-registry/database"
	"github.com/giygas/drug-registry/entities"
	"github.com/giygas/drug-registry/identity"
	"github.com/giygas/drug-registry/logging"
	"github.com/giygas/drug-registry/repositories"
	"github.com/giygas/drug-registry/staging"
)

// HighConfidence is the bar a database match must reach to skip the web lookup.
const HighConfidence = 0.95

// Source of a lookup answer.
const (
	SourceDatabase = "database"
	SourceWeb      = "web"
)

// LookupResult is the answer of Lookup. Match is set for database answers; Record
// and Submission for web answers.
type LookupResult struct {
	Source     string                `json:"source"`
	Match      *identity.Match       `json:"match,omitempty"`
	Record     *WebRecord            `json:"record,omitempty"`
	Submission *staging.SubmitResult `json:"submission,omitempty"`
}

// Service ties the identity cascade, the staging machine and the web lookup
// together.
type Service struct {
	db       *database.DB
	repo     *repositories.Repository
	resolver *identity.Resolver
	machine  *staging.Machine
	web      WebLookup
}

// NewService creates a registry service. web may be nil, in which case Lookup only
// answers from the database.
func NewService(db *database.DB, resolver *identity.Resolver, machine *staging.Machine, web WebLookup) *Service {
	return &Service{
		db:       db,
		repo:     repositories.New(db),
		resolver: resolver,
		machine:  machine,
		web:      web,
	}
}

// ResolveDrugIdentity runs the matching cascade.
func (s *Service) ResolveDrugIdentity(ctx context.Context, name string) (identity.Match, error) {
	return s.resolver.Resolve(ctx, name)
}

// Lookup answers from the registry when the cascade finds a high-confidence match.
// Otherwise it asks the web lookup, submits what it finds through the staging
// machine and returns that. When the web has nothing, a weaker database match is
// still returned.
func (s *Service) Lookup(ctx context.Context, name, user string) (LookupResult, error) {
	match, err := s.resolver.Resolve(ctx, name)
	found := err == nil
	if err != nil && !errors.Is(err, entities.ErrNotFound) {
		return LookupResult{}, err
	}
	if found && match.Confidence >= HighConfidence {
		return LookupResult{Source: SourceDatabase, Match: &match}, nil
	}

	if rec := s.webLookup(ctx, name); rec != nil {
		sub, subErr := s.machine.Submit(ctx, staging.SubmitRequest{Fields: rec.Fields, Diseases: rec.Diseases, User: user})
		if subErr == nil {
			return LookupResult{Source: SourceWeb, Record: rec, Submission: &sub}, nil
		}
		logging.Warn("Failed to store web lookup result", "name", name, "error", subErr)
		if !found {
			return LookupResult{}, subErr
		}
	}

	if found {
		return LookupResult{Source: SourceDatabase, Match: &match}, nil
	}
	return LookupResult{}, err
}

func (s *Service) webLookup(ctx context.Context, name string) *WebRecord {
	if s.web == nil {
		return nil
	}
	rec, err := s.web.Lookup(ctx, name)
	if err != nil {
		logging.Warn("Web lookup failed", "name", name, "error", err)
		return nil
	}
	return rec
}

// DeleteDrug removes a canonical drug and its disease links, then rebuilds the
// identity index.
func (s *Service) DeleteDrug(ctx context.Context, id int64, user string) error {
	var links int64
	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := s.repo.GetDrug(ctx, tx, id, true); err != nil {
			return err
		}
		var err error
		if links, err = s.repo.DeleteLinksForDrug(ctx, tx, id); err != nil {
			return err
		}
		return s.repo.DeleteDrug(ctx, tx, id)
	})
	if err != nil {
		if errors.Is(err, entities.ErrNotFound) {
			return err
		}
		return fmt.Errorf("delete drug %d: %w: %v", id, entities.ErrStorageFailure, err)
	}

	logging.Info("Drug deleted", "drug_id", id, "links", links, "user", user)
	if err := s.resolver.Rebuild(ctx); err != nil {
		logging.Error("Failed to rebuild identity index after delete", "error", err)
	}
	return nil
}
