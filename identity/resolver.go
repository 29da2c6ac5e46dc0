// Package identity resolves a free-text drug name to a canonical registry record.
//
// Four strategies run in a fixed order, each restricted to verified drugs that
// carry a registration number, and the first hit wins:
//
//	exact     1.00  case-insensitive display name, then normalized name
//	contains  0.95  substring of the display name, then of the normalized name
//	fuzzy     0.88  token-sort similarity against the cached name index
//	tfidf     0.90  unigram TF-IDF cosine against the cached name index
//
// The cached index is built on first use and only refreshed by Rebuild.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/giygas/drug-registry/data"
	"github.com/giygas/drug-registry/database"
	"github.com/giygas/drug-registry/entities"
	"github.com/giygas/drug-registry/logging"
	"github.com/giygas/drug-registry/metrics"
	"github.com/giygas/drug-registry/normalize"
	"github.com/giygas/drug-registry/repositories"
	"github.com/giygas/drug-registry/similarity"
)

// Strategy names the cascade step that produced a match.
type Strategy string

const (
	StrategyExact    Strategy = "exact"
	StrategyContains Strategy = "contains"
	StrategyFuzzy    Strategy = "fuzzy"
	StrategyVector   Strategy = "tfidf"
)

// Confidence attached to each strategy.
const (
	ConfidenceExact    = 1.0
	ConfidenceContains = 0.95
	ConfidenceFuzzy    = 0.88
	ConfidenceVector   = 0.90
)

// Match is a resolved canonical drug.
type Match struct {
	Drug       entities.CanonicalDrug `json:"drug"`
	Confidence float64                `json:"confidence"`
	Strategy   Strategy               `json:"strategy"`
}

// Options holds the acceptance floors of the approximate strategies.
type Options struct {
	FuzzyThreshold  float64 // 0..100
	VectorThreshold float64 // 0..1
}

// DefaultOptions returns the production floors.
func DefaultOptions() Options {
	return Options{FuzzyThreshold: 85, VectorThreshold: 0.75}
}

type strategy struct {
	name       Strategy
	confidence float64
	find       func(ctx context.Context, raw, norm string) (*entities.CanonicalDrug, error)
}

// Resolver runs the identity cascade.
type Resolver struct {
	db         *database.DB
	repo       *repositories.Repository
	index      *data.NameIndex
	opts       Options
	strategies []strategy
}

// NewResolver creates a resolver. The name index stays empty until the first fuzzy
// or vector lookup.
func NewResolver(db *database.DB, opts Options) *Resolver {
	r := &Resolver{
		db:   db,
		repo: repositories.New(db),
		opts: opts,
	}
	r.index = data.NewNameIndex("identity", r.loadCorpus, similarity.Unigrams)
	r.strategies = []strategy{
		{StrategyExact, ConfidenceExact, r.findExact},
		{StrategyContains, ConfidenceContains, r.findContains},
		{StrategyFuzzy, ConfidenceFuzzy, r.findFuzzy},
		{StrategyVector, ConfidenceVector, r.findVector},
	}
	return r
}

// Resolve returns the best canonical match for rawName, or an error wrapping
// entities.ErrNotFound. A strategy that fails is logged and counted as a miss.
func (r *Resolver) Resolve(ctx context.Context, rawName string) (Match, error) {
	raw := strings.TrimSpace(rawName)
	norm := normalize.Name(raw)
	if norm == "" {
		metrics.IdentityMatchTotal.WithLabelValues("not_found").Inc()
		return Match{}, fmt.Errorf("empty drug name: %w", entities.ErrNotFound)
	}

	for _, s := range r.strategies {
		drug, err := s.find(ctx, raw, norm)
		if err != nil {
			logging.Warn("Identity strategy failed", "strategy", s.name, "name", raw, "error", err)
			continue
		}
		if drug == nil {
			continue
		}

		metrics.IdentityMatchTotal.WithLabelValues(string(s.name)).Inc()
		logging.Debug("Identity resolved", "name", raw, "strategy", s.name, "drug_id", drug.ID)
		return Match{Drug: *drug, Confidence: s.confidence, Strategy: s.name}, nil
	}

	metrics.IdentityMatchTotal.WithLabelValues("not_found").Inc()
	return Match{}, fmt.Errorf("no canonical drug matches %q: %w", raw, entities.ErrNotFound)
}

// Rebuild reloads the name index from the canonical table. Callers that insert or
// overwrite drugs must call it; nothing invalidates the index implicitly.
func (r *Resolver) Rebuild(ctx context.Context) error {
	_, err := r.index.Rebuild(ctx)
	return err
}

// Index exposes the name index for health reporting.
func (r *Resolver) Index() *data.NameIndex {
	return r.index
}

func (r *Resolver) loadCorpus(ctx context.Context) ([]data.IndexEntry, error) {
	rows, err := r.repo.ListEligibleNames(ctx, r.db)
	if err != nil {
		return nil, err
	}
	entries := make([]data.IndexEntry, len(rows))
	for i, row := range rows {
		entries[i] = data.IndexEntry{ID: row.ID, Name: row.Name, Norm: row.NameNorm}
	}
	return entries, nil
}

func (r *Resolver) findExact(ctx context.Context, raw, norm string) (*entities.CanonicalDrug, error) {
	drug, err := r.repo.FirstEligibleDrug(ctx, r.db, repositories.ExactName(raw))
	if err != nil || drug != nil || norm == raw {
		return drug, err
	}
	return r.repo.FirstEligibleDrug(ctx, r.db, repositories.ExactNorm(norm))
}

func (r *Resolver) findContains(ctx context.Context, raw, norm string) (*entities.CanonicalDrug, error) {
	drug, err := r.repo.FirstEligibleDrug(ctx, r.db, repositories.NameContains(strings.ToLower(raw)))
	if err != nil || drug != nil {
		return drug, err
	}
	return r.repo.FirstEligibleDrug(ctx, r.db, repositories.NormContains(norm))
}

func (r *Resolver) findFuzzy(ctx context.Context, _, norm string) (*entities.CanonicalDrug, error) {
	snap, err := r.index.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	i, _, ok := similarity.BestFuzzy(norm, snap.Norms, r.opts.FuzzyThreshold)
	if !ok {
		return nil, nil
	}
	return r.fromIndex(ctx, snap.Entries[i])
}

func (r *Resolver) findVector(ctx context.Context, _, norm string) (*entities.CanonicalDrug, error) {
	snap, err := r.index.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	i, _, ok := snap.Vectors.Best(norm, r.opts.VectorThreshold)
	if !ok {
		return nil, nil
	}
	return r.fromIndex(ctx, snap.Entries[i])
}

// fromIndex loads the full record of an index hit. A drug deleted since the last
// rebuild is a miss, not an error.
func (r *Resolver) fromIndex(ctx context.Context, e data.IndexEntry) (*entities.CanonicalDrug, error) {
	drug, err := r.repo.GetDrug(ctx, r.db, e.ID, false)
	if err != nil {
		if errors.Is(err, entities.ErrNotFound) {
			logging.Warn("Identity index entry is stale", "drug_id", e.ID, "name", e.Name)
			return nil, nil
		}
		return nil, err
	}
	return drug, nil
}
