// Package knowledge answers (drug, disease) questions from the knowledge base and
// records new observations into it.
package knowledge

import (
	"context"
	"fmt"
	"sort"
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

// Method names the cascade step that matched a knowledge-base drug name.
type Method string

const (
	MethodExact    Method = "exact"
	MethodContains Method = "contains"
	MethodFuzzy    Method = "fuzzy"
	MethodVector   Method = "tfidf"
)

// Score reported for the non-approximate methods.
const (
	ScoreExact    = 1.0
	ScoreContains = 0.95
)

// NameMatch is a vocabulary entry matched by FindDrugName.
type NameMatch struct {
	Name   string  `json:"name"`
	Score  float64 `json:"score"`
	Method Method  `json:"method"`
}

// Options holds the floors of the approximate methods, both on a 0..1 scale.
type Options struct {
	FuzzyThreshold  float64
	VectorThreshold float64
}

// DefaultOptions returns the production floors.
func DefaultOptions() Options {
	return Options{FuzzyThreshold: 0.70, VectorThreshold: 0.75}
}

// Matcher resolves names against the distinct drug-name vocabulary of the
// knowledge base and picks the best association for a disease.
type Matcher struct {
	db    *database.DB
	repo  *repositories.Repository
	index *data.NameIndex
	opts  Options
}

// NewMatcher creates a matcher; the vocabulary is loaded on first use.
func NewMatcher(db *database.DB, opts Options) *Matcher {
	m := &Matcher{
		db:   db,
		repo: repositories.New(db),
		opts: opts,
	}
	m.index = data.NewNameIndex("knowledge", m.loadVocabulary, similarity.UnigramsAndBigrams)
	return m
}

func (m *Matcher) loadVocabulary(ctx context.Context) ([]data.IndexEntry, error) {
	names, err := m.repo.DistinctDrugNames(ctx, m.db)
	if err != nil {
		return nil, err
	}
	// Byte order, whatever the database collation is, so exact lookup can binary search.
	sort.Strings(names)
	entries := make([]data.IndexEntry, len(names))
	for i, n := range names {
		entries[i] = data.IndexEntry{Name: n, Norm: n}
	}
	return entries, nil
}

// FindDrugName matches raw against the vocabulary: exact, then contains, then
// token-sort similarity, then unigram+bigram TF-IDF. minScore overrides the fuzzy
// floor when positive. A vocabulary that cannot be loaded is logged and reported
// as no match.
func (m *Matcher) FindDrugName(ctx context.Context, raw string, minScore float64) (NameMatch, bool) {
	norm := normalize.Name(raw)
	if norm == "" {
		return m.miss()
	}

	snap, err := m.index.Snapshot(ctx)
	if err != nil {
		logging.Warn("Knowledge-base vocabulary unavailable", "error", err)
		return m.miss()
	}
	vocab := snap.Norms

	if i := sort.SearchStrings(vocab, norm); i < len(vocab) && vocab[i] == norm {
		return m.hit(NameMatch{Name: norm, Score: ScoreExact, Method: MethodExact})
	}

	for _, v := range vocab {
		if strings.Contains(v, norm) {
			return m.hit(NameMatch{Name: v, Score: ScoreContains, Method: MethodContains})
		}
	}

	floor := m.opts.FuzzyThreshold
	if minScore > 0 {
		floor = minScore
	}
	if i, score, ok := similarity.BestFuzzy(norm, vocab, floor*100); ok {
		return m.hit(NameMatch{Name: vocab[i], Score: score / 100, Method: MethodFuzzy})
	}

	if i, score, ok := snap.Vectors.Best(norm, m.opts.VectorThreshold); ok {
		return m.hit(NameMatch{Name: vocab[i], Score: score, Method: MethodVector})
	}

	return m.miss()
}

func (m *Matcher) hit(match NameMatch) (NameMatch, bool) {
	metrics.KBMatchTotal.WithLabelValues(string(match.Method)).Inc()
	return match, true
}

func (m *Matcher) miss() (NameMatch, bool) {
	metrics.KBMatchTotal.WithLabelValues("none").Inc()
	return NameMatch{}, false
}

// FindAssociation returns the best entry for a matched name and ICD code: reviewer
// feedback first, then frequency, then recency. No entry wraps entities.ErrNotFound.
func (m *Matcher) FindAssociation(ctx context.Context, name, icd string) (*entities.KnowledgeBaseEntry, error) {
	norm := normalize.Name(name)
	code := normalize.ICDCode(icd)
	if norm == "" || code == "" {
		return nil, fmt.Errorf("drug name and disease code are required: %w", entities.ErrInvalidInput)
	}
	return m.repo.BestAssociation(ctx, m.db, norm, code)
}

// Associations lists every entry recorded for a drug name, best first per disease.
func (m *Matcher) Associations(ctx context.Context, name string) ([]entities.KnowledgeBaseEntry, error) {
	return m.repo.ListAssociations(ctx, m.db, normalize.Name(name))
}

// Rebuild reloads the vocabulary, typically after bulk ingestion.
func (m *Matcher) Rebuild(ctx context.Context) error {
	_, err := m.index.Rebuild(ctx)
	return err
}

// Index exposes the vocabulary index for health reporting.
func (m *Matcher) Index() *data.NameIndex {
	return m.index
}
