// Package consultation answers "what role does this drug play for this disease"
// from the knowledge base.
package consultation

import (
	"context"
	"fmt"
	"strings"

	"github.com/giygas/drug-registry/classification"
	"github.com/giygas/drug-registry/entities"
	"github.com/giygas/drug-registry/knowledge"
	"github.com/giygas/drug-registry/logging"
	"github.com/giygas/drug-registry/normalize"
)

// Result is a consultation answer.
type Result struct {
	DrugName    string                  `json:"drugName"`
	MatchedName string                  `json:"matchedName"`
	MatchScore  float64                 `json:"matchScore"`
	Method      knowledge.Method        `json:"method"`
	DiseaseICD  string                  `json:"diseaseIcd"`
	DiseaseName string                  `json:"diseaseName,omitempty"`
	Role        string                  `json:"role"`
	Category    classification.Category `json:"category"`
	Validity    classification.Validity `json:"validity"`
	Confidence  float64                 `json:"confidence"`
	Frequency   int64                   `json:"frequency"`
	Source      string                  `json:"source"`
}

// Service resolves consultations.
type Service struct {
	matcher  *knowledge.Matcher
	minScore float64
}

// NewService creates a consultation service. minScore overrides the matcher's fuzzy
// floor when positive.
func NewService(matcher *knowledge.Matcher, minScore float64) *Service {
	return &Service{matcher: matcher, minScore: minScore}
}

// Resolve matches drugName against the knowledge-base vocabulary, picks the best
// association for icd and classifies its role. Reviewer feedback, when present,
// is the role that gets classified.
func (s *Service) Resolve(ctx context.Context, drugName, icd string) (Result, error) {
	name := strings.TrimSpace(drugName)
	code := normalize.ICDCode(icd)
	if normalize.Name(name) == "" || code == "" {
		return Result{}, fmt.Errorf("drug name and disease code are required: %w", entities.ErrInvalidInput)
	}

	match, ok := s.matcher.FindDrugName(ctx, name, s.minScore)
	if !ok {
		return Result{}, fmt.Errorf("no knowledge-base drug matches %q: %w", name, entities.ErrNotFound)
	}

	entry, err := s.matcher.FindAssociation(ctx, match.Name, code)
	if err != nil {
		return Result{}, fmt.Errorf("association %s/%s: %w", match.Name, code, err)
	}

	res := resultFor(name, match, entry)
	logging.Debug("Consultation resolved",
		"drug", name,
		"matched", match.Name,
		"method", match.Method,
		"icd", code,
		"role", res.Role,
		"source", res.Source,
	)
	return res, nil
}

// Associations lists every knowledge-base entry of the drug matching drugName,
// grouped by disease code with the best entry of each disease first.
func (s *Service) Associations(ctx context.Context, drugName string) ([]Result, error) {
	name := strings.TrimSpace(drugName)
	if normalize.Name(name) == "" {
		return nil, fmt.Errorf("drug name is required: %w", entities.ErrInvalidInput)
	}

	match, ok := s.matcher.FindDrugName(ctx, name, s.minScore)
	if !ok {
		return nil, fmt.Errorf("no knowledge-base drug matches %q: %w", name, entities.ErrNotFound)
	}

	entries, err := s.matcher.Associations(ctx, match.Name)
	if err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(entries))
	for i := range entries {
		out = append(out, resultFor(name, match, &entries[i]))
	}
	return out, nil
}

func resultFor(name string, match knowledge.NameMatch, entry *entities.KnowledgeBaseEntry) Result {
	class := classification.ParseClassification(entry.Role())
	return Result{
		DrugName:    name,
		MatchedName: match.Name,
		MatchScore:  match.Score,
		Method:      match.Method,
		DiseaseICD:  entry.DiseaseICD,
		DiseaseName: entry.DiseaseName,
		Role:        class.Role,
		Category:    class.Category,
		Validity:    class.Validity,
		Confidence:  entry.ConfidenceScore,
		Frequency:   entry.Frequency,
		Source:      entry.Source(),
	}
}
