package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/giygas/drug-registry/database"
	"github.com/giygas/drug-registry/entities"
)

var knowledgeColumns = []string{
	"id", "drug_name", "drug_name_norm", "disease_icd", "disease_name",
	"secondary_disease_icd", "secondary_disease_name", "tdv_feedback", "treatment_type",
	"frequency", "confidence_score", "created_at", "last_updated",
}

// associationOrder ranks reviewer feedback above any vote count, then votes, then
// recency. id breaks exact ties deterministically.
var associationOrder = []string{
	"CASE WHEN tdv_feedback <> '' THEN 1 ELSE 0 END DESC",
	"frequency DESC",
	"last_updated DESC",
	"id DESC",
}

// ObservationKey identifies one knowledge-base row.
type ObservationKey struct {
	DrugNameNorm        string
	DiseaseICD          string
	SecondaryDiseaseICD string
	TDVFeedback         string
	TreatmentType       string
}

// DistinctDrugNames returns the normalized drug-name vocabulary, sorted ascending.
func (r *Repository) DistinctDrugNames(ctx context.Context, q database.Querier) ([]string, error) {
	sb := r.flavor.NewSelectBuilder()
	sb.Select("drug_name_norm").Distinct().From(tableKnowledgeBase).Where(sb.NotEqual("drug_name_norm", ""))
	sb.OrderBy("drug_name_norm").Asc()

	query, args := sb.Build()
	var names []string
	if err := q.SelectContext(ctx, &names, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list knowledge-base drug names: %w", err)
	}
	return names, nil
}

// BestAssociation returns the highest-ranked entry for a drug and disease code.
func (r *Repository) BestAssociation(ctx context.Context, q database.Querier, drugNameNorm, icd string) (*entities.KnowledgeBaseEntry, error) {
	sb := r.flavor.NewSelectBuilder()
	sb.Select(knowledgeColumns...).From(tableKnowledgeBase).Where(
		sb.Equal("drug_name_norm", drugNameNorm),
		sb.Equal("disease_icd", icd),
	)
	sb.OrderBy(associationOrder...)
	sb.Limit(1)

	query, args := sb.Build()
	var e entities.KnowledgeBaseEntry
	if err := q.GetContext(ctx, &e, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("association %s/%s: %w", drugNameNorm, icd, entities.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get association %s/%s: %w", drugNameNorm, icd, err)
	}
	return &e, nil
}

// ListAssociations returns every entry of a drug in ranking order.
func (r *Repository) ListAssociations(ctx context.Context, q database.Querier, drugNameNorm string) ([]entities.KnowledgeBaseEntry, error) {
	sb := r.flavor.NewSelectBuilder()
	sb.Select(knowledgeColumns...).From(tableKnowledgeBase).Where(sb.Equal("drug_name_norm", drugNameNorm))
	sb.OrderBy(append([]string{"disease_icd ASC"}, associationOrder...)...)

	query, args := sb.Build()
	var rows []entities.KnowledgeBaseEntry
	if err := q.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list associations of %s: %w", drugNameNorm, err)
	}
	return rows, nil
}

// FindObservation returns the row for key, or nil. lock takes a row lock on
// PostgreSQL.
func (r *Repository) FindObservation(ctx context.Context, q database.Querier, key ObservationKey, lock bool) (*entities.KnowledgeBaseEntry, error) {
	sb := r.flavor.NewSelectBuilder()
	sb.Select(knowledgeColumns...).From(tableKnowledgeBase).Where(
		sb.Equal("drug_name_norm", key.DrugNameNorm),
		sb.Equal("disease_icd", key.DiseaseICD),
		sb.Equal("secondary_disease_icd", key.SecondaryDiseaseICD),
		sb.Equal("tdv_feedback", key.TDVFeedback),
		sb.Equal("treatment_type", key.TreatmentType),
	)

	query, args := sb.Build()
	if lock {
		query = r.forUpdate(query)
	}

	var e entities.KnowledgeBaseEntry
	if err := q.GetContext(ctx, &e, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find observation: %w", err)
	}
	return &e, nil
}

// InsertObservation stores a new knowledge-base row and sets its id.
func (r *Repository) InsertObservation(ctx context.Context, q database.Querier, e *entities.KnowledgeBaseEntry) error {
	ib := r.flavor.NewInsertBuilder()
	ib.InsertInto(tableKnowledgeBase)
	ib.Cols(knowledgeColumns[1:]...)
	ib.Values(e.DrugName, e.DrugNameNorm, e.DiseaseICD, e.DiseaseName,
		e.SecondaryDiseaseICD, e.SecondaryDiseaseName, e.TDVFeedback, e.TreatmentType,
		e.Frequency, e.ConfidenceScore, e.CreatedAt, e.LastUpdated)

	id, err := database.InsertReturningID(ctx, q, ib)
	if err != nil {
		return fmt.Errorf("failed to insert observation for %s: %w", e.DrugNameNorm, err)
	}
	e.ID = id
	return nil
}

// UpdateObservationVotes stores a new frequency and confidence for a row.
func (r *Repository) UpdateObservationVotes(ctx context.Context, q database.Querier, id, frequency int64, confidence float64, at time.Time) error {
	ub := r.flavor.NewUpdateBuilder()
	ub.Update(tableKnowledgeBase).Set(
		ub.Assign("frequency", frequency),
		ub.Assign("confidence_score", confidence),
		ub.Assign("last_updated", at),
	).Where(ub.Equal("id", id))

	query, args := ub.Build()
	res, err := q.ExecContext(ctx, query, args...)
	return expectOneRow(res, err, fmt.Sprintf("observation %d", id))
}
