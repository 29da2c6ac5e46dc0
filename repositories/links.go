package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/huandu/go-sqlbuilder"

	"github.com/giygas/drug-registry/database"
	"github.com/giygas/drug-registry/entities"
)

var linkColumns = []string{
	"id", "drug_id", "registration_number", "staging_id", "disease_id",
	"status", "coverage_type", "is_verified", "created_at", "updated_at",
}

// EnsureDisease returns the id of the disease with the ICD code, creating it when
// missing. A known code keeps its stored name.
func (r *Repository) EnsureDisease(ctx context.Context, q database.Querier, d entities.Disease) (int64, error) {
	sb := r.flavor.NewSelectBuilder()
	sb.Select("id").From(tableDiseases).Where(sb.Equal("icd_code", d.ICDCode))

	query, args := sb.Build()
	var id int64
	err := q.GetContext(ctx, &id, query, args...)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("failed to look up disease %s: %w", d.ICDCode, err)
	}

	ib := r.flavor.NewInsertBuilder()
	ib.InsertInto(tableDiseases).Cols("icd_code", "name", "name_norm").Values(d.ICDCode, d.Name, d.NameNorm)
	id, err = database.InsertReturningID(ctx, q, ib)
	if err != nil {
		return 0, fmt.Errorf("failed to insert disease %s: %w", d.ICDCode, err)
	}
	return id, nil
}

// InsertLink stores a drug/disease association and sets its id.
func (r *Repository) InsertLink(ctx context.Context, q database.Querier, l *entities.DrugDiseaseLink) error {
	ib := r.flavor.NewInsertBuilder()
	ib.InsertInto(tableLinks)
	ib.Cols(linkColumns[1:]...)
	ib.Values(l.DrugID, l.RegistrationNumber, l.StagingID, l.DiseaseID, l.Status, l.CoverageType, l.Verified, l.CreatedAt, l.UpdatedAt)

	id, err := database.InsertReturningID(ctx, q, ib)
	if err != nil {
		return fmt.Errorf("failed to insert link to disease %d: %w", l.DiseaseID, err)
	}
	l.ID = id
	return nil
}

// pendingFor selects the pending links of a staging candidate: by registration
// number when it has one, by staging id otherwise.
func pendingFor(ub *sqlbuilder.UpdateBuilder, reg string, stagingID int64) []string {
	key := ub.Equal("staging_id", stagingID)
	if reg != "" {
		key = ub.Equal("registration_number", reg)
	}
	return []string{ub.Equal("status", entities.LinkPending), key}
}

// ActivatePendingLinks binds the candidate's pending links to drugID and marks them
// active and verified.
func (r *Repository) ActivatePendingLinks(ctx context.Context, q database.Querier, reg string, stagingID, drugID int64, at time.Time) (int64, error) {
	return r.updatePendingLinks(ctx, q, reg, stagingID, func(ub *sqlbuilder.UpdateBuilder) []string {
		return []string{
			ub.Assign("status", entities.LinkActive),
			ub.Assign("drug_id", drugID),
			ub.Assign("is_verified", true),
			ub.Assign("updated_at", at),
		}
	})
}

// ArchivePendingLinks retires the candidate's pending links without deleting them.
func (r *Repository) ArchivePendingLinks(ctx context.Context, q database.Querier, reg string, stagingID int64, at time.Time) (int64, error) {
	return r.updatePendingLinks(ctx, q, reg, stagingID, func(ub *sqlbuilder.UpdateBuilder) []string {
		return []string{
			ub.Assign("status", entities.LinkArchived),
			ub.Assign("updated_at", at),
		}
	})
}

func (r *Repository) updatePendingLinks(ctx context.Context, q database.Querier, reg string, stagingID int64, set func(ub *sqlbuilder.UpdateBuilder) []string) (int64, error) {
	ub := r.flavor.NewUpdateBuilder()
	ub.Update(tableLinks).Set(set(ub)...).Where(pendingFor(ub, reg, stagingID)...)

	query, args := ub.Build()
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to update pending links: %w", err)
	}
	return res.RowsAffected()
}

// ListLinks returns the links of a drug, or the pending links of a registration
// number when drugID is 0.
func (r *Repository) ListLinks(ctx context.Context, q database.Querier, drugID int64, reg string) ([]entities.DrugDiseaseLink, error) {
	sb := r.flavor.NewSelectBuilder()
	sb.Select(linkColumns...).From(tableLinks)
	if drugID != 0 {
		sb.Where(sb.Equal("drug_id", drugID))
	} else {
		sb.Where(sb.Equal("registration_number", reg))
	}
	sb.OrderBy("id").Asc()

	query, args := sb.Build()
	var rows []entities.DrugDiseaseLink
	if err := q.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}
	return rows, nil
}

// DeleteLinksForDrug removes every link of a drug.
func (r *Repository) DeleteLinksForDrug(ctx context.Context, q database.Querier, drugID int64) (int64, error) {
	db := r.flavor.NewDeleteBuilder()
	db.DeleteFrom(tableLinks).Where(db.Equal("drug_id", drugID))

	query, args := db.Build()
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete links of drug %d: %w", drugID, err)
	}
	return res.RowsAffected()
}
