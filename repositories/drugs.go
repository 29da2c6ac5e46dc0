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

var drugColumns = columns(
	[]string{"id"},
	fieldColumns,
	[]string{"name_norm", "is_verified", "created_by", "created_at", "updated_by", "updated_at"},
)

var drugHistoryColumns = columns(
	[]string{"id", "drug_id"},
	fieldColumns,
	[]string{"is_verified", "staging_id", "archived_by", "archived_at"},
)

func fieldValues(f entities.DrugFields) []any {
	return []any{
		f.Name, f.ActiveIngredient, f.Manufacturer, f.RegistrationNumber,
		f.Indication, f.Synonyms, f.Classification, f.Note,
	}
}

// NameRow is the slice of a drug the name indexes need.
type NameRow struct {
	ID       int64  `db:"id"`
	Name     string `db:"name"`
	NameNorm string `db:"name_norm"`
}

// GetDrug loads a drug by id. lock takes a row lock on PostgreSQL.
func (r *Repository) GetDrug(ctx context.Context, q database.Querier, id int64, lock bool) (*entities.CanonicalDrug, error) {
	sb := r.flavor.NewSelectBuilder()
	sb.Select(drugColumns...).From(tableDrugs).Where(sb.Equal("id", id))

	query, args := sb.Build()
	if lock {
		query = r.forUpdate(query)
	}

	var drug entities.CanonicalDrug
	if err := q.GetContext(ctx, &drug, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("drug %d: %w", id, entities.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get drug %d: %w", id, err)
	}
	return &drug, nil
}

// FirstEligibleDrug returns the lowest-id verified drug with a registration number
// matching the extra condition, or nil when none does.
func (r *Repository) FirstEligibleDrug(ctx context.Context, q database.Querier, cond func(sb *sqlbuilder.SelectBuilder) string) (*entities.CanonicalDrug, error) {
	sb := r.flavor.NewSelectBuilder()
	sb.Select(drugColumns...).From(tableDrugs).Where(
		sb.Equal("is_verified", true),
		sb.NotEqual("registration_number", ""),
		cond(sb),
	)
	sb.OrderBy("id").Asc()
	sb.Limit(1)

	query, args := sb.Build()
	var drug entities.CanonicalDrug
	if err := q.GetContext(ctx, &drug, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &drug, nil
}

// ExactName matches the lower-cased display name.
func ExactName(raw string) func(sb *sqlbuilder.SelectBuilder) string {
	return func(sb *sqlbuilder.SelectBuilder) string {
		return fmt.Sprintf("LOWER(name) = LOWER(%s)", sb.Var(raw))
	}
}

// ExactNorm matches the stored normalized name.
func ExactNorm(norm string) func(sb *sqlbuilder.SelectBuilder) string {
	return func(sb *sqlbuilder.SelectBuilder) string {
		return sb.Equal("name_norm", norm)
	}
}

// NameContains matches display names containing needle, case-insensitively.
func NameContains(needle string) func(sb *sqlbuilder.SelectBuilder) string {
	return func(sb *sqlbuilder.SelectBuilder) string {
		return fmt.Sprintf(`LOWER(name) LIKE %s ESCAPE '\'`, sb.Var(containsPattern(needle)))
	}
}

// NormContains matches normalized names containing the normalized needle.
func NormContains(norm string) func(sb *sqlbuilder.SelectBuilder) string {
	return func(sb *sqlbuilder.SelectBuilder) string {
		return fmt.Sprintf(`name_norm LIKE %s ESCAPE '\'`, sb.Var(containsPattern(norm)))
	}
}

// ListEligibleNames returns the corpus of the identity index: verified drugs with a
// registration number, in id order.
func (r *Repository) ListEligibleNames(ctx context.Context, q database.Querier) ([]NameRow, error) {
	sb := r.flavor.NewSelectBuilder()
	sb.Select("id", "name", "name_norm").From(tableDrugs).Where(
		sb.Equal("is_verified", true),
		sb.NotEqual("registration_number", ""),
	)
	sb.OrderBy("id").Asc()

	query, args := sb.Build()
	var rows []NameRow
	if err := q.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list drug names: %w", err)
	}
	return rows, nil
}

// FindDrugByRegistration returns the drug holding reg, or nil.
func (r *Repository) FindDrugByRegistration(ctx context.Context, q database.Querier, reg string) (*entities.CanonicalDrug, error) {
	return r.findDrug(ctx, q, "registration_number", reg)
}

// FindDrugByNameNorm returns the lowest-id drug with the normalized name, or nil.
func (r *Repository) FindDrugByNameNorm(ctx context.Context, q database.Querier, norm string) (*entities.CanonicalDrug, error) {
	return r.findDrug(ctx, q, "name_norm", norm)
}

func (r *Repository) findDrug(ctx context.Context, q database.Querier, column, value string) (*entities.CanonicalDrug, error) {
	sb := r.flavor.NewSelectBuilder()
	sb.Select(drugColumns...).From(tableDrugs).Where(sb.Equal(column, value))
	sb.OrderBy("id").Asc()
	sb.Limit(1)

	query, args := sb.Build()
	var drug entities.CanonicalDrug
	if err := q.GetContext(ctx, &drug, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find drug by %s: %w", column, err)
	}
	return &drug, nil
}

// InsertDrug stores a new canonical drug and sets its id.
func (r *Repository) InsertDrug(ctx context.Context, q database.Querier, d *entities.CanonicalDrug) error {
	ib := r.flavor.NewInsertBuilder()
	ib.InsertInto(tableDrugs)
	ib.Cols(columns(fieldColumns, []string{"name_norm", "is_verified", "created_by", "created_at", "updated_by", "updated_at"})...)
	ib.Values(append(fieldValues(d.DrugFields), d.NameNorm, d.Verified, d.CreatedBy, d.CreatedAt, d.UpdatedBy, d.UpdatedAt)...)

	id, err := database.InsertReturningID(ctx, q, ib)
	if err != nil {
		return fmt.Errorf("failed to insert drug %q: %w", d.Name, err)
	}
	d.ID = id
	return nil
}

// OverwriteDrug replaces a drug's fields and marks it verified. It returns
// ErrNotFound when the row is gone.
func (r *Repository) OverwriteDrug(ctx context.Context, q database.Querier, id int64, f entities.DrugFields, nameNorm, user string, at time.Time) error {
	ub := r.flavor.NewUpdateBuilder()
	ub.Update(tableDrugs)
	assignments := make([]string, 0, len(fieldColumns)+4)
	for i, v := range fieldValues(f) {
		assignments = append(assignments, ub.Assign(fieldColumns[i], v))
	}
	assignments = append(assignments,
		ub.Assign("name_norm", nameNorm),
		ub.Assign("is_verified", true),
		ub.Assign("updated_by", user),
		ub.Assign("updated_at", at),
	)
	ub.Set(assignments...).Where(ub.Equal("id", id))

	query, args := ub.Build()
	res, err := q.ExecContext(ctx, query, args...)
	return expectOneRow(res, err, fmt.Sprintf("drug %d", id))
}

// DeleteDrug removes a drug row. Links are removed by the caller.
func (r *Repository) DeleteDrug(ctx context.Context, q database.Querier, id int64) error {
	db := r.flavor.NewDeleteBuilder()
	db.DeleteFrom(tableDrugs).Where(db.Equal("id", id))

	query, args := db.Build()
	res, err := q.ExecContext(ctx, query, args...)
	return expectOneRow(res, err, fmt.Sprintf("drug %d", id))
}

// InsertDrugHistory appends a snapshot of a drug.
func (r *Repository) InsertDrugHistory(ctx context.Context, q database.Querier, h *entities.DrugHistory) error {
	ib := r.flavor.NewInsertBuilder()
	ib.InsertInto(tableDrugHistory)
	ib.Cols(columns([]string{"drug_id"}, fieldColumns, []string{"is_verified", "staging_id", "archived_by", "archived_at"})...)
	ib.Values(append(append([]any{h.DrugID}, fieldValues(h.DrugFields)...), h.Verified, h.StagingID, h.ArchivedBy, h.ArchivedAt)...)

	id, err := database.InsertReturningID(ctx, q, ib)
	if err != nil {
		return fmt.Errorf("failed to archive drug %d: %w", h.DrugID, err)
	}
	h.ID = id
	return nil
}

// ListDrugHistory returns the snapshots of a drug, oldest first.
func (r *Repository) ListDrugHistory(ctx context.Context, q database.Querier, drugID int64) ([]entities.DrugHistory, error) {
	sb := r.flavor.NewSelectBuilder()
	sb.Select(drugHistoryColumns...).From(tableDrugHistory).Where(sb.Equal("drug_id", drugID))
	sb.OrderBy("id").Asc()

	query, args := sb.Build()
	var rows []entities.DrugHistory
	if err := q.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list history of drug %d: %w", drugID, err)
	}
	return rows, nil
}

// expectOneRow turns a zero-row write into ErrNotFound.
func expectOneRow(res sql.Result, err error, what string) error {
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", what, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, entities.ErrNotFound)
	}
	return nil
}
