package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/giygas/drug-registry/database"
	"github.com/giygas/drug-registry/entities"
)

var stagingColumns = columns(
	[]string{"id"},
	fieldColumns,
	[]string{"name_norm", "status", "conflict_type", "conflict_id", "created_by", "created_at"},
)

var stagingHistoryColumns = columns(
	[]string{"id", "staging_id"},
	fieldColumns,
	[]string{"conflict_type", "conflict_id", "action", "action_by", "action_at", "batch_id"},
)

// InsertStaging stores a pending candidate and sets its id.
func (r *Repository) InsertStaging(ctx context.Context, q database.Querier, c *entities.StagingCandidate) error {
	ib := r.flavor.NewInsertBuilder()
	ib.InsertInto(tableStaging)
	ib.Cols(columns(fieldColumns, []string{"name_norm", "status", "conflict_type", "conflict_id", "created_by", "created_at"})...)
	ib.Values(append(fieldValues(c.DrugFields), c.NameNorm, c.Status, c.ConflictType, c.ConflictID, c.CreatedBy, c.CreatedAt)...)

	id, err := database.InsertReturningID(ctx, q, ib)
	if err != nil {
		return fmt.Errorf("failed to insert staging candidate %q: %w", c.Name, err)
	}
	c.ID = id
	return nil
}

// GetStaging loads a candidate. lock takes a row lock on PostgreSQL.
func (r *Repository) GetStaging(ctx context.Context, q database.Querier, id int64, lock bool) (*entities.StagingCandidate, error) {
	sb := r.flavor.NewSelectBuilder()
	sb.Select(stagingColumns...).From(tableStaging).Where(sb.Equal("id", id))

	query, args := sb.Build()
	if lock {
		query = r.forUpdate(query)
	}

	var c entities.StagingCandidate
	if err := q.GetContext(ctx, &c, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("staging candidate %d: %w", id, entities.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get staging candidate %d: %w", id, err)
	}
	return &c, nil
}

// ListStaging returns every pending candidate in id order. lock takes row locks
// on PostgreSQL.
func (r *Repository) ListStaging(ctx context.Context, q database.Querier, lock bool) ([]entities.StagingCandidate, error) {
	sb := r.flavor.NewSelectBuilder()
	sb.Select(stagingColumns...).From(tableStaging).Where(sb.Equal("status", entities.StagingPending))
	sb.OrderBy("id").Asc()

	query, args := sb.Build()
	if lock {
		query = r.forUpdate(query)
	}

	var rows []entities.StagingCandidate
	if err := q.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list staging candidates: %w", err)
	}
	return rows, nil
}

// DeleteStaging removes a candidate; ErrNotFound when it is already gone.
func (r *Repository) DeleteStaging(ctx context.Context, q database.Querier, id int64) error {
	db := r.flavor.NewDeleteBuilder()
	db.DeleteFrom(tableStaging).Where(db.Equal("id", id))

	query, args := db.Build()
	res, err := q.ExecContext(ctx, query, args...)
	return expectOneRow(res, err, fmt.Sprintf("staging candidate %d", id))
}

// InsertStagingHistory appends a terminal transition record.
func (r *Repository) InsertStagingHistory(ctx context.Context, q database.Querier, h *entities.StagingHistory) error {
	ib := r.flavor.NewInsertBuilder()
	ib.InsertInto(tableStagingHistory)
	ib.Cols(columns([]string{"staging_id"}, fieldColumns, []string{"conflict_type", "conflict_id", "action", "action_by", "action_at", "batch_id"})...)
	ib.Values(append(append([]any{h.StagingID}, fieldValues(h.DrugFields)...), h.ConflictType, h.ConflictID, h.Action, h.ActionBy, h.ActionAt, h.BatchID)...)

	id, err := database.InsertReturningID(ctx, q, ib)
	if err != nil {
		return fmt.Errorf("failed to record %s of staging candidate %d: %w", h.Action, h.StagingID, err)
	}
	h.ID = id
	return nil
}

// ListStagingHistory returns the history rows of a staging id, oldest first.
// A zero id returns the whole log.
func (r *Repository) ListStagingHistory(ctx context.Context, q database.Querier, stagingID int64) ([]entities.StagingHistory, error) {
	sb := r.flavor.NewSelectBuilder()
	sb.Select(stagingHistoryColumns...).From(tableStagingHistory)
	if stagingID != 0 {
		sb.Where(sb.Equal("staging_id", stagingID))
	}
	sb.OrderBy("id").Asc()

	query, args := sb.Build()
	var rows []entities.StagingHistory
	if err := q.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list staging history: %w", err)
	}
	return rows, nil
}
