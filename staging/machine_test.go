package staging

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/giygas/drug-registry/config"
	"github.com/giygas/drug-registry/database"
	"github.com/giygas/drug-registry/entities"
	"github.com/giygas/drug-registry/repositories"
)

type countingRefresher struct {
	calls atomic.Int32
	err   error
}

func (r *countingRefresher) Rebuild(ctx context.Context) error {
	r.calls.Add(1)
	return r.err
}

func setupMachine(t *testing.T) (*Machine, *database.DB, *countingRefresher) {
	t.Helper()
	db, err := database.OpenMemory(context.Background())
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	refresher := &countingRefresher{}
	return NewMachine(db, refresher), db, refresher
}

func panadol(indication string) SubmitRequest {
	return SubmitRequest{
		Fields: entities.DrugFields{
			Name:               "Panadol",
			ActiveIngredient:   "Paracetamol",
			RegistrationNumber: "vn-100",
			Indication:         indication,
		},
		Diseases: []DiseaseLink{{ICDCode: "r50.9", Name: "Fever", CoverageType: "full"}},
		User:     "alice",
	}
}

func countRows(t *testing.T, db *database.DB, table string) int {
	t.Helper()
	var n int
	if err := db.GetContext(context.Background(), &n, "SELECT COUNT(*) FROM "+table); err != nil {
		t.Fatalf("Failed to count %s: %v", table, err)
	}
	return n
}

func TestSubmitApproveOverwritesAndArchives(t *testing.T) {
	m, db, refresher := setupMachine(t)
	ctx := context.Background()

	first, err := m.Submit(ctx, panadol("fever"))
	if err != nil {
		t.Fatalf("Expected first submission to succeed, got %v", err)
	}
	if first.Status != StatusSuccess || first.DrugID == 0 {
		t.Fatalf("Expected success with drug id, got %+v", first)
	}
	if first.Links != 1 {
		t.Errorf("Expected 1 link, got %d", first.Links)
	}
	if refresher.calls.Load() != 1 {
		t.Errorf("Expected index rebuild after insert, got %d calls", refresher.calls.Load())
	}

	second, err := m.Submit(ctx, panadol("updated"))
	if err != nil {
		t.Fatalf("Expected second submission to be staged, got %v", err)
	}
	if second.Status != StatusPendingConfirmation {
		t.Fatalf("Expected pending_confirmation, got %s", second.Status)
	}
	if second.ConflictType != entities.ConflictRegistrationNumber {
		t.Errorf("Expected registration_number conflict, got %s", second.ConflictType)
	}
	if second.ConflictID == nil || *second.ConflictID != first.DrugID {
		t.Errorf("Expected conflict with drug %d, got %v", first.DrugID, second.ConflictID)
	}
	if refresher.calls.Load() != 1 {
		t.Errorf("Expected no rebuild for a staged submission, got %d calls", refresher.calls.Load())
	}

	tr, err := m.Approve(ctx, second.StagingID, "reviewer")
	if err != nil {
		t.Fatalf("Expected approval, got %v", err)
	}
	if !tr.Merged() || tr.DrugID != first.DrugID {
		t.Errorf("Expected merge into drug %d, got %+v", first.DrugID, tr)
	}
	if tr.LinksUpdated != 1 {
		t.Errorf("Expected 1 pending link activated, got %d", tr.LinksUpdated)
	}

	repo := repositories.New(db)
	drug, err := repo.GetDrug(ctx, db, first.DrugID, false)
	if err != nil {
		t.Fatalf("Expected drug, got %v", err)
	}
	if drug.Indication != "updated" || drug.RegistrationNumber != "VN-100" || !drug.Verified {
		t.Errorf("Unexpected canonical state %+v", drug)
	}
	if drug.UpdatedBy != "reviewer" {
		t.Errorf("Expected updated_by reviewer, got %s", drug.UpdatedBy)
	}

	history, err := m.DrugHistory(ctx, first.DrugID)
	if err != nil {
		t.Fatalf("Expected drug history, got %v", err)
	}
	if len(history) != 1 || history[0].Indication != "fever" {
		t.Errorf("Expected prior state archived, got %+v", history)
	}

	links, err := repo.ListLinks(ctx, db, first.DrugID, "")
	if err != nil {
		t.Fatalf("Expected links, got %v", err)
	}
	active := 0
	for _, l := range links {
		if l.Status == entities.LinkActive {
			active++
		}
	}
	if active != 2 {
		t.Errorf("Expected 2 active links, got %d of %d", active, len(links))
	}

	if n := countRows(t, db, "drug_staging"); n != 0 {
		t.Errorf("Expected staging emptied, got %d rows", n)
	}
	staged, err := m.History(ctx, second.StagingID)
	if err != nil {
		t.Fatalf("Expected staging history, got %v", err)
	}
	if len(staged) != 1 || staged[0].Action != entities.ActionApproved || staged[0].ActionBy != "reviewer" {
		t.Errorf("Expected exactly one approved history row, got %+v", staged)
	}
	if refresher.calls.Load() != 2 {
		t.Errorf("Expected rebuild after approval, got %d calls", refresher.calls.Load())
	}
}

func TestSubmitNameConflictWithoutRegistration(t *testing.T) {
	m, _, _ := setupMachine(t)
	ctx := context.Background()

	first, err := m.Submit(ctx, SubmitRequest{Fields: entities.DrugFields{Name: "Efferalgan 500mg"}})
	if err != nil || first.Status != StatusSuccess {
		t.Fatalf("Expected success, got %+v, %v", first, err)
	}

	res, err := m.Submit(ctx, SubmitRequest{Fields: entities.DrugFields{Name: "  EFFERALGAN   500MG ", RegistrationNumber: "N/A"}})
	if err != nil {
		t.Fatalf("Expected staging, got %v", err)
	}
	if res.Status != StatusPendingConfirmation || res.ConflictType != entities.ConflictName {
		t.Errorf("Expected name conflict, got %+v", res)
	}
}

func TestSubmitRejectsEmptyName(t *testing.T) {
	m, db, _ := setupMachine(t)

	_, err := m.Submit(context.Background(), SubmitRequest{Fields: entities.DrugFields{Name: " \t "}})
	if !errors.Is(err, entities.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
	if n := countRows(t, db, "drugs"); n != 0 {
		t.Errorf("Expected no drug written, got %d", n)
	}
}

func TestSubmitRebuildFailureKeepsWrite(t *testing.T) {
	m, db, refresher := setupMachine(t)
	refresher.err = errors.New("index down")

	res, err := m.Submit(context.Background(), panadol("fever"))
	if err != nil {
		t.Fatalf("Expected committed write despite rebuild failure, got %v", err)
	}
	if res.Status != StatusSuccess {
		t.Errorf("Expected success, got %s", res.Status)
	}
	if n := countRows(t, db, "drugs"); n != 1 {
		t.Errorf("Expected 1 drug, got %d", n)
	}
}

func TestRejectAndClearDoNotTouchCanonical(t *testing.T) {
	m, db, refresher := setupMachine(t)
	ctx := context.Background()

	first, err := m.Submit(ctx, panadol("fever"))
	if err != nil {
		t.Fatalf("Failed to seed drug: %v", err)
	}

	var staged []int64
	for _, ind := range []string{"one", "two", "three"} {
		res, err := m.Submit(ctx, panadol(ind))
		if err != nil {
			t.Fatalf("Failed to stage %s: %v", ind, err)
		}
		staged = append(staged, res.StagingID)
	}

	pending, err := m.ListPending(ctx)
	if err != nil || len(pending) != 3 {
		t.Fatalf("Expected 3 pending candidates, got %d (%v)", len(pending), err)
	}

	tr, err := m.Reject(ctx, staged[0], "reviewer")
	if err != nil {
		t.Fatalf("Expected rejection, got %v", err)
	}
	if tr.Action != entities.ActionRejected || tr.DrugID != 0 {
		t.Errorf("Unexpected rejection transition %+v", tr)
	}
	// Pending links share the registration number, so the first rejection archives all of them.
	if tr.LinksUpdated != 3 {
		t.Errorf("Expected 3 links archived, got %d", tr.LinksUpdated)
	}

	cleared, err := m.ClearAll(ctx, "")
	if err != nil {
		t.Fatalf("Expected clear, got %v", err)
	}
	if cleared.Cleared != 2 || cleared.BatchID == "" {
		t.Errorf("Expected 2 cleared under a batch id, got %+v", cleared)
	}

	drug, err := repositories.New(db).GetDrug(ctx, db, first.DrugID, false)
	if err != nil {
		t.Fatalf("Expected drug, got %v", err)
	}
	if drug.Indication != "fever" {
		t.Errorf("Expected canonical drug untouched, got indication %q", drug.Indication)
	}
	if n := countRows(t, db, "drug_history"); n != 0 {
		t.Errorf("Expected no drug history, got %d", n)
	}
	if n := countRows(t, db, "drug_staging"); n != 0 {
		t.Errorf("Expected staging emptied, got %d", n)
	}
	if refresher.calls.Load() != 1 {
		t.Errorf("Expected no rebuild for reject/clear, got %d calls", refresher.calls.Load())
	}

	all, err := m.History(ctx, 0)
	if err != nil {
		t.Fatalf("Expected history, got %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("Expected 3 history rows, got %d", len(all))
	}
	for _, h := range all[1:] {
		if h.Action != entities.ActionCleared || h.BatchID != cleared.BatchID || h.ActionBy != "system" {
			t.Errorf("Unexpected cleared row %+v", h)
		}
	}
}

func TestClearAllWithNothingPending(t *testing.T) {
	m, _, _ := setupMachine(t)

	res, err := m.ClearAll(context.Background(), "reviewer")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if res.Cleared != 0 || len(res.Transitions) != 0 {
		t.Errorf("Expected nothing cleared, got %+v", res)
	}
}

func TestApproveTwiceIsARace(t *testing.T) {
	m, _, _ := setupMachine(t)
	ctx := context.Background()

	if _, err := m.Submit(ctx, panadol("fever")); err != nil {
		t.Fatalf("Failed to seed drug: %v", err)
	}
	res, err := m.Submit(ctx, panadol("updated"))
	if err != nil {
		t.Fatalf("Failed to stage: %v", err)
	}

	if _, err := m.Approve(ctx, res.StagingID, "reviewer"); err != nil {
		t.Fatalf("Expected first approval, got %v", err)
	}
	if _, err := m.Approve(ctx, res.StagingID, "reviewer"); !errors.Is(err, entities.ErrConflictRace) {
		t.Errorf("Expected ErrConflictRace on second approval, got %v", err)
	}
	if _, err := m.Reject(ctx, res.StagingID, "reviewer"); !errors.Is(err, entities.ErrConflictRace) {
		t.Errorf("Expected ErrConflictRace on reject after approval, got %v", err)
	}
}

func TestApproveWithDeletedConflictLeavesNoPartialWrite(t *testing.T) {
	m, db, _ := setupMachine(t)
	ctx := context.Background()

	first, err := m.Submit(ctx, panadol("fever"))
	if err != nil {
		t.Fatalf("Failed to seed drug: %v", err)
	}
	res, err := m.Submit(ctx, panadol("updated"))
	if err != nil {
		t.Fatalf("Failed to stage: %v", err)
	}

	if err := repositories.New(db).DeleteDrug(ctx, db, first.DrugID); err != nil {
		t.Fatalf("Failed to delete drug: %v", err)
	}

	if _, err := m.Approve(ctx, res.StagingID, "reviewer"); !errors.Is(err, entities.ErrConflictRace) {
		t.Fatalf("Expected ErrConflictRace, got %v", err)
	}
	if n := countRows(t, db, "drug_staging"); n != 1 {
		t.Errorf("Expected candidate kept, got %d staging rows", n)
	}
	if n := countRows(t, db, "drug_staging_history"); n != 0 {
		t.Errorf("Expected no history, got %d", n)
	}
	if n := countRows(t, db, "drug_history"); n != 0 {
		t.Errorf("Expected no drug history, got %d", n)
	}
}

func TestDetectConflictPrecedence(t *testing.T) {
	m, db, _ := setupMachine(t)
	ctx := context.Background()

	byReg, err := m.Submit(ctx, SubmitRequest{Fields: entities.DrugFields{Name: "Alpha", RegistrationNumber: "VN-1"}})
	if err != nil {
		t.Fatalf("Failed to seed: %v", err)
	}
	byName, err := m.Submit(ctx, SubmitRequest{Fields: entities.DrugFields{Name: "Beta", RegistrationNumber: "VN-2"}})
	if err != nil {
		t.Fatalf("Failed to seed: %v", err)
	}

	tests := []struct {
		name     string
		reg      string
		nameNorm string
		kind     entities.ConflictType
		drugID   int64
	}{
		{"registration wins over name", "VN-1", "beta", entities.ConflictRegistrationNumber, byReg.DrugID},
		{"name when registration is new", "VN-9", "beta", entities.ConflictName, byName.DrugID},
		{"name when registration is empty", "", "alpha", entities.ConflictName, byReg.DrugID},
		{"no conflict", "VN-9", "gamma", entities.ConflictNone, 0},
		{"empty keys never match", "", "", entities.ConflictNone, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &entities.StagingCandidate{
				DrugFields: entities.DrugFields{RegistrationNumber: tt.reg},
				NameNorm:   tt.nameNorm,
			}
			kind, drug, err := m.DetectConflict(ctx, db, c)
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if kind != tt.kind {
				t.Errorf("Expected %s, got %s", tt.kind, kind)
			}
			var got int64
			if drug != nil {
				got = drug.ID
			}
			if got != tt.drugID {
				t.Errorf("Expected drug %d, got %d", tt.drugID, got)
			}
		})
	}
}

func TestApproveRollsBackOnStorageFailure(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create sqlmock: %v", err)
	}
	defer mockDB.Close()

	db := database.New(sqlx.NewDb(mockDB, "sqlite3"), config.DriverSQLite, 0)
	m := NewMachine(db, nil)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM drug_staging").WillReturnRows(
		sqlmock.NewRows([]string{"id", "name", "name_norm", "registration_number", "status", "conflict_type", "conflict_id", "created_by", "created_at"}).
			AddRow(int64(3), "Panadol", "panadol", "VN-100", "pending", "registration_number", int64(7), "alice", now),
	)
	mock.ExpectQuery("SELECT (.+) FROM drugs").WillReturnRows(
		sqlmock.NewRows([]string{"id", "name", "name_norm", "registration_number", "is_verified", "created_by", "created_at", "updated_by", "updated_at"}).
			AddRow(int64(7), "Panadol", "panadol", "VN-100", true, "alice", now, "alice", now),
	)
	mock.ExpectQuery("INSERT INTO drug_history").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectExec("UPDATE drugs").WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	_, err = m.Approve(context.Background(), 3, "reviewer")
	if !errors.Is(err, entities.ErrStorageFailure) {
		t.Errorf("Expected ErrStorageFailure, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}
