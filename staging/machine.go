// Package staging arbitrates writes to the canonical drug table.
//
// A submission that collides with an existing drug (same registration number, or
// failing that the same normalized name) is parked as a pending staging candidate.
// A reviewer then approves, rejects or bulk-clears candidates. Each terminal action
// runs in one transaction and leaves exactly one staging history row.
package staging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/giygas/drug-registry/database"
	"github.com/giygas/drug-registry/entities"
	"github.com/giygas/drug-registry/logging"
	"github.com/giygas/drug-registry/metrics"
	"github.com/giygas/drug-registry/normalize"
	"github.com/giygas/drug-registry/repositories"
)

// IndexRefresher rebuilds a search index after the canonical table changed.
type IndexRefresher interface {
	Rebuild(ctx context.Context) error
}

// Machine runs submissions and staging transitions.
type Machine struct {
	db        *database.DB
	repo      *repositories.Repository
	refresher IndexRefresher
	rules     []conflictRule
	now       func() time.Time
	batchID   func() string
}

// NewMachine creates a state machine. refresher may be nil.
func NewMachine(db *database.DB, refresher IndexRefresher) *Machine {
	m := &Machine{
		db:        db,
		repo:      repositories.New(db),
		refresher: refresher,
		now:       func() time.Time { return time.Now().UTC() },
		batchID:   func() string { return uuid.NewString() },
	}
	m.rules = m.conflictRules()
	return m
}

// candidateFrom canonicalizes submitted fields.
func candidateFrom(req SubmitRequest) *entities.StagingCandidate {
	f := req.Fields
	f.Name = strings.TrimSpace(f.Name)
	f.ActiveIngredient = strings.TrimSpace(f.ActiveIngredient)
	f.Manufacturer = strings.TrimSpace(f.Manufacturer)
	f.RegistrationNumber = normalize.RegistrationNumber(f.RegistrationNumber)
	f.Indication = strings.TrimSpace(f.Indication)
	f.Synonyms = strings.TrimSpace(f.Synonyms)
	f.Classification = strings.TrimSpace(f.Classification)
	f.Note = strings.TrimSpace(f.Note)

	return &entities.StagingCandidate{
		DrugFields:   f,
		NameNorm:     normalize.Name(f.Name),
		Status:       entities.StagingPending,
		ConflictType: entities.ConflictNone,
		CreatedBy:    userOrSystem(req.User),
	}
}

func userOrSystem(user string) string {
	if u := strings.TrimSpace(user); u != "" {
		return u
	}
	return "system"
}

// Submit stores a candidate record. Without a conflict it becomes a verified
// canonical drug with active links and the search index is rebuilt before Submit
// returns. With a conflict it is staged with pending links.
func (m *Machine) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	c := candidateFrom(req)
	if c.NameNorm == "" {
		return SubmitResult{}, fmt.Errorf("drug name is required: %w", entities.ErrInvalidInput)
	}

	var res SubmitResult
	err := m.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		now := m.now()
		c.CreatedAt = now
		res = SubmitResult{}

		kind, existing, err := m.DetectConflict(ctx, tx, c)
		if err != nil {
			return err
		}

		if existing == nil {
			drug := &entities.CanonicalDrug{
				DrugFields: c.DrugFields,
				NameNorm:   c.NameNorm,
				Verified:   true,
				CreatedBy:  c.CreatedBy,
				CreatedAt:  now,
				UpdatedBy:  c.CreatedBy,
				UpdatedAt:  now,
			}
			if err := m.repo.InsertDrug(ctx, tx, drug); err != nil {
				return err
			}
			links, err := m.insertLinks(ctx, tx, req.Diseases, func(l *entities.DrugDiseaseLink) {
				l.DrugID = &drug.ID
				l.RegistrationNumber = drug.RegistrationNumber
				l.Status = entities.LinkActive
				l.Verified = true
			})
			if err != nil {
				return err
			}
			res = SubmitResult{Status: StatusSuccess, DrugID: drug.ID, Links: links}
			return nil
		}

		c.ConflictType = kind
		c.ConflictID = &existing.ID
		if err := m.repo.InsertStaging(ctx, tx, c); err != nil {
			return err
		}
		links, err := m.insertLinks(ctx, tx, req.Diseases, func(l *entities.DrugDiseaseLink) {
			l.RegistrationNumber = c.RegistrationNumber
			l.StagingID = &c.ID
			l.Status = entities.LinkPending
		})
		if err != nil {
			return err
		}
		res = SubmitResult{
			Status:       StatusPendingConfirmation,
			StagingID:    c.ID,
			ConflictType: kind,
			ConflictID:   c.ConflictID,
			Links:        links,
		}
		return nil
	})
	if err != nil {
		return SubmitResult{}, m.failure("submit", c.Name, err)
	}

	if res.Status == StatusSuccess {
		metrics.StagingTransitionsTotal.WithLabelValues("inserted").Inc()
		logging.Info("Drug inserted", "drug_id", res.DrugID, "name", c.Name, "user", c.CreatedBy)
		m.refresh(ctx)
	} else {
		metrics.StagingTransitionsTotal.WithLabelValues("staged").Inc()
		logging.Info("Drug staged for review", "staging_id", res.StagingID, "conflict_type", res.ConflictType, "conflict_id", *res.ConflictID, "user", c.CreatedBy)
	}
	return res, nil
}

func (m *Machine) insertLinks(ctx context.Context, q database.Querier, diseases []DiseaseLink, bind func(l *entities.DrugDiseaseLink)) (int, error) {
	count := 0
	for _, d := range diseases {
		code := normalize.ICDCode(d.ICDCode)
		if code == "" {
			continue
		}
		diseaseID, err := m.repo.EnsureDisease(ctx, q, entities.Disease{ICDCode: code, Name: strings.TrimSpace(d.Name), NameNorm: normalize.Name(d.Name)})
		if err != nil {
			return count, err
		}
		now := m.now()
		l := &entities.DrugDiseaseLink{
			DiseaseID:    diseaseID,
			CoverageType: strings.TrimSpace(d.CoverageType),
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		bind(l)
		if err := m.repo.InsertLink(ctx, q, l); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// Approve promotes a staging candidate. With a conflict the current canonical
// state is archived to drug history and overwritten; without one a new drug is
// inserted. Pending links are activated and bound to the resulting drug. A
// candidate or conflict row that vanished yields entities.ErrConflictRace.
func (m *Machine) Approve(ctx context.Context, stagingID int64, user string) (Transition, error) {
	user = userOrSystem(user)

	var t Transition
	err := m.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		now := m.now()
		t = Transition{Action: entities.ActionApproved, StagingID: stagingID}

		c, err := m.repo.GetStaging(ctx, tx, stagingID, true)
		if err != nil {
			return raced(err)
		}

		if c.ConflictID != nil {
			drug, err := m.repo.GetDrug(ctx, tx, *c.ConflictID, true)
			if err != nil {
				return raced(err)
			}
			h := &entities.DrugHistory{
				DrugID:     drug.ID,
				DrugFields: drug.DrugFields,
				Verified:   drug.Verified,
				StagingID:  c.ID,
				ArchivedBy: user,
				ArchivedAt: now,
			}
			if err := m.repo.InsertDrugHistory(ctx, tx, h); err != nil {
				return err
			}
			if err := m.repo.OverwriteDrug(ctx, tx, drug.ID, c.DrugFields, c.NameNorm, user, now); err != nil {
				return raced(err)
			}
			t.DrugID = drug.ID
			t.DrugHistoryID = h.ID
		} else {
			drug := &entities.CanonicalDrug{
				DrugFields: c.DrugFields,
				NameNorm:   c.NameNorm,
				Verified:   true,
				CreatedBy:  c.CreatedBy,
				CreatedAt:  now,
				UpdatedBy:  user,
				UpdatedAt:  now,
			}
			if err := m.repo.InsertDrug(ctx, tx, drug); err != nil {
				return err
			}
			t.DrugID = drug.ID
		}

		if t.StagingHistoryID, err = m.close(ctx, tx, c, entities.ActionApproved, user, "", now); err != nil {
			return err
		}
		t.LinksUpdated, err = m.repo.ActivatePendingLinks(ctx, tx, c.RegistrationNumber, c.ID, t.DrugID, now)
		return err
	})
	if err != nil {
		return Transition{}, m.failure("approve", fmt.Sprint(stagingID), err)
	}

	metrics.StagingTransitionsTotal.WithLabelValues(string(entities.ActionApproved)).Inc()
	logging.Info("Staging candidate approved", "staging_id", stagingID, "drug_id", t.DrugID, "merged", t.Merged(), "links", t.LinksUpdated, "user", user)
	m.refresh(ctx)
	return t, nil
}

// Reject discards a staging candidate and archives its pending links. Canonical
// drugs are never touched.
func (m *Machine) Reject(ctx context.Context, stagingID int64, user string) (Transition, error) {
	user = userOrSystem(user)

	var t Transition
	err := m.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		c, err := m.repo.GetStaging(ctx, tx, stagingID, true)
		if err != nil {
			return raced(err)
		}
		t, err = m.discard(ctx, tx, c, entities.ActionRejected, user, "", m.now())
		return err
	})
	if err != nil {
		return Transition{}, m.failure("reject", fmt.Sprint(stagingID), err)
	}

	metrics.StagingTransitionsTotal.WithLabelValues(string(entities.ActionRejected)).Inc()
	logging.Info("Staging candidate rejected", "staging_id", stagingID, "links_archived", t.LinksUpdated, "user", user)
	return t, nil
}

// ClearAll rejects every pending candidate in one transaction, recording each as
// cleared under a shared batch id.
func (m *Machine) ClearAll(ctx context.Context, user string) (ClearResult, error) {
	user = userOrSystem(user)

	var res ClearResult
	err := m.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		now := m.now()
		res = ClearResult{BatchID: m.batchID()}

		pending, err := m.repo.ListStaging(ctx, tx, true)
		if err != nil {
			return err
		}
		for i := range pending {
			t, err := m.discard(ctx, tx, &pending[i], entities.ActionCleared, user, res.BatchID, now)
			if err != nil {
				return err
			}
			res.Transitions = append(res.Transitions, t)
		}
		res.Cleared = len(res.Transitions)
		return nil
	})
	if err != nil {
		return ClearResult{}, m.failure("clear", "all", err)
	}

	metrics.StagingTransitionsTotal.WithLabelValues(string(entities.ActionCleared)).Add(float64(res.Cleared))
	logging.Info("Staging cleared", "batch_id", res.BatchID, "cleared", res.Cleared, "user", user)
	return res, nil
}

func (m *Machine) discard(ctx context.Context, q database.Querier, c *entities.StagingCandidate, action entities.StagingAction, user, batchID string, now time.Time) (Transition, error) {
	t := Transition{Action: action, StagingID: c.ID}

	var err error
	if t.StagingHistoryID, err = m.close(ctx, q, c, action, user, batchID, now); err != nil {
		return t, err
	}
	t.LinksUpdated, err = m.repo.ArchivePendingLinks(ctx, q, c.RegistrationNumber, c.ID, now)
	return t, err
}

// close appends the history row and removes the candidate.
func (m *Machine) close(ctx context.Context, q database.Querier, c *entities.StagingCandidate, action entities.StagingAction, user, batchID string, now time.Time) (int64, error) {
	h := &entities.StagingHistory{
		StagingID:    c.ID,
		DrugFields:   c.DrugFields,
		ConflictType: c.ConflictType,
		ConflictID:   c.ConflictID,
		Action:       action,
		ActionBy:     user,
		ActionAt:     now,
		BatchID:      batchID,
	}
	if err := m.repo.InsertStagingHistory(ctx, q, h); err != nil {
		return 0, err
	}
	if err := m.repo.DeleteStaging(ctx, q, c.ID); err != nil {
		return 0, raced(err)
	}
	return h.ID, nil
}

// raced turns a vanished row into ErrConflictRace.
func raced(err error) error {
	if errors.Is(err, entities.ErrNotFound) {
		return fmt.Errorf("%w: %v", entities.ErrConflictRace, err)
	}
	return err
}

// failure classifies a rolled-back unit of work. Races, invalid input and unique
// key collisions keep their meaning; everything else is a storage failure.
func (m *Machine) failure(op, subject string, err error) error {
	switch {
	case errors.Is(err, entities.ErrConflictRace), errors.Is(err, entities.ErrInvalidInput):
		logging.Warn("Staging transition aborted", "op", op, "subject", subject, "error", err)
		return fmt.Errorf("%s %s: %w", op, subject, err)
	case database.IsUniqueViolation(err):
		logging.Warn("Staging transition collided with a concurrent write", "op", op, "subject", subject, "error", err)
		return fmt.Errorf("%s %s: %w: %v", op, subject, entities.ErrConflictRace, err)
	default:
		logging.Error("Staging transition rolled back", "op", op, "subject", subject, "error", err)
		return fmt.Errorf("%s %s: %w: %v", op, subject, entities.ErrStorageFailure, err)
	}
}

// refresh rebuilds the search index after a committed canonical write. The write
// stands even if the rebuild fails.
func (m *Machine) refresh(ctx context.Context) {
	if m.refresher == nil {
		return
	}
	if err := m.refresher.Rebuild(ctx); err != nil {
		logging.Error("Failed to rebuild search index after write", "error", err)
	}
}

// ListPending returns the candidates awaiting review.
func (m *Machine) ListPending(ctx context.Context) ([]entities.StagingCandidate, error) {
	return m.repo.ListStaging(ctx, m.db, false)
}

// Get returns one pending candidate.
func (m *Machine) Get(ctx context.Context, stagingID int64) (*entities.StagingCandidate, error) {
	return m.repo.GetStaging(ctx, m.db, stagingID, false)
}

// History returns the terminal transitions of a staging id, or of every candidate
// when stagingID is 0.
func (m *Machine) History(ctx context.Context, stagingID int64) ([]entities.StagingHistory, error) {
	return m.repo.ListStagingHistory(ctx, m.db, stagingID)
}

// DrugHistory returns the archived states of a canonical drug, oldest first.
func (m *Machine) DrugHistory(ctx context.Context, drugID int64) ([]entities.DrugHistory, error) {
	return m.repo.ListDrugHistory(ctx, m.db, drugID)
}
