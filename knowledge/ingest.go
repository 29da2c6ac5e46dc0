package knowledge

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/giygas/drug-registry/classification"
	"github.com/giygas/drug-registry/database"
	"github.com/giygas/drug-registry/entities"
	"github.com/giygas/drug-registry/logging"
	"github.com/giygas/drug-registry/metrics"
	"github.com/giygas/drug-registry/normalize"
	"github.com/giygas/drug-registry/repositories"
)

// Observation is one (drug, disease) co-occurrence seen during ingestion.
type Observation struct {
	DrugName             string `json:"drugName"`
	DiseaseICD           string `json:"diseaseIcd"`
	DiseaseName          string `json:"diseaseName"`
	SecondaryDiseaseICD  string `json:"secondaryDiseaseIcd"`
	SecondaryDiseaseName string `json:"secondaryDiseaseName"`
	TDVFeedback          string `json:"tdvFeedback"`
	TreatmentType        string `json:"treatmentType"`
}

// key returns the normalized row key, with role fields cleaned so wrapped and bare
// spellings of the same role vote together.
func (o Observation) key() repositories.ObservationKey {
	return repositories.ObservationKey{
		DrugNameNorm:        normalize.Name(o.DrugName),
		DiseaseICD:          normalize.ICDCode(o.DiseaseICD),
		SecondaryDiseaseICD: normalize.ICDCode(o.SecondaryDiseaseICD),
		TDVFeedback:         classification.Clean(o.TDVFeedback),
		TreatmentType:       classification.Clean(o.TreatmentType),
	}
}

// Outcome of recording one observation.
type Outcome string

const (
	OutcomeCreated     Outcome = "created"
	OutcomeIncremented Outcome = "incremented"
)

// BatchResult counts what IngestBatch did.
type BatchResult struct {
	Created     int `json:"created"`
	Incremented int `json:"incremented"`
	Skipped     int `json:"skipped"`
}

// Ingestor applies vote-and-promote: each observation adds one vote to its row and
// recomputes the row's confidence.
type Ingestor struct {
	db   *database.DB
	repo *repositories.Repository
	now  func() time.Time
}

func NewIngestor(db *database.DB) *Ingestor {
	return &Ingestor{db: db, repo: repositories.New(db), now: func() time.Time { return time.Now().UTC() }}
}

// Ingest records a single observation in its own transaction.
func (in *Ingestor) Ingest(ctx context.Context, obs Observation) (*entities.KnowledgeBaseEntry, Outcome, error) {
	var (
		entry   *entities.KnowledgeBaseEntry
		outcome Outcome
	)
	err := in.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		entry, outcome, err = in.record(ctx, tx, obs)
		return err
	})
	if err != nil {
		return nil, "", err
	}

	metrics.KBObservationsTotal.WithLabelValues(string(outcome)).Inc()
	return entry, outcome, nil
}

// IngestBatch records many observations in one transaction. Observations without a
// drug name or disease code are skipped. Callers refresh the matcher vocabulary
// afterwards.
func (in *Ingestor) IngestBatch(ctx context.Context, batch []Observation) (BatchResult, error) {
	var res BatchResult
	err := in.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		res = BatchResult{}
		for _, obs := range batch {
			if !obs.valid() {
				res.Skipped++
				continue
			}
			_, outcome, err := in.record(ctx, tx, obs)
			if err != nil {
				return err
			}
			if outcome == OutcomeCreated {
				res.Created++
			} else {
				res.Incremented++
			}
		}
		return nil
	})
	if err != nil {
		return BatchResult{}, err
	}

	metrics.KBObservationsTotal.WithLabelValues(string(OutcomeCreated)).Add(float64(res.Created))
	metrics.KBObservationsTotal.WithLabelValues(string(OutcomeIncremented)).Add(float64(res.Incremented))
	logging.Info("Knowledge-base batch ingested", "created", res.Created, "incremented", res.Incremented, "skipped", res.Skipped)
	return res, nil
}

func (o Observation) valid() bool {
	return normalize.Name(o.DrugName) != "" && normalize.ICDCode(o.DiseaseICD) != ""
}

func (in *Ingestor) record(ctx context.Context, q database.Querier, obs Observation) (*entities.KnowledgeBaseEntry, Outcome, error) {
	if !obs.valid() {
		return nil, "", fmt.Errorf("observation needs a drug name and a disease code: %w", entities.ErrInvalidInput)
	}

	key := obs.key()
	now := in.now()

	existing, err := in.repo.FindObservation(ctx, q, key, true)
	if err != nil {
		return nil, "", err
	}

	if existing != nil {
		existing.Frequency++
		existing.ConfidenceScore = Confidence(existing.Frequency)
		existing.LastUpdated = now
		if err := in.repo.UpdateObservationVotes(ctx, q, existing.ID, existing.Frequency, existing.ConfidenceScore, now); err != nil {
			return nil, "", err
		}
		return existing, OutcomeIncremented, nil
	}

	entry := &entities.KnowledgeBaseEntry{
		DrugName:             obs.DrugName,
		DrugNameNorm:         key.DrugNameNorm,
		DiseaseICD:           key.DiseaseICD,
		DiseaseName:          obs.DiseaseName,
		SecondaryDiseaseICD:  key.SecondaryDiseaseICD,
		SecondaryDiseaseName: obs.SecondaryDiseaseName,
		TDVFeedback:          key.TDVFeedback,
		TreatmentType:        key.TreatmentType,
		Frequency:            1,
		ConfidenceScore:      Confidence(1),
		CreatedAt:            now,
		LastUpdated:          now,
	}
	if err := in.repo.InsertObservation(ctx, q, entry); err != nil {
		if database.IsUniqueViolation(err) {
			return nil, "", fmt.Errorf("observation inserted concurrently: %w", entities.ErrConflictRace)
		}
		return nil, "", err
	}
	return entry, OutcomeCreated, nil
}
