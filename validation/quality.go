package validation

import (
	"github.com/giygas/drug-registry/classification"
	"github.com/giygas/drug-registry/knowledge"
	"github.com/giygas/drug-registry/normalize"
)

// BatchQualityReport summarizes the problems found in an ingestion batch. The
// sample lists keep the first 10 offending row numbers (1-based).
type BatchQualityReport struct {
	Total               int   `json:"total"`
	Invalid             int   `json:"invalid"`
	InvalidRows         []int `json:"invalidRows"`
	Duplicates          int   `json:"duplicates"`
	WithoutRole         int   `json:"withoutRole"`
	WithoutRoleRows     []int `json:"withoutRoleRows"`
	WithFeedback        int   `json:"withFeedback"`
	NonDrugObservations int   `json:"nonDrugObservations"`
}

const sampleSize = 10

// ReportBatchQuality inspects a batch without rejecting it. Duplicates are expected
// (they are the votes) and only counted.
func (v *DataValidatorImpl) ReportBatchQuality(batch []knowledge.Observation) *BatchQualityReport {
	report := &BatchQualityReport{
		Total:           len(batch),
		InvalidRows:     []int{},
		WithoutRoleRows: []int{},
	}

	seen := make(map[[5]string]bool, len(batch))
	for i := range batch {
		obs := &batch[i]
		row := i + 1

		if err := v.ValidateObservation(obs); err != nil {
			report.Invalid++
			if len(report.InvalidRows) < sampleSize {
				report.InvalidRows = append(report.InvalidRows, row)
			}
			continue
		}

		key := [5]string{
			normalize.Name(obs.DrugName),
			normalize.ICDCode(obs.DiseaseICD),
			normalize.ICDCode(obs.SecondaryDiseaseICD),
			classification.Clean(obs.TDVFeedback),
			classification.Clean(obs.TreatmentType),
		}
		if seen[key] {
			report.Duplicates++
		}
		seen[key] = true

		role := key[4]
		if key[3] != "" {
			report.WithFeedback++
			role = key[3]
		}
		if role == "" {
			report.WithoutRole++
			if len(report.WithoutRoleRows) < sampleSize {
				report.WithoutRoleRows = append(report.WithoutRoleRows, row)
			}
		}
		if classification.IsNoDrug(role) {
			report.NonDrugObservations++
		}
	}

	return report
}
