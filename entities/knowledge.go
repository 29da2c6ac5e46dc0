package entities

import (
	"strings"
	"time"
)

// LinkStatus is the state of a drug/disease association.
type LinkStatus string

const (
	LinkActive   LinkStatus = "active"
	LinkPending  LinkStatus = "pending"
	LinkArchived LinkStatus = "archived"
)

// Disease is an ICD-coded condition.
type Disease struct {
	ID       int64  `json:"id" db:"id"`
	ICDCode  string `json:"icdCode" db:"icd_code"`
	Name     string `json:"name" db:"name"`
	NameNorm string `json:"-" db:"name_norm"`
}

// DrugDiseaseLink associates a canonical drug with a disease. Pending links are
// keyed by registration number, since the drug does not exist yet; StagingID is set
// as well so candidates without a registration number keep their links.
type DrugDiseaseLink struct {
	ID                 int64      `json:"id" db:"id"`
	DrugID             *int64     `json:"drugId,omitempty" db:"drug_id"`
	RegistrationNumber string     `json:"registrationNumber" db:"registration_number"`
	StagingID          *int64     `json:"stagingId,omitempty" db:"staging_id"`
	DiseaseID          int64      `json:"diseaseId" db:"disease_id"`
	Status             LinkStatus `json:"status" db:"status"`
	CoverageType       string     `json:"coverageType" db:"coverage_type"`
	Verified           bool       `json:"verified" db:"is_verified"`
	CreatedAt          time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt          time.Time  `json:"updatedAt" db:"updated_at"`
}

// Sources of a knowledge-base classification.
const (
	SourceTDV = "tdv"
	SourceAI  = "ai"
)

// KnowledgeBaseEntry is an observed (drug, disease) co-occurrence with its vote count.
type KnowledgeBaseEntry struct {
	ID                   int64     `json:"id" db:"id"`
	DrugName             string    `json:"drugName" db:"drug_name"`
	DrugNameNorm         string    `json:"drugNameNorm" db:"drug_name_norm"`
	DiseaseICD           string    `json:"diseaseIcd" db:"disease_icd"`
	DiseaseName          string    `json:"diseaseName" db:"disease_name"`
	SecondaryDiseaseICD  string    `json:"secondaryDiseaseIcd" db:"secondary_disease_icd"`
	SecondaryDiseaseName string    `json:"secondaryDiseaseName" db:"secondary_disease_name"`
	TDVFeedback          string    `json:"tdvFeedback" db:"tdv_feedback"`
	TreatmentType        string    `json:"treatmentType" db:"treatment_type"`
	Frequency            int64     `json:"frequency" db:"frequency"`
	ConfidenceScore      float64   `json:"confidenceScore" db:"confidence_score"`
	CreatedAt            time.Time `json:"createdAt" db:"created_at"`
	LastUpdated          time.Time `json:"lastUpdated" db:"last_updated"`
}

// HasFeedback reports whether a human reviewer classified this association.
func (e KnowledgeBaseEntry) HasFeedback() bool {
	return strings.TrimSpace(e.TDVFeedback) != ""
}

// Source reports where the surfaced classification comes from.
func (e KnowledgeBaseEntry) Source() string {
	if e.HasFeedback() {
		return SourceTDV
	}
	return SourceAI
}

// Role is the classification to surface: reviewer feedback wins over the inferred type.
func (e KnowledgeBaseEntry) Role() string {
	if e.HasFeedback() {
		return e.TDVFeedback
	}
	return e.TreatmentType
}
