// Package entities holds the persisted records of the drug registry: canonical drugs,
// staging candidates, their audit copies, disease links and knowledge-base entries.
package entities

import "time"

// DrugFields are the descriptive attributes shared by canonical drugs, staging
// candidates and their history snapshots.
type DrugFields struct {
	Name               string `json:"name" db:"name"`
	ActiveIngredient   string `json:"activeIngredient" db:"active_ingredient"`
	Manufacturer       string `json:"manufacturer" db:"manufacturer"`
	RegistrationNumber string `json:"registrationNumber" db:"registration_number"`
	Indication         string `json:"indication" db:"indication"`
	Synonyms           string `json:"synonyms" db:"synonyms"`
	Classification     string `json:"classification" db:"classification"`
	Note               string `json:"note" db:"note"`
}

// CanonicalDrug is a row of the canonical drug table.
type CanonicalDrug struct {
	ID int64 `json:"id" db:"id"`
	DrugFields
	NameNorm  string    `json:"-" db:"name_norm"`
	Verified  bool      `json:"verified" db:"is_verified"`
	CreatedBy string    `json:"createdBy" db:"created_by"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedBy string    `json:"updatedBy" db:"updated_by"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// HasRegistration reports whether the drug carries a usable registration number.
// Sentinel values are collapsed to "" before they reach the table.
func (d CanonicalDrug) HasRegistration() bool {
	return d.RegistrationNumber != ""
}

// DrugHistory is the snapshot of a canonical drug taken right before an approval
// overwrote it.
type DrugHistory struct {
	ID     int64 `json:"id" db:"id"`
	DrugID int64 `json:"drugId" db:"drug_id"`
	DrugFields
	Verified   bool      `json:"verified" db:"is_verified"`
	StagingID  int64     `json:"stagingId" db:"staging_id"`
	ArchivedBy string    `json:"archivedBy" db:"archived_by"`
	ArchivedAt time.Time `json:"archivedAt" db:"archived_at"`
}
