package staging

import "github.com/giygas/drug-registry/entities"

// Transition is the outcome of one terminal staging action. Action is the tag:
// DrugID is set for approvals, DrugHistoryID only when an approval overwrote an
// existing drug.
type Transition struct {
	Action           entities.StagingAction `json:"action"`
	StagingID        int64                  `json:"stagingId"`
	StagingHistoryID int64                  `json:"stagingHistoryId"`
	DrugID           int64                  `json:"drugId,omitempty"`
	DrugHistoryID    int64                  `json:"drugHistoryId,omitempty"`
	LinksUpdated     int64                  `json:"linksUpdated"`
}

// Merged reports whether an approval overwrote an existing canonical drug.
func (t Transition) Merged() bool {
	return t.Action == entities.ActionApproved && t.DrugHistoryID != 0
}

// ClearResult is the outcome of ClearAll. Every cleared row shares BatchID.
type ClearResult struct {
	BatchID     string       `json:"batchId"`
	Cleared     int          `json:"cleared"`
	Transitions []Transition `json:"transitions"`
}

// SubmitStatus tells whether a submission landed in the canonical table.
type SubmitStatus string

const (
	StatusSuccess             SubmitStatus = "success"
	StatusPendingConfirmation SubmitStatus = "pending_confirmation"
)

// DiseaseLink is a disease association supplied with a submission.
type DiseaseLink struct {
	ICDCode      string `json:"icdCode"`
	Name         string `json:"name"`
	CoverageType string `json:"coverageType"`
}

// SubmitRequest is a candidate drug record.
type SubmitRequest struct {
	Fields   entities.DrugFields `json:"fields"`
	Diseases []DiseaseLink       `json:"diseases,omitempty"`
	User     string              `json:"user"`
}

// SubmitResult reports where a submission went.
type SubmitResult struct {
	Status       SubmitStatus          `json:"status"`
	DrugID       int64                 `json:"drugId,omitempty"`
	StagingID    int64                 `json:"stagingId,omitempty"`
	ConflictType entities.ConflictType `json:"conflictType,omitempty"`
	ConflictID   *int64                `json:"conflictId,omitempty"`
	Links        int                   `json:"links"`
}
