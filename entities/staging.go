package entities

import "time"

// StagingStatus is the lifecycle state of a staging row. Only pending rows live in
// the staging table; terminal states are recorded in StagingHistory.
type StagingStatus string

const (
	StagingPending StagingStatus = "pending"
)

// ConflictType names which natural key collided with an existing canonical drug.
type ConflictType string

const (
	ConflictNone               ConflictType = "none"
	ConflictRegistrationNumber ConflictType = "registration_number"
	ConflictName               ConflictType = "name"
)

// StagingAction is the terminal transition taken on a staging candidate.
type StagingAction string

const (
	ActionApproved StagingAction = "approved"
	ActionRejected StagingAction = "rejected"
	ActionCleared  StagingAction = "cleared"
)

// StagingCandidate is a drug submission that collided with a canonical record and
// waits for a reviewer.
type StagingCandidate struct {
	ID int64 `json:"id" db:"id"`
	DrugFields
	NameNorm     string        `json:"-" db:"name_norm"`
	Status       StagingStatus `json:"status" db:"status"`
	ConflictType ConflictType  `json:"conflictType" db:"conflict_type"`
	ConflictID   *int64        `json:"conflictId,omitempty" db:"conflict_id"`
	CreatedBy    string        `json:"createdBy" db:"created_by"`
	CreatedAt    time.Time     `json:"createdAt" db:"created_at"`
}

// StagingHistory is the append-only record of a terminal staging transition.
type StagingHistory struct {
	ID        int64 `json:"id" db:"id"`
	StagingID int64 `json:"stagingId" db:"staging_id"`
	DrugFields
	ConflictType ConflictType  `json:"conflictType" db:"conflict_type"`
	ConflictID   *int64        `json:"conflictId,omitempty" db:"conflict_id"`
	Action       StagingAction `json:"action" db:"action"`
	ActionBy     string        `json:"actionBy" db:"action_by"`
	ActionAt     time.Time     `json:"actionAt" db:"action_at"`
	BatchID      string        `json:"batchId,omitempty" db:"batch_id"`
}
