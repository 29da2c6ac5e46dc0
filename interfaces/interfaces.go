// Package interfaces defines the contracts between the HTTP layer, the scheduler and
// the registry core, so each side can be tested against fakes.
package interfaces

import (
	"context"
	"net/http"
	"time"

	"github.com/giygas/drug-registry/consultation"
	"github.com/giygas/drug-registry/data"
	"github.com/giygas/drug-registry/entities"
	"github.com/giygas/drug-registry/identity"
	"github.com/giygas/drug-registry/knowledge"
	"github.com/giygas/drug-registry/registry"
	"github.com/giygas/drug-registry/staging"
	"github.com/giygas/drug-registry/validation"
)

// Indexer owns a rebuildable in-memory name index.
type Indexer interface {
	Rebuild(ctx context.Context) error
	Index() *data.NameIndex
}

// Registry resolves drug identities and performs administrative changes.
type Registry interface {
	ResolveDrugIdentity(ctx context.Context, name string) (identity.Match, error)
	Lookup(ctx context.Context, name, user string) (registry.LookupResult, error)
	DeleteDrug(ctx context.Context, id int64, user string) error
}

// Staging submits drug records and drives the review workflow.
type Staging interface {
	Submit(ctx context.Context, req staging.SubmitRequest) (staging.SubmitResult, error)
	Approve(ctx context.Context, stagingID int64, user string) (staging.Transition, error)
	Reject(ctx context.Context, stagingID int64, user string) (staging.Transition, error)
	ClearAll(ctx context.Context, user string) (staging.ClearResult, error)
	ListPending(ctx context.Context) ([]entities.StagingCandidate, error)
	Get(ctx context.Context, stagingID int64) (*entities.StagingCandidate, error)
	History(ctx context.Context, stagingID int64) ([]entities.StagingHistory, error)
	DrugHistory(ctx context.Context, drugID int64) ([]entities.DrugHistory, error)
}

// Consultation answers drug/disease role questions.
type Consultation interface {
	Resolve(ctx context.Context, drugName, icd string) (consultation.Result, error)
	Associations(ctx context.Context, drugName string) ([]consultation.Result, error)
}

// Knowledge records observations into the knowledge base.
type Knowledge interface {
	IngestBatch(ctx context.Context, batch []knowledge.Observation) (knowledge.BatchResult, error)
}

// ObservationIngester validates and records an already parsed observation batch.
type ObservationIngester interface {
	Apply(ctx context.Context, batch []knowledge.Observation) (*validation.BatchQualityReport, knowledge.BatchResult, error)
}

// Reindexer rebuilds every name index on demand.
type Reindexer interface {
	Reindex(ctx context.Context) error
}

// Pinger checks storage connectivity.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Scheduler runs periodic index rebuilds.
type Scheduler interface {
	Start() error
	Stop()
}

// HealthChecker reports service health.
type HealthChecker interface {
	// HealthCheck returns the status label, details and the HTTP status to answer with.
	HealthCheck(ctx context.Context) (status string, details map[string]any, httpStatus int)

	// CalculateNextUpdate returns the next scheduled index rebuild.
	CalculateNextUpdate() time.Time
}

// HTTPHandler serves the JSON API.
type HTTPHandler interface {
	ResolveIdentity(w http.ResponseWriter, r *http.Request)
	Lookup(w http.ResponseWriter, r *http.Request)
	DeleteDrug(w http.ResponseWriter, r *http.Request)
	DrugHistory(w http.ResponseWriter, r *http.Request)

	SubmitDrug(w http.ResponseWriter, r *http.Request)
	ListStaging(w http.ResponseWriter, r *http.Request)
	GetStaging(w http.ResponseWriter, r *http.Request)
	ApproveStaging(w http.ResponseWriter, r *http.Request)
	RejectStaging(w http.ResponseWriter, r *http.Request)
	ClearStaging(w http.ResponseWriter, r *http.Request)
	StagingHistory(w http.ResponseWriter, r *http.Request)

	Consult(w http.ResponseWriter, r *http.Request)
	ListAssociations(w http.ResponseWriter, r *http.Request)
	IngestObservations(w http.ResponseWriter, r *http.Request)
	Reindex(w http.ResponseWriter, r *http.Request)

	HealthCheck(w http.ResponseWriter, r *http.Request)
}

// SubmissionValidator checks user input before it reaches the core.
type SubmissionValidator interface {
	// ValidateInput checks a free-text search term.
	ValidateInput(input string) error

	// ValidateSubmission checks a candidate drug record.
	ValidateSubmission(req *staging.SubmitRequest) error

	// ValidateICD checks and normalizes a disease code.
	ValidateICD(input string) (string, error)

	// ValidateID parses a positive numeric identifier.
	ValidateID(input string) (int64, error)

	// ValidateObservation checks a knowledge-base observation.
	ValidateObservation(obs *knowledge.Observation) error
}
