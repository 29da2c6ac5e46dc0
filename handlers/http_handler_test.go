package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/giygas/drug-registry/consultation"
	"github.com/giygas/drug-registry/database"
	"github.com/giygas/drug-registry/entities"
	"github.com/giygas/drug-registry/identity"
	"github.com/giygas/drug-registry/ingest"
	"github.com/giygas/drug-registry/interfaces"
	"github.com/giygas/drug-registry/knowledge"
	"github.com/giygas/drug-registry/registry"
	"github.com/giygas/drug-registry/scheduler"
	"github.com/giygas/drug-registry/staging"
	"github.com/giygas/drug-registry/validation"
)

type fixture struct {
	handler *HTTPHandlerImpl
	router  chi.Router
	matcher *knowledge.Matcher
	kb      *knowledge.Ingestor
}

func newRouter(h *HTTPHandlerImpl) chi.Router {
	r := chi.NewRouter()
	r.Get("/v1/drugs/resolve", h.ResolveIdentity)
	r.Post("/v1/drugs/lookup", h.Lookup)
	r.Delete("/v1/drugs/{id}", h.DeleteDrug)
	r.Get("/v1/drugs/{id}/history", h.DrugHistory)
	r.Post("/v1/staging", h.SubmitDrug)
	r.Get("/v1/staging", h.ListStaging)
	r.Delete("/v1/staging", h.ClearStaging)
	r.Get("/v1/staging/history", h.StagingHistory)
	r.Get("/v1/staging/{id}", h.GetStaging)
	r.Post("/v1/staging/{id}/approve", h.ApproveStaging)
	r.Post("/v1/staging/{id}/reject", h.RejectStaging)
	r.Get("/v1/consult", h.Consult)
	r.Get("/v1/knowledge/associations", h.ListAssociations)
	r.Post("/v1/knowledge/observations", h.IngestObservations)
	r.Post("/v1/admin/reindex", h.Reindex)
	r.Get("/health", h.HealthCheck)
	return r
}

func setupFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := database.OpenMemory(ctx)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	resolver := identity.NewResolver(db, identity.DefaultOptions())
	matcher := knowledge.NewMatcher(db, knowledge.DefaultOptions())
	machine := staging.NewMachine(db, resolver)
	kb := knowledge.NewIngestor(db)
	sched := scheduler.NewScheduler([]interfaces.Indexer{resolver, matcher}, nil)

	h := NewHTTPHandler(Dependencies{
		Registry:     registry.NewService(db, resolver, machine, nil),
		Staging:      machine,
		Consultation: consultation.NewService(matcher, 0),
		Ingester:     ingest.NewRunner(kb, matcher, time.Second),
		Reindexer:    sched,
		Validator:    validation.NewDataValidator(),
	})
	return &fixture{handler: h, router: newRouter(h), matcher: matcher, kb: kb}
}

func (f *fixture) do(t *testing.T, method, target string, body any, user string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("Failed to decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func submission(name, reg string) staging.SubmitRequest {
	return staging.SubmitRequest{
		Fields:   entities.DrugFields{Name: name, RegistrationNumber: reg},
		Diseases: []staging.DiseaseLink{{ICDCode: "r50.9", Name: "Fever"}},
	}
}

func TestRespondWithJSON(t *testing.T) {
	h := NewHTTPHandler(Dependencies{})

	tests := []struct {
		name           string
		code           int
		payload        any
		expectedStatus int
		expectedBody   string
	}{
		{"map payload", http.StatusOK, map[string]string{"status": "ok"}, http.StatusOK, `{"status":"ok"}`},
		{"empty list", http.StatusOK, nonNil[string](nil), http.StatusOK, `[]`},
		{"unmarshalable payload", http.StatusOK, make(chan int), http.StatusInternalServerError, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.RespondWithJSON(rr, tt.code, tt.payload)

			if rr.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d", tt.expectedStatus, rr.Code)
			}
			if got := strings.TrimSpace(rr.Body.String()); got != tt.expectedBody {
				t.Errorf("Expected body %q, got %q", tt.expectedBody, got)
			}
			if tt.expectedStatus == http.StatusOK && !strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
				t.Errorf("Expected JSON content type, got %q", rr.Header().Get("Content-Type"))
			}
		})
	}
}

func TestRespondWithError(t *testing.T) {
	h := NewHTTPHandler(Dependencies{})
	rr := httptest.NewRecorder()
	h.RespondWithError(rr, http.StatusNotFound, "Drug not found")

	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rr.Code)
	}
	body := decode[map[string]any](t, rr)
	if body["error"] != "Not Found" || body["message"] != "Drug not found" || body["code"] != float64(404) {
		t.Errorf("Unexpected error body %v", body)
	}
}

func TestSubmitAndReviewFlow(t *testing.T) {
	f := setupFixture(t)

	rr := f.do(t, http.MethodPost, "/v1/staging", submission("Panadol", "VN-100"), "alice")
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	first := decode[staging.SubmitResult](t, rr)
	if first.Status != staging.StatusSuccess || first.DrugID == 0 || first.Links != 1 {
		t.Errorf("Unexpected submit result %+v", first)
	}

	rr = f.do(t, http.MethodPost, "/v1/staging", submission("Panadol Extra", "VN-100"), "bob")
	if rr.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	pending := decode[staging.SubmitResult](t, rr)
	if pending.Status != staging.StatusPendingConfirmation || pending.ConflictID == nil || *pending.ConflictID != first.DrugID {
		t.Errorf("Unexpected pending result %+v", pending)
	}

	rr = f.do(t, http.MethodGet, "/v1/staging", nil, "")
	if list := decode[[]entities.StagingCandidate](t, rr); len(list) != 1 || list[0].CreatedBy != "bob" {
		t.Errorf("Expected one pending candidate by bob, got %+v", list)
	}

	stagingPath := "/v1/staging/" + itoa(pending.StagingID)
	if rr = f.do(t, http.MethodGet, stagingPath, nil, ""); rr.Code != http.StatusOK {
		t.Errorf("Expected 200 for pending candidate, got %d", rr.Code)
	}

	rr = f.do(t, http.MethodPost, stagingPath+"/approve", nil, "carol")
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200 on approve, got %d: %s", rr.Code, rr.Body.String())
	}
	tr := decode[staging.Transition](t, rr)
	if tr.DrugID != first.DrugID || tr.DrugHistoryID == 0 {
		t.Errorf("Expected overwrite of drug %d with an archive, got %+v", first.DrugID, tr)
	}

	if rr = f.do(t, http.MethodPost, stagingPath+"/approve", nil, "carol"); rr.Code != http.StatusConflict {
		t.Errorf("Expected 409 on second approve, got %d", rr.Code)
	}
	if rr = f.do(t, http.MethodGet, stagingPath, nil, ""); rr.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for closed candidate, got %d", rr.Code)
	}

	rr = f.do(t, http.MethodGet, "/v1/drugs/"+itoa(first.DrugID)+"/history", nil, "")
	if history := decode[[]entities.DrugHistory](t, rr); len(history) != 1 || history[0].Name != "Panadol" {
		t.Errorf("Expected the original version archived, got %+v", history)
	}

	rr = f.do(t, http.MethodGet, "/v1/staging/history?staging_id="+itoa(pending.StagingID), nil, "")
	history := decode[[]entities.StagingHistory](t, rr)
	if len(history) != 1 || history[0].Action != entities.ActionApproved || history[0].ActionBy != "carol" {
		t.Errorf("Unexpected staging history %+v", history)
	}

	rr = f.do(t, http.MethodGet, "/v1/drugs/resolve?name=panadol+extra", nil, "")
	if match := decode[identity.Match](t, rr); match.Drug.ID != first.DrugID || match.Strategy != identity.StrategyExact {
		t.Errorf("Expected approved name to resolve exactly, got %+v", match)
	}
}

func TestRejectAndClear(t *testing.T) {
	f := setupFixture(t)

	f.do(t, http.MethodPost, "/v1/staging", submission("Efferalgan", "VN-1"), "")
	f.do(t, http.MethodPost, "/v1/staging", submission("Efferalgan 500", "VN-1"), "")
	f.do(t, http.MethodPost, "/v1/staging", submission("Efferalgan 1g", "VN-1"), "")

	list := decode[[]entities.StagingCandidate](t, f.do(t, http.MethodGet, "/v1/staging", nil, ""))
	if len(list) != 2 {
		t.Fatalf("Expected 2 pending candidates, got %d", len(list))
	}

	rr := f.do(t, http.MethodPost, "/v1/staging/"+itoa(list[0].ID)+"/reject", nil, "dave")
	if tr := decode[staging.Transition](t, rr); rr.Code != http.StatusOK || tr.Action != entities.ActionRejected {
		t.Errorf("Expected rejection, got %d %+v", rr.Code, tr)
	}

	rr = f.do(t, http.MethodDelete, "/v1/staging", nil, "dave")
	res := decode[staging.ClearResult](t, rr)
	if res.Cleared != 1 || res.BatchID == "" {
		t.Errorf("Expected one cleared candidate with a batch id, got %+v", res)
	}

	history := decode[[]entities.StagingHistory](t, f.do(t, http.MethodGet, "/v1/staging/history", nil, ""))
	if len(history) != 2 {
		t.Errorf("Expected 2 history rows, got %d", len(history))
	}
}

func TestResolveIdentity(t *testing.T) {
	f := setupFixture(t)
	f.do(t, http.MethodPost, "/v1/staging", submission("Amoxicillin 500mg", "VN-7"), "")

	tests := []struct {
		name           string
		query          string
		expectedStatus int
	}{
		{"exact", "Amoxicillin%20500mg", http.StatusOK},
		{"fuzzy", "Amoxicilin%20500mg", http.StatusOK},
		{"unknown", "Zzyzx", http.StatusNotFound},
		{"too short", "a", http.StatusBadRequest},
		{"script injection", "%3Cscript%3E", http.StatusBadRequest},
		{"missing", "", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := f.do(t, http.MethodGet, "/v1/drugs/resolve?name="+tt.query, nil, "")
			if rr.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d: %s", tt.expectedStatus, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestLookupAndDelete(t *testing.T) {
	f := setupFixture(t)
	created := decode[staging.SubmitResult](t, f.do(t, http.MethodPost, "/v1/staging", submission("Omeprazole", "VN-9"), ""))

	rr := f.do(t, http.MethodPost, "/v1/drugs/lookup", map[string]string{"name": "omeprazole"}, "")
	if res := decode[registry.LookupResult](t, rr); rr.Code != http.StatusOK || res.Source != registry.SourceDatabase {
		t.Errorf("Expected database lookup hit, got %d %+v", rr.Code, res)
	}

	if rr = f.do(t, http.MethodPost, "/v1/drugs/lookup", map[string]string{"name": "Zzyzx"}, ""); rr.Code != http.StatusNotFound {
		t.Errorf("Expected 404 without web lookup, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/drugs/lookup", strings.NewReader("{not json"))
	rr = httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed body, got %d", rr.Code)
	}

	path := "/v1/drugs/" + itoa(created.DrugID)
	if rr = f.do(t, http.MethodDelete, path, nil, "admin"); rr.Code != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr = f.do(t, http.MethodDelete, path, nil, "admin"); rr.Code != http.StatusNotFound {
		t.Errorf("Expected 404 on second delete, got %d", rr.Code)
	}
	if rr = f.do(t, http.MethodGet, "/v1/drugs/resolve?name=omeprazole", nil, ""); rr.Code != http.StatusNotFound {
		t.Errorf("Expected deleted drug to stop resolving, got %d", rr.Code)
	}
}

func TestSubmitValidation(t *testing.T) {
	f := setupFixture(t)

	tests := []struct {
		name string
		req  staging.SubmitRequest
	}{
		{"empty name", submission("   ", "VN-1")},
		{"bad icd", staging.SubmitRequest{
			Fields:   entities.DrugFields{Name: "Panadol"},
			Diseases: []staging.DiseaseLink{{ICDCode: "fever"}},
		}},
		{"markup in note", staging.SubmitRequest{
			Fields: entities.DrugFields{Name: "Panadol", Note: "<script>alert(1)</script>"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rr := f.do(t, http.MethodPost, "/v1/staging", tt.req, ""); rr.Code != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d: %s", rr.Code, rr.Body.String())
			}
		})
	}
}

func TestInvalidIDs(t *testing.T) {
	f := setupFixture(t)

	for _, target := range []string{"/v1/staging/abc", "/v1/staging/0", "/v1/staging/-4", "/v1/drugs/1.5/history"} {
		if rr := f.do(t, http.MethodGet, target, nil, ""); rr.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", target, rr.Code)
		}
	}
	if rr := f.do(t, http.MethodGet, "/v1/staging/history?staging_id=x", nil, ""); rr.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad staging_id, got %d", rr.Code)
	}
}

func TestConsultAndIngest(t *testing.T) {
	f := setupFixture(t)

	batch := []knowledge.Observation{
		{DrugName: "Amoxicillin", DiseaseICD: "J02", TreatmentType: "main drug"},
		{DrugName: "Amoxicillin", DiseaseICD: "J02", TreatmentType: "main drug"},
		{DrugName: "Vitamin C", DiseaseICD: "J02", TDVFeedback: "supplement"},
		{DrugName: "Broken", DiseaseICD: "nope"},
	}
	rr := f.do(t, http.MethodPost, "/v1/knowledge/observations", batch, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decode[struct {
		Result  knowledge.BatchResult `json:"result"`
		Quality struct {
			Invalid int `json:"invalid"`
		} `json:"quality"`
	}](t, rr)
	if body.Result.Created != 2 || body.Result.Incremented != 1 || body.Result.Skipped != 1 {
		t.Errorf("Unexpected ingest result %+v", body.Result)
	}

	tests := []struct {
		name           string
		query          string
		expectedStatus int
		expectedRole   string
	}{
		{"main drug", "drug=Amoxicillin&icd=j02", http.StatusOK, "main drug"},
		{"supplement", "drug=Vitamin%20C&icd=J02", http.StatusOK, "supplement"},
		{"unknown association", "drug=Amoxicillin&icd=A00", http.StatusNotFound, ""},
		{"bad icd", "drug=Amoxicillin&icd=throat", http.StatusBadRequest, ""},
		{"missing drug", "icd=J02", http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := f.do(t, http.MethodGet, "/v1/consult?"+tt.query, nil, "")
			if rr.Code != tt.expectedStatus {
				t.Fatalf("Expected status %d, got %d: %s", tt.expectedStatus, rr.Code, rr.Body.String())
			}
			if tt.expectedRole != "" {
				if res := decode[consultation.Result](t, rr); res.Role != tt.expectedRole {
					t.Errorf("Expected role %q, got %q", tt.expectedRole, res.Role)
				}
			}
		})
	}

	if rr = f.do(t, http.MethodPost, "/v1/knowledge/observations", []knowledge.Observation{}, ""); rr.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for empty batch, got %d", rr.Code)
	}

	rr = f.do(t, http.MethodGet, "/v1/knowledge/associations?drug=amoxicilin", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200 for associations, got %d: %s", rr.Code, rr.Body.String())
	}
	assoc := decode[[]consultation.Result](t, rr)
	if len(assoc) != 1 || assoc[0].MatchedName != "amoxicillin" || assoc[0].Frequency != 2 {
		t.Errorf("Unexpected associations %+v", assoc)
	}
	if rr = f.do(t, http.MethodGet, "/v1/knowledge/associations?drug=Zzyzx", nil, ""); rr.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown drug, got %d", rr.Code)
	}
	if rr = f.do(t, http.MethodGet, "/v1/knowledge/associations", nil, ""); rr.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without drug, got %d", rr.Code)
	}
}

// failingStaging only implements the methods the tests call.
type failingStaging struct {
	interfaces.Staging
	err error
}

func (s *failingStaging) ListPending(ctx context.Context) ([]entities.StagingCandidate, error) {
	return nil, s.err
}

func (s *failingStaging) Approve(ctx context.Context, id int64, user string) (staging.Transition, error) {
	return staging.Transition{}, s.err
}

func TestServiceErrorMapping(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedStatus int
	}{
		{"not found", entities.ErrNotFound, http.StatusNotFound},
		{"race", errors.Join(entities.ErrConflictRace, errors.New("gone")), http.StatusConflict},
		{"invalid", entities.ErrInvalidInput, http.StatusBadRequest},
		{"storage", entities.ErrStorageFailure, http.StatusInternalServerError},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHTTPHandler(Dependencies{
				Staging:   &failingStaging{err: tt.err},
				Validator: validation.NewDataValidator(),
			})
			f := &fixture{handler: h, router: newRouter(h)}

			if rr := f.do(t, http.MethodPost, "/v1/staging/1/approve", nil, ""); rr.Code != tt.expectedStatus {
				t.Errorf("Expected %d, got %d", tt.expectedStatus, rr.Code)
			}
			rr := f.do(t, http.MethodGet, "/v1/staging", nil, "")
			if rr.Code != tt.expectedStatus {
				t.Errorf("Expected %d, got %d", tt.expectedStatus, rr.Code)
			}
			if tt.expectedStatus == http.StatusInternalServerError && strings.Contains(rr.Body.String(), "boom") {
				t.Error("Internal errors must not leak to the client")
			}
		})
	}
}

type stubReindexer struct {
	err   error
	calls int
}

func (s *stubReindexer) Reindex(ctx context.Context) error {
	s.calls++
	return s.err
}

func TestReindex(t *testing.T) {
	tests := []struct {
		name           string
		reindexer      *stubReindexer
		expectedStatus int
	}{
		{"rebuilt", &stubReindexer{}, http.StatusOK},
		{"already running", &stubReindexer{err: scheduler.ErrReindexInProgress}, http.StatusConflict},
		{"failure", &stubReindexer{err: errors.New("database is locked")}, http.StatusInternalServerError},
		{"not configured", nil, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := Dependencies{}
			if tt.reindexer != nil {
				deps.Reindexer = tt.reindexer
			}
			h := NewHTTPHandler(deps)

			rr := httptest.NewRecorder()
			h.Reindex(rr, httptest.NewRequest(http.MethodPost, "/v1/admin/reindex", nil))
			if rr.Code != tt.expectedStatus {
				t.Errorf("Expected %d, got %d", tt.expectedStatus, rr.Code)
			}
			if tt.reindexer != nil && tt.reindexer.calls != 1 {
				t.Errorf("Expected one reindex call, got %d", tt.reindexer.calls)
			}
		})
	}
}

type stubHealth struct {
	status string
	code   int
}

func (s *stubHealth) HealthCheck(ctx context.Context) (string, map[string]any, int) {
	return s.status, map[string]any{"database": "ok"}, s.code
}

func (s *stubHealth) CalculateNextUpdate() time.Time {
	return time.Time{}
}

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		status string
		code   int
	}{
		{"healthy", http.StatusOK},
		{"degraded", http.StatusServiceUnavailable},
		{"unhealthy", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			h := NewHTTPHandler(Dependencies{Health: &stubHealth{status: tt.status, code: tt.code}})
			rr := httptest.NewRecorder()
			h.HealthCheck(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

			if rr.Code != tt.code {
				t.Errorf("Expected %d, got %d", tt.code, rr.Code)
			}
			body := decode[map[string]any](t, rr)
			if body["status"] != tt.status {
				t.Errorf("Expected status %s, got %v", tt.status, body["status"])
			}
			for _, key := range []string{"uptime", "data", "system"} {
				if _, ok := body[key]; !ok {
					t.Errorf("Expected %s in health response", key)
				}
			}
		})
	}
}

func TestFormatUptimeHuman(t *testing.T) {
	tests := []struct {
		d        time.Duration
		expected string
	}{
		{5 * time.Second, "5s"},
		{2*time.Minute + 3*time.Second, "2m 3s"},
		{time.Hour, "1h 0m 0s"},
		{26*time.Hour + 5*time.Minute, "1d 2h 5m 0s"},
	}
	for _, tt := range tests {
		if got := formatUptimeHuman(tt.d); got != tt.expected {
			t.Errorf("formatUptimeHuman(%v) = %q, want %q", tt.d, got, tt.expected)
		}
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
