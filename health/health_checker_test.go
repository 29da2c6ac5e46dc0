package health

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/giygas/drug-registry/data"
	"github.com/giygas/drug-registry/entities"
	"github.com/giygas/drug-registry/interfaces"
	"github.com/giygas/drug-registry/similarity"
)

type mockPinger struct {
	err error
}

func (m *mockPinger) PingContext(ctx context.Context) error {
	return m.err
}

type mockIndexer struct {
	index *data.NameIndex
}

func newMockIndexer(t *testing.T, name string, build bool, names ...string) *mockIndexer {
	t.Helper()
	ix := data.NewNameIndex(name, func(ctx context.Context) ([]data.IndexEntry, error) {
		entries := make([]data.IndexEntry, len(names))
		for i, n := range names {
			entries[i] = data.IndexEntry{ID: int64(i + 1), Name: n}
		}
		return entries, nil
	}, similarity.Unigrams)
	if build {
		if _, err := ix.Rebuild(context.Background()); err != nil {
			t.Fatalf("rebuild %s: %v", name, err)
		}
	}
	return &mockIndexer{index: ix}
}

func (m *mockIndexer) Rebuild(ctx context.Context) error {
	_, err := m.index.Rebuild(ctx)
	return err
}

func (m *mockIndexer) Index() *data.NameIndex {
	return m.index
}

// mockStaging only implements ListPending; other methods panic.
type mockStaging struct {
	interfaces.Staging
	pending []entities.StagingCandidate
	err     error
}

func (m *mockStaging) ListPending(ctx context.Context) ([]entities.StagingCandidate, error) {
	return m.pending, m.err
}

func TestHealthCheck(t *testing.T) {
	testCases := []struct {
		name           string
		pingErr        error
		age            time.Duration
		expectedStatus string
		expectedHTTP   int
	}{
		{"healthy", nil, 0, "healthy", http.StatusOK},
		{"just under degraded", nil, 24 * time.Hour, "healthy", http.StatusOK},
		{"degraded", nil, 26 * time.Hour, "degraded", http.StatusServiceUnavailable},
		{"stale index", nil, 49 * time.Hour, "unhealthy", http.StatusServiceUnavailable},
		{"database down", errors.New("connection refused"), 0, "unhealthy", http.StatusServiceUnavailable},
		{"database down and degraded", errors.New("connection refused"), 26 * time.Hour, "unhealthy", http.StatusServiceUnavailable},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			drugs := newMockIndexer(t, "identity", true, "Panadol", "Efferalgan")
			stg := &mockStaging{pending: make([]entities.StagingCandidate, 3)}

			h := NewHealthChecker(&mockPinger{err: tc.pingErr}, []interfaces.Indexer{drugs}, stg, []string{"03:00"})
			h.now = func() time.Time { return time.Now().Add(tc.age) }

			status, details, code := h.HealthCheck(context.Background())
			if status != tc.expectedStatus {
				t.Errorf("Expected status %s, got %s", tc.expectedStatus, status)
			}
			if code != tc.expectedHTTP {
				t.Errorf("Expected HTTP %d, got %d", tc.expectedHTTP, code)
			}

			indexes, ok := details["indexes"].(map[string]any)
			if !ok {
				t.Fatalf("Expected indexes map, got %T", details["indexes"])
			}
			info, ok := indexes["identity"].(map[string]any)
			if !ok {
				t.Fatalf("Expected identity index details, got %v", indexes)
			}
			if info["entries"] != 2 {
				t.Errorf("Expected 2 entries, got %v", info["entries"])
			}

			if tc.pingErr == nil {
				if details["database"] != "ok" {
					t.Errorf("Expected database ok, got %v", details["database"])
				}
				if details["pending_staging"] != 3 {
					t.Errorf("Expected 3 pending candidates, got %v", details["pending_staging"])
				}
			} else if details["database"] != "unreachable" {
				t.Errorf("Expected database unreachable, got %v", details["database"])
			}
		})
	}
}

func TestHealthCheckNeverBuiltIndex(t *testing.T) {
	vocab := newMockIndexer(t, "knowledge", false)
	h := NewHealthChecker(&mockPinger{}, []interfaces.Indexer{vocab}, nil, nil)

	status, details, code := h.HealthCheck(context.Background())
	if status != "healthy" || code != http.StatusOK {
		t.Errorf("Expected healthy, got %s (%d)", status, code)
	}
	info := details["indexes"].(map[string]any)["knowledge"].(map[string]any)
	if info["last_update"] != nil {
		t.Errorf("Expected nil last_update, got %v", info["last_update"])
	}
	if _, ok := details["pending_staging"]; ok {
		t.Error("Expected no pending count without a staging dependency")
	}
	if _, ok := details["next_reindex"]; ok {
		t.Error("Expected no next_reindex without schedule")
	}
}

func TestHealthCheckStagingFailureIsNotFatal(t *testing.T) {
	drugs := newMockIndexer(t, "identity", true, "Panadol")
	stg := &mockStaging{err: errors.New("database is locked")}
	h := NewHealthChecker(&mockPinger{}, []interfaces.Indexer{drugs}, stg, []string{"03:00"})

	status, details, _ := h.HealthCheck(context.Background())
	if status != "healthy" {
		t.Errorf("Expected healthy, got %s", status)
	}
	if _, ok := details["pending_staging"]; ok {
		t.Error("Expected pending_staging omitted on error")
	}
	if _, ok := details["next_reindex"].(string); !ok {
		t.Errorf("Expected next_reindex string, got %v", details["next_reindex"])
	}
}

func TestCalculateNextUpdate(t *testing.T) {
	h := NewHealthChecker(&mockPinger{}, nil, nil, []string{"06:00", "18:00"})
	fixed := time.Date(2026, 5, 4, 12, 0, 0, 0, time.Local)
	h.now = func() time.Time { return fixed }

	next := h.CalculateNextUpdate()
	expected := time.Date(2026, 5, 4, 18, 0, 0, 0, time.Local)
	if !next.Equal(expected) {
		t.Errorf("Expected %v, got %v", expected, next)
	}
}
