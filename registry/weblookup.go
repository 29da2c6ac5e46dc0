package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/giygas/drug-registry/entities"
	"github.com/giygas/drug-registry/staging"
)

// ErrLookupUnavailable means the web lookup service could not be reached.
var ErrLookupUnavailable = errors.New("web lookup service unavailable")

// WebRecord is a drug record found outside the registry.
type WebRecord struct {
	Fields   entities.DrugFields   `json:"fields"`
	Diseases []staging.DiseaseLink `json:"diseases,omitempty"`
	Source   string                `json:"source,omitempty"`
}

// WebLookup searches an external source for a drug. A nil record with a nil error
// means nothing was found.
type WebLookup interface {
	Lookup(ctx context.Context, name string) (*WebRecord, error)
}

// HTTPLookup calls a lookup service over HTTP: GET {base}/lookup?name=...
// 200 carries a WebRecord, 404 means not found.
type HTTPLookup struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPLookup creates a client. A zero timeout falls back to 5s.
func NewHTTPLookup(baseURL string, timeout time.Duration) *HTTPLookup {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPLookup{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *HTTPLookup) Lookup(ctx context.Context, name string) (*WebRecord, error) {
	endpoint := c.baseURL + "/lookup?" + url.Values{"name": {name}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLookupUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, fmt.Errorf("web lookup returned %d", resp.StatusCode)
	}

	var rec WebRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if strings.TrimSpace(rec.Fields.Name) == "" {
		return nil, nil
	}
	return &rec, nil
}
