// Package ingest reads knowledge-base observation files (TSV, CSV or XLSX) from
// disk or over HTTP and turns them into knowledge.Observation batches.
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/giygas/drug-registry/logging"
)

// maxFileSize bounds what Fetch will read into memory.
const maxFileSize = 256 << 20

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Fetch returns the raw content of src, a local path or an http(s) URL.
func Fetch(ctx context.Context, src string, timeout time.Duration) ([]byte, error) {
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		return download(ctx, src, timeout)
	}

	f, err := os.Open(filepath.Clean(src))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			logging.Warn("Failed to close ingest file", "error", err)
		}
	}()

	body, err := io.ReadAll(io.LimitReader(f, maxFileSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", src, err)
	}
	return body, nil
}

func download(ctx context.Context, url string, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	client := &http.Client{Timeout: timeout}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	response, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", url, err)
	}
	defer func() {
		if err := response.Body.Close(); err != nil {
			logging.Warn("Failed to close response body", "error", err)
		}
	}()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download %s: status %d", url, response.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(response.Body, maxFileSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	logging.Debug("Ingest file downloaded", "url", url, "bytes", len(body))
	return body, nil
}

// textReader returns a UTF-8 reader over a text export. Exports come either in
// UTF-8 or in ISO-8859-1, so anything that is not valid UTF-8 is decoded from
// Latin-1. A UTF-8 byte order mark is dropped.
func textReader(body []byte) io.Reader {
	body = bytes.TrimPrefix(body, utf8BOM)
	if utf8.Valid(body) {
		return bytes.NewReader(body)
	}
	return charmap.ISO8859_1.NewDecoder().Reader(bytes.NewReader(body))
}
