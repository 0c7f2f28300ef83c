package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrScanRejected means the scanner flagged the file content.
var ErrScanRejected = errors.New("file rejected by content scanner")

// Scanner is the malware/content scanning collaborator. Uploads are only
// accepted into the session after a pass verdict.
type Scanner interface {
	Scan(ctx context.Context, content io.Reader) error
}

// HTTPScanner submits file bytes to an external scanning service.
type HTTPScanner struct {
	endpoint string
	client   *http.Client
}

func NewHTTPScanner(endpoint string, timeout time.Duration) *HTTPScanner {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPScanner{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

func (s *HTTPScanner) Scan(ctx context.Context, content io.Reader) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, content)
	if err != nil {
		return fmt.Errorf("failed to build scan request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("scanner unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("scanner returned %d: %s", resp.StatusCode, body)
	}

	var verdict struct {
		Malware bool `json:"malware"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		return fmt.Errorf("failed to decode scan verdict: %w", err)
	}
	if verdict.Malware {
		return ErrScanRejected
	}
	return nil
}

// PassScanner accepts everything. Used in tests and local development.
type PassScanner struct{}

func (PassScanner) Scan(ctx context.Context, content io.Reader) error {
	_, err := io.Copy(io.Discard, content)
	return err
}

// RejectScanner rejects content containing any configured signature.
// Used in tests to exercise the rejection path.
type RejectScanner struct {
	Signature []byte
}

func (s RejectScanner) Scan(ctx context.Context, content io.Reader) error {
	data, err := io.ReadAll(content)
	if err != nil {
		return err
	}
	if len(s.Signature) > 0 && bytes.Contains(data, s.Signature) {
		return ErrScanRejected
	}
	return nil
}
