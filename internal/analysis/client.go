// Package analysis wraps the downstream document-analysis service behind
// a narrow submit-document-returns-report interface. The wire contract is
// the service's own business; nothing outside this package depends on it.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"time"
)

// Sentinel errors for analysis-service failures.
var (
	ErrUnreachable = errors.New("analysis service unreachable")
	ErrTimeout     = errors.New("analysis request timed out")
	ErrRejected    = errors.New("analysis service rejected the document")
)

// Request is one document submitted for analysis.
type Request struct {
	FileName    string
	ContentType string
	Content     []byte
	// Metadata travels alongside the document (submission ids, partner
	// hints); the service echoes what it understands.
	Metadata map[string]string
}

// Report is the structured result for one document.
type Report struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Result json.RawMessage `json:"result"`
}

// Client is the interface the job processor depends on.
type Client interface {
	Analyze(ctx context.Context, req Request) (*Report, error)
	Ready(ctx context.Context) error
}

// HTTPClient implements Client against the service's HTTP API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPClient creates a new analysis HTTP client.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// Analyze uploads the document and blocks until the service returns its
// report. Long-poll semantics are the service's; the per-call timeout is
// the only one applied here.
func (c *HTTPClient) Analyze(ctx context.Context, req Request) (*Report, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	for k, v := range req.Metadata {
		if err := w.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("building request: %w", err)
		}
	}
	part, err := w.CreateFormFile("document", req.FileName)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if _, err := part.Write(req.Content); err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/analyze", &body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", w.FormDataContentType())
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, msg)
	}

	var report Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("decoding analysis response: %w", err)
	}
	return &report, nil
}

// Ready checks the service health endpoint.
func (c *HTTPClient) Ready(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/ready", nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrUnreachable, resp.StatusCode)
	}
	return nil
}

func classifyError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}
