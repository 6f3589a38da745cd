/*
Package verify calls the external document verification service.

PURPOSE:
  Lab reports and production reports are checked by an external analysis
  service before a certification session may debit tokens. The client
  uploads the raw report bytes and reduces the service's per-check results
  to a single pass/fail answer.

WIRE FORMAT:
  POST {base}/v1/verify  (multipart/form-data: kind, file)
  -> 200 {"results": [{"check": "...", "status": "passed|failed|error"}]}

  Any result with status != "passed" fails the document. An empty result
  list also fails: an unchecked document is not a verified document.

FAILURE MODES:
  Transport errors, non-200 responses and timeouts surface as
  engine.DocumentVerificationError with status "error" so the committer
  treats them exactly like a failed check (abort before any debit).

SEE ALSO:
  - engine/committer.go: DocumentVerifier consumer
*/
package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/hivemark/certification-engine/engine"
)

const defaultTimeout = 15 * time.Second

// Client implements engine.DocumentVerifier against an HTTP service.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithHTTPClient substitutes the underlying HTTP client (tests).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type checkResult struct {
	Check  string `json:"check"`
	Status string `json:"status"`
}

type verifyResponse struct {
	Results []checkResult `json:"results"`
}

// Verify uploads one report and returns nil only if every check passed.
func (c *Client) Verify(ctx context.Context, kind engine.ReportKind, filename string, data []byte) error {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := w.WriteField("kind", string(kind)); err != nil {
		return verificationError(kind, "error", err)
	}
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return verificationError(kind, "error", err)
	}
	if _, err := part.Write(data); err != nil {
		return verificationError(kind, "error", err)
	}
	if err := w.Close(); err != nil {
		return verificationError(kind, "error", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/verify", &body)
	if err != nil {
		return verificationError(kind, "error", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return verificationError(kind, "error", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return verificationError(kind, "error",
			fmt.Errorf("verification service returned %d", resp.StatusCode))
	}

	var parsed verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return verificationError(kind, "error", err)
	}
	if len(parsed.Results) == 0 {
		return verificationError(kind, "failed", fmt.Errorf("no checks were run"))
	}
	for _, r := range parsed.Results {
		if r.Status != "passed" {
			return verificationError(kind, r.Status,
				fmt.Errorf("check %q did not pass", r.Check))
		}
	}
	return nil
}

func verificationError(kind engine.ReportKind, status string, cause error) error {
	return &engine.DocumentVerificationError{
		Report: string(kind),
		Status: status,
		Err:    cause,
	}
}
