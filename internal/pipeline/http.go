package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/kiranshivaraju/renderq/pkg/models"
)

// HTTPClient implements Pipeline against a renderer service.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a renderer client. timeout caps each call at the
// transport; callers usually carry a tighter deadline on ctx.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Name() string { return "http" }

func (c *HTTPClient) GenerateClips(ctx context.Context, req ClipRequest) error {
	return c.post(ctx, "/v1/clips", req, nil)
}

func (c *HTTPClient) MaterializeArtifacts(ctx context.Context, req MaterializeRequest) (models.Artifacts, error) {
	var out models.Artifacts
	if err := c.post(ctx, "/v1/artifacts", req, &out); err != nil {
		return models.Artifacts{}, err
	}
	if out.PrimaryLocator == "" {
		return models.Artifacts{}, fmt.Errorf("%w: response has no primary_artifact_locator", ErrRendererRejected)
	}
	return out, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrRendererUnavailable, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("%w: status %d: %s", ErrRendererRejected, resp.StatusCode, readMessage(resp.Body))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding renderer response: %w", err)
	}
	return nil
}

// readMessage pulls a short reason out of an error body.
func readMessage(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 4096))
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &body) == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return strings.TrimSpace(string(raw))
}

// classifyError maps transport-level errors to sentinel errors. Context
// errors are kept as-is so the caller can tell its own deadline apart.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: timeout: %v", ErrRendererUnavailable, err)
	}
	return fmt.Errorf("%w: %v", ErrRendererUnavailable, err)
}

var _ Pipeline = (*HTTPClient)(nil)
