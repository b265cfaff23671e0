package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ppiankov/kycscan/internal/util"
)

// maxResponseBytes caps how much of a provider answer is read
const maxResponseBytes = 4 << 20

// APIError is a non-200 answer from a provider's HTTP API
type APIError struct {
	Provider string
	Status   int
	Type     string // Provider error class, when reported
	Message  string
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("%s API error (%d): %s: %s", e.Provider, e.Status, e.Type, e.Message)
	}
	return fmt.Sprintf("%s API error (%d): %s", e.Provider, e.Status, e.Message)
}

// errorDecoder pulls the error class and message out of a failure body.
// It returns an empty message when the body is not in the provider's shape.
type errorDecoder func(body []byte) (typ, msg string)

// newHTTPClient builds a client honoring the configured timeout and proxy
func newHTTPClient(cfg Config, fallback time.Duration) *http.Client {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout == 0 {
		timeout = fallback
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy: util.NewProxyFunc(cfg.HTTPProxy, cfg.HTTPSProxy, cfg.NoProxy),
		},
	}
}

// postJSON sends in as a JSON body and decodes a 200 answer into out
func postJSON(ctx context.Context, client *http.Client, provider, url string, header http.Header, in, out any, decodeErr errorDecoder) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{Provider: provider, Status: resp.StatusCode}
		if decodeErr != nil {
			apiErr.Type, apiErr.Message = decodeErr(respBody)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(respBody)
		}
		return apiErr
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
