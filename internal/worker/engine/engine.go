// Package engine wraps the external generation engine. The call is opaque
// to the scheduler: it takes the job payload, runs for anywhere from seconds
// to many minutes, and either returns a finished artifact or fails.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Result is the finished artifact returned by the engine
type Result struct {
	Data     []byte
	MimeType string
}

// Engine produces a generation result from a job payload. Implementations
// may block for minutes; callers bound the call with the context.
type Engine interface {
	Run(ctx context.Context, payload string) (*Result, error)
}

// Options configures the HTTP engine client
type Options struct {
	BaseURL        string
	RequestTimeout time.Duration
	HTTPClient     *http.Client
	Logger         *slog.Logger
}

// Client performs HTTP calls to the generation engine service
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates an engine client
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout == 0 {
			timeout = time.Hour
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:    opts.BaseURL,
		httpClient: httpClient,
		logger:     opts.Logger,
	}
}

type generateResponse struct {
	MimeType string `json:"mime_type"`
	Data     []byte `json:"data"`
	Error    string `json:"error,omitempty"`
}

// Run submits the payload to the engine and waits for the finished artifact
func (c *Client) Run(ctx context.Context, payload string) (*Result, error) {
	url := c.baseURL + "/v1/generate"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBufferString(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build engine request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("engine request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read engine response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("engine returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var decoded generateResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode engine response: %w", err)
	}

	if decoded.Error != "" {
		return nil, fmt.Errorf("engine error: %s", decoded.Error)
	}

	if len(decoded.Data) == 0 {
		return nil, fmt.Errorf("engine returned empty result")
	}

	c.logger.Info("Engine run finished",
		slog.Duration("elapsed", time.Since(start)),
		slog.Int("result_bytes", len(decoded.Data)),
		slog.String("mime_type", decoded.MimeType),
	)

	return &Result{
		Data:     decoded.Data,
		MimeType: decoded.MimeType,
	}, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
