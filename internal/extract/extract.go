// Package extract defines the document-understanding service that turns raw
// document bytes into text and metadata, plus an HTTP adapter for a hosted
// analysis endpoint.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Analyzer extracts full text and string metadata fields from raw bytes.
type Analyzer interface {
	Analyze(ctx context.Context, data []byte) (text string, metadata map[string]string, err error)
}

// HTTPAnalyzer calls a document-analysis service that accepts raw bytes and
// returns {"text": ..., "metadata": {...}} as JSON.
type HTTPAnalyzer struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewHTTPAnalyzer(endpoint, apiKey string, timeout time.Duration) *HTTPAnalyzer {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPAnalyzer{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

type analyzeResponse struct {
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata"`
}

func (a *HTTPAnalyzer) Analyze(ctx context.Context, data []byte) (string, map[string]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(data))
	if err != nil {
		return "", nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if a.apiKey != "" {
		req.Header.Set("Ocp-Apim-Subscription-Key", a.apiKey)
	}

	res, err := a.client.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("analyze request: %w", err)
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(res.Body, 32<<20))
	if res.StatusCode >= 400 {
		return "", nil, fmt.Errorf("analyze status code: %d body=%s", res.StatusCode, truncate(string(body), 200))
	}

	var parsed analyzeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", nil, fmt.Errorf("analyze decode: %w", err)
	}
	if parsed.Metadata == nil {
		parsed.Metadata = map[string]string{}
	}
	return parsed.Text, parsed.Metadata, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var _ Analyzer = (*HTTPAnalyzer)(nil)
