// Package analyzer provides clients for the independent analysis backends.
// Each backend is opaque: it receives text or image content plus a domain
// prompt and returns a summary/insights/confidence triple.
package analyzer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"docsense/internal/config"
	"docsense/internal/model"
	"docsense/internal/profile"
)

// AnalyzeRequest carries the inputs for one analysis call.
type AnalyzeRequest struct {
	Text        string
	Image       []byte
	Prompt      string
	EntityTypes []string
}

// CheckRequest carries the inputs for one verification call. The backend is
// instructed to check the extraction against the source, not re-extract.
type CheckRequest struct {
	Extraction string
	SourceText string
	Prompt     string
}

// CheckResponse is the backend's per-field verification verdict.
type CheckResponse struct {
	VerifiedExtraction string              `json:"verified_extraction"`
	Discrepancies      []model.Discrepancy `json:"discrepancies"`
}

// Analyzer is one independent analysis backend.
type Analyzer interface {
	ID() string
	Analyze(ctx context.Context, req AnalyzeRequest) (*model.AnalyzerOutput, error)
	ExtractEntities(ctx context.Context, text string, spec profile.Spec) ([]model.Entity, error)
	Check(ctx context.Context, req CheckRequest) (*CheckResponse, error)
}

// Client is the HTTP implementation of Analyzer
type Client struct {
	id         string
	httpClient *http.Client
	apiKey     string
	baseURL    string
}

// NewClient creates an analyzer client from its backend configuration
func NewClient(cfg config.AnalyzerConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	log.Info().
		Str("analyzer", cfg.ID).
		Str("base_url", cfg.BaseURL).
		Dur("timeout", timeout).
		Msg("Initializing analyzer client")

	return &Client{
		id:         cfg.ID,
		httpClient: &http.Client{Timeout: timeout},
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
	}
}

// ID returns the analyzer's identity used for weighting and logging.
func (c *Client) ID() string {
	return c.id
}

// Analyze submits content for analysis.
func (c *Client) Analyze(ctx context.Context, req AnalyzeRequest) (*model.AnalyzerOutput, error) {
	body := map[string]any{
		"prompt":       req.Prompt,
		"entity_types": req.EntityTypes,
	}
	if len(req.Image) > 0 {
		body["image"] = base64.StdEncoding.EncodeToString(req.Image)
	} else {
		body["text"] = req.Text
	}

	var output model.AnalyzerOutput
	if err := c.post(ctx, "/v1/analyze", body, &output); err != nil {
		return nil, err
	}
	output.AnalyzerID = c.id

	return &output, nil
}

// ExtractEntities asks the backend for typed entities only.
func (c *Client) ExtractEntities(ctx context.Context, text string, spec profile.Spec) ([]model.Entity, error) {
	body := map[string]any{
		"text":         text,
		"entity_types": spec.EntityTypes,
	}

	var response struct {
		Entities []model.Entity `json:"entities"`
	}
	if err := c.post(ctx, "/v1/entities", body, &response); err != nil {
		return nil, err
	}

	return response.Entities, nil
}

// Check submits a consensus extraction for independent verification.
func (c *Client) Check(ctx context.Context, req CheckRequest) (*CheckResponse, error) {
	body := map[string]any{
		"prompt":      req.Prompt,
		"extraction":  req.Extraction,
		"source_text": req.SourceText,
	}

	var response CheckResponse
	if err := c.post(ctx, "/v1/check", body, &response); err != nil {
		return nil, err
	}

	return &response, nil
}

// post sends a JSON request and decodes the JSON response.
func (c *Client) post(ctx context.Context, endpoint string, body any, out any) error {
	startTime := time.Now()
	url := fmt.Sprintf("%s%s", c.baseURL, endpoint)

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Warn().
			Err(err).
			Str("analyzer", c.id).
			Str("endpoint", endpoint).
			Dur("duration", time.Since(startTime)).
			Msg("Analyzer request failed")
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Warn().
			Str("analyzer", c.id).
			Str("endpoint", endpoint).
			Int("status", resp.StatusCode).
			Dur("duration", time.Since(startTime)).
			Msg("Analyzer returned non-success status")
		return fmt.Errorf("analyzer %s returned status %d", c.id, resp.StatusCode)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode analyzer response: %w", err)
	}

	log.Debug().
		Str("analyzer", c.id).
		Str("endpoint", endpoint).
		Int("size", len(raw)).
		Dur("duration", time.Since(startTime)).
		Msg("Analyzer request completed")

	return nil
}
