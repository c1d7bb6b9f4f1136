// Package generation calls the remote generative-image backend.
package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"archgen/internal/domain"
	"archgen/internal/infra"
)

// ErrMissingAPIKey is returned when no key was configured for the backend.
var ErrMissingAPIKey = errors.New("generation: API key is missing")

// Options controls how the client is configured. The API key is resolved by
// the caller; the client never reads the environment.
type Options struct {
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
	Logger     infra.Logger
}

// Client implements domain.Generator over a JSON HTTP API.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     infra.Logger
}

func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("generation: base url is required")
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	model := opts.Model
	if model == "" {
		model = "imagen-3"
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(opts.APIKey),
		model:      model,
		httpClient: client,
		logger:     opts.Logger,
	}, nil
}

// Model returns the default model identifier.
func (c *Client) Model() string {
	return c.model
}

type generateRequest struct {
	Model       string   `json:"model"`
	Tool        string   `json:"tool,omitempty"`
	Prompt      string   `json:"prompt"`
	Images      []string `json:"images,omitempty"`
	AspectRatio string   `json:"aspect_ratio,omitempty"`
	Count       int      `json:"count"`
	RequestID   string   `json:"request_id,omitempty"`
}

type generateResponse struct {
	ImageURLs []string `json:"image_urls"`
	MediaIDs  []string `json:"media_ids"`
	ProjectID string   `json:"project_id"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Generate issues one generation call. Backend rejections are returned with
// their raw message so the caller can classify them.
func (c *Client) Generate(ctx context.Context, req domain.GenerateRequest) (*domain.GenerateResult, error) {
	if c == nil {
		return nil, errors.New("generation client not configured")
	}
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	count := req.Count
	if count <= 0 {
		count = 1
	}
	model := req.Model
	if model == "" {
		model = c.model
	}
	body, err := json.Marshal(generateRequest{
		Model:       model,
		Tool:        string(req.ToolID),
		Prompt:      req.Prompt,
		Images:      req.Images,
		AspectRatio: req.AspectRatio,
		Count:       count,
		RequestID:   req.JobID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	if req.OnProgress != nil {
		req.OnProgress(0)
	}
	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("invoke generator: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, decodeError(resp)
	}
	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode generator response: %w", err)
	}
	urls := out.ImageURLs[:0]
	for _, u := range out.ImageURLs {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 {
		return nil, errors.New("generator returned no results")
	}
	if req.OnProgress != nil {
		req.OnProgress(100)
	}

	c.logger.Debug().
		Str("job_id", req.JobID).
		Str("tool_id", string(req.ToolID)).
		Str("model", model).
		Int("results", len(urls)).
		Dur("elapsed", time.Since(start)).
		Msg("generation completed")

	return &domain.GenerateResult{ImageURLs: urls, MediaIDs: out.MediaIDs, ProjectID: out.ProjectID}, nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var apiErr errorResponse
	if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Error.Message != "" {
		if apiErr.Error.Code != "" {
			return fmt.Errorf("generator status %d: %s: %s", resp.StatusCode, apiErr.Error.Code, apiErr.Error.Message)
		}
		return fmt.Errorf("generator status %d: %s", resp.StatusCode, apiErr.Error.Message)
	}
	if msg := strings.TrimSpace(string(data)); msg != "" {
		return fmt.Errorf("generator status %d: %s", resp.StatusCode, msg)
	}
	return fmt.Errorf("generator status %d", resp.StatusCode)
}

var _ domain.Generator = (*Client)(nil)
