// Package minimax implements the video generation provider client against
// the Minimax task API.
package minimax

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mediaforge/internal/domain"
	"mediaforge/internal/infra"
	"mediaforge/internal/providers"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("minimax: api key is required")

const defaultBaseURL = "https://api.minimax.chat/v1"

// Options configures the Minimax client.
type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client performs HTTP calls to the Minimax video generation API.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *infra.Logger
}

type submitRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type submitResponse struct {
	TaskID   string   `json:"task_id"`
	BaseResp baseResp `json:"base_resp"`
}

// statusResponse carries the task progress payload. The upstream API has
// shipped two conventions over time: a nested base_resp.status_msg and a
// top-level status field. This client reads only the top-level status,
// case-insensitively; base_resp is consulted for error text alone.
type statusResponse struct {
	Status   string   `json:"status"`
	FileID   string   `json:"file_id"`
	BaseResp baseResp `json:"base_resp"`
}

type retrieveResponse struct {
	File struct {
		DownloadURL string `json:"download_url"`
	} `json:"file"`
	BaseResp baseResp `json:"base_resp"`
}

type baseResp struct {
	StatusCode int    `json:"status_code"`
	StatusMsg  string `json:"status_msg"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "video-01"
	}
	return &Client{
		apiKey:     opts.APIKey,
		baseURL:    baseURL,
		model:      model,
		httpClient: httpClient,
		logger:     opts.Logger,
	}, nil
}

// Name identifies this provider in job records.
func (c *Client) Name() string { return "minimax" }

// Submit starts a video generation task and returns its task id.
func (c *Client) Submit(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(submitRequest{Model: c.model, Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("minimax: encode submit request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/video_generation", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("minimax: build submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: minimax submit: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var decoded submitResponse
		_ = json.NewDecoder(resp.Body).Decode(&decoded)
		reason := decoded.BaseResp.StatusMsg
		if reason == "" {
			reason = http.StatusText(resp.StatusCode)
		}
		return "", fmt.Errorf("%w: minimax submit status %d: %s", domain.ErrProviderRejected, resp.StatusCode, reason)
	}

	var decoded submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("%w: minimax submit: decode response: %v", domain.ErrProviderRejected, err)
	}
	if decoded.TaskID == "" {
		reason := decoded.BaseResp.StatusMsg
		if reason == "" {
			reason = "no task id in response"
		}
		return "", fmt.Errorf("%w: minimax submit: %s", domain.ErrProviderRejected, reason)
	}
	if c.logger != nil {
		c.logger.Debug().Str("task_id", decoded.TaskID).Str("model", c.model).Msg("minimax: submitted video task")
	}
	return decoded.TaskID, nil
}

// PollStatus retrieves the task's progress and normalizes it.
func (c *Client) PollStatus(ctx context.Context, taskID string) (providers.TaskStatus, error) {
	endpoint := fmt.Sprintf("%s/query/video_generation?task_id=%s", c.baseURL, url.QueryEscape(taskID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return providers.TaskStatus{}, fmt.Errorf("minimax: build status request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return providers.TaskStatus{}, fmt.Errorf("%w: minimax status: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return providers.TaskStatus{}, fmt.Errorf("%w: minimax status %d", domain.ErrProviderUnavailable, resp.StatusCode)
	}

	var decoded statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return providers.TaskStatus{}, fmt.Errorf("%w: minimax: %v", providers.ErrMalformedStatus, err)
	}

	switch strings.ToLower(strings.TrimSpace(decoded.Status)) {
	case "":
		return providers.TaskStatus{}, fmt.Errorf("%w: minimax: status field absent", providers.ErrMalformedStatus)
	case "success":
		if decoded.FileID == "" {
			return providers.TaskStatus{}, fmt.Errorf("%w: minimax: success without file_id", providers.ErrMalformedStatus)
		}
		return providers.TaskStatus{State: providers.StateDone, ResultHandle: decoded.FileID}, nil
	case "fail", "failed":
		reason := decoded.BaseResp.StatusMsg
		if reason == "" {
			reason = "video generation failed"
		}
		return providers.TaskStatus{State: providers.StateError, Reason: reason}, nil
	default:
		// Queueing, preparing, processing and any future in-flight state.
		return providers.TaskStatus{State: providers.StatePending}, nil
	}
}

// FetchResult resolves the file handle to its download URL and opens a
// stream over the video bytes.
func (c *Client) FetchResult(ctx context.Context, handle string) (io.ReadCloser, string, error) {
	downloadURL, err := c.resolveDownloadURL(ctx, handle)
	if err != nil {
		return nil, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: minimax: build download request: %v", domain.ErrResultUnavailable, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: minimax download: %v", domain.ErrResultUnavailable, err)
	}
	if resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, "", fmt.Errorf("%w: minimax download status %d", domain.ErrResultUnavailable, resp.StatusCode)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "video/mp4"
	}
	return resp.Body, contentType, nil
}

func (c *Client) resolveDownloadURL(ctx context.Context, fileID string) (string, error) {
	endpoint := fmt.Sprintf("%s/files/retrieve?file_id=%s", c.baseURL, url.QueryEscape(fileID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("%w: minimax: build retrieve request: %v", domain.ErrResultUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: minimax retrieve: %v", domain.ErrResultUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: minimax retrieve status %d", domain.ErrResultUnavailable, resp.StatusCode)
	}
	var decoded retrieveResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("%w: minimax retrieve: decode response: %v", domain.ErrResultUnavailable, err)
	}
	downloadURL := strings.TrimSpace(decoded.File.DownloadURL)
	if downloadURL == "" {
		return "", fmt.Errorf("%w: minimax retrieve: no download url for file %s", domain.ErrResultUnavailable, fileID)
	}
	return downloadURL, nil
}

var _ providers.Client = (*Client)(nil)
