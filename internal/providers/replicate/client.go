// Package replicate implements the image generation provider client
// against the Replicate predictions API.
package replicate

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

// ErrMissingAPIToken indicates that the client was configured without credentials.
var ErrMissingAPIToken = errors.New("replicate: api token is required")

const defaultBaseURL = "https://api.replicate.com/v1"

// Options configures the Replicate client.
type Options struct {
	APIToken    string
	BaseURL     string
	Model       string
	AspectRatio string
	HTTPClient  *http.Client
	Logger      *infra.Logger
}

// Client performs HTTP calls to the Replicate predictions API.
type Client struct {
	apiToken    string
	baseURL     string
	model       string
	aspectRatio string
	httpClient  *http.Client
	logger      *infra.Logger
}

type predictionInput struct {
	Prompt            string `json:"prompt"`
	NumOutputs        int    `json:"num_outputs"`
	NumInferenceSteps int    `json:"num_inference_steps"`
	GuidanceScale     float64 `json:"guidance_scale"`
	Scheduler         string `json:"scheduler"`
	AspectRatio       string `json:"aspect_ratio,omitempty"`
}

type predictionRequest struct {
	Input predictionInput `json:"input"`
}

type predictionResponse struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  string          `json:"error"`
	Detail string          `json:"detail"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIToken) == "" {
		return nil, ErrMissingAPIToken
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
		model = "black-forest-labs/flux-schnell"
	}
	return &Client{
		apiToken:    opts.APIToken,
		baseURL:     baseURL,
		model:       model,
		aspectRatio: opts.AspectRatio,
		httpClient:  httpClient,
		logger:      opts.Logger,
	}, nil
}

// Name identifies this provider in job records.
func (c *Client) Name() string { return "replicate" }

// Submit creates a prediction for the configured model and returns its id.
func (c *Client) Submit(ctx context.Context, prompt string) (string, error) {
	payload := predictionRequest{Input: predictionInput{
		Prompt:            prompt,
		NumOutputs:        1,
		NumInferenceSteps: 50,
		GuidanceScale:     7.5,
		Scheduler:         "DPMSolverMultistep",
		AspectRatio:       c.aspectRatio,
	}}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("replicate: encode prediction request: %w", err)
	}
	endpoint := fmt.Sprintf("%s/models/%s/predictions", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("replicate: build prediction request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: replicate submit: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var decoded predictionResponse
		_ = json.NewDecoder(resp.Body).Decode(&decoded)
		reason := decoded.Detail
		if reason == "" {
			reason = http.StatusText(resp.StatusCode)
		}
		return "", fmt.Errorf("%w: replicate submit status %d: %s", domain.ErrProviderRejected, resp.StatusCode, reason)
	}

	var decoded predictionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("%w: replicate submit: decode response: %v", domain.ErrProviderRejected, err)
	}
	if decoded.ID == "" {
		return "", fmt.Errorf("%w: replicate submit: no prediction id in response", domain.ErrProviderRejected)
	}
	if c.logger != nil {
		c.logger.Debug().Str("prediction_id", decoded.ID).Str("model", c.model).Msg("replicate: created prediction")
	}
	return decoded.ID, nil
}

// PollStatus retrieves the prediction's progress and normalizes it. The
// result handle is the first output URL.
func (c *Client) PollStatus(ctx context.Context, taskID string) (providers.TaskStatus, error) {
	endpoint := fmt.Sprintf("%s/predictions/%s", c.baseURL, url.PathEscape(taskID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return providers.TaskStatus{}, fmt.Errorf("replicate: build status request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return providers.TaskStatus{}, fmt.Errorf("%w: replicate status: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return providers.TaskStatus{}, fmt.Errorf("%w: replicate status %d", domain.ErrProviderUnavailable, resp.StatusCode)
	}

	var decoded predictionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return providers.TaskStatus{}, fmt.Errorf("%w: replicate: %v", providers.ErrMalformedStatus, err)
	}

	switch strings.ToLower(strings.TrimSpace(decoded.Status)) {
	case "":
		return providers.TaskStatus{}, fmt.Errorf("%w: replicate: status field absent", providers.ErrMalformedStatus)
	case "succeeded":
		handle := firstOutputURL(decoded.Output)
		if handle == "" {
			return providers.TaskStatus{}, fmt.Errorf("%w: replicate: succeeded without output", providers.ErrMalformedStatus)
		}
		return providers.TaskStatus{State: providers.StateDone, ResultHandle: handle}, nil
	case "failed", "canceled":
		reason := decoded.Error
		if reason == "" {
			reason = "prediction " + strings.ToLower(decoded.Status)
		}
		return providers.TaskStatus{State: providers.StateError, Reason: reason}, nil
	default:
		// starting, processing, queued.
		return providers.TaskStatus{State: providers.StatePending}, nil
	}
}

// FetchResult streams the prediction output. The handle is already a
// download URL, so no resolution round-trip is needed.
func (c *Client) FetchResult(ctx context.Context, handle string) (io.ReadCloser, string, error) {
	parsed, err := url.Parse(strings.TrimSpace(handle))
	if err != nil || parsed.Scheme == "" {
		return nil, "", fmt.Errorf("%w: replicate: invalid output url: %s", domain.ErrResultUnavailable, handle)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: replicate: build download request: %v", domain.ErrResultUnavailable, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: replicate download: %v", domain.ErrResultUnavailable, err)
	}
	if resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, "", fmt.Errorf("%w: replicate download status %d", domain.ErrResultUnavailable, resp.StatusCode)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/png"
	}
	return resp.Body, contentType, nil
}

// firstOutputURL extracts the first URL from a prediction output, which may
// be either a JSON array of strings or a single string.
func firstOutputURL(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		for _, u := range many {
			if strings.TrimSpace(u) != "" {
				return strings.TrimSpace(u)
			}
		}
		return ""
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		return strings.TrimSpace(one)
	}
	return ""
}

var _ providers.Client = (*Client)(nil)
