package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/wandertune/api/internal/config"
	"github.com/wandertune/api/internal/model"
)

// MusicSynthesizer is the interface the orchestrator and poller depend on.
type MusicSynthesizer interface {
	Submit(ctx context.Context, req *SubmitRequest) (*SubmitResult, error)
	FetchStatus(ctx context.Context, jobID string) (*JobStatus, error)
}

// SunoClient implements MusicSynthesizer against a Suno-compatible API.
type SunoClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// SubmitRequest carries the inputs for a synthesis job.
type SubmitRequest struct {
	Lyrics      string
	Style       string
	Title       string
	CallbackURL string
}

// SubmitResult is the outcome of a submission. Mock is set when no
// credential is configured and no external job exists.
type SubmitResult struct {
	JobID string
	Mock  bool
	Raw   json.RawMessage
}

// JobStatus is the normalized state of an external synthesis job.
type JobStatus struct {
	State           model.ProviderState
	ResultURLs      []string
	Title           string
	DurationSeconds *int
	ErrorCode       int
	ErrorMessage    string
	Raw             json.RawMessage
}

// APIError is a non-success response from the provider, as opposed to a
// transport failure. Auth-class API errors end polling immediately.
type APIError struct {
	StatusCode int // HTTP status
	Code       int // provider envelope code
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("suno API error (code %d): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("suno API error (status %d): %s", e.StatusCode, e.Message)
}

// IsAuthError reports whether err is an authentication-class provider error
// (HTTP 401/403 or envelope code 401/403/404).
func IsAuthError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	switch apiErr.Code {
	case 401, 403, 404:
		return true
	}
	return false
}

// envelope is the provider's common response wrapper.
type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type submitData struct {
	TaskID string `json:"taskId"`
}

type recordInfoData struct {
	TaskID       string `json:"taskId"`
	Status       string `json:"status"`
	ErrorCode    int    `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
	Response     struct {
		SunoData []struct {
			SourceAudioURL string      `json:"sourceAudioUrl"`
			Title          string      `json:"title"`
			Duration       json.Number `json:"duration"`
		} `json:"sunoData"`
	} `json:"response"`
}

// NewSunoClient creates a new synthesis API client.
func NewSunoClient(cfg *config.SunoConfig) *SunoClient {
	return &SunoClient{
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
	}
}

// Submit starts a synthesis job. Without a configured credential it returns
// a deterministic mock result so the pipeline can complete offline.
func (c *SunoClient) Submit(ctx context.Context, req *SubmitRequest) (*SubmitResult, error) {
	if !c.IsConfigured() {
		log.Printf("[Suno API] no credential configured, returning mock result")
		return &SubmitResult{Mock: true}, nil
	}

	payload := map[string]interface{}{
		"prompt":       req.Lyrics,
		"customMode":   true,
		"instrumental": false,
		"model":        c.model,
		"style":        req.Style,
		"title":        req.Title,
		"callBackUrl":  req.CallbackURL,
	}

	env, raw, err := c.post(ctx, "/api/v1/generate", payload)
	if err != nil {
		return nil, err
	}

	var data submitData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal submit data: %w", err)
	}
	if data.TaskID == "" {
		return nil, fmt.Errorf("no task id in submit response: %s", string(raw))
	}

	return &SubmitResult{JobID: data.TaskID, Raw: raw}, nil
}

// FetchStatus queries one snapshot of an external job.
func (c *SunoClient) FetchStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	endpoint := "/api/v1/generate/record-info?taskId=" + url.QueryEscape(jobID)
	env, _, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var data recordInfoData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record info: %w", err)
	}

	status := &JobStatus{
		State:        model.ParseProviderState(data.Status),
		ErrorCode:    data.ErrorCode,
		ErrorMessage: data.ErrorMessage,
		Raw:          env.Data,
	}

	for i, clip := range data.Response.SunoData {
		if clip.SourceAudioURL != "" {
			status.ResultURLs = append(status.ResultURLs, clip.SourceAudioURL)
		}
		if i == 0 {
			status.Title = clip.Title
			if secs, ok := coerceSeconds(clip.Duration); ok {
				status.DurationSeconds = &secs
			}
		}
	}

	return status, nil
}

// coerceSeconds converts a possibly-fractional duration to whole seconds.
func coerceSeconds(n json.Number) (int, bool) {
	if n == "" {
		return 0, false
	}
	f, err := n.Float64()
	if err != nil {
		return 0, false
	}
	return int(math.Round(f)), true
}

func (c *SunoClient) post(ctx context.Context, endpoint string, body interface{}) (*envelope, []byte, error) {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}

	return c.doRequest(req)
}

func (c *SunoClient) get(ctx context.Context, endpoint string) (*envelope, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}

	return c.doRequest(req)
}

// doRequest executes an HTTP request and decodes the provider envelope.
// A non-2xx status or a non-200 envelope code becomes an *APIError;
// unreadable or malformed bodies are plain errors (soft for the poller).
func (c *SunoClient) doRequest(req *http.Request) (*envelope, []byte, error) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	log.Printf("[Suno API] → %s %s", req.Method, req.URL.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("[Suno API] ✗ %s %s — request failed: %v", req.Method, req.URL.String(), err)
		return nil, nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Printf("[Suno API] ✗ %s %s — failed to read response: %v", req.Method, req.URL.String(), err)
		return nil, nil, fmt.Errorf("failed to read response: %w", err)
	}

	log.Printf("[Suno API] ← %d %s %s", resp.StatusCode, req.Method, req.URL.String())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, nil, &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if len(respBody) == 0 {
		return nil, nil, fmt.Errorf("empty response body")
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		log.Printf("[Suno API] ✗ unmarshal error for %s %s: %v", req.Method, req.URL.String(), err)
		return nil, nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if env.Code != 200 {
		return nil, nil, &APIError{StatusCode: resp.StatusCode, Code: env.Code, Message: env.Msg}
	}

	return &env, respBody, nil
}

// IsConfigured returns true if the client has valid configuration.
func (c *SunoClient) IsConfigured() bool {
	return c.apiKey != ""
}
