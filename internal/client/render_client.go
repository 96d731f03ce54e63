package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/onera/studio/internal/logging"
	"github.com/onera/studio/internal/model"
)

// DefaultPollInterval is the delay between job status requests.
const DefaultPollInterval = 2 * time.Second

var (
	ErrJobNotFound = errors.New("render job not found")
	ErrJobFailed   = errors.New("render job failed")
)

// RenderJobs defines the remote render operations
type RenderJobs interface {
	Submit(ctx context.Context, req *model.RenderRequest) (*model.RenderResponse, error)
	Status(ctx context.Context, jobID string) (*model.JobStatusResponse, error)
	Wait(ctx context.Context, jobID string, onUpdate func(*model.JobStatusResponse)) (*model.JobStatusResponse, error)
}

// RenderClient submits timelines to the render API and follows the resulting jobs
type RenderClient struct {
	httpClient   *http.Client
	baseURL      string
	token        string
	pollInterval time.Duration
	logger       *slog.Logger
}

// RenderClientOption configures a RenderClient
type RenderClientOption func(*RenderClient)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) RenderClientOption {
	return func(c *RenderClient) { c.httpClient = hc }
}

// WithToken sends a bearer token with every request
func WithToken(token string) RenderClientOption {
	return func(c *RenderClient) { c.token = token }
}

// WithPollInterval overrides DefaultPollInterval
func WithPollInterval(d time.Duration) RenderClientOption {
	return func(c *RenderClient) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithLogger sets the logger used for transient poll failures
func WithLogger(logger *slog.Logger) RenderClientOption {
	return func(c *RenderClient) { c.logger = logger }
}

// NewRenderClient creates a client for the render API at baseURL
func NewRenderClient(baseURL string, opts ...RenderClientOption) *RenderClient {
	c := &RenderClient{
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		baseURL:      strings.TrimRight(baseURL, "/"),
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.NewComponentLogger(c.logger, "render-client")
	return c
}

// Submit queues a render of the given layers and returns the job id
func (c *RenderClient) Submit(ctx context.Context, req *model.RenderRequest) (*model.RenderResponse, error) {
	if req.Layers == nil {
		req.Layers = []model.Layer{}
	}
	var result model.RenderResponse
	if err := c.do(ctx, http.MethodPost, "/api/render", req, &result); err != nil {
		return nil, err
	}
	if result.JobID == "" {
		return nil, fmt.Errorf("render service returned no job id")
	}
	return &result, nil
}

// Status fetches the current state of a job
func (c *RenderClient) Status(ctx context.Context, jobID string) (*model.JobStatusResponse, error) {
	var result model.JobStatusResponse
	err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(jobID), nil, &result)
	var se *statusError
	if errors.As(err, &se) && se.code == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Wait polls a job until it completes or fails. Transient errors are logged and
// polling continues on the same interval. An unknown job id ends the wait with
// ErrJobNotFound. A failed job returns its last status together with ErrJobFailed.
func (c *RenderClient) Wait(ctx context.Context, jobID string, onUpdate func(*model.JobStatusResponse)) (*model.JobStatusResponse, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	logger := c.logger.With(slog.String(logging.FieldJobID, jobID))
	for {
		status, err := c.Status(ctx, jobID)
		switch {
		case errors.Is(err, ErrJobNotFound):
			return nil, err
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			logger.Warn("job status poll failed", logging.Error(err))
		default:
			if onUpdate != nil {
				onUpdate(status)
			}
			switch status.Status {
			case model.JobStatusCompleted:
				return status, nil
			case model.JobStatusFailed:
				return status, fmt.Errorf("%w: %s", ErrJobFailed, status.Error)
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// do sends a JSON request and decodes a JSON response
func (c *RenderClient) do(ctx context.Context, method, endpoint string, body interface{}, result interface{}) error {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &statusError{code: resp.StatusCode, message: errorMessage(respBody)}
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

type statusError struct {
	code    int
	message string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("render service error (status %d): %s", e.code, e.message)
}

// errorMessage extracts the message of an error envelope, falling back to the raw body
func errorMessage(body []byte) string {
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Code + ": " + envelope.Error.Message
	}
	return strings.TrimSpace(string(body))
}
