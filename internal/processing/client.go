package processing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	processPath        = "/api/process"
	reconstructPath    = "/api/reconstruct"
	compositesPath     = "/api/reconstruct_from_composites"
	cleanupPathPrefix  = "/api/cleanup/"
	maxErrorBodyLength = 4096
)

// Client talks to the fortune teller processing service
type Client struct {
	BaseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// Upload is one named file part of a multipart request
type Upload struct {
	Filename string
	Data     []byte
}

// ProcessResult is the service's answer to a single-image submission
type ProcessResult struct {
	SessionID string            `json:"session_id"`
	Segments  map[string]string `json:"segments"`
}

// ReconstructResult is the service's answer to a reconstruction request
type ReconstructResult struct {
	SessionID string `json:"session_id"`
	Image     string `json:"image"`
}

// RemoteError is returned when the service answers with a non-success status
type RemoteError struct {
	StatusCode int
	Message    string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("processing service returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("processing service returned status %d: %s", e.StatusCode, e.Message)
}

// Option configures a Client
type Option func(*Client)

// WithTimeout bounds each request. Zero leaves requests unbounded.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger used for request tracing
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates a new processing service client
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("remote", c.BaseURL)
	return c
}

// Process uploads one image and returns the extracted segments
func (c *Client) Process(ctx context.Context, file Upload) (*ProcessResult, error) {
	body, contentType, err := multipartBody("file", []Upload{file})
	if err != nil {
		return nil, err
	}

	var result ProcessResult
	if err := c.post(ctx, processPath, body, contentType, &result); err != nil {
		return nil, err
	}
	if result.Segments == nil {
		return nil, fmt.Errorf("processing service response has no segments")
	}
	return &result, nil
}

// ReconstructFromComposites uploads composite images and returns the rebuilt image
func (c *Client) ReconstructFromComposites(ctx context.Context, files []Upload) (*ReconstructResult, error) {
	return c.reconstruct(ctx, compositesPath, files)
}

// Reconstruct uploads individual segment images and returns the rebuilt image
func (c *Client) Reconstruct(ctx context.Context, files []Upload) (*ReconstructResult, error) {
	return c.reconstruct(ctx, reconstructPath, files)
}

func (c *Client) reconstruct(ctx context.Context, path string, files []Upload) (*ReconstructResult, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("no files to upload")
	}
	body, contentType, err := multipartBody("files", files)
	if err != nil {
		return nil, err
	}

	var result ReconstructResult
	if err := c.post(ctx, path, body, contentType, &result); err != nil {
		return nil, err
	}
	if result.Image == "" {
		return nil, fmt.Errorf("processing service response has no image")
	}
	return &result, nil
}

// Cleanup asks the service to delete the working files of a session
func (c *Client) Cleanup(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	endpoint := c.BaseURL + cleanupPathPrefix + url.PathEscape(sessionID)

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create cleanup request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call processing service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return remoteError(resp)
	}
	c.logger.Debug("Remote session cleaned up", "session_id", sessionID)
	return nil
}

func (c *Client) post(ctx context.Context, path string, body *bytes.Buffer, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call processing service: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Debug("Processing service responded", "path", path, "status", resp.StatusCode, "elapsed", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return remoteError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode processing service response: %w", err)
	}
	return nil
}

// remoteError builds a RemoteError, preferring the service's {"error": "..."} body
func remoteError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLength))

	var payload struct {
		Error string `json:"error"`
	}
	message := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		message = payload.Error
	}
	return &RemoteError{StatusCode: resp.StatusCode, Message: message}
}

func multipartBody(field string, files []Upload) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for _, f := range files {
		part, err := writer.CreateFormFile(field, f.Filename)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create form part for %s: %w", f.Filename, err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, "", fmt.Errorf("failed to write form part for %s: %w", f.Filename, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finish multipart body: %w", err)
	}
	return body, writer.FormDataContentType(), nil
}
