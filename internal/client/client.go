// Package client talks to a running advisory service over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/okian/ewaste/internal/domain/model"
	"github.com/okian/ewaste/internal/domain/types"
	"golang.org/x/sync/errgroup"
)

const (
	defaultTimeout = 60 * time.Second
	imagesPath     = "/api/images/"
)

// ErrInvalidURL is returned by New for base URLs without scheme or host.
var ErrInvalidURL = errors.New("invalid service url")

// APIError is a non-2xx response decoded from the service error envelope.
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("service returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("service returned %d (%s): %s", e.Status, e.Code, e.Message)
}

// Client wraps http.Client with the service base URL.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.http.Timeout = d
		}
	}
}

// New creates a client for the service at baseURL, e.g. "http://localhost:5000".
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, baseURL)
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Detect uploads one image. A zero confidence leaves the threshold to the service.
func (c *Client) Detect(ctx context.Context, filename string, data []byte, confidence float64) (model.Report, error) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return model.Report{}, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return model.Report{}, fmt.Errorf("failed to write form file: %w", err)
	}
	if confidence > 0 {
		if err := w.WriteField("confidence", strconv.FormatFloat(confidence, 'f', -1, 64)); err != nil {
			return model.Report{}, fmt.Errorf("failed to write confidence: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return model.Report{}, fmt.Errorf("failed to close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/detect", body)
	if err != nil {
		return model.Report{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var report model.Report
	if err := c.do(req, &report); err != nil {
		return model.Report{}, err
	}
	return report, nil
}

// DetectFile reads path and uploads it under its base name.
func (c *Client) DetectFile(ctx context.Context, path string, confidence float64) (model.Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Report{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return c.Detect(ctx, filepath.Base(path), data, confidence)
}

// Result is the outcome of one upload in DetectFiles.
type Result struct {
	Path   string
	Report model.Report
	Err    error
}

// DetectFiles uploads paths with at most workers requests in flight.
// Results keep the order of paths; a failed upload does not stop the others.
func (c *Client) DetectFiles(ctx context.Context, paths []string, confidence float64, workers int) []Result {
	if workers < 1 {
		workers = 1
	}
	results := make([]Result, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, p := range paths {
		g.Go(func() error {
			report, err := c.DetectFile(gctx, p, confidence)
			results[i] = Result{Path: p, Report: report, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Stats fetches the service statistics.
func (c *Client) Stats(ctx context.Context) (types.Statistics, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/stats", http.NoBody)
	if err != nil {
		return types.Statistics{}, fmt.Errorf("failed to create request: %w", err)
	}
	var s types.Statistics
	if err := c.do(req, &s); err != nil {
		return types.Statistics{}, err
	}
	return s, nil
}

// Image downloads a stored image. ref is either a bare name or a report
// path such as "/api/images/output_x.png".
func (c *Client) Image(ctx context.Context, ref string) ([]byte, error) {
	name := strings.TrimPrefix(ref, imagesPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+imagesPath+url.PathEscape(name), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(resp)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}
