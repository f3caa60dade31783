// Package detector talks to the external object-detection service.
package detector

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
	"path"
	"strconv"
	"time"

	"github.com/okian/ewaste/internal/domain/model"
	"github.com/okian/ewaste/pkg/logger"
	"github.com/okian/ewaste/pkg/metrics"
)

// ErrUnavailable reports a detector call that failed in transport, timed out
// or returned a non-200 status. Calls are never retried.
var ErrUnavailable = errors.New("detector unavailable")

const (
	defaultTimeout  = 30 * time.Second
	maxResponseSize = 8 << 20
)

// Detector returns the objects found in an image whose confidence is at
// least threshold.
type Detector interface {
	Detect(ctx context.Context, image []byte, filename string, threshold float64) ([]model.Detection, error)
}

// HTTPDetector posts images as multipart forms to a detection endpoint that
// answers {"detections":[{"class","confidence","bbox"}]}.
type HTTPDetector struct {
	endpoint  string
	healthURL string
	timeout   time.Duration
	client    *http.Client
	log       logger.Logger
}

// Option configures an HTTPDetector.
type Option func(*HTTPDetector)

// WithTimeout bounds every detector call.
func WithTimeout(d time.Duration) Option {
	return func(h *HTTPDetector) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// WithHTTPClient replaces the transport client.
func WithHTTPClient(c *http.Client) Option {
	return func(h *HTTPDetector) {
		if c != nil {
			h.client = c
		}
	}
}

// WithHealthURL overrides the derived health endpoint.
func WithHealthURL(u string) Option {
	return func(h *HTTPDetector) {
		if u != "" {
			h.healthURL = u
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(l logger.Logger) Option {
	return func(h *HTTPDetector) {
		if l != nil {
			h.log = l
		}
	}
}

// NewHTTPDetector creates a client for endpoint. The health URL defaults to
// "health" next to the endpoint path.
func NewHTTPDetector(endpoint string, opts ...Option) (*HTTPDetector, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid detector url %q", endpoint)
	}
	health := *u
	health.Path = path.Join(path.Dir(u.Path), "health")
	health.RawQuery = ""

	h := &HTTPDetector{
		endpoint:  endpoint,
		healthURL: health.String(),
		timeout:   defaultTimeout,
		client:    &http.Client{},
		log:       logger.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Detect uploads image and decodes the returned detections.
func (h *HTTPDetector) Detect(ctx context.Context, image []byte, filename string, threshold float64) ([]model.Detection, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, fmt.Errorf("copy image data: %w", err)
	}
	if err := writer.WriteField("confidence", strconv.FormatFloat(threshold, 'f', -1, 64)); err != nil {
		return nil, fmt.Errorf("write confidence: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := h.client.Do(req)
	metrics.RecordDetectorLatency(time.Since(start))
	if err != nil {
		reason := "transport"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "timeout"
		}
		metrics.RecordDetectorError(reason)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.RecordDetectorError("status")
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
		return nil, fmt.Errorf("%w: detector returned status %d", ErrUnavailable, resp.StatusCode)
	}

	var result struct {
		Detections []model.WireDetection `json:"detections"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&result); err != nil {
		metrics.RecordDetectorError("decode")
		return nil, fmt.Errorf("%w: decode detector response: %v", model.ErrInvalidDetection, err)
	}
	detections, err := model.FromWire(result.Detections)
	if err != nil {
		metrics.RecordDetectorError("decode")
		return nil, fmt.Errorf("decode detector response: %w", err)
	}

	h.log.Debug(ctx, "detector call finished",
		logger.String("file", filename),
		logger.Int("detections", len(detections)),
		logger.Duration("latency", time.Since(start)))
	return detections, nil
}

// Health checks the detector's health endpoint.
func (h *HTTPDetector) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.healthURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health returned status %d", ErrUnavailable, resp.StatusCode)
	}
	return nil
}
