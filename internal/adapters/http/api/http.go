// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/okian/ewaste/internal/domain/model"
	"github.com/okian/ewaste/internal/domain/types"
	"github.com/okian/ewaste/pkg/logger"
)

const (
	defaultMaxUploadBytes = 16 << 20
	multipartMemory       = 8 << 20
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	// Detect runs the detection pipeline for one upload.
	Detect(ctx context.Context, upload model.Upload) (model.Report, error)

	// Image returns stored image bytes by name.
	Image(ctx context.Context, name string) ([]byte, error)

	// Stats returns the processing statistics.
	Stats(ctx context.Context) types.Statistics
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler *HealthHandler
	detectHandler *DetectHandler
	imagesHandler *ImagesHandler
	statsHandler  *StatsHandler
}

// Option configures the Server.
type Option func(*options)

type options struct {
	maxUploadBytes    int64
	allowedExtensions []string
	logger            logger.Logger
}

// WithMaxUploadBytes caps the size of POST /api/detect bodies.
func WithMaxUploadBytes(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.maxUploadBytes = n
		}
	}
}

// WithAllowedExtensions sets the accepted upload extensions, without dots.
func WithAllowedExtensions(exts ...string) Option {
	return func(o *options) {
		cleaned := make([]string, 0, len(exts))
		for _, e := range exts {
			e = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), "."))
			if e != "" {
				cleaned = append(cleaned, e)
			}
		}
		if len(cleaned) > 0 {
			o.allowedExtensions = cleaned
		}
	}
}

// WithLogger sets the handler logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...Option) *Server {
	o := &options{
		maxUploadBytes:    defaultMaxUploadBytes,
		allowedExtensions: []string{"png", "jpg", "jpeg"},
		logger:            logger.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return &Server{
		healthHandler: NewHealthHandler(),
		detectHandler: NewDetectHandler(deps, o.maxUploadBytes, o.allowedExtensions, o.logger),
		imagesHandler: NewImagesHandler(deps, o.logger),
		statsHandler:  NewStatsHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleMetrics, "healthz"))
	mux.HandleFunc("/metrics", MetricsMiddleware(s.healthHandler.HandleMetrics, "metrics"))
	mux.HandleFunc("GET /api/health", MetricsMiddleware(s.healthHandler.HandleHealth, "health"))
	mux.HandleFunc("POST /api/detect", MetricsMiddleware(s.detectHandler.HandleDetect, "detect"))
	mux.HandleFunc("GET /api/images/{name}", MetricsMiddleware(s.imagesHandler.HandleGetImage, "images"))
	mux.HandleFunc("GET /api/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

func writeMessage(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
