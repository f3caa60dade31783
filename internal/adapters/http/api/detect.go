package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/okian/ewaste/internal/adapters/detector"
	"github.com/okian/ewaste/internal/adapters/render"
	service "github.com/okian/ewaste/internal/app"
	"github.com/okian/ewaste/internal/domain/model"
	"github.com/okian/ewaste/pkg/logger"
)

// Detector runs detection on an upload.
type Detector interface {
	Detect(ctx context.Context, upload model.Upload) (model.Report, error)
}

// DetectHandler handles image uploads.
type DetectHandler struct {
	detector   Detector
	maxBytes   int64
	extensions []string
	log        logger.Logger
}

// NewDetectHandler creates a new detect handler.
func NewDetectHandler(d Detector, maxBytes int64, extensions []string, l logger.Logger) *DetectHandler {
	return &DetectHandler{detector: d, maxBytes: maxBytes, extensions: extensions, log: l}
}

// HandleDetect handles POST /api/detect multipart uploads with a "file"
// part and an optional "confidence" field.
func (h *DetectHandler) HandleDetect(w http.ResponseWriter, r *http.Request) {
	const op = "api.detect"

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			writeError(w, http.StatusRequestEntityTooLarge, "too_large",
				WrapKind(op, ErrTooLarge, fmt.Errorf("limit is %d bytes", h.maxBytes)))
			return
		}
		if !errors.Is(err, http.ErrNotMultipart) {
			writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
			return
		}
	}
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "bad_request", "No file part")
		return
	}
	defer file.Close()

	if header.Filename == "" {
		writeMessage(w, http.StatusBadRequest, "bad_request", "No selected file")
		return
	}
	if !h.allowed(header.Filename) {
		writeMessage(w, http.StatusBadRequest, "bad_request",
			"File type not allowed. Allowed types: "+strings.Join(h.extensions, ", "))
		return
	}

	threshold, err := parseConfidence(r.FormValue("confidence"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	report, err := h.detector.Detect(r.Context(), model.Upload{
		Filename:  header.Filename,
		Data:      data,
		Threshold: threshold,
	})
	if err != nil {
		h.writeDetectError(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *DetectHandler) writeDetectError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, render.ErrDecode), errors.Is(err, service.ErrInvalidUpload):
		writeError(w, http.StatusBadRequest, "invalid_image", err)
	case errors.Is(err, service.ErrBackpressure):
		writeError(w, http.StatusTooManyRequests, "backpressure", NewKind(op, ErrBackpressure))
	case errors.Is(err, model.ErrInvalidDetection):
		writeError(w, http.StatusBadGateway, "invalid_detection", err)
	case errors.Is(err, detector.ErrUnavailable):
		writeError(w, http.StatusBadGateway, "detector_unavailable", err)
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "timeout", err)
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, "cancelled", err)
	default:
		h.log.Error(r.Context(), "detection failed", logger.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", nil)
	}
}

func (h *DetectHandler) allowed(filename string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	return ext != "" && slices.Contains(h.extensions, ext)
}

// parseConfidence reads the optional threshold field; empty means default.
func parseConfidence(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || v < 0 || v > 1 {
		return 0, fmt.Errorf("confidence must be a number between 0 and 1, got %q", raw)
	}
	return v, nil
}
