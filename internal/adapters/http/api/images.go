package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/okian/ewaste/internal/adapters/storage"
	"github.com/okian/ewaste/pkg/logger"
)

// ImageProvider returns stored images.
type ImageProvider interface {
	Image(ctx context.Context, name string) ([]byte, error)
}

// ImagesHandler serves uploaded and annotated images.
type ImagesHandler struct {
	images ImageProvider
	log    logger.Logger
}

// NewImagesHandler creates a new images handler.
func NewImagesHandler(images ImageProvider, l logger.Logger) *ImagesHandler {
	return &ImagesHandler{images: images, log: l}
}

// HandleGetImage handles GET /api/images/{name}.
func (h *ImagesHandler) HandleGetImage(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_image"
	name := r.PathValue("name")

	data, err := h.images.Image(r.Context(), name)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrInvalidName):
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
		return
	default:
		h.log.Error(r.Context(), "image fetch failed", logger.String("name", name), logger.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", nil)
		return
	}

	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
