package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const maxUploadBytes = 50 << 20

type uploadResponse struct {
	Ref         string `json:"ref"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
}

// Upload keeps a reference image or video in the session blob cache and
// returns its blob: reference for later generation requests.
func (a *App) Upload(w http.ResponseWriter, r *http.Request) {
	if a.currentUserID(r) == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	if a.Blobs == nil {
		a.error(w, http.StatusServiceUnavailable, "uploads_disabled", "uploads are not available")
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.error(w, http.StatusRequestEntityTooLarge, "too_large", "upload exceeds size limit")
			return
		}
		a.error(w, http.StatusBadRequest, "bad_request", "could not read upload")
		return
	}
	if len(data) == 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "empty upload")
		return
	}
	contentType := mimetype.Detect(data).String()
	if !strings.HasPrefix(contentType, "image/") && !strings.HasPrefix(contentType, "video/") {
		a.error(w, http.StatusUnsupportedMediaType, "unsupported_media_type", "only images and videos are accepted")
		return
	}
	ref := a.Blobs.Put(contentType, data)
	a.json(w, http.StatusCreated, uploadResponse{Ref: ref, ContentType: contentType, Size: len(data)})
}
