package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/vbonduro/yardwise/internal/photo"
	"github.com/vbonduro/yardwise/internal/photostore"
	"github.com/vbonduro/yardwise/internal/photostore/local"
	"github.com/vbonduro/yardwise/internal/service"
)

const (
	// maxUploadBody leaves room for multipart framing around a MaxSize photo.
	maxUploadBody = photo.MaxSize + 1<<20
	maxJSONBody   = 64 << 10
	photoField    = "photo"
)

type handlerFunc func(http.ResponseWriter, *http.Request) error

type errorResponse struct {
	Error string `json:"error"`
}

// wrap turns a handler error into a JSON error response.
func (s *Server) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := h(w, r)
		if err == nil {
			return
		}
		status, msg := classify(err)
		if status == http.StatusInternalServerError {
			s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		}
		writeJSON(w, status, errorResponse{Error: msg})
	}
}

func classify(err error) (int, string) {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, photo.ErrTooLarge), errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge, "photo exceeds the maximum size"
	case errors.Is(err, photo.ErrValidation), errors.Is(err, service.ErrInvalidRequest):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrZoneNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, service.ErrNotFound),
		errors.Is(err, photostore.ErrNotFound),
		errors.Is(err, photostore.ErrInvalidRef):
		return http.StatusNotFound, "not found"
	case errors.Is(err, local.ErrBadSignature), errors.Is(err, local.ErrURLExpired):
		return http.StatusForbidden, err.Error()
	}
	return http.StatusInternalServerError, "internal error"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleUploadPhoto accepts a multipart form with the image in the "photo"
// field and returns the ref to submit for analysis.
func (s *Server) handleUploadPhoto(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return err
		}
		return fmt.Errorf("%w: failed to parse form", service.ErrInvalidRequest)
	}

	file, _, err := r.FormFile(photoField)
	if err != nil {
		return fmt.Errorf("%w: %s file required", service.ErrInvalidRequest, photoField)
	}
	defer func() {
		if err := file.Close(); err != nil {
			s.logger.Error("failed to close upload file", "error", err)
		}
	}()

	data, err := io.ReadAll(file)
	if err != nil {
		return fmt.Errorf("failed to read upload: %w", err)
	}

	ref, err := s.service.UploadPhoto(r.Context(), data)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, map[string]string{"photoRef": ref})
	return nil
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) error {
	var req service.SubmitRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(&req); err != nil {
		return fmt.Errorf("%w: malformed JSON body", service.ErrInvalidRequest)
	}

	resp, err := s.service.Submit(r.Context(), req)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusAccepted, resp)
	return nil
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) error {
	view, err := s.service.GetStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return err
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, view)
	return nil
}

// handleGetPhoto serves a photo behind a URL signed by the local photo store.
func (s *Server) handleGetPhoto(w http.ResponseWriter, r *http.Request) error {
	ref := chi.URLParam(r, "ref")
	q := r.URL.Query()
	if err := s.photos.Verify(ref, q.Get("expires"), q.Get("sig")); err != nil {
		return err
	}

	data, err := s.photos.Get(r.Context(), ref)
	if err != nil {
		return err
	}

	mediaType := photostore.MediaTypeFor(ref)
	if info, ok := photo.Detect(data); ok {
		mediaType = info.MediaType
	}
	w.Header().Set("Content-Type", mediaType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "private, max-age=300")
	if _, err := w.Write(data); err != nil {
		s.logger.Error("write photo failed", "photo_ref", ref, "error", err)
	}
	return nil
}
