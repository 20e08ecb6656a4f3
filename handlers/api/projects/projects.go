package projects

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"designboard/canvas"
	"designboard/core"
	"designboard/docstore"
	"designboard/handlers/auth"
	"designboard/middleware"
	"designboard/registry"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

const (
	defaultRasterWidth  = 800
	defaultRasterHeight = 600
	maxRasterDimension  = 4096
)

type (
	AddLayerRequest struct {
		Name string `json:"name"`
	}

	AddCommentRequest struct {
		Anchor core.Point `json:"anchor"`
		Text   string     `json:"text"`
	}

	ToggleResponse struct {
		Value bool `json:"value"`
	}
)

func claimsFrom(r *http.Request) (*auth.AppClaims, bool) {
	claims, ok := r.Context().Value(middleware.ClaimsContextKey).(*auth.AppClaims)
	return claims, ok
}

// writeError converts adapter and registry failures to HTTP status codes.
func writeError(w http.ResponseWriter, r *http.Request, err error, action string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, docstore.ErrBadFieldPath):
		status = http.StatusBadRequest
	case errors.Is(err, docstore.ErrPermissionDenied):
		status = http.StatusForbidden
	}
	logrus.WithFields(logrus.Fields{
		"error":  err,
		"action": action,
	}).Error("Project operation failed")
	render.Status(r, status)
	render.JSON(w, r, map[string]string{"error": action + " failed"})
}

// HandleGetProject returns the current project snapshot.
func HandleGetProject(adapter *docstore.Adapter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectID")
		snap, err := adapter.Get(r.Context(), projectID)
		if err != nil {
			writeError(w, r, err, "get project")
			return
		}
		render.JSON(w, r, snap)
	}
}

// HandleAddLayer creates a new layer owned by the authenticated user.
func HandleAddLayer(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := claimsFrom(r)
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User claims not found"})
			return
		}

		var req AddLayerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid request body"})
			return
		}

		projectID := chi.URLParam(r, "projectID")
		layer, err := reg.AddLayer(r.Context(), projectID, req.Name, claims.Subject)
		if err != nil {
			if errors.Is(err, docstore.ErrNotFound) || errors.Is(err, docstore.ErrPermissionDenied) {
				writeError(w, r, err, "add layer")
				return
			}
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": err.Error()})
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, layer)
	}
}

// HandleToggleVisibility flips a layer's visibility flag.
func HandleToggleVisibility(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectID")
		layerID := chi.URLParam(r, "layerID")

		value, err := reg.ToggleVisibility(r.Context(), projectID, layerID)
		if err != nil {
			writeError(w, r, err, "toggle visibility")
			return
		}
		render.JSON(w, r, ToggleResponse{Value: value})
	}
}

// HandleToggleLock flips a layer's lock flag.
func HandleToggleLock(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectID")
		layerID := chi.URLParam(r, "layerID")

		value, err := reg.ToggleLock(r.Context(), projectID, layerID)
		if err != nil {
			writeError(w, r, err, "toggle lock")
			return
		}
		render.JSON(w, r, ToggleResponse{Value: value})
	}
}

// HandleAddComment appends a point-anchored comment.
func HandleAddComment(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := claimsFrom(r)
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User claims not found"})
			return
		}

		var req AddCommentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid request body"})
			return
		}

		projectID := chi.URLParam(r, "projectID")
		comment, err := reg.AddComment(r.Context(), projectID, req.Anchor, req.Text, claims.Subject)
		if err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": err.Error()})
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, comment)
	}
}

func rasterDimension(r *http.Request, name string, fallback int) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 || n > maxRasterDimension {
		return 0, false
	}
	return n, true
}

// HandleRenderLayer replays a layer's drawing records into a raster surface
// and returns the encoded pixels. The replay is deterministic, so any two
// clients requesting the same layer at the same size receive identical bytes.
func HandleRenderLayer(adapter *docstore.Adapter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		width, ok := rasterDimension(r, "w", defaultRasterWidth)
		if !ok {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid raster width"})
			return
		}
		height, ok := rasterDimension(r, "h", defaultRasterHeight)
		if !ok {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid raster height"})
			return
		}

		projectID := chi.URLParam(r, "projectID")
		layerID := chi.URLParam(r, "layerID")

		snap, err := adapter.Get(r.Context(), projectID)
		if err != nil {
			writeError(w, r, err, "render layer")
			return
		}

		log := canvas.NewLog()
		for _, rec := range snap.Drawings {
			if err := log.Append(rec); err != nil {
				logrus.WithFields(logrus.Fields{
					"project_id": projectID,
					"drawing_id": rec.ID,
					"error":      err,
				}).Warn("Skipping invalid drawing record during replay")
			}
		}

		raster := canvas.Replay(log.Records(layerID), width, height)
		w.Header().Set("Content-Type", "application/octet-stream")
		if _, err := w.Write(raster.Encode()); err != nil {
			logrus.WithField("error", err).Error("Failed to write raster response")
		}
	}
}

// HandleAddDrawing appends an immutable drawing record.
func HandleAddDrawing(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := claimsFrom(r)
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User claims not found"})
			return
		}

		var rec core.DrawingRecord
		if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid request body"})
			return
		}
		rec.UserID = claims.Subject

		projectID := chi.URLParam(r, "projectID")
		stored, err := reg.AddDrawing(r.Context(), projectID, rec)
		if err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": err.Error()})
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, stored)
	}
}
