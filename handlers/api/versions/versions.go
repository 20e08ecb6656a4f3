package versions

import (
	"context"
	"encoding/json"
	"net/http"

	"designboard/core"
	"designboard/diff"
	"designboard/docstore"
	"designboard/handlers/auth"
	"designboard/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

type (
	CreateVersionRequest struct {
		Name string `json:"name"`
	}

	CreateVersionResponse struct {
		ID string `json:"id"`
	}

	DiffRequest struct {
		BaseID    string `json:"baseId"`
		CompareID string `json:"compareId"`
	}

	MergeRequest struct {
		BaseID    string   `json:"baseId"`
		CompareID string   `json:"compareId"`
		Selected  []string `json:"selected"`
	}

	MergeResponse struct {
		Layers []core.Layer `json:"layers"`
	}

	VersionStore interface {
		CreateVersion(ctx context.Context, version *core.VersionSnapshot) (string, error)
		GetVersion(ctx context.Context, projectID, id string) (*core.VersionSnapshot, error)
		ListVersions(ctx context.Context, projectID string) ([]*core.VersionSnapshot, error)
	}
)

// HandleCreateVersion copies the project's current layer list into a new
// named version snapshot.
func HandleCreateVersion(store VersionStore, adapter *docstore.Adapter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, _ := r.Context().Value(middleware.ClaimsContextKey).(*auth.AppClaims)
		createdBy := ""
		if claims != nil {
			createdBy = claims.Subject
		}

		var req CreateVersionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid request body"})
			return
		}

		projectID := chi.URLParam(r, "projectID")
		snap, err := adapter.Get(r.Context(), projectID)
		if err != nil {
			logrus.WithField("error", err).Error("Failed to read project for versioning")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to create version"})
			return
		}

		id, err := store.CreateVersion(r.Context(), &core.VersionSnapshot{
			ProjectID: projectID,
			Name:      req.Name,
			Layers:    snap.Layers,
			CreatedBy: createdBy,
		})
		if err != nil {
			logrus.WithField("error", err).Error("Failed to create version")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to create version"})
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, CreateVersionResponse{ID: id})
	}
}

// HandleListVersions lists version metadata for a project.
func HandleListVersions(store VersionStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectID")

		versions, err := store.ListVersions(r.Context(), projectID)
		if err != nil {
			logrus.WithField("error", err).Error("Failed to list versions")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to list versions"})
			return
		}
		if versions == nil {
			versions = []*core.VersionSnapshot{}
		}
		render.JSON(w, r, versions)
	}
}

// HandleGetVersion returns one full version snapshot.
func HandleGetVersion(store VersionStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectID")
		versionID := chi.URLParam(r, "versionID")

		version, err := store.GetVersion(r.Context(), projectID, versionID)
		if err != nil {
			logrus.WithField("error", err).Warn("Failed to get version")
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, map[string]string{"error": "Version not found"})
			return
		}
		render.JSON(w, r, version)
	}
}

// loadPair fetches the base and compare versions of a diff or merge request.
func loadPair(r *http.Request, store VersionStore, projectID, baseID, compareID string) (*core.VersionSnapshot, *core.VersionSnapshot, error) {
	base, err := store.GetVersion(r.Context(), projectID, baseID)
	if err != nil {
		return nil, nil, err
	}
	compare, err := store.GetVersion(r.Context(), projectID, compareID)
	if err != nil {
		return nil, nil, err
	}
	return base, compare, nil
}

// HandleDiffVersions computes the layer diff between two versions.
func HandleDiffVersions(store VersionStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req DiffRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.BaseID == "" || req.CompareID == "" {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "baseId and compareId are required"})
			return
		}

		projectID := chi.URLParam(r, "projectID")
		base, compare, err := loadPair(r, store, projectID, req.BaseID, req.CompareID)
		if err != nil {
			logrus.WithField("error", err).Warn("Failed to load versions for diff")
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, map[string]string{"error": "Version not found"})
			return
		}

		render.JSON(w, r, diff.Layers(base.Layers, compare.Layers))
	}
}

// HandleMergeVersions applies a selected subset of diff entries onto the base
// version and writes the merged layer list back to the live project snapshot.
func HandleMergeVersions(store VersionStore, adapter *docstore.Adapter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req MergeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.BaseID == "" || req.CompareID == "" {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "baseId and compareId are required"})
			return
		}

		projectID := chi.URLParam(r, "projectID")
		base, compare, err := loadPair(r, store, projectID, req.BaseID, req.CompareID)
		if err != nil {
			logrus.WithField("error", err).Warn("Failed to load versions for merge")
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, map[string]string{"error": "Version not found"})
			return
		}

		entries := diff.Layers(base.Layers, compare.Layers)
		merged := diff.Merge(base.Layers, entries, req.Selected)

		if err := adapter.WriteField(r.Context(), projectID, "layers", merged); err != nil {
			logrus.WithField("error", err).Error("Failed to write merged layers")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to apply merge"})
			return
		}

		render.JSON(w, r, MergeResponse{Layers: merged})
	}
}
