package media

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

// ErrRejected marks a deletion the media backend refused (unknown id,
// malformed key). It maps to a client error instead of a 500.
var ErrRejected = errors.New("media backend rejected deletion")

type Deleter interface {
	DeleteMedia(ctx context.Context, publicID string) error
}

type DeleteRequest struct {
	PublicID string `json:"publicId"`
}

// HandleDelete removes an uploaded media object by its public id.
func HandleDelete(deleter Deleter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req DeleteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PublicID == "" {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Missing publicId"})
			return
		}

		if err := deleter.DeleteMedia(r.Context(), req.PublicID); err != nil {
			if errors.Is(err, ErrRejected) {
				logrus.WithFields(logrus.Fields{
					"publicId": req.PublicID,
					"error":    err,
				}).Warn("Media deletion rejected")
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, map[string]string{"error": "Deletion rejected"})
				return
			}
			logrus.WithFields(logrus.Fields{
				"publicId": req.PublicID,
				"error":    err,
			}).Error("Media deletion failed")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to delete media"})
			return
		}

		render.JSON(w, r, map[string]string{"status": "ok"})
	}
}
