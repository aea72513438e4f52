package artifacts

import (
	"errors"
	"net/http"
	"quicksign-server/core"
	"quicksign-server/middleware"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

// HandleGet serves an archived signed document. With ?meta=true it returns
// the artifact metadata as JSON instead of the image.
func HandleGet(store core.ArtifactStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Artifact id is required"})
			return
		}

		artifact, err := store.FindID(r.Context(), id)
		if err != nil {
			if errors.Is(err, core.ErrArtifactNotFound) {
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, map[string]string{"error": "Artifact not found"})
				return
			}
			logrus.WithFields(logrus.Fields{
				"error":       err,
				"artifact_id": id,
			}).Error("Failed to load artifact")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to load artifact"})
			return
		}

		if subject := middleware.Subject(r.Context()); artifact.Owner != "" && artifact.Owner != subject {
			logrus.WithFields(logrus.Fields{
				"artifact_id": id,
				"subject":     subject,
			}).Warn("Artifact access denied")
			render.Status(r, http.StatusForbidden)
			render.JSON(w, r, map[string]string{"error": "Artifact belongs to another user"})
			return
		}

		if r.URL.Query().Get("meta") == "true" {
			meta := *artifact
			meta.Data = nil
			render.JSON(w, r, meta)
			return
		}

		w.Header().Set("Content-Type", artifact.ContentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(artifact.Data)))
		w.Write(artifact.Data)
	}
}
