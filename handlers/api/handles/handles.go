package handles

import (
	"net/http"
	"quicksign-server/overlay"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// HandleResolve serves the document behind a live display handle. Handles
// released by their session answer 404.
func HandleResolve(registry *overlay.HandleRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		handle := chi.URLParam(r, "handle")
		doc, err := registry.Resolve(handle)
		if err != nil {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, map[string]string{"error": "Display handle not found"})
			return
		}

		contentType := doc.ContentType
		if contentType == "" {
			contentType = http.DetectContentType(doc.Data)
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Cache-Control", "no-store")
		w.Write(doc.Data)
	}
}
