package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"quicksign-server/canvas"
	"quicksign-server/core"
	"quicksign-server/middleware"
	"quicksign-server/session"
	"quicksign-server/widgets"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

const maxDocumentSize = 32 << 20

type (
	TextRequest struct {
		Text string `json:"text"`
	}

	PointRequest struct {
		X      float64       `json:"x"`
		Y      float64       `json:"y"`
		Origin *canvas.Point `json:"origin,omitempty"`
	}

	SelectRequest struct {
		Index *int `json:"index"`
	}

	RecipientRequest struct {
		Recipient *string `json:"recipient"`
	}

	TemplateSaveResponse struct {
		Index int    `json:"index"`
		Label string `json:"label"`
	}
)

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrWidgetNotFound):
		status = http.StatusNotFound
	case errors.Is(err, core.ErrTemplateIndexOutOfRange):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrMissingDocument),
		errors.Is(err, core.ErrDialogClosed),
		errors.Is(err, core.ErrSendInFlight):
		status = http.StatusConflict
	case errors.Is(err, core.ErrDeliveryFailed):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		logrus.WithError(err).Error("Session request failed")
	}
	render.Status(r, status)
	render.JSON(w, r, map[string]string{"error": err.Error()})
}

func badRequest(w http.ResponseWriter, r *http.Request, msg string) {
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, map[string]string{"error": msg})
}

// lookup resolves the {id} widget and checks that the caller owns it.
func lookup(w http.ResponseWriter, r *http.Request, registry *widgets.Registry) (*widgets.Widget, bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		badRequest(w, r, "Session id is required")
		return nil, false
	}

	wdg, err := registry.Get(id)
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}

	if subject := middleware.Subject(r.Context()); wdg.Owner() != "" && wdg.Owner() != subject {
		logrus.WithFields(logrus.Fields{
			"widget_id": id,
			"subject":   subject,
		}).Warn("Session access denied")
		render.Status(r, http.StatusForbidden)
		render.JSON(w, r, map[string]string{"error": "Session belongs to another user"})
		return nil, false
	}
	return wdg, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, r, "Invalid JSON in request body")
		return false
	}
	return true
}

func HandleCreate(registry *widgets.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wdg := registry.Create(middleware.Subject(r.Context()))
		render.Status(r, http.StatusCreated)
		render.JSON(w, r, wdg.State())
	}
}

func HandleList(registry *widgets.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list := registry.List(middleware.Subject(r.Context()))
		states := make([]widgets.State, 0, len(list))
		for _, wdg := range list {
			states = append(states, wdg.State())
		}
		render.JSON(w, r, states)
	}
}

func HandleGet(registry *widgets.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wdg, ok := lookup(w, r, registry)
		if !ok {
			return
		}
		render.JSON(w, r, wdg.State())
	}
}

func HandleDelete(registry *widgets.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wdg, ok := lookup(w, r, registry)
		if !ok {
			return
		}
		if err := registry.Close(wdg.ID()); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func HandleReset(registry *widgets.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wdg, ok := lookup(w, r, registry)
		if !ok {
			return
		}
		wdg.Reset()
		render.JSON(w, r, wdg.State())
	}
}

// HandleUploadDocument accepts either a multipart form with a "file" part
// or the raw document bytes as the request body.
func HandleUploadDocument(registry *widgets.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wdg, ok := lookup(w, r, registry)
		if !ok {
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxDocumentSize)
		doc, err := readDocument(r)
		if err != nil {
			badRequest(w, r, err.Error())
			return
		}
		if len(doc.Data) == 0 {
			badRequest(w, r, "Document is empty")
			return
		}

		render.JSON(w, r, wdg.UploadDocument(doc))
	}
}

func readDocument(r *http.Request) (*core.Document, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		file, header, err := r.FormFile("file")
		if err != nil {
			return nil, errors.New("Multipart field \"file\" is required")
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			return nil, errors.New("Failed to read document")
		}
		return &core.Document{Name: header.Filename, ContentType: sniff(header.Header.Get("Content-Type"), data), Data: data}, nil
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, errors.New("Failed to read document")
	}
	return &core.Document{Name: r.URL.Query().Get("name"), ContentType: sniff(mediaType, data), Data: data}, nil
}

func sniff(declared string, data []byte) string {
	if declared == "" || declared == "application/octet-stream" {
		return http.DetectContentType(data)
	}
	return declared
}

func HandleSetSignature(registry *widgets.Registry) http.HandlerFunc {
	return handleText(registry, (*widgets.Widget).SetSignatureText)
}

func HandleSetInitials(registry *widgets.Registry) http.HandlerFunc {
	return handleText(registry, (*widgets.Widget).SetInitialsText)
}

func handleText(registry *widgets.Registry, set func(*widgets.Widget, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wdg, ok := lookup(w, r, registry)
		if !ok {
			return
		}
		var req TextRequest
		if !decode(w, r, &req) {
			return
		}
		set(wdg, req.Text)
		render.JSON(w, r, wdg.State())
	}
}

func HandleBegin(registry *widgets.Registry) http.HandlerFunc {
	return handlePoint(registry, (*widgets.Widget).Begin)
}

func HandleExtend(registry *widgets.Registry) http.HandlerFunc {
	return handlePoint(registry, (*widgets.Widget).Extend)
}

func handlePoint(registry *widgets.Registry, apply func(*widgets.Widget, canvas.Point, *canvas.Point) widgets.State) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wdg, ok := lookup(w, r, registry)
		if !ok {
			return
		}
		var req PointRequest
		if !decode(w, r, &req) {
			return
		}
		p := canvas.Point{X: req.X, Y: req.Y}
		if !p.Valid() || (req.Origin != nil && !req.Origin.Valid()) {
			badRequest(w, r, "Point coordinates are out of range")
			return
		}
		render.JSON(w, r, apply(wdg, p, req.Origin))
	}
}

func HandleEnd(registry *widgets.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wdg, ok := lookup(w, r, registry)
		if !ok {
			return
		}
		render.JSON(w, r, wdg.End())
	}
}

func HandlePreview(registry *widgets.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wdg, ok := lookup(w, r, registry)
		if !ok {
			return
		}
		data, err := wdg.PreviewPNG()
		if err != nil {
			writeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		w.Write(data)
	}
}

func HandleListTemplates(registry *widgets.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wdg, ok := lookup(w, r, registry)
		if !ok {
			return
		}
		render.JSON(w, r, wdg.Templates())
	}
}

func HandleSaveTemplate(registry *widgets.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wdg, ok := lookup(w, r, registry)
		if !ok {
			return
		}
		index, err := wdg.SaveTemplate()
		if err != nil {
			writeError(w, r, err)
			return
		}
		render.Status(r, http.StatusCreated)
		render.JSON(w, r, TemplateSaveResponse{Index: index, Label: session.Label(index)})
	}
}

func HandleSelectTemplate(registry *widgets.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wdg, ok := lookup(w, r, registry)
		if !ok {
			return
		}
		var req SelectRequest
		if !decode(w, r, &req) {
			return
		}
		if req.Index == nil {
			badRequest(w, r, "Template index is required")
			return
		}
		if err := wdg.SelectTemplate(*req.Index); err != nil {
			writeError(w, r, err)
			return
		}
		render.JSON(w, r, wdg.State())
	}
}

func HandleDeliveryStatus(registry *widgets.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wdg, ok := lookup(w, r, registry)
		if !ok {
			return
		}
		render.JSON(w, r, wdg.DeliveryStatus())
	}
}

func HandleOpenDelivery(registry *widgets.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wdg, ok := lookup(w, r, registry)
		if !ok {
			return
		}
		if !applyRecipient(w, r, wdg) {
			return
		}
		wdg.OpenDelivery()
		render.JSON(w, r, wdg.DeliveryStatus())
	}
}

func HandleCloseDelivery(registry *widgets.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wdg, ok := lookup(w, r, registry)
		if !ok {
			return
		}
		wdg.CloseDelivery()
		render.JSON(w, r, wdg.DeliveryStatus())
	}
}

// HandleSend starts a delivery and answers 202 right away. With ?wait=true
// it blocks until the delivery settles and reports its outcome.
func HandleSend(registry *widgets.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wdg, ok := lookup(w, r, registry)
		if !ok {
			return
		}
		if !applyRecipient(w, r, wdg) {
			return
		}

		results, err := wdg.Send(context.WithoutCancel(r.Context()))
		if err != nil {
			writeError(w, r, err)
			return
		}

		if r.URL.Query().Get("wait") != "true" {
			render.Status(r, http.StatusAccepted)
			render.JSON(w, r, wdg.DeliveryStatus())
			return
		}

		select {
		case res := <-results:
			if res.Err != nil {
				render.Status(r, http.StatusBadGateway)
			}
			render.JSON(w, r, wdg.DeliveryStatus())
		case <-r.Context().Done():
		}
	}
}

// applyRecipient sets the recipient from an optional JSON body.
func applyRecipient(w http.ResponseWriter, r *http.Request, wdg *widgets.Widget) bool {
	if r.ContentLength == 0 {
		return true
	}
	var req RecipientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(w, r, "Invalid JSON in request body")
		return false
	}
	if req.Recipient != nil {
		wdg.SetRecipient(*req.Recipient)
	}
	return true
}
