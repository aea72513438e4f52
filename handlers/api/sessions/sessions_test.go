package sessions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"quicksign-server/core"
	"quicksign-server/delivery"
	"quicksign-server/middleware"
	"quicksign-server/widgets"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
)

// Mock sender for testing
type mockSender struct {
	err error
}

func (m *mockSender) Send(ctx context.Context, req *core.DeliveryRequest) (delivery.Receipt, error) {
	if m.err != nil {
		return delivery.Receipt{}, m.err
	}
	return delivery.Receipt{MessageID: "msg-1"}, nil
}

func newRegistry(sender delivery.Sender) *widgets.Registry {
	return widgets.NewRegistry(widgets.Config{
		Width:           100,
		Height:          50,
		Sender:          sender,
		DeliveryTimeout: time.Second,
	})
}

func newRequest(method, target, id string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, target, body)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func asSubject(req *http.Request, subject string) *http.Request {
	claims := &middleware.AppClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: subject}}
	return req.WithContext(context.WithValue(req.Context(), middleware.ClaimsContextKey, claims))
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 20, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 20; x++ {
			img.Set(x, y, color.RGBA{R: 0xff, A: 0xff})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("Failed to encode PNG: %v", err)
	}
	return buf.Bytes()
}

func decodeState(t *testing.T, rec *httptest.ResponseRecorder) widgets.State {
	t.Helper()
	var st widgets.State
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return st
}

func decodeStatus(t *testing.T, rec *httptest.ResponseRecorder) delivery.Status {
	t.Helper()
	var st delivery.Status
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return st
}

func withDocument(t *testing.T, registry *widgets.Registry) *widgets.Widget {
	t.Helper()
	wdg := registry.Create("")
	wdg.UploadDocument(&core.Document{Name: "lease.png", ContentType: "image/png", Data: testPNG(t)})
	return wdg
}

func TestHandleCreate_Success(t *testing.T) {
	registry := newRegistry(nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v2/sessions/", nil)
	rec := httptest.NewRecorder()
	HandleCreate(registry)(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("Status code mismatch: got %d, want %d", rec.Code, http.StatusCreated)
	}
	st := decodeState(t, rec)
	if st.ID == "" {
		t.Error("Response ID is empty")
	}
	if st.Width != 100 || st.Height != 50 {
		t.Errorf("Canvas size mismatch: got %dx%d, want 100x50", st.Width, st.Height)
	}
	if st.Document != nil {
		t.Error("New session should have no document")
	}
	if _, err := registry.Get(st.ID); err != nil {
		t.Errorf("Session not registered: %v", err)
	}
}

func TestHandleList_OnlyOwnSessions(t *testing.T) {
	registry := newRegistry(nil)
	registry.Create("alice")
	registry.Create("alice")
	registry.Create("bob")

	req := asSubject(httptest.NewRequest(http.MethodGet, "/api/v2/sessions/", nil), "alice")
	rec := httptest.NewRecorder()
	HandleList(registry)(rec, req)

	var states []widgets.State
	if err := json.NewDecoder(rec.Body).Decode(&states); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(states) != 2 {
		t.Errorf("Session count mismatch: got %d, want 2", len(states))
	}
}

func TestHandleGet_NotFound(t *testing.T) {
	registry := newRegistry(nil)

	req := newRequest(http.MethodGet, "/api/v2/sessions/missing", "missing", nil)
	rec := httptest.NewRecorder()
	HandleGet(registry)(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("Status code mismatch: got %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestHandleGet_OtherOwnerForbidden(t *testing.T) {
	registry := newRegistry(nil)
	wdg := registry.Create("alice")

	req := asSubject(newRequest(http.MethodGet, "/api/v2/sessions/"+wdg.ID(), wdg.ID(), nil), "bob")
	rec := httptest.NewRecorder()
	HandleGet(registry)(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("Status code mismatch: got %d, want %d", rec.Code, http.StatusForbidden)
	}

	req = asSubject(newRequest(http.MethodGet, "/api/v2/sessions/"+wdg.ID(), wdg.ID(), nil), "alice")
	rec = httptest.NewRecorder()
	HandleGet(registry)(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Status code mismatch: got %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestHandleUploadDocument_RawBody(t *testing.T) {
	registry := newRegistry(nil)
	wdg := registry.Create("")

	req := newRequest(http.MethodPut, "/api/v2/sessions/"+wdg.ID()+"/document?name=lease.png", wdg.ID(), bytes.NewReader(testPNG(t)))
	rec := httptest.NewRecorder()
	HandleUploadDocument(registry)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Status code mismatch: got %d, want %d", rec.Code, http.StatusOK)
	}
	st := decodeState(t, rec)
	if st.Document == nil {
		t.Fatal("Document missing from state")
	}
	if st.Document.Name != "lease.png" {
		t.Errorf("Document name mismatch: got %q, want %q", st.Document.Name, "lease.png")
	}
	if st.Document.ContentType != "image/png" {
		t.Errorf("Content type mismatch: got %q, want %q", st.Document.ContentType, "image/png")
	}
	if !strings.HasPrefix(st.Document.Handle, "blob:") {
		t.Errorf("Handle mismatch: got %q", st.Document.Handle)
	}
}

func TestHandleUploadDocument_Multipart(t *testing.T) {
	registry := newRegistry(nil)
	wdg := registry.Create("")

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "contract.png")
	if err != nil {
		t.Fatalf("CreateFormFile failed: %v", err)
	}
	part.Write(testPNG(t))
	mw.Close()

	req := newRequest(http.MethodPut, "/api/v2/sessions/"+wdg.ID()+"/document", wdg.ID(), &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	HandleUploadDocument(registry)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Status code mismatch: got %d, want %d", rec.Code, http.StatusOK)
	}
	st := decodeState(t, rec)
	if st.Document == nil || st.Document.Name != "contract.png" {
		t.Errorf("Document mismatch: got %+v", st.Document)
	}
}

func TestHandleUploadDocument_Empty(t *testing.T) {
	registry := newRegistry(nil)
	wdg := registry.Create("")

	req := newRequest(http.MethodPut, "/api/v2/sessions/"+wdg.ID()+"/document", wdg.ID(), strings.NewReader(""))
	rec := httptest.NewRecorder()
	HandleUploadDocument(registry)(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Status code mismatch: got %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleSetSignature(t *testing.T) {
	registry := newRegistry(nil)
	wdg := registry.Create("")

	req := newRequest(http.MethodPut, "/api/v2/sessions/"+wdg.ID()+"/signature", wdg.ID(), strings.NewReader(`{"text":"Jane Q. Public"}`))
	rec := httptest.NewRecorder()
	HandleSetSignature(registry)(rec, req)

	st := decodeState(t, rec)
	if st.SignatureText != "Jane Q. Public" {
		t.Errorf("Signature mismatch: got %q, want %q", st.SignatureText, "Jane Q. Public")
	}

	req = newRequest(http.MethodPut, "/api/v2/sessions/"+wdg.ID()+"/signature", wdg.ID(), strings.NewReader(`not json`))
	rec = httptest.NewRecorder()
	HandleSetSignature(registry)(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Status code mismatch: got %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestGestureHandlers_RejectOutOfRangePoints(t *testing.T) {
	registry := newRegistry(nil)
	wdg := registry.Create("")
	id := wdg.ID()

	HandleBegin(registry)(httptest.NewRecorder(), newRequest(http.MethodPost, "/begin", id, strings.NewReader(`{"x":0,"y":0}`)))

	bodies := []string{
		`{"x":-1e39,"y":-1e39}`,
		`{"x":-1e300,"y":5}`,
		`{"x":5,"y":1e300}`,
		`{"x":5,"y":5,"origin":{"x":-1e39,"y":0}}`,
	}
	for _, body := range bodies {
		rec := httptest.NewRecorder()
		HandleExtend(registry)(rec, newRequest(http.MethodPost, "/extend", id, strings.NewReader(body)))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status code mismatch: got %d, want %d", body, rec.Code, http.StatusBadRequest)
		}
	}

	rec := httptest.NewRecorder()
	HandleEnd(registry)(rec, newRequest(http.MethodPost, "/end", id, nil))
	if st := decodeState(t, rec); st.StrokeCount != 1 {
		t.Errorf("Stroke count mismatch: got %d, want 1", st.StrokeCount)
	}
}

func TestGestureHandlers_OneStrokePerGesture(t *testing.T) {
	registry := newRegistry(nil)
	wdg := registry.Create("")
	id := wdg.ID()

	HandleBegin(registry)(httptest.NewRecorder(), newRequest(http.MethodPost, "/begin", id, strings.NewReader(`{"x":10,"y":10}`)))
	HandleExtend(registry)(httptest.NewRecorder(), newRequest(http.MethodPost, "/extend", id, strings.NewReader(`{"x":20,"y":10}`)))
	HandleExtend(registry)(httptest.NewRecorder(), newRequest(http.MethodPost, "/extend", id, strings.NewReader(`{"x":110,"y":60,"origin":{"x":80,"y":40}}`)))

	rec := httptest.NewRecorder()
	HandleEnd(registry)(rec, newRequest(http.MethodPost, "/end", id, nil))

	st := decodeState(t, rec)
	if st.StrokeCount != 1 {
		t.Errorf("Stroke count mismatch: got %d, want 1", st.StrokeCount)
	}
	if st.Drawing {
		t.Error("Gesture should be finished")
	}
}

func TestHandlePreview(t *testing.T) {
	registry := newRegistry(nil)
	empty := registry.Create("")

	rec := httptest.NewRecorder()
	HandlePreview(registry)(rec, newRequest(http.MethodGet, "/preview.png", empty.ID(), nil))
	if rec.Code != http.StatusConflict {
		t.Errorf("Status code mismatch: got %d, want %d", rec.Code, http.StatusConflict)
	}

	wdg := withDocument(t, registry)
	rec = httptest.NewRecorder()
	HandlePreview(registry)(rec, newRequest(http.MethodGet, "/preview.png", wdg.ID(), nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Status code mismatch: got %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content type mismatch: got %q, want %q", ct, "image/png")
	}
	img, err := png.Decode(rec.Body)
	if err != nil {
		t.Fatalf("Preview is not a PNG: %v", err)
	}
	if img.Bounds().Dx() != 100 || img.Bounds().Dy() != 50 {
		t.Errorf("Preview size mismatch: got %v", img.Bounds())
	}
}

func TestTemplateHandlers(t *testing.T) {
	registry := newRegistry(nil)

	empty := registry.Create("")
	rec := httptest.NewRecorder()
	HandleSaveTemplate(registry)(rec, newRequest(http.MethodPost, "/templates/", empty.ID(), nil))
	if rec.Code != http.StatusConflict {
		t.Errorf("Status code mismatch: got %d, want %d", rec.Code, http.StatusConflict)
	}

	wdg := withDocument(t, registry)
	wdg.SetSignatureText("first")
	rec = httptest.NewRecorder()
	HandleSaveTemplate(registry)(rec, newRequest(http.MethodPost, "/templates/", wdg.ID(), nil))
	if rec.Code != http.StatusCreated {
		t.Fatalf("Status code mismatch: got %d, want %d", rec.Code, http.StatusCreated)
	}
	var saved TemplateSaveResponse
	if err := json.NewDecoder(rec.Body).Decode(&saved); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if saved.Index != 0 || saved.Label != "Template 1" {
		t.Errorf("Saved template mismatch: got %+v", saved)
	}

	wdg.SetSignatureText("changed")

	rec = httptest.NewRecorder()
	HandleSelectTemplate(registry)(rec, newRequest(http.MethodPut, "/templates/selected", wdg.ID(), strings.NewReader(`{"index":3}`)))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("Status code mismatch: got %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}

	rec = httptest.NewRecorder()
	HandleSelectTemplate(registry)(rec, newRequest(http.MethodPut, "/templates/selected", wdg.ID(), strings.NewReader(`{}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Status code mismatch: got %d, want %d", rec.Code, http.StatusBadRequest)
	}

	rec = httptest.NewRecorder()
	HandleSelectTemplate(registry)(rec, newRequest(http.MethodPut, "/templates/selected", wdg.ID(), strings.NewReader(`{"index":0}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("Status code mismatch: got %d, want %d", rec.Code, http.StatusOK)
	}
	st := decodeState(t, rec)
	if st.SignatureText != "first" {
		t.Errorf("Signature mismatch: got %q, want %q", st.SignatureText, "first")
	}
	if st.SelectedTemplate == nil || *st.SelectedTemplate != 0 {
		t.Errorf("Selected template mismatch: got %v", st.SelectedTemplate)
	}

	rec = httptest.NewRecorder()
	HandleListTemplates(registry)(rec, newRequest(http.MethodGet, "/templates/", wdg.ID(), nil))
	var views []widgets.TemplateView
	if err := json.NewDecoder(rec.Body).Decode(&views); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(views) != 1 || views[0].Label != "Template 1" {
		t.Errorf("Template list mismatch: got %+v", views)
	}
}

func TestHandleSend_DialogClosed(t *testing.T) {
	registry := newRegistry(&mockSender{})
	wdg := withDocument(t, registry)

	rec := httptest.NewRecorder()
	HandleSend(registry)(rec, newRequest(http.MethodPost, "/delivery/send", wdg.ID(), nil))

	if rec.Code != http.StatusConflict {
		t.Errorf("Status code mismatch: got %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestHandleSend_SuccessClosesDialog(t *testing.T) {
	registry := newRegistry(&mockSender{})
	wdg := withDocument(t, registry)

	rec := httptest.NewRecorder()
	HandleOpenDelivery(registry)(rec, newRequest(http.MethodPost, "/delivery/open", wdg.ID(), strings.NewReader(`{"recipient":"jane@example.com"}`)))
	st := decodeStatus(t, rec)
	if !st.Open || st.Recipient != "jane@example.com" {
		t.Fatalf("Dialog status mismatch: got %+v", st)
	}

	rec = httptest.NewRecorder()
	HandleSend(registry)(rec, newRequest(http.MethodPost, "/delivery/send?wait=true", wdg.ID(), nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Status code mismatch: got %d, want %d", rec.Code, http.StatusOK)
	}
	st = decodeStatus(t, rec)
	if st.Open {
		t.Error("Dialog should close after a successful delivery")
	}
	if st.LastMessageID != "msg-1" {
		t.Errorf("Message id mismatch: got %q, want %q", st.LastMessageID, "msg-1")
	}
}

func TestHandleSend_FailureKeepsDialogOpen(t *testing.T) {
	registry := newRegistry(&mockSender{err: errors.New("relay unreachable")})
	wdg := withDocument(t, registry)

	HandleOpenDelivery(registry)(httptest.NewRecorder(), newRequest(http.MethodPost, "/delivery/open", wdg.ID(), nil))

	rec := httptest.NewRecorder()
	HandleSend(registry)(rec, newRequest(http.MethodPost, "/delivery/send?wait=true", wdg.ID(), strings.NewReader(`{"recipient":"jane@example.com"}`)))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("Status code mismatch: got %d, want %d", rec.Code, http.StatusBadGateway)
	}
	st := decodeStatus(t, rec)
	if !st.Open {
		t.Error("Dialog should stay open after a failed delivery")
	}
	if !strings.Contains(st.LastError, "relay unreachable") {
		t.Errorf("Last error mismatch: got %q", st.LastError)
	}
}

func TestHandleSend_Async(t *testing.T) {
	registry := newRegistry(&mockSender{})
	wdg := withDocument(t, registry)
	wdg.OpenDelivery()

	rec := httptest.NewRecorder()
	HandleSend(registry)(rec, newRequest(http.MethodPost, "/delivery/send", wdg.ID(), nil))
	if rec.Code != http.StatusAccepted {
		t.Errorf("Status code mismatch: got %d, want %d", rec.Code, http.StatusAccepted)
	}
}

func TestHandleCloseDelivery(t *testing.T) {
	registry := newRegistry(&mockSender{})
	wdg := registry.Create("")
	wdg.OpenDelivery()

	rec := httptest.NewRecorder()
	HandleCloseDelivery(registry)(rec, newRequest(http.MethodPost, "/delivery/close", wdg.ID(), nil))
	if st := decodeStatus(t, rec); st.Open {
		t.Error("Dialog should be closed")
	}
}

func TestHandleDelete(t *testing.T) {
	registry := newRegistry(nil)
	wdg := withDocument(t, registry)

	rec := httptest.NewRecorder()
	HandleDelete(registry)(rec, newRequest(http.MethodDelete, "/api/v2/sessions/"+wdg.ID(), wdg.ID(), nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("Status code mismatch: got %d, want %d", rec.Code, http.StatusNoContent)
	}
	if registry.Handles().Live() != 0 {
		t.Errorf("Live handles mismatch: got %d, want 0", registry.Handles().Live())
	}

	rec = httptest.NewRecorder()
	HandleGet(registry)(rec, newRequest(http.MethodGet, "/api/v2/sessions/"+wdg.ID(), wdg.ID(), nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Status code mismatch: got %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestHandleReset(t *testing.T) {
	registry := newRegistry(nil)
	wdg := withDocument(t, registry)
	wdg.SetSignatureText("Jane")

	rec := httptest.NewRecorder()
	HandleReset(registry)(rec, newRequest(http.MethodPost, "/reset", wdg.ID(), nil))
	st := decodeState(t, rec)
	if st.Document != nil || st.SignatureText != "" {
		t.Errorf("Reset state mismatch: got %+v", st)
	}
}
