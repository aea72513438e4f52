// Package session holds the live signing state of one widget and the
// templates saved from it.
package session

import (
	"image"
	"quicksign-server/canvas"
	"quicksign-server/core"
	"quicksign-server/overlay"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// SignatureSession owns the document, the two text fields and the ink layer
// of one signing widget. It is not safe for concurrent use.
type SignatureSession struct {
	id            string
	signatureText string
	initialsText  string

	ink     *canvas.InkLayer
	canvas  *canvas.StrokeCanvas
	overlay *overlay.DocumentOverlay
}

func NewSignatureSession(id string, registry *overlay.HandleRegistry, width, height int) *SignatureSession {
	surface := canvas.NewSurface(width, height)
	ink := canvas.NewInkLayer()
	return &SignatureSession{
		id:      id,
		ink:     ink,
		canvas:  canvas.NewStrokeCanvas(surface, ink),
		overlay: overlay.NewDocumentOverlay(registry, surface.Bounds()),
	}
}

func (s *SignatureSession) ID() string {
	return s.id
}

func (s *SignatureSession) SignatureText() string {
	return s.signatureText
}

func (s *SignatureSession) InitialsText() string {
	return s.initialsText
}

func (s *SignatureSession) SetSignatureText(text string) {
	s.signatureText = text
}

func (s *SignatureSession) SetInitialsText(text string) {
	s.initialsText = text
}

// UploadDocument replaces the current document. Text and ink are kept.
func (s *SignatureSession) UploadDocument(doc *core.Document) {
	if doc.ID == "" {
		doc.ID = ulid.Make().String()
	}
	s.overlay.Show(doc)

	logrus.WithFields(logrus.Fields{
		"session_id":  s.id,
		"document_id": doc.ID,
		"data_length": len(doc.Data),
	}).Info("Document uploaded")
}

func (s *SignatureSession) Document() *core.Document {
	return s.overlay.Document()
}

func (s *SignatureSession) DisplayHandle() (string, bool) {
	return s.overlay.Handle()
}

func (s *SignatureSession) Bounds() image.Rectangle {
	return s.overlay.Bounds()
}

func (s *SignatureSession) Begin(p canvas.Point) {
	s.canvas.Begin(p)
}

func (s *SignatureSession) Extend(p canvas.Point) {
	s.canvas.Extend(p)
}

func (s *SignatureSession) End() {
	s.canvas.End()
}

// BeginAt starts a gesture from a client-space position and the canvas
// element's origin.
func (s *SignatureSession) BeginAt(client, origin canvas.Point) {
	s.canvas.Begin(canvas.ToLocalPoint(client, origin))
}

func (s *SignatureSession) ExtendAt(client, origin canvas.Point) {
	s.canvas.Extend(canvas.ToLocalPoint(client, origin))
}

// Drawing reports whether a gesture is in progress.
func (s *SignatureSession) Drawing() bool {
	return s.canvas.Active()
}

func (s *SignatureSession) StrokeCount() int {
	return s.ink.Count()
}

func (s *SignatureSession) Strokes() []canvas.Stroke {
	return s.ink.Strokes()
}

// Snapshot copies the current state into a Template.
func (s *SignatureSession) Snapshot() (Template, error) {
	doc := s.overlay.Document()
	if doc == nil {
		return Template{}, core.ErrMissingDocument
	}
	return Template{
		ID:            ulid.Make().String(),
		Document:      doc,
		SignatureText: s.signatureText,
		InitialsText:  s.initialsText,
		Ink:           s.ink.Strokes(),
		SavedAt:       time.Now(),
	}, nil
}

// ApplyTemplate loads a template into the session: both text fields and the
// ink are replaced, and the template's document is shown if it differs from
// the current one.
func (s *SignatureSession) ApplyTemplate(t Template) {
	s.signatureText = t.SignatureText
	s.initialsText = t.InitialsText
	s.ink.Replace(t.Ink)
	s.canvas.Redraw()

	if t.Document != nil && t.Document != s.overlay.Document() {
		s.overlay.Show(t.Document)
	}

	logrus.WithFields(logrus.Fields{
		"session_id":  s.id,
		"template_id": t.ID,
		"strokes":     len(t.Ink),
	}).Info("Template applied")
}

// Render composes the document and ink into one image.
func (s *SignatureSession) Render() (*image.RGBA, error) {
	if s.overlay.Document() == nil {
		return nil, core.ErrMissingDocument
	}
	return s.overlay.Compose(s.canvas.Surface().Image()), nil
}

// RenderPNG returns the composed image encoded as PNG.
func (s *SignatureSession) RenderPNG() ([]byte, error) {
	img, err := s.Render()
	if err != nil {
		return nil, err
	}
	return overlay.EncodePNG(img)
}

// Reset returns the session to its empty mount state.
func (s *SignatureSession) Reset() {
	s.signatureText = ""
	s.initialsText = ""
	s.ink.Clear()
	s.canvas.Redraw()
	s.overlay.Release()
	logrus.WithField("session_id", s.id).Info("Session reset")
}

// Close releases the display handle. The session must not be used afterwards.
func (s *SignatureSession) Close() {
	s.overlay.Release()
}
