// Package widgets hosts mounted signing widgets. Each widget bundles a
// session, its templates and its delivery dialog behind one mutex, so every
// operation runs as if on a single UI thread.
package widgets

import (
	"context"
	"quicksign-server/canvas"
	"quicksign-server/core"
	"quicksign-server/delivery"
	"quicksign-server/session"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type (
	DocumentView struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		ContentType string `json:"contentType"`
		Size        int    `json:"size"`
		Handle      string `json:"handle"`
	}

	TemplateView struct {
		Index         int       `json:"index"`
		Label         string    `json:"label"`
		ID            string    `json:"id"`
		DocumentID    string    `json:"documentId"`
		SignatureText string    `json:"signatureText"`
		InitialsText  string    `json:"initialsText"`
		StrokeCount   int       `json:"strokeCount"`
		SavedAt       time.Time `json:"savedAt"`
	}

	State struct {
		ID               string          `json:"id"`
		CreatedAt        time.Time       `json:"createdAt"`
		Width            int             `json:"width"`
		Height           int             `json:"height"`
		Document         *DocumentView   `json:"document,omitempty"`
		SignatureText    string          `json:"signatureText"`
		InitialsText     string          `json:"initialsText"`
		StrokeCount      int             `json:"strokeCount"`
		Drawing          bool            `json:"drawing"`
		TemplateCount    int             `json:"templateCount"`
		SelectedTemplate *int            `json:"selectedTemplate,omitempty"`
		Delivery         delivery.Status `json:"delivery"`
	}
)

type Widget struct {
	mu        sync.Mutex
	id        string
	owner     string
	createdAt time.Time

	session   *session.SignatureSession
	templates *session.TemplateStore
	delivery  *delivery.Coordinator
}

func (w *Widget) ID() string {
	return w.id
}

// Owner is the authenticated subject that mounted the widget, or empty.
func (w *Widget) Owner() string {
	return w.owner
}

func (w *Widget) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stateLocked()
}

func (w *Widget) stateLocked() State {
	bounds := w.session.Bounds()
	st := State{
		ID:            w.id,
		CreatedAt:     w.createdAt,
		Width:         bounds.Dx(),
		Height:        bounds.Dy(),
		SignatureText: w.session.SignatureText(),
		InitialsText:  w.session.InitialsText(),
		StrokeCount:   w.session.StrokeCount(),
		Drawing:       w.session.Drawing(),
		TemplateCount: w.templates.Len(),
		Delivery:      w.delivery.Status(),
	}
	if doc := w.session.Document(); doc != nil {
		handle, _ := w.session.DisplayHandle()
		st.Document = &DocumentView{
			ID:          doc.ID,
			Name:        doc.Name,
			ContentType: doc.ContentType,
			Size:        len(doc.Data),
			Handle:      handle,
		}
	}
	if selected, ok := w.templates.Selected(); ok {
		st.SelectedTemplate = &selected
	}
	return st
}

func (w *Widget) UploadDocument(doc *core.Document) State {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.session.UploadDocument(doc)
	return w.stateLocked()
}

func (w *Widget) SetSignatureText(text string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.session.SetSignatureText(text)
}

func (w *Widget) SetInitialsText(text string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.session.SetInitialsText(text)
}

// Begin starts a gesture. A non-nil origin means p is in client coordinates.
func (w *Widget) Begin(p canvas.Point, origin *canvas.Point) State {
	w.mu.Lock()
	defer w.mu.Unlock()
	if origin != nil {
		w.session.BeginAt(p, *origin)
	} else {
		w.session.Begin(p)
	}
	return w.stateLocked()
}

func (w *Widget) Extend(p canvas.Point, origin *canvas.Point) State {
	w.mu.Lock()
	defer w.mu.Unlock()
	if origin != nil {
		w.session.ExtendAt(p, *origin)
	} else {
		w.session.Extend(p)
	}
	return w.stateLocked()
}

func (w *Widget) End() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.session.End()
	return w.stateLocked()
}

func (w *Widget) SaveTemplate() (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.templates.Save(w.session)
}

// SelectTemplate selects the template at index and loads it into the live
// session.
func (w *Widget) SelectTemplate(index int) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.templates.Select(index); err != nil {
		return err
	}
	t, err := w.templates.At(index)
	if err != nil {
		return err
	}
	w.session.ApplyTemplate(t)
	return nil
}

func (w *Widget) Templates() []TemplateView {
	w.mu.Lock()
	defer w.mu.Unlock()

	views := make([]TemplateView, 0, w.templates.Len())
	for i, t := range w.templates.List() {
		view := TemplateView{
			Index:         i,
			Label:         session.Label(i),
			ID:            t.ID,
			SignatureText: t.SignatureText,
			InitialsText:  t.InitialsText,
			StrokeCount:   len(t.Ink),
			SavedAt:       t.SavedAt,
		}
		if t.Document != nil {
			view.DocumentID = t.Document.ID
		}
		views = append(views, view)
	}
	return views
}

func (w *Widget) PreviewPNG() ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.session.RenderPNG()
}

func (w *Widget) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.session.Reset()
}

func (w *Widget) OpenDelivery() {
	w.delivery.Open()
}

func (w *Widget) CloseDelivery() {
	w.delivery.Close()
}

func (w *Widget) SetRecipient(recipient string) {
	w.delivery.SetRecipient(recipient)
}

func (w *Widget) DeliveryStatus() delivery.Status {
	return w.delivery.Status()
}

// Send renders the signed document now and delivers it in the background.
func (w *Widget) Send(ctx context.Context) (<-chan delivery.Result, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.delivery.Send(ctx, ownedSession{w.session, w.owner})
}

// ownedSession tags the rendered document with the widget owner so the
// archived artifact can be access-checked later.
type ownedSession struct {
	*session.SignatureSession
	owner string
}

func (s ownedSession) Owner() string {
	return s.owner
}

func (w *Widget) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.session.Close()
	logrus.WithField("widget_id", w.id).Info("Widget closed")
}
