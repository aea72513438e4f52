package session

import (
	"fmt"
	"iter"
	"quicksign-server/canvas"
	"quicksign-server/core"
	"time"

	"github.com/sirupsen/logrus"
)

// Template is a snapshot of a session taken at save time.
type Template struct {
	ID            string          `json:"id"`
	Document      *core.Document  `json:"-"`
	SignatureText string          `json:"signatureText"`
	InitialsText  string          `json:"initialsText"`
	Ink           []canvas.Stroke `json:"-"`
	SavedAt       time.Time       `json:"savedAt"`
}

func (t Template) clone() Template {
	ink := make([]canvas.Stroke, len(t.Ink))
	copy(ink, t.Ink)
	t.Ink = ink
	return t
}

// TemplateStore is an append-only list of templates with an optional
// selected index.
type TemplateStore struct {
	templates []Template
	selected  int
}

func NewTemplateStore() *TemplateStore {
	return &TemplateStore{selected: -1}
}

// Save appends a snapshot of sess and selects it.
func (s *TemplateStore) Save(sess *SignatureSession) (int, error) {
	t, err := sess.Snapshot()
	if err != nil {
		return -1, err
	}

	index := len(s.templates)
	s.templates = append(s.templates, t)
	s.selected = index

	logrus.WithFields(logrus.Fields{
		"session_id":  sess.ID(),
		"template_id": t.ID,
		"index":       index,
	}).Info("Template saved")
	return index, nil
}

// Select points the selection at index. Out-of-range indices leave the
// selection unchanged.
func (s *TemplateStore) Select(index int) error {
	if index < 0 || index >= len(s.templates) {
		return fmt.Errorf("%w: %d not in [0, %d)", core.ErrTemplateIndexOutOfRange, index, len(s.templates))
	}
	s.selected = index
	return nil
}

func (s *TemplateStore) Selected() (int, bool) {
	return s.selected, s.selected >= 0
}

func (s *TemplateStore) Len() int {
	return len(s.templates)
}

func (s *TemplateStore) At(index int) (Template, error) {
	if index < 0 || index >= len(s.templates) {
		return Template{}, fmt.Errorf("%w: %d not in [0, %d)", core.ErrTemplateIndexOutOfRange, index, len(s.templates))
	}
	return s.templates[index].clone(), nil
}

// List yields templates in insertion order. The sequence can be ranged over
// any number of times.
func (s *TemplateStore) List() iter.Seq2[int, Template] {
	return func(yield func(int, Template) bool) {
		for i := 0; i < len(s.templates); i++ {
			if !yield(i, s.templates[i].clone()) {
				return
			}
		}
	}
}

// Label is the 1-indexed display name of the template at index.
func Label(index int) string {
	return fmt.Sprintf("Template %d", index+1)
}
