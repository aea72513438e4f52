package widgets

import (
	"fmt"
	"quicksign-server/core"
	"quicksign-server/delivery"
	"quicksign-server/overlay"
	"quicksign-server/session"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Width           int
	Height          int
	Sender          delivery.Sender
	DeliveryTimeout time.Duration
}

// Registry tracks mounted widgets and the display handles they share.
type Registry struct {
	mu      sync.RWMutex
	config  Config
	handles *overlay.HandleRegistry
	widgets map[string]*Widget
}

func NewRegistry(config Config) *Registry {
	if config.Sender == nil {
		config.Sender = delivery.LogSender{}
	}
	return &Registry{
		config:  config,
		handles: overlay.NewHandleRegistry(),
		widgets: make(map[string]*Widget),
	}
}

func (r *Registry) Handles() *overlay.HandleRegistry {
	return r.handles
}

// Create mounts a new, empty widget.
func (r *Registry) Create(owner string) *Widget {
	id := ulid.Make().String()
	w := &Widget{
		id:        id,
		owner:     owner,
		createdAt: time.Now(),
		session:   session.NewSignatureSession(id, r.handles, r.config.Width, r.config.Height),
		templates: session.NewTemplateStore(),
		delivery:  delivery.NewCoordinator(r.config.Sender, r.config.DeliveryTimeout),
	}

	r.mu.Lock()
	r.widgets[id] = w
	r.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"widget_id": id,
		"owner":     owner,
	}).Info("Widget mounted")
	return w
}

func (r *Registry) Get(id string) (*Widget, error) {
	r.mu.RLock()
	w, ok := r.widgets[id]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("widget %s: %w", id, core.ErrWidgetNotFound)
	}
	return w, nil
}

// Close unmounts a widget and releases its display handle.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	w, ok := r.widgets[id]
	delete(r.widgets, id)
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("widget %s: %w", id, core.ErrWidgetNotFound)
	}
	w.close()
	return nil
}

// List returns the widgets mounted by owner, oldest first.
func (r *Registry) List(owner string) []*Widget {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]*Widget, 0, len(r.widgets))
	for _, w := range r.widgets {
		if w.owner == owner {
			list = append(list, w)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].id < list[j].id
	})
	return list
}

func (r *Registry) CloseAll() {
	r.mu.Lock()
	widgets := r.widgets
	r.widgets = make(map[string]*Widget)
	r.mu.Unlock()

	for _, w := range widgets {
		w.close()
	}
}
