package overlay

import (
	"bytes"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"quicksign-server/core"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/sirupsen/logrus"
)

// MaxDocumentPixels caps the decoded size of a document image. Larger images
// are kept as opaque blobs with a blank backdrop.
const MaxDocumentPixels = 4096 * 4096

// DocumentOverlay renders the current document as a backdrop with the same
// bounds as the ink surface, so canvas pixels map 1:1 onto the document.
type DocumentOverlay struct {
	registry *HandleRegistry
	bounds   image.Rectangle

	document *core.Document
	handle   string
	backdrop *image.RGBA
}

func NewDocumentOverlay(registry *HandleRegistry, bounds image.Rectangle) *DocumentOverlay {
	return &DocumentOverlay{registry: registry, bounds: bounds}
}

// Show replaces the current document, releasing the previous display handle
// and issuing a new one. Blobs that do not decode as an image are kept but
// render as an empty backdrop.
func (o *DocumentOverlay) Show(doc *core.Document) {
	o.Release()

	o.document = doc
	o.handle = o.registry.Create(doc)

	log := logrus.WithFields(logrus.Fields{
		"document_id": doc.ID,
		"handle":      o.handle,
	})

	cfg, format, err := image.DecodeConfig(bytes.NewReader(doc.Data))
	if err != nil {
		log.WithError(err).Warn("Document is not a decodable image, backdrop left blank")
		return
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > MaxDocumentPixels {
		log.WithFields(logrus.Fields{
			"format": format,
			"width":  cfg.Width,
			"height": cfg.Height,
		}).Warn("Document image exceeds the pixel limit, backdrop left blank")
		return
	}

	src, format, err := image.Decode(bytes.NewReader(doc.Data))
	if err != nil {
		log.WithError(err).Warn("Document is not a decodable image, backdrop left blank")
		return
	}

	backdrop := image.NewRGBA(o.bounds)
	draw.CatmullRom.Scale(backdrop, o.bounds, src, src.Bounds(), draw.Over, nil)
	o.backdrop = backdrop
	log.WithField("format", format).Debug("Document backdrop rendered")
}

// Release drops the document and revokes its display handle.
func (o *DocumentOverlay) Release() {
	if o.handle != "" {
		o.registry.Release(o.handle)
	}
	o.document = nil
	o.handle = ""
	o.backdrop = nil
}

func (o *DocumentOverlay) Document() *core.Document {
	return o.document
}

// Handle returns the live display handle, if a document is shown.
func (o *DocumentOverlay) Handle() (string, bool) {
	return o.handle, o.handle != ""
}

func (o *DocumentOverlay) Bounds() image.Rectangle {
	return o.bounds
}

// Compose flattens the backdrop and ink into a single opaque image.
func (o *DocumentOverlay) Compose(ink image.Image) *image.RGBA {
	out := image.NewRGBA(o.bounds)
	draw.Draw(out, o.bounds, image.NewUniform(color.White), image.Point{}, draw.Src)
	if o.backdrop != nil {
		draw.Draw(out, o.bounds, o.backdrop, o.bounds.Min, draw.Over)
	}
	if ink != nil {
		draw.Draw(out, o.bounds, ink, ink.Bounds().Min, draw.Over)
	}
	return out
}

// EncodePNG exports a composed image.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
