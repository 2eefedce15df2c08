package processor

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	_ "golang.org/x/image/webp" // register the WebP decoder for source images
)

// Quality is the JPEG quality of every rendition.
const Quality = 85

// Anchor selects which part of the image survives the cover crop.
type Anchor int

const (
	AnchorAttention Anchor = iota // highest-entropy window
	AnchorCentre                  // geometric centre
)

// ParseAnchor maps a configuration value to an Anchor.
func ParseAnchor(s string) (Anchor, error) {
	switch s {
	case "attention", "entropy":
		return AnchorAttention, nil
	case "centre", "center":
		return AnchorCentre, nil
	default:
		return 0, fmt.Errorf("unknown crop anchor %q", s)
	}
}

// Watermark is drawn in the bottom-right corner when Text is not empty.
// Without FontPath the built-in bitmap face is used.
type Watermark struct {
	Text     string
	FontPath string
}

// Options describes the target rendition.
type Options struct {
	Width     int
	Height    int
	Anchor    Anchor
	Watermark Watermark
}

// Processor turns source image bytes into fixed-size JPEG renditions.
type Processor struct {
	opts Options
}

// New creates a new Processor producing renditions described by opts.
func New(opts Options) *Processor {
	return &Processor{opts: opts}
}

// Render decodes src, cover-fits it to the target size, applies the
// watermark and encodes the result as JPEG.
func (p *Processor) Render(src io.Reader) ([]byte, error) {
	img, err := imaging.Decode(src)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	out := p.cover(img)

	if p.opts.Watermark.Text != "" {
		out, err = p.watermark(out)
		if err != nil {
			return nil, err
		}
	}

	buf := bytes.NewBuffer(nil)
	if err := imaging.Encode(buf, out, imaging.JPEG, imaging.JPEGQuality(Quality)); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	return buf.Bytes(), nil
}

// cover scales img to fill the target box and crops the overflow.
// The crop is taken in source pixels first so only the kept window is
// resampled, whatever the source aspect ratio.
func (p *Processor) cover(img image.Image) image.Image {
	w, h := p.opts.Width, p.opts.Height
	b := img.Bounds()
	cw, ch := coverWindow(b.Dx(), b.Dy(), w, h)

	at := image.Pt((b.Dx()-cw)/2, (b.Dy()-ch)/2)
	if p.opts.Anchor == AnchorAttention {
		at = attentionOffset(img, cw, ch)
	}

	at = at.Add(b.Min)
	crop := imaging.Crop(img, image.Rect(at.X, at.Y, at.X+cw, at.Y+ch))

	return imaging.Resize(crop, w, h, imaging.Lanczos)
}

// coverWindow returns the size of the source region that, scaled up or
// down, exactly covers a w×h box.
func coverWindow(sw, sh, w, h int) (int, int) {
	scale := math.Max(float64(w)/float64(sw), float64(h)/float64(sh))

	cw := min(sw, max(1, int(math.Round(float64(w)/scale))))
	ch := min(sh, max(1, int(math.Round(float64(h)/scale))))

	return cw, ch
}

// watermark draws the configured text in the bottom-right corner.
func (p *Processor) watermark(img image.Image) (image.Image, error) {
	dc := gg.NewContextForImage(img)
	dc.SetColor(color.White)

	if p.opts.Watermark.FontPath != "" {
		fontSize := float64(dc.Width()) * 0.05 // 5% of the image width
		if err := dc.LoadFontFace(p.opts.Watermark.FontPath, fontSize); err != nil {
			return nil, fmt.Errorf("failed to load font: %w", err)
		}
	}

	margin := 10.0
	x := float64(dc.Width()) - margin
	y := float64(dc.Height()) - margin

	dc.DrawStringAnchored(p.opts.Watermark.Text, x, y, 1, 0) // baseline at y, right-aligned
	dc.Fill()

	return dc.Image(), nil
}
