package processor

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
)

const (
	// offsetSteps is how many crop positions are scored along an axis.
	offsetSteps = 16
	// analysisSize bounds the longer side of the window scored for entropy.
	analysisSize = 256
)

// attentionOffset returns the top-left corner, relative to the image
// bounds, of the cw×ch source window whose luminance histogram has the
// highest entropy. Scoring runs on a copy shrunk so the window is at most
// analysisSize pixels on its longer side.
func attentionOffset(img image.Image, cw, ch int) image.Point {
	b := img.Bounds()
	sw, sh := b.Dx(), b.Dy()
	if cw >= sw && ch >= sh {
		return image.Point{}
	}

	scale := math.Min(1, analysisSize/float64(max(cw, ch)))

	var small *image.NRGBA
	if scale < 1 {
		small = imaging.Resize(img,
			max(1, int(math.Round(float64(sw)*scale))),
			max(1, int(math.Round(float64(sh)*scale))),
			imaging.Box)
	} else {
		small = imaging.Clone(img)
	}

	aw := min(small.Bounds().Dx(), max(1, int(math.Round(float64(cw)*scale))))
	ah := min(small.Bounds().Dy(), max(1, int(math.Round(float64(ch)*scale))))
	at := bestOffset(small, aw, ah)

	x := min(sw-cw, int(math.Round(float64(at.X)/scale)))
	y := min(sh-ch, int(math.Round(float64(at.Y)/scale)))

	return image.Pt(max(0, x), max(0, y))
}

// bestOffset returns the top-left corner of the most detailed w×h window.
// The centre window wins ties.
func bestOffset(img *image.NRGBA, w, h int) image.Point {
	dx := img.Bounds().Dx() - w
	dy := img.Bounds().Dy() - h

	best := image.Pt(dx/2, dy/2)
	if dx == 0 && dy == 0 {
		return best
	}

	bestScore := entropy(imaging.Crop(img, image.Rect(best.X, best.Y, best.X+w, best.Y+h)))

	for _, y := range offsets(dy) {
		for _, x := range offsets(dx) {
			score := entropy(imaging.Crop(img, image.Rect(x, y, x+w, y+h)))
			if score > bestScore {
				best, bestScore = image.Pt(x, y), score
			}
		}
	}

	return best
}

// offsets lists candidate positions in [0, overflow], both ends included.
func offsets(overflow int) []int {
	if overflow <= 0 {
		return []int{0}
	}

	step := max(1, overflow/offsetSteps)
	out := make([]int, 0, offsetSteps+2)
	for o := 0; o < overflow; o += step {
		out = append(out, o)
	}

	return append(out, overflow)
}

func entropy(img image.Image) float64 {
	var e float64
	for _, p := range imaging.Histogram(img) {
		if p > 0 {
			e -= p * math.Log2(p)
		}
	}
	return e
}
