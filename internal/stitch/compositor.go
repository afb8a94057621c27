package stitch

import (
	"errors"
	"math"

	"pan360/internal/imaging"
)

// ErrEmptyCanvas reports that no canvas pixel cleared the crop threshold.
var ErrEmptyCanvas = errors.New("no canvas pixels above crop threshold")

// CompositorOptions control how frames are accumulated onto the canvas.
type CompositorOptions struct {
	BlendWidth    int     // feather ramp in pixels, 0 means hard replace
	Wrap          bool    // wrap column indices modulo canvas width
	Debug         bool    // overwrite instead of blending, keeps seams visible
	CropThreshold float32 // minimum accumulated weight to keep a pixel
}

// FeatheredCompositor accumulates weighted pixel contributions in floating
// point and normalizes once all frames are placed. A compositor serves one
// assembly at a time.
type FeatheredCompositor struct {
	opts   CompositorOptions
	width  int
	height int
	acc    []float32
	weight []float32
}

func NewFeatheredCompositor(opts CompositorOptions) *FeatheredCompositor {
	if opts.CropThreshold <= 0 {
		opts.CropThreshold = 0.1
	}
	return &FeatheredCompositor{opts: opts}
}

// Begin allocates a fresh canvas, discarding any previous accumulation.
func (c *FeatheredCompositor) Begin(width, height int) {
	c.width = width
	c.height = height
	c.acc = make([]float32, width*height*imaging.Channels)
	c.weight = make([]float32, width*height)
}

// CanvasWidth computes the canvas width for an angular span.
func CanvasWidth(pixelsPerDegree, totalAngle float64) int {
	return int(math.Round(pixelsPerDegree * totalAngle))
}

// featherMask ramps linearly from 0 at both edges to 1 across blend pixels.
// A non-positive blend gives full weight everywhere.
func featherMask(width, blend int) []float32 {
	mask := make([]float32, width)
	if blend <= 0 {
		for i := range mask {
			mask[i] = 1
		}
		return mask
	}
	b := float32(blend)
	for x := 0; x < width; x++ {
		left := float32(x) / b
		right := float32(width-1-x) / b
		w := left
		if right < w {
			w = right
		}
		if w > 1 {
			w = 1
		}
		if w < 0 {
			w = 0
		}
		mask[x] = w
	}
	return mask
}

// Place accumulates one projected frame starting at the given column offset.
// Columns falling outside a non-wrapping canvas are clipped. With a zero
// blend width, or in debug mode, the frame overwrites instead of blending so
// later frames win in the overlap.
func (c *FeatheredCompositor) Place(img *imaging.Image, xOffset int) {
	hard := c.opts.Debug || c.opts.BlendWidth <= 0
	mask := featherMask(img.Width, c.opts.BlendWidth)
	for x := 0; x < img.Width; x++ {
		cx := xOffset + x
		if c.opts.Wrap {
			cx = ((cx % c.width) + c.width) % c.width
		} else if cx < 0 || cx >= c.width {
			continue
		}
		w := mask[x]
		for y := 0; y < img.Height && y < c.height; y++ {
			src := (y*img.Width + x) * imaging.Channels
			dst := (y*c.width + cx) * imaging.Channels
			wi := y*c.width + cx
			if hard {
				c.acc[dst] = float32(img.Pix[src])
				c.acc[dst+1] = float32(img.Pix[src+1])
				c.acc[dst+2] = float32(img.Pix[src+2])
				c.weight[wi] = 1
				continue
			}
			c.acc[dst] += float32(img.Pix[src]) * w
			c.acc[dst+1] += float32(img.Pix[src+1]) * w
			c.acc[dst+2] += float32(img.Pix[src+2]) * w
			c.weight[wi] += w
		}
	}
}

// Finalize normalizes the accumulation and crops to the populated region.
func (c *FeatheredCompositor) Finalize() (*imaging.Image, error) {
	out := imaging.New(c.width, c.height)
	for i, w := range c.weight {
		if w <= 0 {
			continue
		}
		for ch := 0; ch < imaging.Channels; ch++ {
			v := c.acc[i*imaging.Channels+ch] / w
			if v < 0 {
				v = 0
			}
			if v > 255 {
				v = 255
			}
			out.Pix[i*imaging.Channels+ch] = uint8(v + 0.5)
		}
	}

	minX, minY := c.width, c.height
	maxX, maxY := -1, -1
	for y := 0; y < c.height; y++ {
		for x := 0; x < c.width; x++ {
			if c.weight[y*c.width+x] > c.opts.CropThreshold {
				if x < minX {
					minX = x
				}
				if x > maxX {
					maxX = x
				}
				if y < minY {
					minY = y
				}
				if y > maxY {
					maxY = y
				}
			}
		}
	}
	if maxX < 0 {
		return nil, ErrEmptyCanvas
	}
	return out.Crop(minX, minY, maxX-minX+1, maxY-minY+1), nil
}
