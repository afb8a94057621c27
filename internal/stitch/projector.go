package stitch

import (
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"pan360/internal/imaging"
)

// CylindricalProjector warps flat frames onto a cylinder whose radius is the
// focal length implied by the horizontal field of view.
type CylindricalProjector struct {
	remap remapper
}

func NewCylindricalProjector(r remapper) *CylindricalProjector {
	return &CylindricalProjector{remap: r}
}

// FocalLength derives the focal length in pixels from the frame width and
// the horizontal field of view in degrees.
func FocalLength(frameWidth int, hfovDegrees float64) float64 {
	return float64(frameWidth) / (2.0 * math.Tan(hfovDegrees*math.Pi/360.0))
}

// PixelsPerDegree is the angular resolution of a projected frame.
func PixelsPerDegree(frameWidth int, hfovDegrees float64) float64 {
	return float64(frameWidth) / hfovDegrees
}

// Maps builds the inverse coordinate maps for a w by h frame. For each
// destination pixel they name the source pixel to sample:
//
//	srcX = f*tan(phi) + w/2        phi = (dstX - w/2) / f
//	srcY = f*v/cos(phi) + h/2      v   = (dstY - h/2) / f
//
// Out-of-range samples land outside the source and come back black.
func (p *CylindricalProjector) Maps(width, height int, focal float64) (mapX, mapY []float32) {
	mapX = make([]float32, width*height)
	mapY = make([]float32, width*height)
	cx := float64(width) / 2.0
	cy := float64(height) / 2.0
	for x := 0; x < width; x++ {
		phi := (float64(x) - cx) / focal
		sx := focal*math.Tan(phi) + cx
		invCos := 1.0 / math.Cos(phi)
		for y := 0; y < height; y++ {
			v := (float64(y) - cy) / focal
			i := y*width + x
			mapX[i] = float32(sx)
			mapY[i] = float32(focal*v*invCos + cy)
		}
	}
	return mapX, mapY
}

// Project warps a single frame. The output keeps the input dimensions; the
// unused margins are black and get cropped after compositing.
func (p *CylindricalProjector) Project(img *imaging.Image, focal float64) (*imaging.Image, error) {
	mapX, mapY := p.Maps(img.Width, img.Height, focal)
	out, err := p.remap.Remap(img, mapX, mapY)
	if err != nil {
		return nil, fmt.Errorf("cylindrical remap: %w", err)
	}
	return out, nil
}

// ProjectAll warps every frame concurrently, preserving input order.
func (p *CylindricalProjector) ProjectAll(frames []*SourceFrame, focal float64, workers int) ([]*ProjectedFrame, error) {
	out := make([]*ProjectedFrame, len(frames))
	var g errgroup.Group
	g.SetLimit(workers)
	for i, frame := range frames {
		g.Go(func() error {
			warped, err := p.Project(frame.Image, focal)
			if err != nil {
				return fmt.Errorf("frame %d (%s): %w", frame.Index, frame.Path, err)
			}
			out[i] = &ProjectedFrame{Source: frame, Image: warped, FocalLength: focal}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
