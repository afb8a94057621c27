package stitch

import (
	"math"
	"testing"

	"pan360/internal/imaging"
)

type remapStub struct {
	fn func(img *imaging.Image, mapX, mapY []float32) (*imaging.Image, error)
}

func (r remapStub) Remap(img *imaging.Image, mapX, mapY []float32) (*imaging.Image, error) {
	return r.fn(img, mapX, mapY)
}

// identityRemap ignores the maps and hands back a copy, which keeps strategy
// tests independent of the native resampler.
var identityRemap = remapStub{fn: func(img *imaging.Image, _, _ []float32) (*imaging.Image, error) {
	return img.Clone(), nil
}}

func TestFocalLength(t *testing.T) {
	got := FocalLength(640, 54.0)
	want := 640.0 / (2.0 * math.Tan(27.0*math.Pi/180.0))
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("FocalLength = %v, want %v", got, want)
	}
	if got < 620 || got > 640 {
		t.Fatalf("focal length %v outside plausible range for 640px at 54 degrees", got)
	}
}

func TestMapsCenterAndEdges(t *testing.T) {
	const (
		width  = 64
		height = 48
	)
	focal := FocalLength(width, 54.0)
	p := NewCylindricalProjector(identityRemap)
	mapX, mapY := p.Maps(width, height, focal)

	if len(mapX) != width*height || len(mapY) != width*height {
		t.Fatalf("map lengths %d/%d, want %d", len(mapX), len(mapY), width*height)
	}

	// The center column and row map to themselves.
	cx, cy := width/2, height/2
	ci := cy*width + cx
	if math.Abs(float64(mapX[ci])-float64(cx)) > 1e-3 {
		t.Errorf("center srcX = %v, want %v", mapX[ci], cx)
	}
	if math.Abs(float64(mapY[ci])-float64(cy)) > 1e-3 {
		t.Errorf("center srcY = %v, want %v", mapY[ci], cy)
	}

	// Edge columns sample beyond the center distance: tan(phi) >= phi.
	ei := cy*width + 0
	phi := (0.0 - float64(cx)) / focal
	wantX := focal*math.Tan(phi) + float64(cx)
	if math.Abs(float64(mapX[ei])-wantX) > 1e-3 {
		t.Errorf("edge srcX = %v, want %v", mapX[ei], wantX)
	}
	if float64(mapX[ei]) > 0 {
		t.Errorf("edge column srcX = %v, should pull from at or beyond the frame edge", mapX[ei])
	}

	// Corners stretch vertically by 1/cos(phi).
	corner := 0*width + 0
	v := (0.0 - float64(cy)) / focal
	wantY := focal*v/math.Cos(phi) + float64(cy)
	if math.Abs(float64(mapY[corner])-wantY) > 1e-3 {
		t.Errorf("corner srcY = %v, want %v", mapY[corner], wantY)
	}
	if float64(mapY[corner]) >= 0 {
		t.Errorf("corner srcY = %v, should sample above the frame", mapY[corner])
	}
}

func TestProjectAllPreservesOrder(t *testing.T) {
	// Tag each frame with its index so the output order is observable.
	frames := make([]*SourceFrame, 6)
	for i := range frames {
		img := imaging.New(8, 4)
		img.SetPixel(0, 0, uint8(i+1), 0, 0)
		frames[i] = &SourceFrame{Index: i, Bearing: float64(i) * 45, HasBearing: true, Image: img}
	}

	p := NewCylindricalProjector(identityRemap)
	projected, err := p.ProjectAll(frames, FocalLength(8, 54.0), 3)
	if err != nil {
		t.Fatalf("ProjectAll: %v", err)
	}
	for i, frame := range projected {
		if frame.Source.Index != i {
			t.Errorf("slot %d holds frame %d", i, frame.Source.Index)
		}
		if b, _, _ := frame.Image.Pixel(0, 0); b != uint8(i+1) {
			t.Errorf("slot %d pixel tag = %d, want %d", i, b, i+1)
		}
	}
}
