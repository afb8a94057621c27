package imaging

import "fmt"

// Channels is the number of interleaved channels per pixel. Buffers are
// 8-bit, three channels, BGR order as decoded by OpenCV.
const Channels = 3

// Image is a dense interleaved pixel buffer. Row y starts at
// Pix[y*Stride()] and pixel (x, y) occupies the three bytes at
// Pix[y*Stride()+x*Channels : +Channels].
type Image struct {
	Width  int
	Height int
	Pix    []uint8
}

// New allocates a zeroed (black) image of the given dimensions.
func New(width, height int) *Image {
	return &Image{
		Width:  width,
		Height: height,
		Pix:    make([]uint8, width*height*Channels),
	}
}

// FromPix wraps an existing interleaved buffer. The buffer length must match
// width*height*Channels.
func FromPix(width, height int, pix []uint8) (*Image, error) {
	if len(pix) != width*height*Channels {
		return nil, fmt.Errorf("pixel buffer length %d does not match %dx%dx%d", len(pix), width, height, Channels)
	}
	return &Image{Width: width, Height: height, Pix: pix}, nil
}

// Stride returns the byte length of one row.
func (im *Image) Stride() int {
	return im.Width * Channels
}

// Clone returns a deep copy.
func (im *Image) Clone() *Image {
	out := New(im.Width, im.Height)
	copy(out.Pix, im.Pix)
	return out
}

// Pixel returns the three channel values at (x, y).
func (im *Image) Pixel(x, y int) (uint8, uint8, uint8) {
	i := y*im.Stride() + x*Channels
	return im.Pix[i], im.Pix[i+1], im.Pix[i+2]
}

// SetPixel stores the three channel values at (x, y).
func (im *Image) SetPixel(x, y int, c0, c1, c2 uint8) {
	i := y*im.Stride() + x*Channels
	im.Pix[i] = c0
	im.Pix[i+1] = c1
	im.Pix[i+2] = c2
}

// Columns copies the half-open column range [x0, x1) into a new image of the
// same height. Used to cut overlap-search windows out of projected frames.
func (im *Image) Columns(x0, x1 int) *Image {
	if x0 < 0 {
		x0 = 0
	}
	if x1 > im.Width {
		x1 = im.Width
	}
	if x1 <= x0 {
		return New(0, im.Height)
	}
	out := New(x1-x0, im.Height)
	for y := 0; y < im.Height; y++ {
		src := im.Pix[y*im.Stride()+x0*Channels : y*im.Stride()+x1*Channels]
		copy(out.Pix[y*out.Stride():], src)
	}
	return out
}

// Crop copies the rectangle of width w and height h anchored at (x0, y0).
func (im *Image) Crop(x0, y0, w, h int) *Image {
	out := New(w, h)
	for y := 0; y < h; y++ {
		src := im.Pix[(y0+y)*im.Stride()+x0*Channels:]
		copy(out.Pix[y*out.Stride():y*out.Stride()+w*Channels], src[:w*Channels])
	}
	return out
}
