// Package tasks implements the concrete job handlers behind the pipeline:
// frame loading, mosaic assembly, preview generation and capture-session
// watching.
package tasks

import (
	"fmt"
	"path/filepath"

	"pan360/internal/fsutil"
	"pan360/internal/imaging"
	"pan360/internal/stitch"
)

// frameDecoder decodes an image file into pixels.
type frameDecoder interface {
	Decode(path string) (*imaging.Image, error)
}

// LoadOptions tune frame loading.
type LoadOptions struct {
	// AngleIncrement synthesizes bearings at fixed steps when filenames
	// carry none. Zero leaves such frames without a bearing.
	AngleIncrement float64
}

// LoadFrames reads every image in dir, sorted by filename, and parses the
// bearing each rig capture encodes in its name (frame_angle_045.jpg).
func LoadFrames(dir string, dec frameDecoder, opts LoadOptions) ([]*stitch.SourceFrame, error) {
	paths, err := fsutil.ListImages(dir)
	if err != nil {
		return nil, fmt.Errorf("list images in %s: %w", dir, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no images found in %s", dir)
	}

	frames := make([]*stitch.SourceFrame, 0, len(paths))
	for i, path := range paths {
		img, err := dec.Decode(path)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		bearing, ok := fsutil.ParseBearing(filepath.Base(path))
		if !ok && opts.AngleIncrement > 0 {
			bearing = float64(i) * opts.AngleIncrement
			ok = true
		}
		frames = append(frames, &stitch.SourceFrame{
			Index:      i,
			Path:       path,
			Bearing:    bearing,
			HasBearing: ok,
			Image:      img,
		})
	}
	return frames, nil
}
