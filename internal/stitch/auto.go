package stitch

import (
	"log/slog"
	"time"

	"pan360/internal/imaging"
	"pan360/internal/vision"
)

// AutoStrategy delegates the whole assembly to the library's high-level
// stitcher. Bearings are ignored; frame order is whatever the caller gives.
type AutoStrategy struct {
	stitcher autoStitcher
	mode     vision.StitchMode
	log      *slog.Logger
}

func NewAuto(opts Options, stitcher autoStitcher, log *slog.Logger) *AutoStrategy {
	opts = opts.withDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &AutoStrategy{stitcher: stitcher, mode: opts.AutoMode, log: log}
}

func (s *AutoStrategy) Name() string { return "opencv_auto" }

func (s *AutoStrategy) Stitch(frames []*SourceFrame) (*MosaicResult, *Failure) {
	start := time.Now()
	stats := Stats{FrameCount: len(frames)}
	fail := func(f *Failure) (*MosaicResult, *Failure) {
		stats.ProcessingTime = time.Since(start)
		f.Stats = stats
		return nil, f
	}

	if len(frames) < 2 {
		return fail(failf(FailInsufficientFrames, "need at least 2 frames, got %d", len(frames)))
	}

	images := make([]*imaging.Image, len(frames))
	for i, frame := range frames {
		images[i] = frame.Image
	}

	status, mosaic, err := s.stitcher.AutoStitch(images, s.mode)
	if err != nil {
		return fail(failf(FailUpstream, "auto stitcher: %v", err))
	}
	switch status {
	case vision.StitchOK:
	case vision.StitchNeedMoreImages:
		return fail(failf(FailNeedMoreImages, "stitcher needs more overlapping images"))
	case vision.StitchHomographyFailed:
		return fail(failf(FailHomography, "stitcher could not estimate a homography"))
	case vision.StitchCameraParamsFailed:
		return fail(failf(FailCameraParams, "stitcher could not adjust camera parameters"))
	default:
		return fail(failf(FailUpstream, "stitcher returned status %v", status))
	}
	if mosaic == nil {
		return fail(failf(FailUpstream, "stitcher reported success without a mosaic"))
	}

	stats.ProcessingTime = time.Since(start)
	return &MosaicResult{
		Image:  mosaic,
		Width:  mosaic.Width,
		Height: mosaic.Height,
		Stats:  stats,
	}, nil
}
