package stitch

import (
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"pan360/internal/vision"
)

const (
	// minManualMatches is the floor below which a frame pair falls back to
	// the assumed-overlap placement.
	minManualMatches = 10
	// fallbackOverlapFraction is the assumed overlap when matching fails.
	fallbackOverlapFraction = 0.3
	// pairOverlapFraction is the placement overlap for matched pairs.
	pairOverlapFraction = 0.5
)

// ManualPipelineStrategy runs the explicit detect/match/estimate pipeline on
// full projected frames. It works without bearings; geometry is validated
// per pair via homography estimation while placement uses a fixed overlap.
type ManualPipelineStrategy struct {
	opts      Options
	projector *CylindricalProjector
	features  featurePipeline
	log       *slog.Logger
}

func NewManualPipeline(opts Options, remap remapper, features featurePipeline, log *slog.Logger) *ManualPipelineStrategy {
	if log == nil {
		log = slog.Default()
	}
	return &ManualPipelineStrategy{
		opts:      opts.withDefaults(),
		projector: NewCylindricalProjector(remap),
		features:  features,
		log:       log,
	}
}

func (s *ManualPipelineStrategy) Name() string { return "manual" }

func (s *ManualPipelineStrategy) Stitch(frames []*SourceFrame) (*MosaicResult, *Failure) {
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

	width := frames[0].Image.Width
	height := frames[0].Image.Height
	focal := FocalLength(width, s.opts.HFOVDegrees)
	stats.FocalLength = focal

	projected, err := s.projector.ProjectAll(frames, focal, s.opts.Workers)
	if err != nil {
		return fail(failf(FailUpstream, "projection: %v", err))
	}

	features := make([]*vision.Features, len(projected))
	var g errgroup.Group
	g.SetLimit(s.opts.Workers)
	for i, frame := range projected {
		g.Go(func() error {
			f, err := s.features.DetectAndDescribe(frame.Image)
			if err != nil {
				return fmt.Errorf("frame %d: %w", frame.Source.Index, err)
			}
			features[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, f := range features {
			if f != nil {
				f.Close()
			}
		}
		return fail(failf(FailUpstream, "feature detection: %v", err))
	}
	defer func() {
		for _, f := range features {
			f.Close()
		}
	}()

	records := make([]PlacementRecord, len(projected))
	records[0] = PlacementRecord{Index: projected[0].Source.Index, Bearing: projected[0].Source.Bearing}
	for i := 1; i < len(projected); i++ {
		offset, warn := s.placePair(features[i-1], features[i], records[i-1].Offset, width, i)
		if warn != "" {
			stats.Warnings = append(stats.Warnings, warn)
		}
		records[i] = PlacementRecord{
			Index:          projected[i].Source.Index,
			Bearing:        projected[i].Source.Bearing,
			ExpectedOffset: offset,
			Offset:         offset,
		}
	}

	canvasW := records[len(records)-1].Offset + width
	comp := NewFeatheredCompositor(CompositorOptions{
		BlendWidth:    s.opts.BlendWidth,
		Debug:         s.opts.DebugPlacement,
		CropThreshold: s.opts.CropThreshold,
	})
	comp.Begin(canvasW, height)
	for i, frame := range projected {
		comp.Place(frame.Image, records[i].Offset)
	}
	mosaic, err := comp.Finalize()
	if err != nil {
		return fail(failf(FailEmptyRegion, "compositing: %v", err))
	}

	stats.ProcessingTime = time.Since(start)
	return &MosaicResult{
		Image:      mosaic,
		Width:      mosaic.Width,
		Height:     mosaic.Height,
		Placements: records,
		Stats:      stats,
	}, nil
}

// placePair picks the offset for the right frame of a consecutive pair.
// Matched pairs get homography validation and the standard overlap; pairs
// without enough evidence fall back to a conservative assumed overlap.
func (s *ManualPipelineStrategy) placePair(left, right *vision.Features, leftOffset, width, index int) (int, string) {
	cands, err := s.features.MatchCandidates(left, right)
	if err != nil {
		s.log.Warn("pair matching failed", "pair", index, "error", err)
		return leftOffset + width - int(fallbackOverlapFraction*float64(width)),
			fmt.Sprintf("pair %d-%d: matching failed (%v), assuming %d%% overlap",
				index-1, index, err, int(fallbackOverlapFraction*100))
	}
	good := ratioFilter(cands, ratioTestLimit)
	if len(good) < minManualMatches {
		return leftOffset + width - int(fallbackOverlapFraction*float64(width)),
			fmt.Sprintf("pair %d-%d: only %d good matches, assuming %d%% overlap",
				index-1, index, len(good), int(fallbackOverlapFraction*100))
	}

	src := make([]vision.Point, len(good))
	dst := make([]vision.Point, len(good))
	for i, c := range good {
		src[i] = c.To   // right frame points
		dst[i] = c.From // left frame points
	}
	_, inliers, err := s.features.EstimateHomography(src, dst)
	if err != nil {
		return leftOffset + width - int(fallbackOverlapFraction*float64(width)),
			fmt.Sprintf("pair %d-%d: homography estimation failed (%v), assuming %d%% overlap",
				index-1, index, err, int(fallbackOverlapFraction*100))
	}
	s.log.Debug("pair placed", "pair", index, "matches", len(good), "inliers", inliers)

	return leftOffset + width - int(pairOverlapFraction*float64(width)), ""
}
