package stitch

import (
	"fmt"
	"log/slog"
	"time"
)

// angularAssembly is the shared bearing-driven flow: sort by bearing,
// project, place sequentially, optionally close the loop, composite.
type angularAssembly struct {
	name      string
	opts      Options
	projector *CylindricalProjector
	matcher   overlapMatcher // nil disables fine-tuning
	log       *slog.Logger
}

func (a *angularAssembly) run(frames []*SourceFrame) (*MosaicResult, *Failure) {
	if a.log == nil {
		a.log = slog.Default()
	}
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
	for _, frame := range frames {
		if !frame.HasBearing {
			return fail(failf(FailMissingBearing, "frame %d (%s) has no bearing", frame.Index, frame.Path))
		}
	}

	sorted := sortedByBearing(frames)
	width := sorted[0].Image.Width
	height := sorted[0].Image.Height

	focal := FocalLength(width, a.opts.HFOVDegrees)
	ppd := PixelsPerDegree(width, a.opts.HFOVDegrees)
	stats.FocalLength = focal
	stats.PixelsPerDegree = ppd

	projected, err := a.projector.ProjectAll(sorted, focal, a.opts.Workers)
	if err != nil {
		return fail(failf(FailUpstream, "projection: %v", err))
	}

	placer := NewSequentialPlacer(PlacementConfig{
		PixelsPerDegree:       ppd,
		FineTune:              a.opts.FineTune,
		OverlapSearchFraction: a.opts.OverlapSearchFraction,
		MaxAdjustmentFraction: a.opts.MaxAdjustmentFraction,
	}, a.matcher, a.log)
	records, warnings := placer.Place(projected)
	stats.Warnings = append(stats.Warnings, warnings...)

	canvasW := CanvasWidth(ppd, a.opts.TotalAngle)
	wrap := a.opts.TotalAngle >= 360

	if a.opts.LoopClosure && wrap {
		corrected, closureErr := CorrectLoopClosure(records, canvasW, ppd, a.opts.LoopClosureThreshold)
		if closureErr != 0 {
			a.log.Info("loop closure", "strategy", a.name, "error_px", closureErr,
				"applied", abs(closureErr) > a.opts.LoopClosureThreshold)
		}
		if abs(closureErr) > a.opts.LoopClosureThreshold {
			stats.Warnings = append(stats.Warnings,
				fmt.Sprintf("closure error of %dpx redistributed across %d frames", closureErr, len(records)))
		}
		records = corrected
	}

	comp := NewFeatheredCompositor(CompositorOptions{
		BlendWidth:    a.opts.BlendWidth,
		Wrap:          wrap,
		Debug:         a.opts.DebugPlacement,
		CropThreshold: a.opts.CropThreshold,
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
