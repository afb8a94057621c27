package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"pan360/internal/config"
	"pan360/internal/fsutil"
	"pan360/internal/stitch"
	"pan360/internal/vision"
)

// AssembleRequest describes one mosaic assembly job.
type AssembleRequest struct {
	InputDir  string
	Output    string
	Algorithm string // overrides Params.Algorithm when set
	AutoMode  string // panorama or scans, opencv_auto only
	Workers   int
	Params    config.Stitch
}

// AssembleResult summarizes a finished assembly.
type AssembleResult struct {
	OutputFile      string
	Algorithm       string
	Width           int
	Height          int
	FrameCount      int
	FocalLength     float64
	PixelsPerDegree float64
	ProcessingTime  time.Duration
	Placements      []stitch.PlacementRecord
	Warnings        []string
}

// StitchOptions maps configured parameters onto strategy options.
func StitchOptions(params config.Stitch, workers int) stitch.Options {
	return stitch.Options{
		HFOVDegrees:           params.HFOVDegrees,
		BlendWidth:            params.BlendWidth,
		TotalAngle:            params.TotalAngle,
		FineTune:              params.FineTuning,
		LoopClosure:           params.LoopClosure,
		OverlapSearchFraction: params.OverlapSearchFraction,
		MaxAdjustmentFraction: params.MaxAdjustmentFraction,
		DebugPlacement:        params.DebugPlacement,
		Workers:               workers,
	}
}

// Assemble loads the frames in req.InputDir, runs the requested strategy and
// writes the mosaic to req.Output.
func Assemble(ctx context.Context, req AssembleRequest, log *slog.Logger) (AssembleResult, error) {
	if log == nil {
		log = slog.Default()
	}
	if !fsutil.IsDir(req.InputDir) {
		return AssembleResult{}, fmt.Errorf("input %s is not a directory", req.InputDir)
	}

	algorithm := req.Algorithm
	if algorithm == "" {
		algorithm = req.Params.Algorithm
	}
	kind, err := stitch.ParseKind(algorithm)
	if err != nil {
		return AssembleResult{}, err
	}

	detector, err := vision.ParseDetector(req.Params.Detector)
	if err != nil {
		return AssembleResult{}, err
	}
	matcher, err := vision.ParseMatcher(req.Params.Matcher)
	if err != nil {
		return AssembleResult{}, err
	}
	eng, err := vision.NewEngine(vision.Options{
		Detector:    detector,
		Matcher:     matcher,
		MaxFeatures: req.Params.MaxFeatures,
	})
	if err != nil {
		return AssembleResult{}, fmt.Errorf("vision engine: %w", err)
	}

	opts := StitchOptions(req.Params, req.Workers)
	if req.AutoMode == string(vision.ModeScans) {
		opts.AutoMode = vision.ModeScans
	}
	strategy, sfail := stitch.New(kind, opts, eng, log)
	if sfail != nil {
		return AssembleResult{}, sfail
	}

	frames, err := LoadFrames(req.InputDir, eng, LoadOptions{AngleIncrement: req.Params.AngleIncrement})
	if err != nil {
		return AssembleResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return AssembleResult{}, err
	}

	log.Info("assembling mosaic",
		"algorithm", strategy.Name(),
		"frames", len(frames),
		"input", req.InputDir,
		"output", req.Output,
	)

	result, fail := strategy.Stitch(frames)
	if fail != nil {
		return AssembleResult{}, fail
	}
	if err := ctx.Err(); err != nil {
		return AssembleResult{}, err
	}

	if err := fsutil.EnsureDir(filepath.Dir(req.Output)); err != nil {
		return AssembleResult{}, err
	}
	if err := eng.Encode(req.Output, result.Image); err != nil {
		return AssembleResult{}, fmt.Errorf("write mosaic %s: %w", req.Output, err)
	}

	for _, warn := range result.Stats.Warnings {
		log.Warn("assembly warning", "detail", warn)
	}

	return AssembleResult{
		OutputFile:      req.Output,
		Algorithm:       strategy.Name(),
		Width:           result.Width,
		Height:          result.Height,
		FrameCount:      result.Stats.FrameCount,
		FocalLength:     result.Stats.FocalLength,
		PixelsPerDegree: result.Stats.PixelsPerDegree,
		ProcessingTime:  result.Stats.ProcessingTime,
		Placements:      result.Placements,
		Warnings:        result.Stats.Warnings,
	}, nil
}
