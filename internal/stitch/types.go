// Package stitch implements the mosaic assembly engine: cylindrical
// projection, sequential angular placement, feathered compositing, loop
// closure and the strategy contract shared by all assembly algorithms.
package stitch

import (
	"fmt"
	"sort"
	"time"

	"pan360/internal/imaging"
	"pan360/internal/vision"
)

// SourceFrame is one decoded capture. Immutable once loaded.
type SourceFrame struct {
	Index      int
	Path       string
	Bearing    float64 // degrees around the rotation axis
	HasBearing bool
	Image      *imaging.Image
}

// ProjectedFrame pairs a source frame with its cylindrically warped pixels.
type ProjectedFrame struct {
	Source      *SourceFrame
	Image       *imaging.Image
	FocalLength float64
}

// PlacementRecord captures where one frame landed on the canvas.
type PlacementRecord struct {
	Index          int     `json:"index"`
	Bearing        float64 `json:"bearing"`
	ExpectedOffset int     `json:"expected_offset"`
	Offset         int     `json:"offset"`
	Adjustment     int     `json:"adjustment"`
}

// Stats summarizes one assembly run.
type Stats struct {
	FrameCount      int           `json:"frame_count"`
	ProcessingTime  time.Duration `json:"processing_time"`
	FocalLength     float64       `json:"focal_length"`
	PixelsPerDegree float64       `json:"pixels_per_degree"`
	Warnings        []string      `json:"warnings,omitempty"`
}

// MosaicResult is a finished mosaic plus its placement diagnostics.
type MosaicResult struct {
	Image      *imaging.Image
	Width      int
	Height     int
	Placements []PlacementRecord
	Stats      Stats
}

// FailureKind classifies why an assembly could not produce a mosaic.
type FailureKind string

const (
	FailInsufficientFrames  FailureKind = "insufficient_frames"
	FailMissingBearing      FailureKind = "missing_bearing"
	FailInsufficientMatches FailureKind = "insufficient_feature_matches"
	FailHomography          FailureKind = "homography_estimation_failed"
	FailEmptyRegion         FailureKind = "empty_valid_region"
	FailUnsupportedConfig   FailureKind = "unsupported_configuration"
	FailUpstream            FailureKind = "upstream_library_error"
	FailNeedMoreImages      FailureKind = "needs_more_images"
	FailCameraParams        FailureKind = "camera_params_adjust_failed"
)

// Failure is returned instead of a MosaicResult; it never crosses the
// strategy boundary as a panic.
type Failure struct {
	Kind    FailureKind
	Message string
	Stats   Stats
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func failf(kind FailureKind, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Strategy is the uniform assembly contract. A call consumes the frames and
// produces exactly one MosaicResult or one Failure.
type Strategy interface {
	Name() string
	Stitch(frames []*SourceFrame) (*MosaicResult, *Failure)
}

// Options parameterize the concrete strategies.
type Options struct {
	HFOVDegrees           float64
	BlendWidth            int
	TotalAngle            float64
	FineTune              bool
	LoopClosure           bool
	LoopClosureThreshold  int
	OverlapSearchFraction float64
	MaxAdjustmentFraction float64
	CropThreshold         float32
	DebugPlacement        bool // hard overwrite instead of feathering
	Workers               int
	AutoMode              vision.StitchMode
}

func (o Options) withDefaults() Options {
	if o.HFOVDegrees <= 0 {
		o.HFOVDegrees = 54.0
	}
	if o.TotalAngle <= 0 {
		o.TotalAngle = 360.0
	}
	if o.LoopClosureThreshold <= 0 {
		o.LoopClosureThreshold = 10
	}
	if o.OverlapSearchFraction <= 0 {
		o.OverlapSearchFraction = 0.3
	}
	if o.MaxAdjustmentFraction <= 0 {
		o.MaxAdjustmentFraction = 0.2
	}
	if o.CropThreshold <= 0 {
		o.CropThreshold = 0.1
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.AutoMode == "" {
		o.AutoMode = vision.ModePanorama
	}
	return o
}

// remapper resamples an image through explicit coordinate maps.
type remapper interface {
	Remap(img *imaging.Image, mapX, mapY []float32) (*imaging.Image, error)
}

// overlapMatcher produces ratio-testable candidates between two windows.
type overlapMatcher interface {
	MatchImages(a, b *imaging.Image) ([]vision.Candidate, error)
}

// featurePipeline is the detect/match/estimate surface used by the manual
// pipeline strategy.
type featurePipeline interface {
	DetectAndDescribe(img *imaging.Image) (*vision.Features, error)
	MatchCandidates(a, b *vision.Features) ([]vision.Candidate, error)
	EstimateHomography(src, dst []vision.Point) (vision.Homography, int, error)
}

// autoStitcher runs the library's single-call panorama assembly.
type autoStitcher interface {
	AutoStitch(images []*imaging.Image, mode vision.StitchMode) (vision.StitchStatus, *imaging.Image, error)
}

// sortedByBearing returns a copy ordered by ascending bearing.
func sortedByBearing(frames []*SourceFrame) []*SourceFrame {
	out := make([]*SourceFrame, len(frames))
	copy(out, frames)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Bearing < out[j].Bearing
	})
	return out
}
