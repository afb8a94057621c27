package stitch

import (
	"fmt"
	"log/slog"
	"math"
	"sort"

	"pan360/internal/imaging"
	"pan360/internal/vision"
)

const (
	// ratioTestLimit is the Lowe ratio separating good matches from noise.
	ratioTestLimit = 0.75
	// minGoodMatches is the floor below which fine-tuning falls back to the
	// bearing-predicted offset.
	minGoodMatches = 4
)

// PlacementConfig parameterizes the sequential placer.
type PlacementConfig struct {
	PixelsPerDegree       float64
	FineTune              bool
	OverlapSearchFraction float64 // fraction of frame width examined for overlap
	MaxAdjustmentFraction float64 // clamp on the deviation from the expected step
}

// SequentialPlacer assigns each frame a horizontal canvas offset. Placement
// folds left to right over the bearing-sorted frames; each offset depends
// only on its predecessor's, so the pass is strictly sequential and
// deterministic for identical input.
type SequentialPlacer struct {
	cfg     PlacementConfig
	matcher overlapMatcher
	log     *slog.Logger
}

func NewSequentialPlacer(cfg PlacementConfig, matcher overlapMatcher, log *slog.Logger) *SequentialPlacer {
	if cfg.OverlapSearchFraction <= 0 {
		cfg.OverlapSearchFraction = 0.3
	}
	if cfg.MaxAdjustmentFraction <= 0 {
		cfg.MaxAdjustmentFraction = 0.2
	}
	if log == nil {
		log = slog.Default()
	}
	return &SequentialPlacer{cfg: cfg, matcher: matcher, log: log}
}

// Place computes one record per projected frame, in order. Fine-tuning
// failures degrade to the predicted offset and surface as warnings.
func (p *SequentialPlacer) Place(frames []*ProjectedFrame) ([]PlacementRecord, []string) {
	records := make([]PlacementRecord, 0, len(frames))
	var warnings []string

	for i, frame := range frames {
		expected := int(math.Round(frame.Source.Bearing * p.cfg.PixelsPerDegree))
		rec := PlacementRecord{
			Index:          frame.Source.Index,
			Bearing:        frame.Source.Bearing,
			ExpectedOffset: expected,
			Offset:         expected,
		}
		if i > 0 && p.cfg.FineTune && p.matcher != nil {
			prev := records[i-1]
			expectedStep := expected - prev.Offset
			step, warn := p.refineStep(frames[i-1].Image, frame.Image, expectedStep)
			if warn != "" {
				warnings = append(warnings, fmt.Sprintf("frame %d: %s", frame.Source.Index, warn))
			}
			rec.Offset = prev.Offset + step
			rec.Adjustment = rec.Offset - expected
		}
		records = append(records, rec)
	}
	return records, warnings
}

// refineStep estimates the true step between two consecutive frames from
// feature matches inside their overlap windows. It returns the expected step
// untouched whenever the evidence is too thin.
func (p *SequentialPlacer) refineStep(prev, cur *imaging.Image, expectedStep int) (int, string) {
	searchWidth := int(float64(prev.Width) * p.cfg.OverlapSearchFraction)
	if searchWidth < 1 {
		return expectedStep, ""
	}

	prevWin := prev.Columns(prev.Width-searchWidth, prev.Width)
	curWin := cur.Columns(0, searchWidth)

	cands, err := p.matcher.MatchImages(prevWin, curWin)
	if err != nil {
		return expectedStep, fmt.Sprintf("overlap matching failed, using predicted offset: %v", err)
	}

	good := ratioFilter(cands, ratioTestLimit)
	if len(good) < minGoodMatches {
		return expectedStep, fmt.Sprintf("only %d good matches, using predicted offset", len(good))
	}

	// Keypoints are in window coordinates. Shift the previous frame's back
	// into frame coordinates, then measure the step each pair implies.
	windowStart := float64(prev.Width - searchWidth)
	steps := make([]float64, 0, len(good))
	for _, c := range good {
		disp := (c.From.X + windowStart) - c.To.X
		steps = append(steps, disp)
	}
	refined := median(steps)

	limit := p.cfg.MaxAdjustmentFraction * math.Abs(float64(expectedStep))
	lo := float64(expectedStep) - limit
	hi := float64(expectedStep) + limit
	clamped := refined
	if clamped < lo {
		clamped = lo
	}
	if clamped > hi {
		clamped = hi
	}
	var warn string
	if clamped != refined {
		warn = fmt.Sprintf("step %0.1f clamped to %0.1f (expected %d)", refined, clamped, expectedStep)
	}
	return int(math.Round(clamped)), warn
}

// ratioFilter keeps candidates whose best distance is decisively below the
// second best, per the standard ratio test.
func ratioFilter(cands []vision.Candidate, limit float64) []vision.Candidate {
	good := cands[:0:0]
	for _, c := range cands {
		if c.Dist < limit*c.Dist2 {
			good = append(good, c)
		}
	}
	return good
}

func median(vals []float64) float64 {
	sorted := make([]float64, len(vals))
	copy(sorted, vals)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2.0
}
