package stitch

import (
	"errors"
	"strings"
	"testing"

	"pan360/internal/imaging"
	"pan360/internal/vision"
)

type matcherStub struct {
	fn func(a, b *imaging.Image) ([]vision.Candidate, error)
}

func (m matcherStub) MatchImages(a, b *imaging.Image) ([]vision.Candidate, error) {
	return m.fn(a, b)
}

func projPair(width, height int, bearings ...float64) []*ProjectedFrame {
	frames := make([]*ProjectedFrame, len(bearings))
	for i, b := range bearings {
		frames[i] = &ProjectedFrame{
			Source: &SourceFrame{Index: i, Bearing: b, HasBearing: true},
			Image:  solid(width, height, 128),
		}
	}
	return frames
}

// good builds a candidate passing the ratio test whose implied step is
// From.X + windowStart - To.X.
func good(fromX, toX float64) vision.Candidate {
	return vision.Candidate{
		From:  vision.Point{X: fromX, Y: 10},
		To:    vision.Point{X: toX, Y: 10},
		Dist:  10,
		Dist2: 100,
	}
}

func TestPlaceRefinesStepFromMedianDisplacement(t *testing.T) {
	// width 100, search fraction 0.3: windows are 30 wide, windowStart 70.
	matcher := matcherStub{fn: func(a, b *imaging.Image) ([]vision.Candidate, error) {
		if a.Width != 30 || b.Width != 30 {
			t.Fatalf("window widths %d/%d, want 30/30", a.Width, b.Width)
		}
		outlier := good(10, 65) // step 15, but fails the ratio test
		outlier.Dist = 95
		return []vision.Candidate{
			good(20, 6), // step 84
			good(21, 6), // step 85
			outlier,
			good(22, 7), // step 85
			good(25, 9), // step 86
		}, nil
	}}

	placer := NewSequentialPlacer(PlacementConfig{
		PixelsPerDegree: 2.0,
		FineTune:        true,
	}, matcher, nil)

	records, warnings := placer.Place(projPair(100, 10, 0, 45))
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if records[0].Offset != 0 {
		t.Fatalf("first offset = %d, want 0", records[0].Offset)
	}
	// Median of {84, 85, 85, 86} is 85; expected step was 90.
	if records[1].Offset != 85 {
		t.Errorf("refined offset = %d, want 85", records[1].Offset)
	}
	if records[1].ExpectedOffset != 90 || records[1].Adjustment != -5 {
		t.Errorf("record = %+v, want expected 90 adjustment -5", records[1])
	}
}

func TestPlaceIsDeterministic(t *testing.T) {
	matcher := matcherStub{fn: func(a, b *imaging.Image) ([]vision.Candidate, error) {
		return []vision.Candidate{good(20, 6), good(21, 6), good(22, 7), good(25, 9)}, nil
	}}
	placer := NewSequentialPlacer(PlacementConfig{PixelsPerDegree: 2.0, FineTune: true}, matcher, nil)

	first, _ := placer.Place(projPair(100, 10, 0, 45, 90))
	for i := 0; i < 5; i++ {
		again, _ := placer.Place(projPair(100, 10, 0, 45, 90))
		for j := range first {
			if first[j] != again[j] {
				t.Fatalf("run %d record %d = %+v, want %+v", i, j, again[j], first[j])
			}
		}
	}
}

func TestPlaceClampsLargeAdjustment(t *testing.T) {
	matcher := matcherStub{fn: func(a, b *imaging.Image) ([]vision.Candidate, error) {
		// All candidates agree on step 150 against an expected step of 90.
		return []vision.Candidate{good(85, 5), good(86, 6), good(87, 7), good(88, 8)}, nil
	}}
	placer := NewSequentialPlacer(PlacementConfig{PixelsPerDegree: 2.0, FineTune: true}, matcher, nil)

	records, warnings := placer.Place(projPair(100, 10, 0, 45))
	// Clamp is 20% of the expected step: 90 +/- 18.
	if records[1].Offset != 108 {
		t.Errorf("clamped offset = %d, want 108", records[1].Offset)
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "clamped") {
		t.Errorf("warnings = %v, want one clamp warning", warnings)
	}
}

func TestPlaceFallsBackOnThinMatches(t *testing.T) {
	matcher := matcherStub{fn: func(a, b *imaging.Image) ([]vision.Candidate, error) {
		return []vision.Candidate{good(20, 6), good(21, 6), good(22, 7)}, nil
	}}
	placer := NewSequentialPlacer(PlacementConfig{PixelsPerDegree: 2.0, FineTune: true}, matcher, nil)

	records, warnings := placer.Place(projPair(100, 10, 0, 45))
	if records[1].Offset != 90 || records[1].Adjustment != 0 {
		t.Errorf("record = %+v, want predicted offset 90", records[1])
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "good matches") {
		t.Errorf("warnings = %v, want thin-match warning", warnings)
	}
}

func TestPlaceFallsBackOnMatcherError(t *testing.T) {
	matcher := matcherStub{fn: func(a, b *imaging.Image) ([]vision.Candidate, error) {
		return nil, errors.New("descriptor mismatch")
	}}
	placer := NewSequentialPlacer(PlacementConfig{PixelsPerDegree: 2.0, FineTune: true}, matcher, nil)

	records, warnings := placer.Place(projPair(100, 10, 0, 45))
	if records[1].Offset != 90 {
		t.Errorf("offset = %d, want predicted 90", records[1].Offset)
	}
	if len(warnings) != 1 {
		t.Errorf("warnings = %v, want one", warnings)
	}
}

func TestPlaceSkipsMatcherWhenDisabled(t *testing.T) {
	called := false
	matcher := matcherStub{fn: func(a, b *imaging.Image) ([]vision.Candidate, error) {
		called = true
		return nil, nil
	}}
	placer := NewSequentialPlacer(PlacementConfig{PixelsPerDegree: 2.0, FineTune: false}, matcher, nil)

	records, _ := placer.Place(projPair(100, 10, 0, 45))
	if called {
		t.Fatal("matcher called with fine-tuning disabled")
	}
	if records[1].Offset != 90 {
		t.Errorf("offset = %d, want 90", records[1].Offset)
	}
}

func TestRatioFilter(t *testing.T) {
	cands := []vision.Candidate{
		{Dist: 10, Dist2: 100}, // keep
		{Dist: 74, Dist2: 100}, // keep, just under the limit
		{Dist: 75, Dist2: 100}, // drop, not strictly below
		{Dist: 90, Dist2: 100}, // drop
	}
	good := ratioFilter(cands, 0.75)
	if len(good) != 2 {
		t.Fatalf("kept %d candidates, want 2", len(good))
	}
}

func TestMedian(t *testing.T) {
	if got := median([]float64{3, 1, 2}); got != 2 {
		t.Errorf("odd median = %v, want 2", got)
	}
	if got := median([]float64{4, 1, 2, 3}); got != 2.5 {
		t.Errorf("even median = %v, want 2.5", got)
	}
}
