package stitch

import (
	"testing"

	"pan360/internal/imaging"
	"pan360/internal/vision"
)

// rigFrames simulates a motorized rig capture: n solid frames at fixed
// bearing increments covering the span.
func rigFrames(n, width, height int, span float64) []*SourceFrame {
	frames := make([]*SourceFrame, n)
	increment := span / float64(n)
	for i := range frames {
		frames[i] = &SourceFrame{
			Index:      i,
			Bearing:    float64(i) * increment,
			HasBearing: true,
			Image:      solid(width, height, 128),
		}
	}
	return frames
}

func TestSimpleAngleFullRevolution(t *testing.T) {
	s := NewSimpleAngle(Options{HFOVDegrees: 54.0, BlendWidth: 100}, identityRemap, nil)

	result, fail := s.Stitch(rigFrames(8, 640, 480, 360))
	if fail != nil {
		t.Fatalf("Stitch failed: %v", fail)
	}
	if result.Width != 4267 || result.Height != 480 {
		t.Fatalf("mosaic %dx%d, want 4267x480", result.Width, result.Height)
	}
	if len(result.Placements) != 8 {
		t.Fatalf("placements = %d, want 8", len(result.Placements))
	}
	wantOffsets := []int{0, 533, 1067, 1600, 2133, 2667, 3200, 3733}
	for i, rec := range result.Placements {
		if rec.Offset != wantOffsets[i] || rec.Adjustment != 0 {
			t.Errorf("placement %d = %+v, want offset %d", i, rec, wantOffsets[i])
		}
	}
	if b, _, _ := result.Image.Pixel(2000, 240); b != 128 {
		t.Errorf("interior pixel = %d, want 128", b)
	}
	if result.Stats.FrameCount != 8 || result.Stats.PixelsPerDegree == 0 {
		t.Errorf("stats = %+v", result.Stats)
	}
}

func TestSimpleAngleSortsByBearing(t *testing.T) {
	frames := rigFrames(4, 64, 48, 360)
	frames[0], frames[3] = frames[3], frames[0]

	s := NewSimpleAngle(Options{HFOVDegrees: 54.0, BlendWidth: 8}, identityRemap, nil)
	result, fail := s.Stitch(frames)
	if fail != nil {
		t.Fatalf("Stitch failed: %v", fail)
	}
	for i := 1; i < len(result.Placements); i++ {
		if result.Placements[i].Bearing <= result.Placements[i-1].Bearing {
			t.Fatalf("placements not bearing-ordered: %+v", result.Placements)
		}
	}
}

func TestSensorAidedDegradesWithoutMatches(t *testing.T) {
	matcher := matcherStub{fn: func(a, b *imaging.Image) ([]vision.Candidate, error) {
		return nil, nil
	}}
	s := NewSensorAided(Options{HFOVDegrees: 54.0, BlendWidth: 8, FineTune: true, LoopClosure: true},
		identityRemap, matcher, nil)

	result, fail := s.Stitch(rigFrames(8, 64, 48, 360))
	if fail != nil {
		t.Fatalf("Stitch failed: %v", fail)
	}
	// Every pair after the first degrades to the predicted offset.
	if len(result.Stats.Warnings) != 7 {
		t.Fatalf("warnings = %v, want 7", result.Stats.Warnings)
	}
	wantOffsets := []int{0, 53, 107, 160, 213, 267, 320, 373}
	for i, rec := range result.Placements {
		if rec.Offset != wantOffsets[i] {
			t.Errorf("placement %d offset = %d, want %d", i, rec.Offset, wantOffsets[i])
		}
	}
	if result.Width != 427 || result.Height != 48 {
		t.Fatalf("mosaic %dx%d, want 427x48", result.Width, result.Height)
	}
}

func TestAngularRejectsSingleFrame(t *testing.T) {
	s := NewSimpleAngle(Options{}, identityRemap, nil)
	_, fail := s.Stitch(rigFrames(1, 64, 48, 360))
	if fail == nil || fail.Kind != FailInsufficientFrames {
		t.Fatalf("fail = %+v, want %s", fail, FailInsufficientFrames)
	}
	if fail.Stats.FrameCount != 1 {
		t.Errorf("failure stats = %+v", fail.Stats)
	}
}

func TestAngularRejectsMissingBearing(t *testing.T) {
	frames := rigFrames(4, 64, 48, 360)
	frames[2].HasBearing = false

	s := NewSensorAided(Options{}, identityRemap, nil, nil)
	_, fail := s.Stitch(frames)
	if fail == nil || fail.Kind != FailMissingBearing {
		t.Fatalf("fail = %+v, want %s", fail, FailMissingBearing)
	}
}

func TestPartialSpanDoesNotWrap(t *testing.T) {
	s := NewSimpleAngle(Options{HFOVDegrees: 54.0, TotalAngle: 180}, identityRemap, nil)

	result, fail := s.Stitch(rigFrames(4, 64, 48, 180))
	if fail != nil {
		t.Fatalf("Stitch failed: %v", fail)
	}
	// span 180 at 64/54 px per degree: canvas 213, last frame 160..223
	// clipped at the right edge.
	if result.Width != 213 {
		t.Fatalf("mosaic width = %d, want 213", result.Width)
	}
}

func TestParseKind(t *testing.T) {
	for _, name := range []string{"simple_angle", "sensor_aided", "opencv_auto", "manual"} {
		if _, err := ParseKind(name); err != nil {
			t.Errorf("ParseKind(%q): %v", name, err)
		}
	}
	if _, err := ParseKind("hugin"); err == nil {
		t.Error("expected error for unknown strategy")
	}
}

func TestNewRejectsUnknownKind(t *testing.T) {
	_, fail := New(Kind("hugin"), Options{}, nil, nil)
	if fail == nil || fail.Kind != FailUnsupportedConfig {
		t.Fatalf("fail = %+v, want %s", fail, FailUnsupportedConfig)
	}
}
