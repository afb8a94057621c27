package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"pan360/internal/config"
	"pan360/internal/stitch"
	"pan360/internal/tasks"
)

func testConfig() *config.Config {
	return &config.Config{
		Processing: config.Processing{ParallelJobs: 2},
		Server:     config.Server{PreviewWidth: 1600},
		Stitch: config.Stitch{
			Algorithm:   "sensor_aided",
			HFOVDegrees: 54.0,
			BlendWidth:  100,
			TotalAngle:  360.0,
			FineTuning:  true,
			LoopClosure: true,
			Detector:    "orb",
			Matcher:     "bf",
		},
	}
}

func TestRouterStitchAppliesOptionOverrides(t *testing.T) {
	var gotReq tasks.AssembleRequest
	r := &router{
		log: slog.Default(),
		cfg: testConfig(),
		assembleFn: func(ctx context.Context, req tasks.AssembleRequest, log *slog.Logger) (tasks.AssembleResult, error) {
			gotReq = req
			return tasks.AssembleResult{OutputFile: req.Output, Algorithm: req.Params.Algorithm, Width: 427, Height: 48}, nil
		},
	}

	job := Job{
		ID:        "stitch-1",
		Type:      JobStitch,
		InputPath: "/spool/session",
		Output:    "/results/mosaic.jpg",
		Options: map[string]any{
			"algorithm":   "simple_angle",
			"hfov":        62.5,
			"fineTuning":  false,
			"loopClosure": false,
			"detector":    "akaze",
		},
	}

	res := r.Process(context.Background(), job)
	if res.Error != nil {
		t.Fatalf("expected nil error, got %v", res.Error)
	}
	if gotReq.Params.Algorithm != "simple_angle" || gotReq.Params.HFOVDegrees != 62.5 {
		t.Fatalf("overrides not applied: %+v", gotReq.Params)
	}
	if gotReq.Params.FineTuning || gotReq.Params.LoopClosure {
		t.Fatalf("bool overrides not applied: %+v", gotReq.Params)
	}
	if gotReq.Params.Detector != "akaze" || gotReq.Params.Matcher != "bf" {
		t.Fatalf("detector override lost defaults: %+v", gotReq.Params)
	}
	if res.Meta["output"] != "/results/mosaic.jpg" || res.Meta["width"] != 427 {
		t.Fatalf("unexpected meta: %v", res.Meta)
	}
}

func TestRouterStitchKeepsConfigDefaults(t *testing.T) {
	var gotReq tasks.AssembleRequest
	r := &router{
		log: slog.Default(),
		cfg: testConfig(),
		assembleFn: func(ctx context.Context, req tasks.AssembleRequest, log *slog.Logger) (tasks.AssembleResult, error) {
			gotReq = req
			return tasks.AssembleResult{}, nil
		},
	}

	res := r.Process(context.Background(), Job{ID: "stitch-2", Type: JobStitch, InputPath: "/spool/s", Options: map[string]any{}})
	if res.Error != nil {
		t.Fatalf("expected nil error, got %v", res.Error)
	}
	if gotReq.Params.Algorithm != "sensor_aided" || !gotReq.Params.FineTuning {
		t.Fatalf("config defaults lost: %+v", gotReq.Params)
	}
	if gotReq.Workers != 2 {
		t.Fatalf("workers = %d, want 2", gotReq.Workers)
	}
}

func TestRouterStitchGeneratesPreviewOnRequest(t *testing.T) {
	previews := 0
	r := &router{
		log: slog.Default(),
		cfg: testConfig(),
		assembleFn: func(ctx context.Context, req tasks.AssembleRequest, log *slog.Logger) (tasks.AssembleResult, error) {
			return tasks.AssembleResult{OutputFile: "/results/m.jpg"}, nil
		},
		previewFn: func(src, dst string, maxWidth uint) error {
			previews++
			if src != "/results/m.jpg" || dst != "/results/m_preview.jpg" {
				t.Fatalf("preview paths %q -> %q", src, dst)
			}
			if maxWidth != 1600 {
				t.Fatalf("preview width = %d, want 1600", maxWidth)
			}
			return nil
		},
	}

	job := Job{ID: "stitch-3", Type: JobStitch, InputPath: "/spool/s", Options: map[string]any{"preview": true}}
	res := r.Process(context.Background(), job)
	if res.Error != nil {
		t.Fatalf("expected nil error, got %v", res.Error)
	}
	if previews != 1 {
		t.Fatalf("preview generated %d times, want 1", previews)
	}
	if res.Meta["preview"] != "/results/m_preview.jpg" {
		t.Fatalf("meta = %v", res.Meta)
	}
}

func TestRouterStitchPropagatesFailure(t *testing.T) {
	fail := &stitch.Failure{Kind: stitch.FailMissingBearing, Message: "frame 2 has no bearing"}
	r := &router{
		log: slog.Default(),
		cfg: testConfig(),
		assembleFn: func(ctx context.Context, req tasks.AssembleRequest, log *slog.Logger) (tasks.AssembleResult, error) {
			return tasks.AssembleResult{}, fail
		},
	}

	res := r.Process(context.Background(), Job{ID: "stitch-4", Type: JobStitch, Options: map[string]any{}})
	if res.Error == nil {
		t.Fatal("expected error")
	}
	var f *stitch.Failure
	if !errors.As(res.Error, &f) || f.Kind != stitch.FailMissingBearing {
		t.Fatalf("error = %v, want missing-bearing failure", res.Error)
	}
}

func TestRouterPreviewJob(t *testing.T) {
	r := &router{
		log: slog.Default(),
		cfg: testConfig(),
		previewFn: func(src, dst string, maxWidth uint) error {
			if src != "/results/big.jpg" || dst != "/results/big_preview.jpg" {
				t.Fatalf("preview paths %q -> %q", src, dst)
			}
			return nil
		},
	}

	res := r.Process(context.Background(), Job{ID: "prev-1", Type: JobPreview, InputPath: "/results/big.jpg", Options: map[string]any{}})
	if res.Error != nil {
		t.Fatalf("expected nil error, got %v", res.Error)
	}
}

func TestRouterUnknownJobType(t *testing.T) {
	r := &router{log: slog.Default(), cfg: testConfig()}
	res := r.Process(context.Background(), Job{ID: "x", Type: JobType("timelapse")})
	if res.Error == nil {
		t.Fatal("expected error for unknown job type")
	}
}
