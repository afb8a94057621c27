package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"pan360/internal/config"
	"pan360/internal/storage"
	"pan360/internal/tasks"
)

// router implements Processor and routes jobs to their concrete handlers.
type router struct {
	log        *slog.Logger
	store      *storage.Store
	cfg        *config.Config
	assembleFn assembleFunc
	previewFn  previewFunc
}

type assembleFunc func(ctx context.Context, req tasks.AssembleRequest, log *slog.Logger) (tasks.AssembleResult, error)

type previewFunc func(src, dst string, maxWidth uint) error

func newRouter(logger *slog.Logger, store *storage.Store, cfg *config.Config) Processor {
	return &router{
		log:        logger,
		store:      store,
		cfg:        cfg,
		assembleFn: tasks.Assemble,
		previewFn:  tasks.WritePreview,
	}
}

func (r *router) Process(ctx context.Context, job Job) Result {
	switch job.Type {
	case JobStitch:
		return r.handleStitch(ctx, job)
	case JobPreview:
		return r.handlePreview(ctx, job)
	default:
		return Result{Job: job, Error: fmt.Errorf("unknown job type: %s", job.Type)}
	}
}

func (r *router) handleStitch(ctx context.Context, job Job) Result {
	params := r.cfg.Stitch
	if v := getStringOption(job.Options, "algorithm"); v != "" {
		params.Algorithm = v
	}
	if v := getFloat64Option(job.Options, "hfov"); v > 0 {
		params.HFOVDegrees = v
	}
	if v, ok := job.Options["blendWidth"].(int); ok {
		params.BlendWidth = v
	}
	if v := getFloat64Option(job.Options, "totalAngle"); v > 0 {
		params.TotalAngle = v
	}
	if v := getFloat64Option(job.Options, "angleIncrement"); v > 0 {
		params.AngleIncrement = v
	}
	if v, ok := job.Options["fineTuning"].(bool); ok {
		params.FineTuning = v
	}
	if v, ok := job.Options["loopClosure"].(bool); ok {
		params.LoopClosure = v
	}
	if getBoolOption(job.Options, "debugPlacement") {
		params.DebugPlacement = true
	}
	if v := getStringOption(job.Options, "detector"); v != "" {
		params.Detector = v
	}
	if v := getStringOption(job.Options, "matcher"); v != "" {
		params.Matcher = v
	}

	res, err := r.assembleFn(ctx, tasks.AssembleRequest{
		InputDir: job.InputPath,
		Output:   job.Output,
		AutoMode: getStringOption(job.Options, "autoMode"),
		Workers:  r.cfg.Processing.ParallelJobs,
		Params:   params,
	}, r.log)
	if err != nil {
		return Result{Job: job, Error: err}
	}

	if r.store != nil {
		_ = r.store.RecordMosaicStats(storage.MosaicStats{
			JobID:           job.ID,
			Width:           res.Width,
			Height:          res.Height,
			FrameCount:      res.FrameCount,
			FocalLength:     res.FocalLength,
			PixelsPerDegree: res.PixelsPerDegree,
			ProcessingMS:    res.ProcessingTime.Milliseconds(),
			WarningCount:    len(res.Warnings),
		})
		rows := make([]storage.PlacementRow, len(res.Placements))
		for i, rec := range res.Placements {
			rows[i] = storage.PlacementRow{
				JobID:          job.ID,
				FrameIndex:     rec.Index,
				Bearing:        rec.Bearing,
				ExpectedOffset: rec.ExpectedOffset,
				Offset:         rec.Offset,
				Adjustment:     rec.Adjustment,
			}
		}
		_ = r.store.RecordPlacements(job.ID, rows)
	}

	meta := map[string]any{
		"output":          res.OutputFile,
		"algorithm":       res.Algorithm,
		"width":           res.Width,
		"height":          res.Height,
		"frameCount":      res.FrameCount,
		"focalLength":     res.FocalLength,
		"pixelsPerDegree": res.PixelsPerDegree,
		"processingMs":    res.ProcessingTime.Milliseconds(),
		"warnings":        res.Warnings,
	}

	if getBoolOption(job.Options, "preview") && r.previewFn != nil {
		previewPath := tasks.PreviewPath(res.OutputFile)
		if err := r.previewFn(res.OutputFile, previewPath, r.cfg.Server.PreviewWidth); err != nil {
			r.log.Warn("preview generation failed", "job", job.ID, "error", err)
		} else {
			meta["preview"] = previewPath
		}
	}

	return Result{Job: job, Meta: meta}
}

func (r *router) handlePreview(ctx context.Context, job Job) Result {
	dst := job.Output
	if dst == "" {
		dst = tasks.PreviewPath(job.InputPath)
	}
	width := r.cfg.Server.PreviewWidth
	if v := getFloat64Option(job.Options, "maxWidth"); v > 0 {
		width = uint(v)
	}
	err := r.previewFn(job.InputPath, dst, width)
	return Result{Job: job, Error: err, Meta: map[string]any{"preview": dst}}
}

func getStringOption(options map[string]any, key string) string {
	if val, ok := options[key].(string); ok {
		return val
	}
	return ""
}

func getBoolOption(options map[string]any, key string) bool {
	if val, ok := options[key].(bool); ok {
		return val
	}
	return false
}

func getFloat64Option(options map[string]any, key string) float64 {
	if val, ok := options[key].(float64); ok {
		return val
	}
	return 0.0
}
