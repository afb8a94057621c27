// Package cli wires the pan360 commands to the job pipeline.
package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"pan360/internal/config"
	"pan360/internal/pipeline"
	"pan360/internal/storage"
)

type pipelineClient interface {
	Submit(job pipeline.Job) error
	Subscribe() (<-chan pipeline.Result, func())
}

// Root holds the shared command dependencies.
type Root struct {
	pipeline pipelineClient
	cfg      *config.Config
	log      *slog.Logger
	store    *storage.Store
}

// NewRoot constructs the shared command state.
func NewRoot(pl *pipeline.Pipeline, cfg *config.Config, logger *slog.Logger, store *storage.Store) *Root {
	return &Root{
		pipeline: pl,
		cfg:      cfg,
		log:      logger,
		store:    store,
	}
}

// enqueueAndWait submits a job and blocks until its result arrives.
func (r *Root) enqueueAndWait(ctx context.Context, job pipeline.Job) error {
	resCh, unsubscribe := r.pipeline.Subscribe()
	defer unsubscribe()
	if err := r.enqueue(ctx, job); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res, ok := <-resCh:
			if !ok {
				return fmt.Errorf("pipeline stopped before completion")
			}
			if res.Job.ID == job.ID {
				if res.Error != nil {
					return res.Error
				}
				if out, ok := res.Meta["output"].(string); ok {
					r.log.Info("mosaic written", "job", job.ID, "output", out)
				}
				return nil
			}
		}
	}
}

func (r *Root) enqueue(ctx context.Context, job pipeline.Job) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := r.pipeline.Submit(job); err != nil {
		return err
	}

	r.log.Info("job queued", "type", job.Type, "id", job.ID, "input", job.InputPath)
	return nil
}

func newID(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString()[:8])
}
