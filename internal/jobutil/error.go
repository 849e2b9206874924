// Package jobutil holds run lifecycle helpers shared by the Lambda handler,
// the HTTP server and the CLI.
package jobutil

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/fpang/hand-extractor/internal/failure"
	"github.com/fpang/hand-extractor/internal/pipeline"
)

// ErrorWriter persists a run's terminal error. store.RunStore.SetRunError
// satisfies it.
type ErrorWriter func(ctx context.Context, runID, stage, msg string) error

// SetRunError logs a failed run and delegates persistence to write. Aborts
// raised by the orchestrator keep their stage; anything else is reported
// under fallbackStage.
func SetRunError(ctx context.Context, runID, fallbackStage string, runErr error, write ErrorWriter) error {
	stage := fallbackStage
	segment := -1
	if ae, ok := pipeline.AsAbort(runErr); ok {
		stage = ae.Stage
		segment = ae.SegmentIndex
	}
	log.Error().
		Err(runErr).
		Str("runId", runID).
		Str("stage", stage).
		Int("segment", segment).
		Str("class", failure.Classify(runErr).String()).
		Msg("Run failed")
	if write == nil {
		return nil
	}
	if err := write(ctx, runID, stage, runErr.Error()); err != nil {
		return fmt.Errorf("persist run error: %w", err)
	}
	return nil
}
