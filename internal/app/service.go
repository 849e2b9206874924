// Package app wires the pipeline to its collaborators and runs the
// post-run steps every entry point shares: persisting progress and
// segments, saving hands, publishing events, and counting outcomes.
package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/hand-extractor/internal/hand"
	"github.com/fpang/hand-extractor/internal/handstore"
	"github.com/fpang/hand-extractor/internal/jobutil"
	"github.com/fpang/hand-extractor/internal/metrics"
	"github.com/fpang/hand-extractor/internal/pipeline"
	"github.com/fpang/hand-extractor/internal/store"
)

// finishTimeout bounds the post-run writes, which run detached from the
// caller's context.
const finishTimeout = 2 * time.Minute

// Runner executes one extraction run. *pipeline.Orchestrator satisfies it.
type Runner interface {
	Run(ctx context.Context, runID string, req pipeline.Request, onProgress pipeline.ProgressFunc) (*pipeline.Result, error)
}

// HandSaver persists the hands of a completed run.
type HandSaver interface {
	SaveHands(ctx context.Context, streamID, runID string, hands []hand.Hand) (handstore.SaveResult, error)
}

// EventPublisher announces run outcomes.
type EventPublisher interface {
	Completed(ctx context.Context, res *pipeline.Result) error
	Aborted(ctx context.Context, runID, streamID string, err error) error
}

// Service runs extractions. Every collaborator except Runner is optional.
type Service struct {
	Runner Runner
	Store  store.RunStore
	Events EventPublisher
	Hands  HandSaver
	Prom   *metrics.Prom
}

// Execute runs req under runID. Progress is mirrored into Store as it
// happens. A failure to save hands or publish events is logged and does not
// change the run's outcome.
func (s *Service) Execute(ctx context.Context, runID string, req pipeline.Request) (*pipeline.Result, error) {
	var onProgress pipeline.ProgressFunc
	if s.Store != nil {
		onProgress = store.ProgressWriter(ctx, s.Store, store.RunRecord{
			RunID:    runID,
			StreamID: req.StreamID,
			Source:   req.Source,
			Platform: req.Platform,
		})
	}
	if s.Prom != nil {
		s.Prom.RunStarted()
	}

	res, err := s.Runner.Run(ctx, runID, req, onProgress)

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()
	if err != nil {
		s.failed(fctx, runID, req.StreamID, err)
		return nil, err
	}
	s.completed(fctx, res)
	return res, nil
}

func (s *Service) failed(ctx context.Context, runID, streamID string, runErr error) {
	stage := "run"
	if ae, ok := pipeline.AsAbort(runErr); ok {
		stage = ae.Stage
	}
	if s.Prom != nil {
		s.Prom.RunAborted(stage)
	}
	var write jobutil.ErrorWriter
	if s.Store != nil {
		write = s.Store.SetRunError
	}
	if err := jobutil.SetRunError(ctx, runID, stage, runErr, write); err != nil {
		log.Warn().Err(err).Str("runId", runID).Msg("Failed to record run error")
	}
	if s.Events != nil {
		if err := s.Events.Aborted(ctx, runID, streamID, runErr); err != nil {
			log.Warn().Err(err).Str("runId", runID).Msg("Failed to publish abort event")
		}
	}
}

func (s *Service) completed(ctx context.Context, res *pipeline.Result) {
	if s.Prom != nil {
		s.Prom.RunCompleted(res.TotalHands)
	}
	if s.Store != nil {
		if err := s.Store.PutSegments(ctx, res.RunID, res.Segments); err != nil {
			log.Warn().Err(err).Str("runId", res.RunID).Msg("Failed to persist segment summaries")
		}
	}
	if s.Hands != nil && len(res.Hands) > 0 {
		if _, err := s.Hands.SaveHands(ctx, res.StreamID, res.RunID, res.Hands); err != nil {
			log.Error().Err(err).Str("runId", res.RunID).Msg("Failed to save hands")
		}
	}
	if s.Events != nil {
		if err := s.Events.Completed(ctx, res); err != nil {
			log.Warn().Err(err).Str("runId", res.RunID).Msg("Failed to publish completion event")
		}
	}
}
