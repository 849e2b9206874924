package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fpang/hand-extractor/internal/assets"
	"github.com/fpang/hand-extractor/internal/chat"
	"github.com/fpang/hand-extractor/internal/failure"
	"github.com/fpang/hand-extractor/internal/hand"
	"github.com/fpang/hand-extractor/internal/handparse"
	"github.com/fpang/hand-extractor/internal/media"
	"github.com/fpang/hand-extractor/internal/metrics"
	"github.com/fpang/hand-extractor/internal/retry"
	"github.com/fpang/hand-extractor/internal/segment"
)

// Defaults for Config fields left zero.
const (
	DefaultRunTimeout     = 2 * time.Hour
	DefaultReleaseTimeout = 30 * time.Second
)

// AdapterFactory picks the acquisition strategy for a source.
type AdapterFactory interface {
	Adapter(loc media.Locator, runID string) (media.Adapter, error)
}

// Extractor returns the model's raw text for one reference.
type Extractor interface {
	Extract(ctx context.Context, ref *media.VideoRef, in chat.Instruction) (string, error)
}

// Archiver keeps a copy of every raw model response.
type Archiver interface {
	Archive(ctx context.Context, runID string, segment, attempt int, raw string) error
}

// Observer receives per-attempt and per-segment events.
type Observer interface {
	ExtractionAttempt(outcome string)
	SegmentProcessed()
}

// Config tunes a run.
type Config struct {
	// MaxSegmentDuration bounds each planned window, in seconds.
	MaxSegmentDuration float64
	// CallCeiling is the hard per-call limit; planned windows longer than
	// this are split again. Defaults to MaxSegmentDuration.
	CallCeiling    float64
	RunTimeout     time.Duration
	ReleaseTimeout time.Duration

	AcquirePolicy retry.Policy
	ExtractPolicy retry.Policy
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		MaxSegmentDuration: segment.DefaultMaxDuration,
		RunTimeout:         DefaultRunTimeout,
		ReleaseTimeout:     DefaultReleaseTimeout,
		AcquirePolicy:      retry.DefaultPolicy(StageAcquire),
		ExtractPolicy:      retry.DefaultPolicy(StageExtract),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxSegmentDuration <= 0 {
		c.MaxSegmentDuration = d.MaxSegmentDuration
	}
	if c.CallCeiling <= 0 {
		c.CallCeiling = c.MaxSegmentDuration
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = d.RunTimeout
	}
	if c.ReleaseTimeout <= 0 {
		c.ReleaseTimeout = d.ReleaseTimeout
	}
	if c.AcquirePolicy.MaxAttempts == 0 {
		c.AcquirePolicy = d.AcquirePolicy
	}
	if c.ExtractPolicy.MaxAttempts == 0 {
		c.ExtractPolicy = d.ExtractPolicy
	}
	return c
}

// Orchestrator runs requests. Segments are processed one at a time; a single
// Orchestrator may serve concurrent runs.
type Orchestrator struct {
	Sources   AdapterFactory
	Extractor Extractor
	// Archiver and Observer are optional.
	Archiver Archiver
	Observer Observer
	Config   Config
}

// Run executes req to completion. On abort it returns a nil Result and an
// *AbortError; progress published so far stays valid.
func (o *Orchestrator) Run(ctx context.Context, runID string, req Request, onProgress ProgressFunc) (*Result, error) {
	cfg := o.Config.withDefaults()
	logger := log.With().Str("runId", runID).Str("streamId", req.StreamID).Logger()
	tr := newTracker(runID, req.StreamID, onProgress)
	tr.publish()

	runCtx, cancel := context.WithTimeout(ctx, cfg.RunTimeout)
	defer cancel()

	loc, profile, err := req.Validate()
	if err != nil {
		return nil, o.abort(tr, logger, &AbortError{Stage: StageValidate, SegmentIndex: -1, Err: err})
	}

	segs, err := segment.PlanAll(req.Ranges, cfg.MaxSegmentDuration)
	if err == nil {
		segs, err = segment.Subdivide(segs, cfg.CallCeiling)
	}
	if err != nil {
		return nil, o.abort(tr, logger, &AbortError{Stage: StagePlan, SegmentIndex: -1, Err: failure.New(failure.Input, StagePlan, err)})
	}

	adapter, err := o.Sources.Adapter(loc, runID)
	if err != nil {
		return nil, o.abort(tr, logger, &AbortError{Stage: StageAcquire, SegmentIndex: -1, Err: err})
	}

	logger.Info().
		Str("source", loc.Raw).
		Str("platform", string(profile)).
		Int("segments", len(segs)).
		Int("ranges", len(req.Ranges)).
		Msg("Run started")
	tr.start(len(segs))

	runStart := time.Now()
	var all []hand.Hand
	summaries := make([]SegmentSummary, 0, len(segs))
	for i, seg := range segs {
		tr.begin(i, seg)
		job := segmentJob{
			index:   i,
			seg:     seg,
			runID:   runID,
			profile: profile,
			players: req.Players,
			adapter: adapter,
			logger:  logger.With().Int("segment", i).Str("window", seg.Label()).Logger(),
		}
		hands, summary, err := o.processSegment(runCtx, cfg, job)
		if err != nil {
			return nil, o.abort(tr, logger, o.abortFor(ctx, runCtx, i, err))
		}
		all = append(all, hands...)
		summaries = append(summaries, summary)
		tr.done(len(hands))
		if o.Observer != nil {
			o.Observer.SegmentProcessed()
		}
	}

	completed := tr.complete()
	if all == nil {
		all = []hand.Hand{}
	}
	metrics.New(metrics.Namespace).
		Dimension("Operation", "run").
		Duration("RunDurationMs", time.Since(runStart)).
		Metric("RunSegments", float64(len(segs)), metrics.UnitCount).
		Metric("RunHands", float64(len(all)), metrics.UnitCount).
		Count("RunsCompleted").
		Property("runId", runID).
		Flush()
	logger.Info().Int("hands", len(all)).Int("segments", len(segs)).Dur("duration", time.Since(runStart)).Msg("Run completed")

	return &Result{
		Success:     true,
		RunID:       runID,
		StreamID:    req.StreamID,
		Hands:       all,
		TotalHands:  len(all),
		Segments:    summaries,
		StartedAt:   tr.p.StartedAt,
		CompletedAt: completed,
	}, nil
}

type segmentJob struct {
	index   int
	seg     segment.Segment
	runID   string
	profile assets.Profile
	players []string
	adapter media.Adapter
	logger  zerolog.Logger
}

// processSegment acquires the segment, extracts and parses it under its own
// retry budget, and always releases what it acquired.
func (o *Orchestrator) processSegment(ctx context.Context, cfg Config, job segmentJob) ([]hand.Hand, SegmentSummary, error) {
	summary := SegmentSummary{Index: job.index, Start: job.seg.Start, End: job.seg.End}

	var ref *media.VideoRef
	release := func() {
		if ref == nil {
			return
		}
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ReleaseTimeout)
		defer cancel()
		if err := ref.Release(rctx); err != nil {
			job.logger.Warn().Err(err).Msg("Failed to release segment resources")
		}
		ref = nil
	}
	defer release()

	acquired, err := retry.Do(ctx, cfg.AcquirePolicy, func(ctx context.Context, attempt int) (*media.VideoRef, error) {
		return job.adapter.Acquire(ctx, job.index, job.seg)
	})
	if err != nil {
		return nil, summary, stageError(StageAcquire, err)
	}
	ref = acquired

	stale := false
	hands, err := retry.Do(ctx, cfg.ExtractPolicy, func(ctx context.Context, attempt int) ([]hand.Hand, error) {
		summary.Attempts = attempt
		if stale {
			release()
			r, err := job.adapter.Acquire(ctx, job.index, job.seg)
			if err != nil {
				return nil, err
			}
			ref, stale = r, false
		}

		raw, err := o.Extractor.Extract(ctx, ref, instructionFor(ref, job))
		if err != nil {
			stale = errors.Is(err, chat.ErrFileFailed)
			if errors.Is(err, failure.ErrEmptyResult) {
				o.observe("empty")
			} else {
				o.observe("error")
			}
			return nil, err
		}
		o.archive(ctx, job, attempt, raw)

		hands, rep := handparse.ParseReport(raw)
		summary.Dropped = rep.Dropped()
		if len(hands) == 0 {
			o.observe("empty")
			job.logger.Warn().
				Int("attempt", attempt).
				Bool("decoded", rep.Decoded).
				Int("dropped", rep.Dropped()).
				Msg("Extraction returned zero hands")
			return nil, failure.New(failure.Quality, StageExtract, failure.ErrEmptyResult)
		}
		o.observe("ok")
		return hands, nil
	})

	var exhausted *retry.ExhaustedError
	switch {
	case err == nil:
	case errors.As(err, &exhausted) && errors.Is(exhausted.Last, failure.ErrEmptyResult):
		// Out of attempts on empty output: the segment contributes nothing.
		summary.Empty = true
		hands = nil
		job.logger.Warn().Int("attempts", exhausted.Attempts).Msg("Accepting empty segment")
		metrics.New(metrics.Namespace).Dimension("Operation", "segment").Count("SegmentsEmpty").Flush()
	default:
		stage := failure.StageOf(err)
		if stage == "" {
			stage = StageExtract
		}
		return nil, summary, stageError(stage, err)
	}

	for i := range hands {
		hands[i].ApplyOffset(ref.Offset)
	}
	summary.Hands = len(hands)

	job.logger.Info().
		Int("hands", len(hands)).
		Int("attempts", summary.Attempts).
		Int("dropped", summary.Dropped).
		Msg("Segment processed")
	metrics.New(metrics.Namespace).
		Dimension("Operation", "segment").
		Metric("SegmentHands", float64(len(hands)), metrics.UnitCount).
		Metric("SegmentAttempts", float64(summary.Attempts), metrics.UnitCount).
		Metric("SegmentDroppedHands", float64(summary.Dropped), metrics.UnitCount).
		Flush()
	return hands, summary, nil
}

// instructionFor adds the window clause only when the model sees more video
// than the segment.
func instructionFor(ref *media.VideoRef, job segmentJob) chat.Instruction {
	in := chat.Instruction{Profile: job.profile, Players: job.players}
	if ref.Clipped {
		w := job.seg
		in.Window = &w
	}
	return in
}

func (o *Orchestrator) archive(ctx context.Context, job segmentJob, attempt int, raw string) {
	if o.Archiver == nil {
		return
	}
	if err := o.Archiver.Archive(ctx, job.runID, job.index, attempt, raw); err != nil {
		job.logger.Warn().Err(err).Msg("Failed to archive raw response")
	}
}

func (o *Orchestrator) observe(outcome string) {
	if o.Observer != nil {
		o.Observer.ExtractionAttempt(outcome)
	}
}

type stagedError struct {
	stage string
	err   error
}

func (e *stagedError) Error() string { return e.err.Error() }
func (e *stagedError) Unwrap() error { return e.err }

func stageError(stage string, err error) error {
	return &stagedError{stage: stage, err: err}
}

// abortFor names the failing stage. The run deadline and caller
// cancellation take precedence over the stage that happened to be running.
func (o *Orchestrator) abortFor(parent, runCtx context.Context, index int, err error) *AbortError {
	switch {
	case parent.Err() != nil:
		return &AbortError{Stage: StageCanceled, SegmentIndex: index, Err: parent.Err()}
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return &AbortError{Stage: StageTimeout, SegmentIndex: index, Err: failure.New(failure.Config, StageTimeout, errors.New("run exceeded its wall-clock limit"))}
	}
	stage := StageExtract
	var se *stagedError
	if errors.As(err, &se) {
		stage = se.stage
		err = se.err
	}
	return &AbortError{Stage: stage, SegmentIndex: index, Err: err}
}

func (o *Orchestrator) abort(tr *tracker, logger zerolog.Logger, ae *AbortError) error {
	tr.abort(ae)
	logger.Error().
		Err(ae.Err).
		Str("stage", ae.Stage).
		Int("segment", ae.SegmentIndex).
		Str("class", failure.Classify(ae.Err).String()).
		Msg("Run aborted")
	metrics.New(metrics.Namespace).
		Dimension("Operation", "run").
		Dimension("Stage", ae.Stage).
		Count("RunsAborted").
		Flush()
	return ae
}
